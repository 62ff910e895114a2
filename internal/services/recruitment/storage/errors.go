package storage

import (
	"context"
	"errors"

	apperrors "github.com/gwtt/dagachi/internal/platform/errors"
)

// AppError translates a storage failure into an application error.
// ErrNotFound becomes notFound; lock contention becomes a transient
// STORAGE_LOCK_TIMEOUT. Application errors and context errors pass through.
func AppError(err error, notFound apperrors.Code, message string) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrNotFound):
		return apperrors.Wrap(notFound, message, err)
	case errors.Is(err, ErrLockTimeout):
		return apperrors.Wrap(apperrors.CodeStorageLockTimeout, "storage lock wait timed out", err)
	}
	return apperrors.Wrap(apperrors.CodeUnknown, "storage failure", err)
}
