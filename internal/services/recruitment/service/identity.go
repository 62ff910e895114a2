package service

import (
	"context"
	"strings"

	apperrors "github.com/gwtt/dagachi/internal/platform/errors"
	"github.com/gwtt/dagachi/internal/services/recruitment/domain"
	"github.com/gwtt/dagachi/internal/services/recruitment/storage"
)

// RegisterIdentity records a user and its role so later calls can resolve it.
func (s *Service) RegisterIdentity(ctx context.Context, userID string, role domain.Role) (identity domain.Identity, err error) {
	ctx, op := s.begin(ctx, "register_identity", "user_id", userID, "role", string(role))
	defer func() { op.end(err, true) }()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Identity{}, apperrors.New(apperrors.CodeUserInvalid, "user id is required")
	}
	role, err = domain.ParseRole(string(role))
	if err != nil {
		return domain.Identity{}, apperrors.Wrap(apperrors.CodeUserInvalid, err.Error(), err)
	}
	identity = domain.Identity{ID: userID, Role: role}
	if err := s.identities.PutIdentity(ctx, identity); err != nil {
		return domain.Identity{}, storage.AppError(err, apperrors.CodeUserNotFound, "user not found")
	}
	return identity, nil
}
