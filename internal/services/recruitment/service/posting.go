package service

import (
	"context"

	apperrors "github.com/gwtt/dagachi/internal/platform/errors"
	"github.com/gwtt/dagachi/internal/services/recruitment/domain"
	"github.com/gwtt/dagachi/internal/services/recruitment/storage"
	"go.uber.org/zap"
)

// PostingSummary is a posting with its current approved count.
type PostingSummary struct {
	domain.Posting
	ApprovedCount int
}

// RemainingSeats returns the seats still open.
func (p PostingSummary) RemainingSeats() int {
	if remaining := p.MaxCapacity - p.ApprovedCount; remaining > 0 {
		return remaining
	}
	return 0
}

// CreatePosting opens a RECRUITING posting owned by authorID.
func (s *Service) CreatePosting(ctx context.Context, authorID, title string, maxCapacity int) (posting domain.Posting, err error) {
	ctx, op := s.begin(ctx, "create_posting", "author_id", authorID)
	defer func() { op.end(err, true, zap.String("posting_id", posting.ID), zap.Int("max_capacity", maxCapacity)) }()

	if err := s.resolve(ctx, authorID); err != nil {
		return domain.Posting{}, err
	}
	postingID, err := s.newID()
	if err != nil {
		return domain.Posting{}, apperrors.Wrap(apperrors.CodeUnknown, "generate posting id", err)
	}
	posting, err = domain.NewPosting(postingID, authorID, title, maxCapacity, s.now())
	if err != nil {
		return domain.Posting{}, err
	}
	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.CreatePosting(ctx, posting)
	})
	if err != nil {
		return domain.Posting{}, storage.AppError(err, apperrors.CodePostingNotFound, "posting not found")
	}
	return posting, nil
}

// CompletePosting closes the posting for good. The author or an ADMIN may
// complete it.
func (s *Service) CompletePosting(ctx context.Context, actorID, postingID string) (posting domain.Posting, err error) {
	ctx, op := s.begin(ctx, "complete_posting", "actor_id", actorID, "posting_id", postingID)
	defer func() { op.end(err, true) }()

	actor, err := s.identities.ResolveIdentity(ctx, actorID)
	if err != nil {
		return domain.Posting{}, storage.AppError(err, apperrors.CodeUserNotFound, "user not found")
	}

	var previous domain.PostingStatus
	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		locked, err := tx.LockPosting(ctx, postingID)
		if err != nil {
			return storage.AppError(err, apperrors.CodePostingNotFound, "posting not found")
		}
		if !locked.IsAuthor(actorID) && !actor.IsAdmin() {
			return apperrors.New(apperrors.CodePostingNotAuthorized, "only the author or an admin can complete a posting")
		}
		if !domain.CanComplete(locked.Status) {
			return apperrors.WithMetadata(apperrors.CodePostingClosed, "posting already completed",
				map[string]string{"Status": string(locked.Status)})
		}
		now := s.now()
		if err := tx.UpdatePostingStatus(ctx, postingID, domain.PostingCompleted, now); err != nil {
			return storage.AppError(err, apperrors.CodePostingNotFound, "posting not found")
		}
		previous = locked.Status
		locked.Status = domain.PostingCompleted
		locked.Timestamps = locked.Timestamps.Touch(now)
		posting = locked
		return nil
	})
	if err != nil {
		return domain.Posting{}, storage.AppError(err, apperrors.CodePostingNotFound, "posting not found")
	}
	s.recordTransition(ctx, postingID, string(previous), string(posting.Status))
	return posting, nil
}

// GetPosting returns the posting and its approved count. Both come from
// plain reads and may disagree under concurrent writes.
func (s *Service) GetPosting(ctx context.Context, postingID string) (summary PostingSummary, err error) {
	ctx, op := s.begin(ctx, "get_posting", "posting_id", postingID)
	defer func() { op.end(err, false) }()

	posting, err := s.store.GetPosting(ctx, postingID)
	if err != nil {
		return PostingSummary{}, storage.AppError(err, apperrors.CodePostingNotFound, "posting not found")
	}
	approved, err := s.store.CountApproved(ctx, postingID)
	if err != nil {
		return PostingSummary{}, storage.AppError(err, apperrors.CodePostingNotFound, "posting not found")
	}
	return PostingSummary{Posting: posting, ApprovedCount: approved}, nil
}
