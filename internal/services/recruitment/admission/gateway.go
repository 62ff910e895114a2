// Package admission files and withdraws join requests.
package admission

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/gwtt/dagachi/internal/platform/errors"
	"github.com/gwtt/dagachi/internal/platform/id"
	"github.com/gwtt/dagachi/internal/services/recruitment/domain"
	"github.com/gwtt/dagachi/internal/services/recruitment/storage"
)

// Gateway creates PENDING participations and tombstones them on request.
type Gateway struct {
	store      storage.Store
	identities storage.IdentityStore
	now        func() time.Time
	newID      func() (string, error)
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// WithIDGenerator overrides participation id generation.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(g *Gateway) {
		if newID != nil {
			g.newID = newID
		}
	}
}

// New builds a Gateway.
func New(store storage.Store, identities storage.IdentityStore, opts ...Option) *Gateway {
	g := &Gateway{
		store:      store,
		identities: identities,
		now:        time.Now,
		newID:      id.NewID,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RequestJoin files a PENDING participation for participantID.
func (g *Gateway) RequestJoin(ctx context.Context, participantID, postingID string) (domain.Participation, error) {
	if err := g.resolve(ctx, participantID); err != nil {
		return domain.Participation{}, err
	}
	participationID, err := g.newID()
	if err != nil {
		return domain.Participation{}, apperrors.Wrap(apperrors.CodeUnknown, "generate participation id", err)
	}

	var created domain.Participation
	err = g.store.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		posting, err := tx.LockPosting(ctx, postingID)
		if err != nil {
			return storage.AppError(err, apperrors.CodePostingNotFound, "posting not found")
		}
		if posting.IsAuthor(participantID) {
			return apperrors.New(apperrors.CodeUserNotAuthorized, "author cannot join own posting")
		}
		joined, err := tx.HasActiveParticipation(ctx, postingID, participantID)
		if err != nil {
			return storage.AppError(err, apperrors.CodeParticipationNotFound, "participation not found")
		}
		if joined {
			return apperrors.New(apperrors.CodeParticipationAlreadyJoined, "participant already joined posting")
		}
		if !posting.AcceptsJoins() {
			return postingClosed(posting)
		}

		created = domain.NewParticipation(participationID, postingID, participantID, g.now())
		if err := tx.CreateParticipation(ctx, created); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				return apperrors.Wrap(apperrors.CodeParticipationAlreadyJoined, "participant already joined posting", err)
			}
			return storage.AppError(err, apperrors.CodePostingNotFound, "posting not found")
		}
		return nil
	})
	if err != nil {
		return domain.Participation{}, storage.AppError(err, apperrors.CodePostingNotFound, "posting not found")
	}
	return created, nil
}

// CancelJoin tombstones the participant's PENDING participation.
// Decided participations cannot be withdrawn.
func (g *Gateway) CancelJoin(ctx context.Context, participantID, postingID string) (domain.Participation, error) {
	if err := g.resolve(ctx, participantID); err != nil {
		return domain.Participation{}, err
	}

	var cancelled domain.Participation
	err := g.store.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.LockPosting(ctx, postingID); err != nil {
			return storage.AppError(err, apperrors.CodePostingNotFound, "posting not found")
		}
		participation, err := tx.LockActiveParticipation(ctx, postingID, participantID)
		if err != nil {
			return storage.AppError(err, apperrors.CodeParticipationNotFound, "participation not found")
		}
		switch participation.Status {
		case domain.ParticipationApproved:
			return apperrors.New(apperrors.CodeParticipationAlreadyApproved, "approved participation cannot be withdrawn")
		case domain.ParticipationRejected:
			return apperrors.New(apperrors.CodeParticipationAlreadyRejected, "rejected participation cannot be withdrawn")
		}

		now := g.now()
		if err := tx.TombstoneParticipation(ctx, participation.ID, now); err != nil {
			return storage.AppError(err, apperrors.CodeParticipationNotFound, "participation not found")
		}
		cancelled = participation.Tombstoned(now)
		return nil
	})
	if err != nil {
		return domain.Participation{}, storage.AppError(err, apperrors.CodePostingNotFound, "posting not found")
	}
	return cancelled, nil
}

func (g *Gateway) resolve(ctx context.Context, userID string) error {
	if g.identities == nil {
		return nil
	}
	if _, err := g.identities.ResolveIdentity(ctx, userID); err != nil {
		return storage.AppError(err, apperrors.CodeUserNotFound, "user not found")
	}
	return nil
}

func postingClosed(posting domain.Posting) error {
	return apperrors.WithMetadata(
		apperrors.CodePostingClosed,
		"posting is not recruiting",
		map[string]string{"Status": string(posting.Status)},
	)
}
