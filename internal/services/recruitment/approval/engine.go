// Package approval decides PENDING participations and keeps the posting
// status in step with its approved count.
//
// Every decision locks the posting first and the participation second, and
// recounts approved seats inside that lock scope. The count is never cached
// and never taken from outside the unit of work.
package approval

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/gwtt/dagachi/internal/platform/errors"
	"github.com/gwtt/dagachi/internal/services/recruitment/domain"
	"github.com/gwtt/dagachi/internal/services/recruitment/storage"
)

// Decision describes a committed approve or reject.
type Decision struct {
	Participation domain.Participation
	Posting       domain.Posting
	// PreviousStatus is the posting status before the decision.
	PreviousStatus domain.PostingStatus
	// ApprovedCount is the number of seats taken after the decision.
	ApprovedCount int
}

// Transitioned reports whether the decision moved the posting status.
func (d Decision) Transitioned() bool {
	return d.PreviousStatus != d.Posting.Status
}

// Engine applies author decisions.
type Engine struct {
	store      storage.Store
	identities storage.IdentityStore
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New builds an Engine.
func New(store storage.Store, identities storage.IdentityStore, opts ...Option) *Engine {
	e := &Engine{store: store, identities: identities, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Approve grants participationID a seat. The posting becomes RECRUITED when
// the seat is the last one.
func (e *Engine) Approve(ctx context.Context, authorID, participationID string) (Decision, error) {
	return e.decide(ctx, authorID, participationID, func(ctx context.Context, tx storage.Tx, posting domain.Posting, participation domain.Participation) (Decision, error) {
		if !posting.AcceptsApprovals() {
			return Decision{}, postingClosed(posting)
		}
		if participation.Status == domain.ParticipationApproved {
			return Decision{}, apperrors.New(apperrors.CodeParticipationAlreadyApproved, "participation already approved")
		}

		approved, err := tx.CountApproved(ctx, posting.ID)
		if err != nil {
			return Decision{}, storage.AppError(err, apperrors.CodePostingNotFound, "posting not found")
		}
		if approved >= posting.MaxCapacity {
			return Decision{}, apperrors.WithMetadata(
				apperrors.CodeParticipationCapacityExceeded,
				fmt.Sprintf("posting %s already has %d of %d seats approved", posting.ID, approved, posting.MaxCapacity),
				map[string]string{"MaxCapacity": fmt.Sprint(posting.MaxCapacity)},
			)
		}

		now := e.now()
		if err := tx.UpdateParticipationStatus(ctx, participation.ID, domain.ParticipationApproved, now); err != nil {
			return Decision{}, storage.AppError(err, apperrors.CodeParticipationNotFound, "participation not found")
		}
		return e.settle(ctx, tx, posting, participation.WithStatus(domain.ParticipationApproved, now), approved+1, now)
	})
}

// Reject denies participationID. Rejecting an approved participation frees
// its seat, which reopens a RECRUITED posting.
func (e *Engine) Reject(ctx context.Context, authorID, participationID string) (Decision, error) {
	return e.decide(ctx, authorID, participationID, func(ctx context.Context, tx storage.Tx, posting domain.Posting, participation domain.Participation) (Decision, error) {
		if !posting.AcceptsRejections() {
			return Decision{}, postingClosed(posting)
		}
		if participation.Status == domain.ParticipationRejected {
			return Decision{}, apperrors.New(apperrors.CodeParticipationAlreadyRejected, "participation already rejected")
		}

		now := e.now()
		if err := tx.UpdateParticipationStatus(ctx, participation.ID, domain.ParticipationRejected, now); err != nil {
			return Decision{}, storage.AppError(err, apperrors.CodeParticipationNotFound, "participation not found")
		}
		approved, err := tx.CountApproved(ctx, posting.ID)
		if err != nil {
			return Decision{}, storage.AppError(err, apperrors.CodePostingNotFound, "posting not found")
		}
		return e.settle(ctx, tx, posting, participation.WithStatus(domain.ParticipationRejected, now), approved, now)
	})
}

type decideFunc func(ctx context.Context, tx storage.Tx, posting domain.Posting, participation domain.Participation) (Decision, error)

func (e *Engine) decide(ctx context.Context, authorID, participationID string, fn decideFunc) (Decision, error) {
	if e.identities != nil {
		if _, err := e.identities.ResolveIdentity(ctx, authorID); err != nil {
			return Decision{}, storage.AppError(err, apperrors.CodeUserNotFound, "user not found")
		}
	}

	// The plain read only tells us which posting to lock; everything that
	// matters is re-read under the locks below.
	peek, err := e.store.GetParticipation(ctx, participationID)
	if err != nil {
		return Decision{}, storage.AppError(err, apperrors.CodeParticipationNotFound, "participation not found")
	}
	if !peek.Active() {
		return Decision{}, participationNotFound(participationID)
	}

	var decision Decision
	err = e.store.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		posting, err := tx.LockPosting(ctx, peek.PostingID)
		if err != nil {
			return storage.AppError(err, apperrors.CodePostingNotFound, "posting not found")
		}
		participation, err := tx.LockParticipation(ctx, participationID)
		if err != nil {
			return storage.AppError(err, apperrors.CodeParticipationNotFound, "participation not found")
		}
		if !participation.Active() {
			return participationNotFound(participationID)
		}
		if !posting.IsAuthor(authorID) {
			return apperrors.New(apperrors.CodePostingNotAuthorized, "only the posting author can decide participations")
		}

		decision, err = fn(ctx, tx, posting, participation)
		return err
	})
	if err != nil {
		return Decision{}, storage.AppError(err, apperrors.CodePostingNotFound, "posting not found")
	}
	return decision, nil
}

// settle moves the posting to the status its approved count demands.
func (e *Engine) settle(ctx context.Context, tx storage.Tx, posting domain.Posting, participation domain.Participation, approved int, now time.Time) (Decision, error) {
	decision := Decision{
		Participation:  participation,
		PreviousStatus: posting.Status,
		ApprovedCount:  approved,
	}
	next := domain.NextPostingStatus(posting.Status, approved, posting.MaxCapacity)
	if next != posting.Status {
		if err := tx.UpdatePostingStatus(ctx, posting.ID, next, now); err != nil {
			return Decision{}, storage.AppError(err, apperrors.CodePostingNotFound, "posting not found")
		}
		posting.Status = next
		posting.Timestamps = posting.Timestamps.Touch(now)
	}
	decision.Posting = posting
	return decision, nil
}

func participationNotFound(participationID string) error {
	return apperrors.New(apperrors.CodeParticipationNotFound, fmt.Sprintf("participation %s not found", participationID))
}

func postingClosed(posting domain.Posting) error {
	return apperrors.WithMetadata(
		apperrors.CodePostingClosed,
		fmt.Sprintf("posting %s is %s", posting.ID, posting.Status),
		map[string]string{"Status": string(posting.Status)},
	)
}
