// Package storage defines persistence contracts for recruitment state.
//
// Every mutation runs inside Store.WithTransaction. Inside a unit of work the
// posting row is locked before any participation row of that posting.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/gwtt/dagachi/internal/services/recruitment/domain"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness constraint was hit.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrLockTimeout indicates a row lock could not be acquired in time, or
	// the store aborted the unit of work to break a deadlock.
	ErrLockTimeout = errors.New("lock wait timed out")
	// ErrLockOrder indicates a lock was requested out of order, or a write
	// was attempted on a row whose lock is not held.
	ErrLockOrder = errors.New("lock acquired out of order")
)

// Reader serves plain reads. Implementations never take row locks here and
// may return data that is stale by the time the caller acts on it.
type Reader interface {
	GetPosting(ctx context.Context, postingID string) (domain.Posting, error)
	// GetParticipation returns the record by id, tombstoned or not.
	GetParticipation(ctx context.Context, participationID string) (domain.Participation, error)
	// GetActiveParticipation returns the non-tombstoned record for the pair.
	GetActiveParticipation(ctx context.Context, postingID, participantID string) (domain.Participation, error)
	ListActiveParticipations(ctx context.Context, postingID string) ([]domain.Participation, error)
	CountApproved(ctx context.Context, postingID string) (int, error)
}

// Tx is one unit of work. Lock methods block until the row lock is held or
// the store's lock wait elapses.
type Tx interface {
	LockPosting(ctx context.Context, postingID string) (domain.Posting, error)
	// LockParticipation requires the owning posting to be locked already.
	// Tombstoned records are returned as-is.
	LockParticipation(ctx context.Context, participationID string) (domain.Participation, error)
	// LockActiveParticipation requires the posting to be locked already.
	LockActiveParticipation(ctx context.Context, postingID, participantID string) (domain.Participation, error)

	CountApproved(ctx context.Context, postingID string) (int, error)
	HasActiveParticipation(ctx context.Context, postingID, participantID string) (bool, error)

	CreatePosting(ctx context.Context, posting domain.Posting) error
	CreateParticipation(ctx context.Context, participation domain.Participation) error
	UpdatePostingStatus(ctx context.Context, postingID string, status domain.PostingStatus, updatedAt time.Time) error
	// UpdateParticipationStatus and TombstoneParticipation return ErrNotFound
	// for tombstoned records.
	UpdateParticipationStatus(ctx context.Context, participationID string, status domain.ParticipationStatus, updatedAt time.Time) error
	TombstoneParticipation(ctx context.Context, participationID string, deletedAt time.Time) error
}

// TxFunc is the body of a unit of work. Returning an error rolls back every
// write made through tx.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is the recruitment persistence boundary.
type Store interface {
	Reader
	WithTransaction(ctx context.Context, fn TxFunc) error
	Close() error
}

// IdentityStore resolves callers.
type IdentityStore interface {
	ResolveIdentity(ctx context.Context, userID string) (domain.Identity, error)
	PutIdentity(ctx context.Context, identity domain.Identity) error
}
