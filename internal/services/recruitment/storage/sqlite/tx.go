package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gwtt/dagachi/internal/services/recruitment/domain"
	"github.com/gwtt/dagachi/internal/services/recruitment/storage"
)

// tx runs inside BEGIN IMMEDIATE, so the write lock is already held and the
// lock methods only fetch. Lock order is still tracked so call sites behave
// the same as on stores with real row locks.
type tx struct {
	sqlTx *sql.Tx

	lockedPostings      map[string]struct{}
	participationLocked bool
}

func newTx(sqlTx *sql.Tx) *tx {
	return &tx{sqlTx: sqlTx, lockedPostings: make(map[string]struct{})}
}

func (t *tx) postingLocked(postingID string) bool {
	_, ok := t.lockedPostings[postingID]
	return ok
}

func (t *tx) LockPosting(ctx context.Context, postingID string) (domain.Posting, error) {
	if !t.postingLocked(postingID) && t.participationLocked {
		return domain.Posting{}, fmt.Errorf("posting %s after participation lock: %w", postingID, storage.ErrLockOrder)
	}
	posting, err := getPosting(ctx, t.sqlTx, postingID)
	if err != nil {
		return domain.Posting{}, err
	}
	t.lockedPostings[postingID] = struct{}{}
	return posting, nil
}

func (t *tx) LockParticipation(ctx context.Context, participationID string) (domain.Participation, error) {
	participation, err := getParticipation(ctx, t.sqlTx, participationID)
	if err != nil {
		return domain.Participation{}, err
	}
	if !t.postingLocked(participation.PostingID) {
		return domain.Participation{}, fmt.Errorf("participation %s before posting lock: %w", participationID, storage.ErrLockOrder)
	}
	t.participationLocked = true
	return participation, nil
}

func (t *tx) LockActiveParticipation(ctx context.Context, postingID, participantID string) (domain.Participation, error) {
	if !t.postingLocked(postingID) {
		return domain.Participation{}, fmt.Errorf("participation of %s before posting lock: %w", postingID, storage.ErrLockOrder)
	}
	participation, err := getActiveParticipation(ctx, t.sqlTx, postingID, participantID)
	if err != nil {
		return domain.Participation{}, err
	}
	t.participationLocked = true
	return participation, nil
}

func (t *tx) CountApproved(ctx context.Context, postingID string) (int, error) {
	return countApproved(ctx, t.sqlTx, postingID)
}

func (t *tx) HasActiveParticipation(ctx context.Context, postingID, participantID string) (bool, error) {
	var found int
	err := t.sqlTx.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM participations
		  WHERE posting_id = ? AND participant_id = ? AND deleted_at IS NULL`,
		postingID,
		participantID,
	).Scan(&found)
	if err != nil {
		return false, classify("check active participation", err)
	}
	return found > 0, nil
}

func (t *tx) CreatePosting(ctx context.Context, posting domain.Posting) error {
	_, err := t.sqlTx.ExecContext(
		ctx,
		`INSERT INTO postings (`+postingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		posting.ID,
		posting.AuthorID,
		posting.Title,
		posting.MaxCapacity,
		string(posting.Status),
		toMillis(posting.CreatedAt),
		toMillis(posting.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return classify("create posting", err)
	}
	t.lockedPostings[posting.ID] = struct{}{}
	return nil
}

func (t *tx) CreateParticipation(ctx context.Context, participation domain.Participation) error {
	var deletedAt sql.NullInt64
	if participation.DeletedAt != nil {
		deletedAt = sql.NullInt64{Int64: toMillis(*participation.DeletedAt), Valid: true}
	}
	_, err := t.sqlTx.ExecContext(
		ctx,
		`INSERT INTO participations (`+participationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		participation.ID,
		participation.PostingID,
		participation.ParticipantID,
		string(participation.Status),
		toMillis(participation.CreatedAt),
		toMillis(participation.UpdatedAt),
		deletedAt,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return storage.ErrAlreadyExists
		case isForeignKeyViolation(err):
			return storage.ErrNotFound
		}
		return classify("create participation", err)
	}
	return nil
}

func (t *tx) UpdatePostingStatus(ctx context.Context, postingID string, status domain.PostingStatus, updatedAt time.Time) error {
	result, err := t.sqlTx.ExecContext(
		ctx,
		`UPDATE postings SET status = ?, updated_at = MAX(updated_at, ?) WHERE id = ?`,
		string(status),
		toMillis(updatedAt),
		postingID,
	)
	if err != nil {
		return classify("update posting status", err)
	}
	return requireOneRow(result, "update posting status")
}

func (t *tx) UpdateParticipationStatus(ctx context.Context, participationID string, status domain.ParticipationStatus, updatedAt time.Time) error {
	result, err := t.sqlTx.ExecContext(
		ctx,
		`UPDATE participations SET status = ?, updated_at = MAX(updated_at, ?)
		  WHERE id = ? AND deleted_at IS NULL`,
		string(status),
		toMillis(updatedAt),
		participationID,
	)
	if err != nil {
		return classify("update participation status", err)
	}
	return requireOneRow(result, "update participation status")
}

func (t *tx) TombstoneParticipation(ctx context.Context, participationID string, deletedAt time.Time) error {
	result, err := t.sqlTx.ExecContext(
		ctx,
		`UPDATE participations SET deleted_at = ?, updated_at = MAX(updated_at, ?)
		  WHERE id = ? AND deleted_at IS NULL`,
		toMillis(deletedAt),
		toMillis(deletedAt),
		participationID,
	)
	if err != nil {
		return classify("tombstone participation", err)
	}
	return requireOneRow(result, "tombstone participation")
}

func requireOneRow(result sql.Result, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

var _ storage.Tx = (*tx)(nil)
