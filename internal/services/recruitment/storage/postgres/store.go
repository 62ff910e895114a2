// Package postgres provides a Postgres-backed recruitment storage
// implementation with row-level locks.
//
// Lock methods issue SELECT ... FOR UPDATE. Each unit of work sets a local
// lock_timeout; lock timeouts, detected deadlocks and serialization failures
// all surface as storage.ErrLockTimeout.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gwtt/dagachi/internal/platform/storage/sqlmigrate"
	"github.com/gwtt/dagachi/internal/platform/timeouts"
	"github.com/gwtt/dagachi/internal/services/recruitment/domain"
	"github.com/gwtt/dagachi/internal/services/recruitment/storage"
	"github.com/gwtt/dagachi/internal/services/recruitment/storage/postgres/migrations"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Store persists recruitment state in Postgres.
type Store struct {
	db       *sqlx.DB
	lockWait time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLockWait sets the per-transaction lock_timeout.
func WithLockWait(wait time.Duration) Option {
	return func(s *Store) {
		if wait > 0 {
			s.lockWait = wait
		}
	}
}

// Open connects to dsn and applies embedded migrations.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := sqlmigrate.ApplyMigrations(ctx, db.DB, sqlmigrate.Postgres, migrations.FS, ""); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return NewWithDB(db, opts...), nil
}

// NewWithDB wraps an existing handle. The schema must already exist.
func NewWithDB(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{db: db, lockWait: timeouts.LockWait}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithTransaction runs fn in one transaction bounded by lock_timeout.
func (s *Store) WithTransaction(ctx context.Context, fn storage.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if _, err := sqlTx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockWait.Milliseconds())); err != nil {
		return classify("set lock timeout", err)
	}
	if err := fn(ctx, newTx(sqlTx)); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

func getPosting(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (domain.Posting, error) {
	var row postingRow
	if err := sqlx.GetContext(ctx, q, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Posting{}, storage.ErrNotFound
		}
		return domain.Posting{}, classify("get posting", err)
	}
	return row.toDomain()
}

func getParticipation(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (domain.Participation, error) {
	var row participationRow
	if err := sqlx.GetContext(ctx, q, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Participation{}, storage.ErrNotFound
		}
		return domain.Participation{}, classify("get participation", err)
	}
	return row.toDomain()
}

func countApproved(ctx context.Context, q sqlx.QueryerContext, postingID string) (int, error) {
	var count int
	err := sqlx.GetContext(
		ctx, q, &count,
		`SELECT COUNT(*) FROM participations WHERE posting_id = $1 AND status = $2 AND deleted_at IS NULL`,
		postingID, string(domain.ParticipationApproved),
	)
	if err != nil {
		return 0, classify("count approved", err)
	}
	return count, nil
}

// GetPosting returns one posting without locking it.
func (s *Store) GetPosting(ctx context.Context, postingID string) (domain.Posting, error) {
	return getPosting(ctx, s.db, `SELECT `+postingColumns+` FROM postings WHERE id = $1`, postingID)
}

// GetParticipation returns one participation, tombstoned or not.
func (s *Store) GetParticipation(ctx context.Context, participationID string) (domain.Participation, error) {
	return getParticipation(ctx, s.db, `SELECT `+participationColumns+` FROM participations WHERE id = $1`, participationID)
}

// GetActiveParticipation returns the active participation for the pair.
func (s *Store) GetActiveParticipation(ctx context.Context, postingID, participantID string) (domain.Participation, error) {
	return getParticipation(
		ctx, s.db,
		`SELECT `+participationColumns+` FROM participations WHERE posting_id = $1 AND participant_id = $2 AND deleted_at IS NULL`,
		postingID, participantID,
	)
}

// ListActiveParticipations returns active participations ordered by creation.
func (s *Store) ListActiveParticipations(ctx context.Context, postingID string) ([]domain.Participation, error) {
	var rows []participationRow
	err := s.db.SelectContext(
		ctx, &rows,
		`SELECT `+participationColumns+` FROM participations WHERE posting_id = $1 AND deleted_at IS NULL ORDER BY created_at ASC, id ASC`,
		postingID,
	)
	if err != nil {
		return nil, classify("list participations", err)
	}
	out := make([]domain.Participation, 0, len(rows))
	for _, row := range rows {
		participation, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("list participations: %w", err)
		}
		out = append(out, participation)
	}
	return out, nil
}

// CountApproved counts approved active participations.
func (s *Store) CountApproved(ctx context.Context, postingID string) (int, error) {
	return countApproved(ctx, s.db, postingID)
}

// ResolveIdentity returns a registered identity.
func (s *Store) ResolveIdentity(ctx context.Context, userID string) (domain.Identity, error) {
	var row struct {
		ID   string `db:"id"`
		Role string `db:"role"`
	}
	if err := s.db.GetContext(ctx, &row, `SELECT id, role FROM identities WHERE id = $1`, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Identity{}, storage.ErrNotFound
		}
		return domain.Identity{}, classify("resolve identity", err)
	}
	role, err := domain.ParseRole(row.Role)
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity{ID: row.ID, Role: role}, nil
}

// PutIdentity registers or replaces an identity.
func (s *Store) PutIdentity(ctx context.Context, identity domain.Identity) error {
	if strings.TrimSpace(identity.ID) == "" {
		return fmt.Errorf("identity id is required")
	}
	role := identity.Role
	if role == "" {
		role = domain.RoleUser
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO identities (id, role) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET role = EXCLUDED.role`,
		identity.ID, string(role),
	)
	if err != nil {
		return classify("put identity", err)
	}
	return nil
}

// classify maps lock contention to storage.ErrLockTimeout and keeps the
// driver error in the chain.
func classify(op string, err error) error {
	if isLockContention(err) {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrLockTimeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func pqCodeName(err error) string {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return ""
	}
	return pqErr.Code.Name()
}

func isLockContention(err error) bool {
	switch pqCodeName(err) {
	case "lock_not_available", "deadlock_detected", "serialization_failure":
		return true
	}
	return false
}

var (
	_ storage.Store         = (*Store)(nil)
	_ storage.IdentityStore = (*Store)(nil)
)
