// Package sqlite provides a SQLite-backed recruitment storage implementation.
//
// SQLite has no row locks. Every unit of work opens with BEGIN IMMEDIATE, so
// the database write lock serializes writers and the busy timeout bounds the
// wait. WAL mode keeps plain reads from blocking behind writers.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gwtt/dagachi/internal/platform/storage/sqlmigrate"
	"github.com/gwtt/dagachi/internal/platform/timeouts"
	"github.com/gwtt/dagachi/internal/services/recruitment/domain"
	"github.com/gwtt/dagachi/internal/services/recruitment/storage"
	"github.com/gwtt/dagachi/internal/services/recruitment/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists recruitment state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Option configures Open.
type Option func(*options)

type options struct {
	lockWait time.Duration
}

// WithLockWait sets the busy timeout used to wait for the write lock.
func WithLockWait(wait time.Duration) Option {
	return func(o *options) {
		if wait > 0 {
			o.lockWait = wait
		}
	}
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite recruitment store and applies embedded migrations.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cfg := options{lockWait: timeouts.LockWait}
	for _, opt := range opts {
		opt(&cfg)
	}

	cleanPath := filepath.Clean(path)
	dsn := fmt.Sprintf(
		"%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		cleanPath, cfg.lockWait.Milliseconds(),
	)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlmigrate.ApplyMigrations(context.Background(), sqlDB, sqlmigrate.SQLite, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// WithTransaction runs fn inside one immediate transaction.
func (s *Store) WithTransaction(ctx context.Context, fn storage.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	sqlTx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(ctx, newTx(sqlTx)); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const postingColumns = `id, author_id, title, max_capacity, status, created_at, updated_at`

const participationColumns = `id, posting_id, participant_id, status, created_at, updated_at, deleted_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanPosting(row scanner) (domain.Posting, error) {
	var (
		posting   domain.Posting
		status    string
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&posting.ID, &posting.AuthorID, &posting.Title, &posting.MaxCapacity, &status, &createdAt, &updatedAt); err != nil {
		return domain.Posting{}, err
	}
	parsed, err := domain.ParsePostingStatus(status)
	if err != nil {
		return domain.Posting{}, err
	}
	posting.Status = parsed
	posting.CreatedAt = fromMillis(createdAt)
	posting.UpdatedAt = fromMillis(updatedAt)
	return posting, nil
}

func scanParticipation(row scanner) (domain.Participation, error) {
	var (
		participation domain.Participation
		status        string
		createdAt     int64
		updatedAt     int64
		deletedAt     sql.NullInt64
	)
	if err := row.Scan(
		&participation.ID,
		&participation.PostingID,
		&participation.ParticipantID,
		&status,
		&createdAt,
		&updatedAt,
		&deletedAt,
	); err != nil {
		return domain.Participation{}, err
	}
	parsed, err := domain.ParseParticipationStatus(status)
	if err != nil {
		return domain.Participation{}, err
	}
	participation.Status = parsed
	participation.CreatedAt = fromMillis(createdAt)
	participation.UpdatedAt = fromMillis(updatedAt)
	if deletedAt.Valid {
		value := fromMillis(deletedAt.Int64)
		participation.DeletedAt = &value
	}
	return participation, nil
}

func getPosting(ctx context.Context, q queryer, postingID string) (domain.Posting, error) {
	row := q.QueryRowContext(ctx, `SELECT `+postingColumns+` FROM postings WHERE id = ?`, postingID)
	posting, err := scanPosting(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Posting{}, storage.ErrNotFound
		}
		return domain.Posting{}, classify("get posting", err)
	}
	return posting, nil
}

func getParticipation(ctx context.Context, q queryer, participationID string) (domain.Participation, error) {
	row := q.QueryRowContext(ctx, `SELECT `+participationColumns+` FROM participations WHERE id = ?`, participationID)
	participation, err := scanParticipation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Participation{}, storage.ErrNotFound
		}
		return domain.Participation{}, classify("get participation", err)
	}
	return participation, nil
}

func getActiveParticipation(ctx context.Context, q queryer, postingID, participantID string) (domain.Participation, error) {
	row := q.QueryRowContext(
		ctx,
		`SELECT `+participationColumns+`
		   FROM participations
		  WHERE posting_id = ? AND participant_id = ? AND deleted_at IS NULL`,
		postingID,
		participantID,
	)
	participation, err := scanParticipation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Participation{}, storage.ErrNotFound
		}
		return domain.Participation{}, classify("get active participation", err)
	}
	return participation, nil
}

func countApproved(ctx context.Context, q queryer, postingID string) (int, error) {
	var count int
	err := q.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM participations
		  WHERE posting_id = ? AND status = ? AND deleted_at IS NULL`,
		postingID,
		string(domain.ParticipationApproved),
	).Scan(&count)
	if err != nil {
		return 0, classify("count approved", err)
	}
	return count, nil
}

// GetPosting returns one posting.
func (s *Store) GetPosting(ctx context.Context, postingID string) (domain.Posting, error) {
	if err := ctx.Err(); err != nil {
		return domain.Posting{}, err
	}
	return getPosting(ctx, s.sqlDB, postingID)
}

// GetParticipation returns one participation, tombstoned or not.
func (s *Store) GetParticipation(ctx context.Context, participationID string) (domain.Participation, error) {
	if err := ctx.Err(); err != nil {
		return domain.Participation{}, err
	}
	return getParticipation(ctx, s.sqlDB, participationID)
}

// GetActiveParticipation returns the active participation for the pair.
func (s *Store) GetActiveParticipation(ctx context.Context, postingID, participantID string) (domain.Participation, error) {
	if err := ctx.Err(); err != nil {
		return domain.Participation{}, err
	}
	return getActiveParticipation(ctx, s.sqlDB, postingID, participantID)
}

// ListActiveParticipations returns active participations ordered by creation.
func (s *Store) ListActiveParticipations(ctx context.Context, postingID string) ([]domain.Participation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT `+participationColumns+`
		   FROM participations
		  WHERE posting_id = ? AND deleted_at IS NULL
		  ORDER BY created_at ASC, id ASC`,
		postingID,
	)
	if err != nil {
		return nil, classify("list participations", err)
	}
	defer rows.Close()

	out := make([]domain.Participation, 0)
	for rows.Next() {
		participation, err := scanParticipation(rows)
		if err != nil {
			return nil, fmt.Errorf("list participations: %w", err)
		}
		out = append(out, participation)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list participations", err)
	}
	return out, nil
}

// CountApproved counts approved active participations.
func (s *Store) CountApproved(ctx context.Context, postingID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return countApproved(ctx, s.sqlDB, postingID)
}

// ResolveIdentity returns a registered identity.
func (s *Store) ResolveIdentity(ctx context.Context, userID string) (domain.Identity, error) {
	if err := ctx.Err(); err != nil {
		return domain.Identity{}, err
	}
	var (
		identity domain.Identity
		role     string
	)
	err := s.sqlDB.QueryRowContext(ctx, `SELECT id, role FROM identities WHERE id = ?`, userID).Scan(&identity.ID, &role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Identity{}, storage.ErrNotFound
		}
		return domain.Identity{}, classify("resolve identity", err)
	}
	identity.Role, err = domain.ParseRole(role)
	if err != nil {
		return domain.Identity{}, err
	}
	return identity, nil
}

// PutIdentity registers or replaces an identity.
func (s *Store) PutIdentity(ctx context.Context, identity domain.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(identity.ID) == "" {
		return fmt.Errorf("identity id is required")
	}
	role := identity.Role
	if role == "" {
		role = domain.RoleUser
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO identities (id, role) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET role = excluded.role`,
		identity.ID,
		string(role),
	)
	if err != nil {
		return classify("put identity", err)
	}
	return nil
}

// classify maps lock contention to storage.ErrLockTimeout and keeps the
// driver error in the chain.
func classify(op string, err error) error {
	if isSQLiteBusyError(err) {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrLockTimeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isSQLiteBusyError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code() & 0xff
	return code == sqlite3lib.SQLITE_BUSY || code == sqlite3lib.SQLITE_LOCKED
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}

var (
	_ storage.Store         = (*Store)(nil)
	_ storage.IdentityStore = (*Store)(nil)
)
