package postgres

import (
	"database/sql"
	"time"

	"github.com/gwtt/dagachi/internal/services/recruitment/domain"
)

const postingColumns = `id, author_id, title, max_capacity, status, created_at, updated_at`

const participationColumns = `id, posting_id, participant_id, status, created_at, updated_at, deleted_at`

type postingRow struct {
	ID          string `db:"id"`
	AuthorID    string `db:"author_id"`
	Title       string `db:"title"`
	MaxCapacity int    `db:"max_capacity"`
	Status      string `db:"status"`
	CreatedAt   int64  `db:"created_at"`
	UpdatedAt   int64  `db:"updated_at"`
}

func (r postingRow) toDomain() (domain.Posting, error) {
	status, err := domain.ParsePostingStatus(r.Status)
	if err != nil {
		return domain.Posting{}, err
	}
	return domain.Posting{
		ID:          r.ID,
		AuthorID:    r.AuthorID,
		Title:       r.Title,
		MaxCapacity: r.MaxCapacity,
		Status:      status,
		Timestamps: domain.Timestamps{
			CreatedAt: fromMillis(r.CreatedAt),
			UpdatedAt: fromMillis(r.UpdatedAt),
		},
	}, nil
}

type participationRow struct {
	ID            string        `db:"id"`
	PostingID     string        `db:"posting_id"`
	ParticipantID string        `db:"participant_id"`
	Status        string        `db:"status"`
	CreatedAt     int64         `db:"created_at"`
	UpdatedAt     int64         `db:"updated_at"`
	DeletedAt     sql.NullInt64 `db:"deleted_at"`
}

func (r participationRow) toDomain() (domain.Participation, error) {
	status, err := domain.ParseParticipationStatus(r.Status)
	if err != nil {
		return domain.Participation{}, err
	}
	participation := domain.Participation{
		ID:            r.ID,
		PostingID:     r.PostingID,
		ParticipantID: r.ParticipantID,
		Status:        status,
		Timestamps: domain.Timestamps{
			CreatedAt: fromMillis(r.CreatedAt),
			UpdatedAt: fromMillis(r.UpdatedAt),
		},
	}
	if r.DeletedAt.Valid {
		deletedAt := fromMillis(r.DeletedAt.Int64)
		participation.DeletedAt = &deletedAt
	}
	return participation, nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
