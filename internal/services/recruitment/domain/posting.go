package domain

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/gwtt/dagachi/internal/platform/errors"
)

// PostingStatus is the recruitment state of a posting.
type PostingStatus string

const (
	PostingRecruiting PostingStatus = "RECRUITING"
	PostingRecruited  PostingStatus = "RECRUITED"
	PostingCompleted  PostingStatus = "COMPLETED"
)

// Valid reports whether s is a known posting status.
func (s PostingStatus) Valid() bool {
	switch s {
	case PostingRecruiting, PostingRecruited, PostingCompleted:
		return true
	}
	return false
}

// ParsePostingStatus parses the persisted form of a posting status.
func ParsePostingStatus(raw string) (PostingStatus, error) {
	status := PostingStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown posting status %q", raw)
	}
	return status, nil
}

// Posting is a recruitment post with a fixed number of seats.
type Posting struct {
	ID          string
	AuthorID    string
	Title       string
	MaxCapacity int
	Status      PostingStatus
	Timestamps
}

// NewPosting validates input and returns a posting in RECRUITING.
func NewPosting(id, authorID, title string, maxCapacity int, now time.Time) (Posting, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Posting{}, apperrors.New(apperrors.CodePostingTitleEmpty, "posting title is required")
	}
	if maxCapacity <= 0 {
		return Posting{}, apperrors.WithMetadata(
			apperrors.CodePostingInvalidCapacity,
			fmt.Sprintf("max capacity must be positive, got %d", maxCapacity),
			map[string]string{"MaxCapacity": fmt.Sprint(maxCapacity)},
		)
	}
	return Posting{
		ID:          id,
		AuthorID:    authorID,
		Title:       title,
		MaxCapacity: maxCapacity,
		Status:      PostingRecruiting,
		Timestamps:  NewTimestamps(now),
	}, nil
}

// IsAuthor reports whether userID wrote the posting.
func (p Posting) IsAuthor(userID string) bool {
	return p.AuthorID == userID
}

// AcceptsJoins reports whether new join requests may be filed.
func (p Posting) AcceptsJoins() bool {
	return p.Status == PostingRecruiting
}

// AcceptsApprovals reports whether approvals may be attempted at all. A full
// posting is still refused, by the capacity check rather than by status.
func (p Posting) AcceptsApprovals() bool {
	return p.Status != PostingCompleted
}

// AcceptsRejections reports whether participations may still be rejected.
// A full posting still accepts rejections so that an approved seat can be
// given back.
func (p Posting) AcceptsRejections() bool {
	return p.Status != PostingCompleted
}

// NextPostingStatus returns the status a posting must hold once its approved
// count is approvedCount. COMPLETED is absorbing.
func NextPostingStatus(current PostingStatus, approvedCount, maxCapacity int) PostingStatus {
	switch current {
	case PostingRecruiting:
		if approvedCount >= maxCapacity {
			return PostingRecruited
		}
	case PostingRecruited:
		if approvedCount < maxCapacity {
			return PostingRecruiting
		}
	}
	return current
}

// CanComplete reports whether the external completion action applies.
func CanComplete(current PostingStatus) bool {
	return current == PostingRecruiting || current == PostingRecruited
}
