package domain

import (
	"fmt"
	"strings"
	"time"
)

// ParticipationStatus is the decision state of a join request.
type ParticipationStatus string

const (
	ParticipationPending  ParticipationStatus = "PENDING"
	ParticipationApproved ParticipationStatus = "APPROVED"
	ParticipationRejected ParticipationStatus = "REJECTED"

	// NotParticipating is returned by status queries when the user holds no
	// active participation. It is never persisted.
	NotParticipating ParticipationStatus = "NOT_PARTICIPATING"
)

// Valid reports whether s can be persisted.
func (s ParticipationStatus) Valid() bool {
	switch s {
	case ParticipationPending, ParticipationApproved, ParticipationRejected:
		return true
	}
	return false
}

// ParseParticipationStatus parses the persisted form of a participation status.
func ParseParticipationStatus(raw string) (ParticipationStatus, error) {
	status := ParticipationStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown participation status %q", raw)
	}
	return status, nil
}

// Participation links a participant to a posting.
type Participation struct {
	ID            string
	PostingID     string
	ParticipantID string
	Status        ParticipationStatus
	Timestamps
	DeletedAt *time.Time
}

// NewParticipation returns a PENDING participation.
func NewParticipation(id, postingID, participantID string, now time.Time) Participation {
	return Participation{
		ID:            id,
		PostingID:     postingID,
		ParticipantID: participantID,
		Status:        ParticipationPending,
		Timestamps:    NewTimestamps(now),
	}
}

// Active reports whether the participation has not been tombstoned.
func (p Participation) Active() bool {
	return p.DeletedAt == nil
}

// Counts reports whether the participation occupies a seat.
func (p Participation) Counts() bool {
	return p.Active() && p.Status == ParticipationApproved
}

// WithStatus returns a copy moved to status at now.
func (p Participation) WithStatus(status ParticipationStatus, now time.Time) Participation {
	p.Status = status
	p.Timestamps = p.Timestamps.Touch(now)
	return p
}

// Tombstoned returns a copy soft-deleted at now.
func (p Participation) Tombstoned(now time.Time) Participation {
	deletedAt := now.UTC()
	p.DeletedAt = &deletedAt
	p.Timestamps = p.Timestamps.Touch(now)
	return p
}
