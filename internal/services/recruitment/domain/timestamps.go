package domain

import "time"

// Timestamps is embedded in every mutable record.
type Timestamps struct {
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTimestamps stamps a freshly created record.
func NewTimestamps(now time.Time) Timestamps {
	now = now.UTC()
	return Timestamps{CreatedAt: now, UpdatedAt: now}
}

// Touch returns a copy with UpdatedAt moved to now. UpdatedAt never moves
// backwards.
func (t Timestamps) Touch(now time.Time) Timestamps {
	now = now.UTC()
	if now.Before(t.UpdatedAt) {
		return t
	}
	t.UpdatedAt = now
	return t
}
