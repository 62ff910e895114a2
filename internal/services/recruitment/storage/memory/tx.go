package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gwtt/dagachi/internal/services/recruitment/domain"
	"github.com/gwtt/dagachi/internal/services/recruitment/storage"
)

// tx stages writes over the committed maps. It is used by one goroutine.
type tx struct {
	store *Store

	held  map[string]struct{}
	order []string

	postings       map[string]domain.Posting
	participations map[string]domain.Participation
}

func (t *tx) holds(key string) bool {
	_, ok := t.held[key]
	return ok
}

func (t *tx) lock(ctx context.Context, key string) error {
	if t.holds(key) {
		return nil
	}
	if err := t.store.acquire(ctx, key); err != nil {
		return err
	}
	t.held[key] = struct{}{}
	t.order = append(t.order, key)
	return nil
}

func (t *tx) releaseAll() {
	for i := len(t.order) - 1; i >= 0; i-- {
		t.store.release(t.order[i])
	}
	t.order = nil
	t.held = map[string]struct{}{}
}

func (t *tx) holdsParticipationLock() bool {
	for _, key := range t.order {
		if strings.HasPrefix(key, "participation/") {
			return true
		}
	}
	return false
}

func (t *tx) posting(postingID string) (domain.Posting, bool) {
	if posting, ok := t.postings[postingID]; ok {
		return posting, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	posting, ok := t.store.postings[postingID]
	return posting, ok
}

func (t *tx) participation(participationID string) (domain.Participation, bool) {
	if participation, ok := t.participations[participationID]; ok {
		return participation, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	participation, ok := t.store.participations[participationID]
	return participation, ok
}

// postingParticipations merges committed and staged rows of one posting.
func (t *tx) postingParticipations(postingID string) []domain.Participation {
	t.store.mu.RLock()
	merged := make(map[string]domain.Participation, len(t.store.byPosting[postingID]))
	for id := range t.store.byPosting[postingID] {
		merged[id] = t.store.participations[id]
	}
	t.store.mu.RUnlock()
	for id, participation := range t.participations {
		if participation.PostingID == postingID {
			merged[id] = participation
		}
	}
	out := make([]domain.Participation, 0, len(merged))
	for _, participation := range merged {
		out = append(out, participation)
	}
	return out
}

func (t *tx) LockPosting(ctx context.Context, postingID string) (domain.Posting, error) {
	key := postingKey(postingID)
	if !t.holds(key) && t.holdsParticipationLock() {
		return domain.Posting{}, fmt.Errorf("%s after participation lock: %w", key, storage.ErrLockOrder)
	}
	if _, ok := t.posting(postingID); !ok {
		return domain.Posting{}, storage.ErrNotFound
	}
	if err := t.lock(ctx, key); err != nil {
		return domain.Posting{}, err
	}
	posting, ok := t.posting(postingID)
	if !ok {
		return domain.Posting{}, storage.ErrNotFound
	}
	return posting, nil
}

func (t *tx) LockParticipation(ctx context.Context, participationID string) (domain.Participation, error) {
	peek, ok := t.participation(participationID)
	if !ok {
		return domain.Participation{}, storage.ErrNotFound
	}
	if !t.holds(postingKey(peek.PostingID)) {
		return domain.Participation{}, fmt.Errorf("%s before posting lock: %w", participationKey(participationID), storage.ErrLockOrder)
	}
	if err := t.lock(ctx, participationKey(participationID)); err != nil {
		return domain.Participation{}, err
	}
	participation, _ := t.participation(participationID)
	return participation, nil
}

func (t *tx) LockActiveParticipation(ctx context.Context, postingID, participantID string) (domain.Participation, error) {
	if !t.holds(postingKey(postingID)) {
		return domain.Participation{}, fmt.Errorf("participation of %s before posting lock: %w", postingID, storage.ErrLockOrder)
	}
	for _, participation := range t.postingParticipations(postingID) {
		if participation.Active() && participation.ParticipantID == participantID {
			if err := t.lock(ctx, participationKey(participation.ID)); err != nil {
				return domain.Participation{}, err
			}
			locked, _ := t.participation(participation.ID)
			return locked, nil
		}
	}
	return domain.Participation{}, storage.ErrNotFound
}

func (t *tx) CountApproved(ctx context.Context, postingID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	count := 0
	for _, participation := range t.postingParticipations(postingID) {
		if participation.Counts() {
			count++
		}
	}
	return count, nil
}

func (t *tx) HasActiveParticipation(ctx context.Context, postingID, participantID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	for _, participation := range t.postingParticipations(postingID) {
		if participation.Active() && participation.ParticipantID == participantID {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) CreatePosting(ctx context.Context, posting domain.Posting) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if posting.ID == "" {
		return fmt.Errorf("posting id is required")
	}
	if _, ok := t.posting(posting.ID); ok {
		return storage.ErrAlreadyExists
	}
	// A new row cannot contend, but later writes in this unit of work need
	// its lock.
	if err := t.lock(ctx, postingKey(posting.ID)); err != nil {
		return err
	}
	t.postings[posting.ID] = posting
	return nil
}

func (t *tx) CreateParticipation(ctx context.Context, participation domain.Participation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if participation.ID == "" {
		return fmt.Errorf("participation id is required")
	}
	if !t.holds(postingKey(participation.PostingID)) {
		return fmt.Errorf("create participation without posting lock: %w", storage.ErrLockOrder)
	}
	if _, ok := t.participation(participation.ID); ok {
		return storage.ErrAlreadyExists
	}
	if participation.Active() {
		exists, err := t.HasActiveParticipation(ctx, participation.PostingID, participation.ParticipantID)
		if err != nil {
			return err
		}
		if exists {
			return storage.ErrAlreadyExists
		}
	}
	if err := t.lock(ctx, participationKey(participation.ID)); err != nil {
		return err
	}
	t.participations[participation.ID] = participation
	return nil
}

func (t *tx) UpdatePostingStatus(ctx context.Context, postingID string, status domain.PostingStatus, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !t.holds(postingKey(postingID)) {
		return fmt.Errorf("update %s without lock: %w", postingKey(postingID), storage.ErrLockOrder)
	}
	posting, ok := t.posting(postingID)
	if !ok {
		return storage.ErrNotFound
	}
	posting.Status = status
	posting.Timestamps = posting.Timestamps.Touch(updatedAt)
	t.postings[postingID] = posting
	return nil
}

func (t *tx) mutableParticipation(participationID string) (domain.Participation, error) {
	key := participationKey(participationID)
	if !t.holds(key) {
		return domain.Participation{}, fmt.Errorf("update %s without lock: %w", key, storage.ErrLockOrder)
	}
	participation, ok := t.participation(participationID)
	if !ok || !participation.Active() {
		return domain.Participation{}, storage.ErrNotFound
	}
	return participation, nil
}

func (t *tx) UpdateParticipationStatus(ctx context.Context, participationID string, status domain.ParticipationStatus, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	participation, err := t.mutableParticipation(participationID)
	if err != nil {
		return err
	}
	t.participations[participationID] = participation.WithStatus(status, updatedAt)
	return nil
}

func (t *tx) TombstoneParticipation(ctx context.Context, participationID string, deletedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	participation, err := t.mutableParticipation(participationID)
	if err != nil {
		return err
	}
	t.participations[participationID] = participation.Tombstoned(deletedAt)
	return nil
}

var _ storage.Tx = (*tx)(nil)
