// Package memory provides an in-process recruitment store with row locks.
//
// Each posting and participation row has its own lock. A unit of work stages
// its writes and applies them atomically on commit, so readers only ever see
// committed state. Operations on different postings never contend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gwtt/dagachi/internal/platform/timeouts"
	"github.com/gwtt/dagachi/internal/services/recruitment/domain"
	"github.com/gwtt/dagachi/internal/services/recruitment/storage"
)

// Store keeps recruitment state in memory.
type Store struct {
	lockWait time.Duration

	mu             sync.RWMutex
	postings       map[string]domain.Posting
	participations map[string]domain.Participation
	byPosting      map[string]map[string]struct{}
	identities     map[string]domain.Identity

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithLockWait bounds how long a unit of work waits for one row lock.
func WithLockWait(wait time.Duration) Option {
	return func(s *Store) {
		if wait > 0 {
			s.lockWait = wait
		}
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		lockWait:       timeouts.LockWait,
		postings:       make(map[string]domain.Posting),
		participations: make(map[string]domain.Participation),
		byPosting:      make(map[string]map[string]struct{}),
		identities:     make(map[string]domain.Identity),
		locks:          make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func postingKey(id string) string       { return "posting/" + id }
func participationKey(id string) string { return "participation/" + id }

func (s *Store) rowLock(key string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = make(chan struct{}, 1)
		s.locks[key] = lock
	}
	return lock
}

func (s *Store) acquire(ctx context.Context, key string) error {
	lock := s.rowLock(key)
	select {
	case lock <- struct{}{}:
		return nil
	default:
	}
	timer := time.NewTimer(s.lockWait)
	defer timer.Stop()
	select {
	case lock <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("%s: %w", key, storage.ErrLockTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release(key string) {
	<-s.rowLock(key)
}

// WithTransaction runs fn as one unit of work. Locks are released when fn
// returns; writes are applied only if fn returns nil.
func (s *Store) WithTransaction(ctx context.Context, fn storage.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &tx{
		store:          s,
		held:           make(map[string]struct{}),
		postings:       make(map[string]domain.Posting),
		participations: make(map[string]domain.Participation),
	}
	defer tx.releaseAll()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *Store) commit(t *tx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, posting := range t.postings {
		s.postings[id] = posting
	}
	for id, participation := range t.participations {
		s.participations[id] = participation
		ids, ok := s.byPosting[participation.PostingID]
		if !ok {
			ids = make(map[string]struct{})
			s.byPosting[participation.PostingID] = ids
		}
		ids[id] = struct{}{}
	}
}

// GetPosting returns the committed posting.
func (s *Store) GetPosting(ctx context.Context, postingID string) (domain.Posting, error) {
	if err := ctx.Err(); err != nil {
		return domain.Posting{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	posting, ok := s.postings[postingID]
	if !ok {
		return domain.Posting{}, storage.ErrNotFound
	}
	return posting, nil
}

// GetParticipation returns the committed participation.
func (s *Store) GetParticipation(ctx context.Context, participationID string) (domain.Participation, error) {
	if err := ctx.Err(); err != nil {
		return domain.Participation{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	participation, ok := s.participations[participationID]
	if !ok {
		return domain.Participation{}, storage.ErrNotFound
	}
	return participation, nil
}

// GetActiveParticipation returns the committed active participation for the pair.
func (s *Store) GetActiveParticipation(ctx context.Context, postingID, participantID string) (domain.Participation, error) {
	if err := ctx.Err(); err != nil {
		return domain.Participation{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id := range s.byPosting[postingID] {
		participation := s.participations[id]
		if participation.Active() && participation.ParticipantID == participantID {
			return participation, nil
		}
	}
	return domain.Participation{}, storage.ErrNotFound
}

// ListActiveParticipations returns committed active participations ordered
// by creation time.
func (s *Store) ListActiveParticipations(ctx context.Context, postingID string) ([]domain.Participation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Participation, 0, len(s.byPosting[postingID]))
	for id := range s.byPosting[postingID] {
		participation := s.participations[id]
		if participation.Active() {
			out = append(out, participation)
		}
	}
	sortParticipations(out)
	return out, nil
}

// CountApproved counts committed seats.
func (s *Store) CountApproved(ctx context.Context, postingID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for id := range s.byPosting[postingID] {
		if s.participations[id].Counts() {
			count++
		}
	}
	return count, nil
}

// ResolveIdentity returns a registered identity.
func (s *Store) ResolveIdentity(ctx context.Context, userID string) (domain.Identity, error) {
	if err := ctx.Err(); err != nil {
		return domain.Identity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[userID]
	if !ok {
		return domain.Identity{}, storage.ErrNotFound
	}
	return identity, nil
}

// PutIdentity registers or replaces an identity.
func (s *Store) PutIdentity(ctx context.Context, identity domain.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if identity.ID == "" {
		return fmt.Errorf("identity id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[identity.ID] = identity
	return nil
}

func sortParticipations(values []domain.Participation) {
	sort.Slice(values, func(i, j int) bool {
		if values[i].CreatedAt.Equal(values[j].CreatedAt) {
			return values[i].ID < values[j].ID
		}
		return values[i].CreatedAt.Before(values[j].CreatedAt)
	})
}

var (
	_ storage.Store         = (*Store)(nil)
	_ storage.IdentityStore = (*Store)(nil)
)
