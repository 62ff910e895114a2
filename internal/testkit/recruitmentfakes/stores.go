// Package recruitmentfakes provides test doubles and seeding helpers for
// recruitment storage.
package recruitmentfakes

import (
	"context"
	"sync"

	"github.com/gwtt/dagachi/internal/services/recruitment/domain"
	"github.com/gwtt/dagachi/internal/services/recruitment/storage"
)

// IdentityStore is a lightweight in-memory IdentityStore fake for tests.
type IdentityStore struct {
	mu         sync.RWMutex
	Identities map[string]domain.Identity
	ResolveErr error
}

// NewIdentityStore constructs an IdentityStore with the given users, all
// holding the USER role.
func NewIdentityStore(userIDs ...string) *IdentityStore {
	s := &IdentityStore{Identities: make(map[string]domain.Identity, len(userIDs))}
	for _, userID := range userIDs {
		s.Identities[userID] = domain.Identity{ID: userID, Role: domain.RoleUser}
	}
	return s
}

func (s *IdentityStore) ResolveIdentity(_ context.Context, userID string) (domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ResolveErr != nil {
		return domain.Identity{}, s.ResolveErr
	}
	identity, ok := s.Identities[userID]
	if !ok {
		return domain.Identity{}, storage.ErrNotFound
	}
	return identity, nil
}

func (s *IdentityStore) PutIdentity(_ context.Context, identity domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Identities[identity.ID] = identity
	return nil
}

// FaultyStore wraps a Store and injects errors.
type FaultyStore struct {
	storage.Store

	// TxErr is returned by WithTransaction without running fn.
	TxErr error
	// ReadErr is returned by every plain read.
	ReadErr error
}

func (s *FaultyStore) WithTransaction(ctx context.Context, fn storage.TxFunc) error {
	if s.TxErr != nil {
		return s.TxErr
	}
	return s.Store.WithTransaction(ctx, fn)
}

func (s *FaultyStore) GetPosting(ctx context.Context, postingID string) (domain.Posting, error) {
	if s.ReadErr != nil {
		return domain.Posting{}, s.ReadErr
	}
	return s.Store.GetPosting(ctx, postingID)
}

func (s *FaultyStore) GetParticipation(ctx context.Context, participationID string) (domain.Participation, error) {
	if s.ReadErr != nil {
		return domain.Participation{}, s.ReadErr
	}
	return s.Store.GetParticipation(ctx, participationID)
}

func (s *FaultyStore) GetActiveParticipation(ctx context.Context, postingID, participantID string) (domain.Participation, error) {
	if s.ReadErr != nil {
		return domain.Participation{}, s.ReadErr
	}
	return s.Store.GetActiveParticipation(ctx, postingID, participantID)
}

func (s *FaultyStore) ListActiveParticipations(ctx context.Context, postingID string) ([]domain.Participation, error) {
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	return s.Store.ListActiveParticipations(ctx, postingID)
}

func (s *FaultyStore) CountApproved(ctx context.Context, postingID string) (int, error) {
	if s.ReadErr != nil {
		return 0, s.ReadErr
	}
	return s.Store.CountApproved(ctx, postingID)
}

// SeedPosting stores posting as-is, status included.
func SeedPosting(ctx context.Context, store storage.Store, posting domain.Posting) error {
	return store.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.CreatePosting(ctx, posting)
	})
}

// SeedParticipation stores participation under its posting's lock.
func SeedParticipation(ctx context.Context, store storage.Store, participation domain.Participation) error {
	return store.WithTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.LockPosting(ctx, participation.PostingID); err != nil {
			return err
		}
		return tx.CreateParticipation(ctx, participation)
	})
}
