package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tokengate/tokengate/internal/repository"
)

// CooldownStore persists per-user last-claim timestamps. Implementations:
// in-memory map, Redis, and the GORM-backed repository adapter. Atomicity of
// check-then-record is the Coordinator's job, not the store's.
type CooldownStore interface {
	Get(ctx context.Context, userID string) (time.Time, bool, error)
	Set(ctx context.Context, userID string, at time.Time) error
	Delete(ctx context.Context, userID string) error
}

// CooldownTracker answers "may this user claim now" against a fixed window
// measured from the last successful claim.
type CooldownTracker struct {
	store  CooldownStore
	window time.Duration
	now    func() time.Time
}

func NewCooldownTracker(store CooldownStore, window time.Duration) *CooldownTracker {
	return &CooldownTracker{store: store, window: window, now: time.Now}
}

// Check returns the remaining cooldown. Zero means the user may claim now;
// no entry always allows.
func (t *CooldownTracker) Check(ctx context.Context, userID string) (time.Duration, error) {
	last, ok, err := t.store.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	remaining := t.window - t.now().Sub(last)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (t *CooldownTracker) RecordClaim(ctx context.Context, userID string, at time.Time) error {
	return t.store.Set(ctx, userID, at.UTC())
}

// Reset deletes the entry, making the user immediately eligible. Admin only.
func (t *CooldownTracker) Reset(ctx context.Context, userID string) error {
	return t.store.Delete(ctx, userID)
}

// Last exposes the raw last-claim timestamp; the reaper uses it to
// deduplicate cooldown-complete notices.
func (t *CooldownTracker) Last(ctx context.Context, userID string) (time.Time, bool, error) {
	return t.store.Get(ctx, userID)
}

func (t *CooldownTracker) Window() time.Duration { return t.window }

type InMemoryCooldownStore struct {
	mu    sync.RWMutex
	store map[string]time.Time
}

func NewInMemoryCooldownStore() *InMemoryCooldownStore {
	return &InMemoryCooldownStore{store: make(map[string]time.Time)}
}

func (s *InMemoryCooldownStore) Get(_ context.Context, userID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.store[userID]
	return at, ok, nil
}

func (s *InMemoryCooldownStore) Set(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[userID] = at
	return nil
}

func (s *InMemoryCooldownStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.store, userID)
	return nil
}

// DatabaseCooldownStore adapts the GORM repository to the store interface.
type DatabaseCooldownStore struct {
	repo repository.CooldownRepository
}

func NewDatabaseCooldownStore(repo repository.CooldownRepository) *DatabaseCooldownStore {
	return &DatabaseCooldownStore{repo: repo}
}

func (s *DatabaseCooldownStore) Get(_ context.Context, userID string) (time.Time, bool, error) {
	entry, err := s.repo.Get(userID)
	if err != nil {
		if errors.Is(err, repository.ErrCooldownNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return entry.LastClaimAt, true, nil
}

func (s *DatabaseCooldownStore) Set(_ context.Context, userID string, at time.Time) error {
	return s.repo.Upsert(userID, at)
}

func (s *DatabaseCooldownStore) Delete(_ context.Context, userID string) error {
	return s.repo.Delete(userID)
}
