package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCooldownStore keeps last-claim timestamps in Redis so cooldowns
// survive a process restart without a database.
type RedisCooldownStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCooldownStore(client redis.UniversalClient, prefix string) *RedisCooldownStore {
	if prefix == "" {
		prefix = "cooldown"
	}
	return &RedisCooldownStore{client: client, prefix: prefix}
}

func (s *RedisCooldownStore) Get(ctx context.Context, userID string) (time.Time, bool, error) {
	if s.client == nil {
		return time.Time{}, false, nil
	}
	raw, err := s.client.Get(ctx, s.key(userID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("decode cooldown entry for %s: %w", userID, err)
	}
	return at, true, nil
}

func (s *RedisCooldownStore) Set(ctx context.Context, userID string, at time.Time) error {
	if s.client == nil {
		return nil
	}
	// No TTL: entries are deleted only by admin reset, expiry is computed
	// against the configured window at check time.
	return s.client.Set(ctx, s.key(userID), at.UTC().Format(time.RFC3339Nano), 0).Err()
}

func (s *RedisCooldownStore) Delete(ctx context.Context, userID string) error {
	if s.client == nil {
		return nil
	}
	return s.client.Del(ctx, s.key(userID)).Err()
}

func (s *RedisCooldownStore) key(userID string) string {
	return fmt.Sprintf("%s:user:%s", s.prefix, userID)
}
