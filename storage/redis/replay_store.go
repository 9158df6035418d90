package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultReplayPrefix namespaces replay marks.
const DefaultReplayPrefix = "webhook_processed:"

// ReplayStore is a webhook.ReplayStore on Redis. The check-and-set is a single
// SET NX with expiry, so it holds across every process sharing the instance.
type ReplayStore struct {
	rdb   redis.UniversalClient
	keyNS string
}

func NewReplayStore(rdb redis.UniversalClient, keyPrefix string) *ReplayStore {
	if keyPrefix == "" {
		keyPrefix = DefaultReplayPrefix
	}
	return &ReplayStore{rdb: rdb, keyNS: keyPrefix}
}

func (s *ReplayStore) key(id string) string { return s.keyNS + id }

func (s *ReplayStore) MarkIfAbsent(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, s.key(id), time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

func (s *ReplayStore) Release(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, s.key(id)).Err()
}

// Ping checks connectivity.
func (s *ReplayStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
