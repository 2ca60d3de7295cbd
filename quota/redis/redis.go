// Package redis provides a Redis-backed SnapshotStore for keyrotor.
//
// Each pool/day snapshot is a Redis hash of fingerprint to count. Saves go
// through a Lua script that keeps the larger count per field, so several
// processes saving the same pool never lower each other's counters.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/keyrotor"
)

const defaultTTL = 48 * time.Hour

// Store is a Redis-backed SnapshotStore.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
	ttl       time.Duration
}

var _ keyrotor.SnapshotStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "keyrotor:usage:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// WithTTL sets how long a day's snapshot is kept (default 48h).
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// New creates a new Redis-backed SnapshotStore.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "keyrotor:usage:",
		ttl:       defaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) snapshotKey(pool, day string) string {
	return s.keyPrefix + pool + ":" + day
}

// mergeScript raises hash fields to the given counts.
// KEYS[1] = snapshot hash key
// ARGV[1] = ttl (seconds)
// ARGV[2..] = fingerprint, count pairs
//
// Returns the number of fields raised.
var mergeScript = goredis.NewScript(`
local key = KEYS[1]
local ttl = tonumber(ARGV[1])
local raised = 0

for i = 2, #ARGV, 2 do
    local field = ARGV[i]
    local count = tonumber(ARGV[i + 1])
    local current = tonumber(redis.call("HGET", key, field) or "0")
    if count > current then
        redis.call("HSET", key, field, count)
        raised = raised + 1
    end
end

if ttl > 0 then
    redis.call("EXPIRE", key, ttl)
end
return raised
`)

// Load returns the snapshot for pool on day. A missing hash yields an
// empty snapshot.
func (s *Store) Load(ctx context.Context, pool, day string) (keyrotor.Snapshot, error) {
	vals, err := s.client.HGetAll(ctx, s.snapshotKey(pool, day)).Result()
	if err != nil {
		return keyrotor.Snapshot{}, fmt.Errorf("keyrotor/redis: load: %w", err)
	}

	usage := make(map[string]int, len(vals))
	for fp, raw := range vals {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return keyrotor.Snapshot{}, fmt.Errorf("keyrotor/redis: load: field %s: %w", fp, err)
		}
		usage[fp] = n
	}
	return keyrotor.Snapshot{Pool: pool, Day: day, Usage: usage}, nil
}

// Save merges snap into the stored hash.
func (s *Store) Save(ctx context.Context, snap keyrotor.Snapshot) error {
	if len(snap.Usage) == 0 {
		return nil
	}

	args := make([]any, 0, 1+2*len(snap.Usage))
	args = append(args, int64(s.ttl/time.Second))
	for fp, n := range snap.Usage {
		args = append(args, fp, n)
	}

	if err := mergeScript.Run(ctx, s.client, []string{s.snapshotKey(snap.Pool, snap.Day)}, args...).Err(); err != nil {
		return fmt.Errorf("keyrotor/redis: save: %w", err)
	}
	return nil
}
