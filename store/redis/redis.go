// Package redis provides a Redis backed implementation of the counter store
// for deployments where several processes share one set of counters.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gearhaus/webshield/store"
)

// keyPrefix namespaces limiter counters inside a shared Redis instance
const keyPrefix = "ws:rl:"

// decrScript decrements a counter without letting it go below zero and
// without resurrecting expired keys.
var decrScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v and tonumber(v) > 0 then
	return redis.call('DECR', KEYS[1])
end
return 0
`)

// Store is a Redis backed counter store. Window semantics come from key
// expiry: INCR plus a PEXPIRE set on the first hit, so an expired window is
// simply an evicted key and the next hit starts a fresh one.
type Store struct {
	client redis.UniversalClient
}

// Compile-time interface check
var _ store.CounterStore = (*Store)(nil)

// New creates a Redis backed counter store using the given client.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// Increment bumps the counter for key. The first hit in a window sets the
// key TTL; the window reset time is recovered from the remaining TTL.
func (s *Store) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	k := keyPrefix + key
	now := time.Now()

	count, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	if count == 1 {
		if err := s.client.PExpire(ctx, k, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		return count, now.Add(window), nil
	}

	ttl, err := s.client.PTTL(ctx, k).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if ttl < 0 {
		// Key lost its TTL (e.g. a crash between INCR and PEXPIRE).
		// Re-arm the window rather than leaving an immortal counter.
		if err := s.client.PExpire(ctx, k, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		ttl = window
	}

	return count, now.Add(ttl), nil
}

// Decrement undoes one hit. Counters never go below zero.
func (s *Store) Decrement(ctx context.Context, key string) error {
	if err := decrScript.Run(ctx, s.client, []string{keyPrefix + key}).Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

// Reset removes the entry for key.
func (s *Store) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

// ResetAll removes every limiter counter, leaving unrelated keys in the
// shared instance untouched.
func (s *Store) ResetAll(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}
