// Package memory provides an in-memory implementation of the counter store.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/gearhaus/webshield/store"
)

const (
	// shardCount is the number of lock shards. Increments on different keys
	// rarely contend; increments on the same key serialize on one shard.
	shardCount = 64

	// DefaultCleanupInterval is how often expired entries are swept
	DefaultCleanupInterval = time.Minute
)

// entry is a live fixed-window counter
type entry struct {
	count       int64
	windowStart time.Time
	resetAt     time.Time
}

// shard is an independently locked slice of the key space
type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Store is a sharded in-memory counter store. A per-shard mutex gives
// per-key atomicity without serializing unrelated keys behind a global lock.
type Store struct {
	shards [shardCount]*shard

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger

	// now is injectable for tests
	now func() time.Time
}

// Compile-time interface check
var _ store.CounterStore = (*Store)(nil)

// New creates an in-memory store with the default cleanup interval (1 minute).
func New(logger *slog.Logger) *Store {
	return NewWithInterval(DefaultCleanupInterval, logger)
}

// NewWithInterval creates an in-memory store with a custom cleanup interval.
// If cleanupInterval is 0 or negative, the default of 1 minute is used.
func NewWithInterval(cleanupInterval time.Duration, logger *slog.Logger) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          logger,
		now:             time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*entry)}
	}

	// Background GC is a liveness optimization only: increments lazily
	// overwrite expired entries regardless.
	go s.cleanupLoop()

	return s
}

// SetClock overrides the store's time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// Increment atomically bumps the counter for key, starting a new window when
// none exists or the previous one has expired.
func (s *Store) Increment(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := s.now()
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok || now.After(e.resetAt) {
		e = &entry{
			count:       1,
			windowStart: now,
			resetAt:     now.Add(window),
		}
		sh.entries[key] = e
		return 1, e.resetAt, nil
	}

	e.count++
	return e.count, e.resetAt, nil
}

// Decrement undoes one hit. Counters never go below zero.
func (s *Store) Decrement(_ context.Context, key string) error {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if e, ok := sh.entries[key]; ok && e.count > 0 {
		e.count--
	}
	return nil
}

// Reset removes the entry for key.
func (s *Store) Reset(_ context.Context, key string) error {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	delete(sh.entries, key)
	return nil
}

// ResetAll removes every entry.
func (s *Store) ResetAll(_ context.Context) error {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.entries = make(map[string]*entry)
		sh.mu.Unlock()
	}
	return nil
}

// Size returns the number of live entries. Exposed for store size gauges.
func (s *Store) Size() int64 {
	var n int64
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += int64(len(sh.entries))
		sh.mu.Unlock()
	}
	return n
}

// cleanupLoop periodically removes expired entries to bound memory
func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// Cleanup removes every entry whose window has expired.
func (s *Store) Cleanup() {
	now := s.now()
	removed := 0

	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, e := range sh.entries {
			if now.After(e.resetAt) {
				delete(sh.entries, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}

	if removed > 0 {
		s.logger.Debug("counter store cleanup completed", "removed", removed)
	}
}

// Stop gracefully stops the cleanup goroutine.
// Safe to call multiple times concurrently.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}
