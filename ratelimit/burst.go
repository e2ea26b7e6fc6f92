package ratelimit

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// burstEntry tracks a token bucket and its last access time
type burstEntry struct {
	key        string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// BurstGuard is a per-client token-bucket flood guard that runs ahead of the
// fixed-window profiles. Where a profile answers "how many contact forms per
// hour", the guard answers "is this client hammering the site right now".
// LRU eviction bounds memory under key churn.
type BurstGuard struct {
	entries         map[string]*list.Element // key -> list element
	lruList         *list.List               // LRU list of *burstEntry
	mu              sync.Mutex
	rate            int
	burst           int
	maxEntries      int
	logger          *slog.Logger
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once

	totalEvictions int64
}

const (
	// DefaultBurstMaxEntries bounds the number of clients tracked at once
	DefaultBurstMaxEntries = 10000

	// defaultBurstCleanupInterval is how often idle buckets are swept
	defaultBurstCleanupInterval = 5 * time.Minute

	// burstMaxIdle is how long a bucket may sit unused before the sweep
	// removes it
	burstMaxIdle = 30 * time.Minute
)

// NewBurstGuard creates a flood guard allowing requestsPerSecond sustained
// with the given burst per key.
func NewBurstGuard(requestsPerSecond, burst int, logger *slog.Logger) *BurstGuard {
	if logger == nil {
		logger = slog.Default()
	}

	g := &BurstGuard{
		entries:         make(map[string]*list.Element),
		lruList:         list.New(),
		rate:            requestsPerSecond,
		burst:           burst,
		maxEntries:      DefaultBurstMaxEntries,
		logger:          logger,
		cleanupInterval: defaultBurstCleanupInterval,
		stopCleanup:     make(chan struct{}),
	}

	go g.cleanupLoop()

	return g
}

// Allow reports whether a request from key may proceed right now.
func (g *BurstGuard) Allow(key string) bool {
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if elem, exists := g.entries[key]; exists {
		g.lruList.MoveToFront(elem)
		entry := elem.Value.(*burstEntry)
		entry.lastAccess = now
		return entry.limiter.Allow()
	}

	if g.maxEntries > 0 && len(g.entries) >= g.maxEntries {
		g.evictLRU()
	}

	entry := &burstEntry{
		key:        key,
		limiter:    rate.NewLimiter(rate.Limit(g.rate), g.burst),
		lastAccess: now,
	}
	g.entries[key] = g.lruList.PushFront(entry)

	return entry.limiter.Allow()
}

// evictLRU removes the least recently used entry.
// Must be called with the mutex held.
func (g *BurstGuard) evictLRU() {
	elem := g.lruList.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*burstEntry)
	delete(g.entries, entry.key)
	g.lruList.Remove(elem)
	g.totalEvictions++

	g.logger.Debug("burst guard LRU eviction",
		"key", entry.key,
		"total_evictions", g.totalEvictions,
		"current_entries", len(g.entries))
}

// cleanupLoop periodically removes idle buckets to prevent memory leaks
func (g *BurstGuard) cleanupLoop() {
	ticker := time.NewTicker(g.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.Cleanup(burstMaxIdle)
		case <-g.stopCleanup:
			return
		}
	}
}

// Cleanup removes buckets that have not been touched for maxIdle.
func (g *BurstGuard) Cleanup(maxIdle time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	removed := 0

	var next *list.Element
	for elem := g.lruList.Front(); elem != nil; elem = next {
		next = elem.Next()
		entry := elem.Value.(*burstEntry)
		if now.Sub(entry.lastAccess) > maxIdle {
			delete(g.entries, entry.key)
			g.lruList.Remove(elem)
			removed++
		}
	}

	if removed > 0 {
		g.logger.Debug("burst guard cleanup completed",
			"removed", removed,
			"remaining", len(g.entries))
	}
}

// Stop gracefully stops the cleanup goroutine.
// Safe to call multiple times concurrently.
func (g *BurstGuard) Stop() {
	g.stopOnce.Do(func() {
		close(g.stopCleanup)
	})
}
