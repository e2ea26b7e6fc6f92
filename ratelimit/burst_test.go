package ratelimit

import (
	"fmt"
	"log/slog"
	"testing"
	"time"
)

func TestBurstGuard_Allow(t *testing.T) {
	g := NewBurstGuard(10, 5, slog.Default())
	defer g.Stop()

	// Requests up to the burst are allowed
	for i := 0; i < 5; i++ {
		if !g.Allow("client-1") {
			t.Errorf("Allow() request %d should be allowed", i+1)
		}
	}

	if g.Allow("client-1") {
		t.Error("Allow() should return false once the burst is spent")
	}
}

func TestBurstGuard_IndependentKeys(t *testing.T) {
	g := NewBurstGuard(10, 2, slog.Default())
	defer g.Stop()

	g.Allow("client-1")
	g.Allow("client-1")
	if g.Allow("client-1") {
		t.Error("client-1 should be limited")
	}

	if !g.Allow("client-2") {
		t.Error("client-2 should have its own bucket")
	}
}

func TestBurstGuard_RefillOverTime(t *testing.T) {
	// 100 tokens per second so the refill is quick
	g := NewBurstGuard(100, 1, slog.Default())
	defer g.Stop()

	if !g.Allow("client-1") {
		t.Fatal("first request should be allowed")
	}
	if g.Allow("client-1") {
		t.Fatal("second immediate request should be limited")
	}

	time.Sleep(20 * time.Millisecond)
	if !g.Allow("client-1") {
		t.Error("Allow() should succeed after refill")
	}
}

func TestBurstGuard_LRUEviction(t *testing.T) {
	g := NewBurstGuard(10, 1, slog.Default())
	defer g.Stop()
	g.maxEntries = 3

	for i := 0; i < 5; i++ {
		g.Allow(fmt.Sprintf("client-%d", i))
	}

	g.mu.Lock()
	entries := len(g.entries)
	evictions := g.totalEvictions
	g.mu.Unlock()

	if entries > 3 {
		t.Errorf("entries = %d, want at most 3", entries)
	}
	if evictions != 2 {
		t.Errorf("totalEvictions = %d, want 2", evictions)
	}
}

func TestBurstGuard_Cleanup(t *testing.T) {
	g := NewBurstGuard(10, 1, slog.Default())
	defer g.Stop()

	g.Allow("idle-client")

	g.mu.Lock()
	g.entries["idle-client"].Value.(*burstEntry).lastAccess = time.Now().Add(-time.Hour)
	g.mu.Unlock()

	g.Cleanup(30 * time.Minute)

	g.mu.Lock()
	_, exists := g.entries["idle-client"]
	g.mu.Unlock()

	if exists {
		t.Error("Cleanup() should remove idle buckets")
	}
}

func TestBurstGuard_StopIdempotent(t *testing.T) {
	g := NewBurstGuard(10, 1, slog.Default())
	g.Stop()
	g.Stop() // must not panic
}
