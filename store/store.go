// Package store defines the shared counter store behind the fixed-window
// rate limiters. It supports in-memory and Redis backed implementations.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the backing store cannot be reached.
// Callers decide whether to fail open or closed.
var ErrUnavailable = errors.New("counter store unavailable")

// CounterStore is the contract for fixed-window counters. At most one live
// entry exists per key; when a window has elapsed the next Increment resets
// the count to 1 and starts a new window. Implementations must make
// Increment atomic per key: two concurrent increments on the same key must
// never observe the same pre-increment count.
type CounterStore interface {
	// Increment records a hit against key and returns the count within the
	// current window plus the time at which the window resets. When the
	// previous window has expired, the count restarts at 1.
	Increment(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)

	// Decrement undoes one hit against key. Best effort: it never takes a
	// counter below zero and missing keys are not an error. Used by
	// skip-successful policies.
	Decrement(ctx context.Context, key string) error

	// Reset removes the entry for key.
	Reset(ctx context.Context, key string) error

	// ResetAll removes every entry. Administrative and testing hook.
	ResetAll(ctx context.Context) error
}
