package ratelimit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gearhaus/webshield/security"
	"github.com/gearhaus/webshield/store"
)

// KeyFunc derives the counter key for a request
type KeyFunc func(r *http.Request) string

// SkipFunc reports whether a request bypasses the limiter entirely
type SkipFunc func(r *http.Request) bool

// UserFunc resolves an authenticated user ID from the request, or "" when
// the request is anonymous
type UserFunc func(r *http.Request) string

// Decision is the outcome of checking one request against a profile.
type Decision struct {
	// Allowed is false when the request exceeded the profile limit
	Allowed bool

	// Skipped is true when the skip predicate matched; no counter was touched
	Skipped bool

	// Key is the counter key the request was charged against
	Key string

	// Count is the number of hits within the current window, this one included
	Count int64

	// Limit is the profile maximum
	Limit int

	// ResetAt is when the current window ends
	ResetAt time.Time
}

// RetryAfter returns the whole seconds until the window resets, at least 1.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int(d.ResetAt.Sub(now).Seconds())
	if remainder := d.ResetAt.Sub(now) % time.Second; remainder > 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter charges requests against one profile backed by a shared counter
// store. It is safe for concurrent use; all mutable state lives in the store.
type Limiter struct {
	profile Profile
	store   store.CounterStore
	keyFn   KeyFunc
	skip    SkipFunc
	auditor *security.Auditor
	logger  *slog.Logger

	// now is injectable for tests
	now func() time.Time
}

// Options configures a Limiter beyond its profile.
type Options struct {
	// Key derives the counter key. Nil uses the client IP.
	Key KeyFunc

	// Skip bypasses the limiter for matching requests. Nil never skips.
	Skip SkipFunc

	// Auditor records limit violations. Nil disables auditing.
	Auditor *security.Auditor

	// Logger for structured logging (optional)
	Logger *slog.Logger
}

// New creates a Limiter for the given profile and store.
func New(profile Profile, st store.CounterStore, opts Options) *Limiter {
	if opts.Key == nil {
		opts.Key = KeyByIP(false, 0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Limiter{
		profile: profile,
		store:   st,
		keyFn:   opts.Key,
		skip:    opts.Skip,
		auditor: opts.Auditor,
		logger:  opts.Logger,
		now:     time.Now,
	}
}

// Profile returns the limiter's immutable profile.
func (l *Limiter) Profile() Profile {
	return l.profile
}

// SetClock overrides the limiter's time source. Intended for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

// Check charges the request against the profile and reports the decision.
// A store failure is returned as an error; the caller decides the failure
// policy (the chain fails closed).
func (l *Limiter) Check(ctx context.Context, r *http.Request) (Decision, error) {
	if l.skip != nil && l.skip(r) {
		return Decision{Allowed: true, Skipped: true}, nil
	}

	key := l.profile.Name + ":" + l.keyFn(r)
	count, resetAt, err := l.store.Increment(ctx, key, l.profile.Window)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		Allowed: count <= int64(l.profile.Max),
		Key:     key,
		Count:   count,
		Limit:   l.profile.Max,
		ResetAt: resetAt,
	}

	if !d.Allowed {
		l.logger.Warn("rate limit exceeded",
			"profile", l.profile.Name,
			"key", key,
			"count", count,
			"max", l.profile.Max,
			"path", r.URL.Path,
			"method", r.Method,
			"user_agent", r.UserAgent(),
		)
		if l.auditor != nil {
			l.auditor.LogRateLimitExceeded(l.keyFn(r), l.profile.Name, r.URL.Path)
		}
	}

	return d, nil
}

// Refund undoes the charge for a request that turned out successful. Only
// meaningful for profiles with SkipSuccessful; best effort otherwise.
func (l *Limiter) Refund(ctx context.Context, d Decision) {
	if d.Skipped || d.Key == "" {
		return
	}
	if err := l.store.Decrement(ctx, d.Key); err != nil {
		// A failed refund only makes the limiter slightly stricter.
		l.logger.Debug("rate limit refund failed", "key", d.Key, "error", err)
	}
}

// SetHeaders attaches the standard rate-limit headers for a decision, plus
// Retry-After on rejections.
func SetHeaders(w http.ResponseWriter, d Decision, now time.Time) {
	if d.Skipped {
		return
	}
	remaining := int64(d.Limit) - d.Count
	if remaining < 0 {
		remaining = 0
	}
	reset := int64(d.ResetAt.Sub(now).Seconds())
	if reset < 0 {
		reset = 0
	}
	h := w.Header()
	h.Set("RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	h.Set("RateLimit-Reset", strconv.FormatInt(reset, 10))
	if !d.Allowed {
		h.Set("Retry-After", strconv.Itoa(d.RetryAfter(now)))
	}
}

// KeyByIP keys counters by client IP, honoring proxy headers when
// trustProxy is set.
func KeyByIP(trustProxy bool, trustedProxyCount int) KeyFunc {
	return func(r *http.Request) string {
		return security.GetClientIP(r, trustProxy, trustedProxyCount)
	}
}

// WithRoute extends a key function with the request path, so limits apply
// per route rather than globally.
func WithRoute(kf KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		return kf(r) + ":" + r.URL.Path
	}
}

// WithUser extends a key function with the authenticated user ID when one
// is present.
func WithUser(kf KeyFunc, userFn UserFunc) KeyFunc {
	return func(r *http.Request) string {
		if uid := userFn(r); uid != "" {
			return kf(r) + ":" + uid
		}
		return kf(r)
	}
}

// SkipAny combines skip predicates; the request is skipped when any matches.
func SkipAny(fns ...SkipFunc) SkipFunc {
	return func(r *http.Request) bool {
		for _, fn := range fns {
			if fn != nil && fn(r) {
				return true
			}
		}
		return false
	}
}

// SkipPaths skips requests whose path exactly matches one of the given paths.
func SkipPaths(paths ...string) SkipFunc {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.URL.Path]
		return ok
	}
}

// SkipIPs skips requests from the given addresses. With includeLoopback,
// 127.0.0.1 and ::1 are also skipped (development convenience).
func SkipIPs(trustProxy bool, trustedProxyCount int, includeLoopback bool, ips ...string) SkipFunc {
	set := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		set[ip] = struct{}{}
	}
	return func(r *http.Request) bool {
		ip := security.GetClientIP(r, trustProxy, trustedProxyCount)
		if _, ok := set[ip]; ok {
			return true
		}
		if includeLoopback {
			if parsed := net.ParseIP(ip); parsed != nil && parsed.IsLoopback() {
				return true
			}
		}
		return false
	}
}
