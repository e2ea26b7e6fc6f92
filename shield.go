// Package webshield is a request protection layer for form-driven websites:
// CSRF token issuance and validation, multi-profile fixed-window rate
// limiting over a shared counter store, and an ordered fail-fast chain of
// request gates, all reporting failures through one sanitized error schema.
package webshield

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gearhaus/webshield/instrumentation"
	"github.com/gearhaus/webshield/ratelimit"
	"github.com/gearhaus/webshield/security"
	"github.com/gearhaus/webshield/store"
	"github.com/gearhaus/webshield/store/memory"
	"github.com/gearhaus/webshield/token"
)

// SessionFunc resolves the server-side session ID for a request, or ""
// when the request has no session (anonymous visitors).
type SessionFunc func(r *http.Request) string

// Shield owns the protection layer: the token codec, the counter store, the
// limiter profiles, and the error responder. All dependencies are injected
// at construction; there are no package-level singletons.
type Shield struct {
	config    Config
	codec     *token.Codec
	counters  store.CounterStore
	ownStore  *memory.Store
	burst     *ratelimit.BurstGuard
	auditor   *security.Auditor
	responder *Responder
	inst      *instrumentation.Instrumentation
	logger    *slog.Logger
	sessionFn SessionFunc
	maxBytes  int64

	mu       sync.Mutex
	limiters map[string]*ratelimit.Limiter
}

// Option customizes a Shield beyond its Config.
type Option func(*Shield)

// WithCounterStore injects a counter store, typically the Redis backed one
// for multi-process deployments. Without this option an in-memory store is
// created and owned by the Shield.
func WithCounterStore(cs store.CounterStore) Option {
	return func(s *Shield) { s.counters = cs }
}

// WithInstrumentation injects an instrumentation instance with real
// exporters. Without it a no-op instance is used.
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(s *Shield) { s.inst = inst }
}

// WithSessionFunc injects the application's session resolver. Without it
// the client IP stands in for the session identity.
func WithSessionFunc(fn SessionFunc) Option {
	return func(s *Shield) { s.sessionFn = fn }
}

// New creates a Shield from the given configuration. The configuration is
// validated and defaulted in place.
func New(cfg Config, opts ...Option) (*Shield, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("webshield: %w", err)
	}

	codec, err := token.NewCodec(token.Config{
		Secret:   cfg.SigningSecret,
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
		TTL:      cfg.TokenTTL,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("webshield: %w", err)
	}

	maxBytes, err := ParseSize(cfg.Security.MaxRequestSize)
	if err != nil {
		return nil, fmt.Errorf("webshield: %w", err)
	}

	s := &Shield{
		config:    cfg,
		codec:     codec,
		logger:    cfg.Logger,
		maxBytes:  maxBytes,
		limiters:  make(map[string]*ratelimit.Limiter),
		responder: NewResponder(cfg.Logger, cfg.Production),
		auditor:   security.NewAuditor(cfg.Logger, cfg.Security.EnableAuditLogging),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.counters == nil {
		s.ownStore = memory.New(cfg.Logger)
		s.counters = s.ownStore
	}
	if s.inst == nil {
		s.inst, err = instrumentation.New(instrumentation.Config{})
		if err != nil {
			return nil, fmt.Errorf("webshield: %w", err)
		}
	}
	if s.ownStore != nil {
		if err := s.inst.RegisterStoreSizeCallback(s.ownStore.Size); err != nil {
			return nil, fmt.Errorf("webshield: %w", err)
		}
	}

	if cfg.RateLimit.BurstRate > 0 {
		burst := cfg.RateLimit.BurstSize
		if burst <= 0 {
			burst = cfg.RateLimit.BurstRate
		}
		s.burst = ratelimit.NewBurstGuard(cfg.RateLimit.BurstRate, burst, cfg.Logger)
	}

	s.logger.Info("webshield initialized",
		"production", cfg.Production,
		"token_ttl", cfg.TokenTTL,
		"request_timeout", cfg.Security.RequestTimeout,
		"max_request_size", cfg.Security.MaxRequestSize,
		"burst_guard", s.burst != nil,
	)

	return s, nil
}

// Protect builds the full protection chain for the named rate-limit
// profile: rate limiting, timeout, size limit, method allowlist, user-agent
// validation, IP allowlist, then CSRF validation for mutating requests.
// The first failing stage writes the uniform JSON error and stops.
func (s *Shield) Protect(profileName string) Middleware {
	return s.ProtectWithOptions(profileName, ratelimit.Options{})
}

// ProtectWithOptions is Protect with explicit limiter options, for callers
// that need a custom key function or skip predicate.
func (s *Shield) ProtectWithOptions(profileName string, opts ratelimit.Options) Middleware {
	limiter := s.limiter(profileName, opts)

	chain := NewChain(security.RequestIDMiddleware, s.metricsStage())
	if s.config.Security.SecurityHeaders {
		chain.Append(security.HeadersMiddleware(s.config.Security.SiteURL))
	}
	if s.burst != nil {
		chain.Append(s.burstStage())
	}
	chain.Append(
		s.rateLimitStage(limiter),
		s.timeoutStage(s.config.Security.RequestTimeout),
		s.sizeLimitStage(s.maxBytes),
		s.methodStage(s.config.Security.AllowedMethods),
		s.userAgentStage(s.config.Security.RequireUserAgent, s.config.Security.BlockedUserAgents),
		s.ipAllowStage(s.config.Security.IPAllowlist),
		s.csrfStage(),
	)

	return chain.Then
}

// metricsStage records the request count and the time spent inside the
// protection chain, tagging requests that any stage (or the handler) rejected.
func (s *Shield) metricsStage() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			blocked := rec.status >= http.StatusBadRequest
			s.inst.Metrics().RecordRequest(r.Context(), r.Method, r.URL.Path, blocked,
				float64(time.Since(start).Microseconds())/1000)
		})
	}
}

// limiter returns the limiter for a profile, creating it on first use.
// Limiters are cached so every route using a profile shares its counters.
func (s *Shield) limiter(profileName string, opts ratelimit.Options) *ratelimit.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.limiters[profileName]; ok && opts.Key == nil && opts.Skip == nil {
		return l
	}

	if opts.Key == nil {
		opts.Key = ratelimit.KeyByIP(s.config.RateLimit.TrustProxy, s.config.RateLimit.TrustedProxyCount)
	}
	if opts.Skip == nil {
		opts.Skip = ratelimit.SkipAny(
			ratelimit.SkipPaths(s.config.RateLimit.SkipPaths...),
			ratelimit.SkipIPs(
				s.config.RateLimit.TrustProxy,
				s.config.RateLimit.TrustedProxyCount,
				!s.config.Production,
				s.config.RateLimit.TrustedIPs...,
			),
		)
	}
	if opts.Auditor == nil {
		opts.Auditor = s.auditor
	}
	if opts.Logger == nil {
		opts.Logger = s.logger
	}

	profile := ratelimit.Lookup(profileName, s.overrides())
	l := ratelimit.New(profile, s.counters, opts)
	s.limiters[profileName] = l
	return l
}

// overrides converts the config override map into the ratelimit package form
func (s *Shield) overrides() map[string]ratelimit.Override {
	out := make(map[string]ratelimit.Override, len(s.config.RateLimit.Overrides))
	for name, o := range s.config.RateLimit.Overrides {
		out[name] = ratelimit.Override{Window: o.Window, Max: o.Max}
	}
	return out
}

// IssueToken mints a CSRF token for the request's session, sets it as a
// cookie, and returns the raw token for embedding in rendered forms.
// Called out-of-band by page rendering.
func (s *Shield) IssueToken(w http.ResponseWriter, r *http.Request) (string, error) {
	sessionID := s.sessionID(r)

	raw, err := s.codec.Issue(sessionID, r.UserAgent())
	if err != nil {
		return "", fmt.Errorf("webshield: %w", err)
	}

	token.SetCookie(w, raw, token.CookieOptions{
		Secure: s.config.CSRF.CookieSecure,
		// Double-submit needs the page script to read the cookie back.
		HTTPOnly: !s.config.CSRF.DoubleSubmit,
		MaxAge:   int(s.config.TokenTTL.Seconds()),
	})

	s.inst.Metrics().RecordTokenIssued(r.Context())
	if s.auditor != nil {
		s.auditor.LogTokenIssued(sessionID, s.clientIP(r))
	}
	return raw, nil
}

// VerifyToken checks a raw token against the request's session and user
// agent. Exposed for handlers that validate outside the middleware chain.
func (s *Shield) VerifyToken(r *http.Request, raw string) bool {
	return s.codec.Verify(raw, s.sessionID(r), r.UserAgent())
}

// Responder returns the shield's error responder, so application handlers
// can emit the same uniform error schema.
func (s *Shield) Responder() *Responder {
	return s.responder
}

// Store exposes the counter store for administrative use (tests, ops
// tooling resetting a key).
func (s *Shield) Store() store.CounterStore {
	return s.counters
}

// reject terminates the chain with the given error: metrics, audit, then
// the uniform JSON response.
func (s *Shield) reject(w http.ResponseWriter, r *http.Request, stage string, serr *SecurityError) {
	s.inst.Metrics().RecordBlocked(r.Context(), stage, serr.Kind)
	if s.auditor != nil && stage != "rate_limit" && stage != "csrf" {
		// Those two stages log their own richer events.
		s.auditor.LogRequestBlocked(s.clientIP(r), r.URL.Path, stage, serr.Kind)
	}
	s.responder.Write(w, r, serr)
}

// Close releases background resources: the burst guard sweeper and the
// owned in-memory store's janitor. Injected stores are the caller's to
// close.
func (s *Shield) Close() error {
	if s.burst != nil {
		s.burst.Stop()
	}
	if s.ownStore != nil {
		s.ownStore.Stop()
	}
	return s.inst.Shutdown(context.Background())
}
