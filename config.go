package webshield

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// MinSigningSecretLength is the minimum length of the CSRF signing secret.
	// Enforced in production mode; shorter secrets make HMAC forgery cheaper.
	MinSigningSecretLength = 16

	// DefaultTokenTTL is how long issued CSRF tokens remain valid
	DefaultTokenTTL = time.Hour

	// DefaultRequestTimeout is the per-request deadline for the timeout stage
	DefaultRequestTimeout = 30 * time.Second

	// DefaultMaxRequestSize is the default request body budget
	DefaultMaxRequestSize = "10mb"
)

// Config holds the protection layer configuration.
// Structured using composition for better organization and maintainability.
type Config struct {
	// SigningSecret is the server secret used to sign CSRF tokens (required).
	// Must be at least 16 characters in production mode.
	SigningSecret string

	// Issuer and Audience are embedded in issued tokens and checked on
	// verification. Defaults: "webshield" / "webshield".
	Issuer   string
	Audience string

	// TokenTTL is how long issued CSRF tokens remain valid.
	// Default: 1 hour.
	TokenTTL time.Duration

	// Production toggles production hardening: secret length enforcement,
	// debug blocks stripped from error responses, filesystem paths redacted
	// from logged stack traces.
	Production bool

	// RateLimit holds rate limiting configuration
	RateLimit RateLimitConfig

	// CSRF holds CSRF guard configuration
	CSRF CSRFConfig

	// Security holds the remaining request-gate settings (secure by default)
	Security SecurityConfig

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Overrides replaces window/max of named profiles. Keys are profile
	// names ("auth", "contact", "newsletter", "upload", "search", "api").
	Overrides map[string]ProfileOverride

	// SkipPaths are request paths that bypass rate limiting entirely
	// (health checks, readiness probes).
	SkipPaths []string

	// TrustedIPs bypass rate limiting. Loopback addresses are implicitly
	// trusted outside production.
	TrustedIPs []string

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is how many proxies to trust from the right of
	// X-Forwarded-For. Zero means one.
	TrustedProxyCount int

	// BurstRate and BurstSize configure the optional token-bucket flood
	// guard that runs ahead of the fixed-window profiles. Zero disables it.
	BurstRate int
	BurstSize int
}

// ProfileOverride overrides parts of a built-in limiter profile.
// Zero fields leave the built-in value in place.
type ProfileOverride struct {
	Window time.Duration
	Max    int
}

// CSRFConfig holds CSRF guard configuration
type CSRFConfig struct {
	// SkipPaths are request paths exempt from CSRF validation
	SkipPaths []string

	// DoubleSubmit additionally requires the header token to equal the
	// cookie token (timing-safe). The token cookie is then issued without
	// HttpOnly so client script can read it.
	DoubleSubmit bool

	// CookieSecure controls the Secure flag of the token cookie.
	// Should be true in production when using HTTPS.
	CookieSecure bool
}

// SecurityConfig holds the request-gate settings (secure by default)
type SecurityConfig struct {
	// RequestTimeout is the per-request deadline. Zero uses the default (30s).
	RequestTimeout time.Duration

	// MaxRequestSize is a human-readable body budget ("10mb", "512kb").
	// Empty uses the default ("10mb").
	MaxRequestSize string

	// AllowedMethods restricts HTTP methods. Empty allows
	// GET, HEAD, POST, PUT, PATCH, DELETE, OPTIONS.
	AllowedMethods []string

	// RequireUserAgent rejects requests without a User-Agent header
	RequireUserAgent bool

	// BlockedUserAgents are regexp patterns; matching user agents are rejected
	BlockedUserAgents []string

	// IPAllowlist, when non-empty, rejects requests from any other IP
	IPAllowlist []string

	// SecurityHeaders enables the response security-header stage
	SecurityHeaders bool

	// SiteURL is the site's canonical base URL. Used to decide whether the
	// HSTS header applies.
	SiteURL string

	// EnableAuditLogging enables security audit logging.
	// Violations are logged with session IDs hashed.
	EnableAuditLogging bool
}

// Validate checks the configuration and applies defaults in place.
// It returns an error describing the first problem found.
func (c *Config) Validate() error {
	if c.SigningSecret == "" {
		return fmt.Errorf("signing secret is required")
	}
	if c.Production && len(c.SigningSecret) < MinSigningSecretLength {
		return fmt.Errorf("signing secret must be at least %d characters in production, got %d",
			MinSigningSecretLength, len(c.SigningSecret))
	}
	if c.Issuer == "" {
		c.Issuer = "webshield"
	}
	if c.Audience == "" {
		c.Audience = "webshield"
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = DefaultTokenTTL
	}
	if c.Security.RequestTimeout <= 0 {
		c.Security.RequestTimeout = DefaultRequestTimeout
	}
	if c.Security.MaxRequestSize == "" {
		c.Security.MaxRequestSize = DefaultMaxRequestSize
	}
	if _, err := ParseSize(c.Security.MaxRequestSize); err != nil {
		return fmt.Errorf("invalid max request size: %w", err)
	}
	for _, pattern := range c.Security.BlockedUserAgents {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid blocked user-agent pattern %q: %w", pattern, err)
		}
	}
	for name, o := range c.RateLimit.Overrides {
		if o.Window < 0 || o.Max < 0 {
			return fmt.Errorf("invalid rate limit override for profile %q", name)
		}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// sizePattern matches a decimal number followed by an optional unit
var sizePattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(b|kb|mb|gb)?$`)

var sizeUnits = map[string]int64{
	"b":  1,
	"kb": 1024,
	"mb": 1024 * 1024,
	"gb": 1024 * 1024 * 1024,
}

// ParseSize converts a human-readable size string ("10mb", "512 kb", "1024")
// into a byte count. A missing unit means bytes.
func ParseSize(s string) (int64, error) {
	m := sizePattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0, fmt.Errorf("unparseable size %q", s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable size %q: %w", s, err)
	}
	unit := m[2]
	if unit == "" {
		unit = "b"
	}
	return int64(value * float64(sizeUnits[unit])), nil
}
