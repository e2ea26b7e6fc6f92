// Package token issues and verifies the signed, time-bound CSRF tokens used
// by the protection layer. Tokens are stateless: nothing is stored server
// side, and a token remains reusable until it expires.
package token

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	// DefaultTTL is how long issued tokens remain valid
	DefaultTTL = time.Hour

	// DefaultLeeway absorbs clock drift between issuing and verifying hosts
	DefaultLeeway = 5 * time.Second

	// AnonymousSession is the session ID used when no session and no
	// client IP are available
	AnonymousSession = "anonymous"
)

// Config holds token codec settings.
type Config struct {
	// Secret is the server signing secret (required)
	Secret string

	// Issuer and Audience are embedded in tokens and checked on verify
	Issuer   string
	Audience string

	// TTL is the token lifetime. Zero uses DefaultTTL.
	TTL time.Duration

	// Leeway is the clock-skew grace applied to expiry checks.
	// Zero uses DefaultLeeway.
	Leeway time.Duration

	// Logger for structured logging (optional)
	Logger *slog.Logger
}

// Claims is the signed claims structure carried by every token.
type Claims struct {
	Fingerprint uint64 `json:"uaf"`
	Nonce       string `json:"nonce"`
	jwt.RegisteredClaims
}

// Codec signs and verifies CSRF tokens. It is stateless and safe for
// concurrent use.
type Codec struct {
	key      []byte
	issuer   string
	audience string
	ttl      time.Duration
	leeway   time.Duration
	logger   *slog.Logger

	// now is injectable for tests
	now func() time.Time
}

// NewCodec creates a token codec. The HMAC signing key is derived from the
// configured secret with HKDF-SHA256 so the raw secret is never used as a
// key directly.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token: signing secret is required")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "webshield"
	}
	if cfg.Audience == "" {
		cfg.Audience = "webshield"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Leeway <= 0 {
		cfg.Leeway = DefaultLeeway
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(cfg.Secret), nil, []byte("webshield-csrf-v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("token: key derivation failed: %w", err)
	}

	return &Codec{
		key:      key,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TTL,
		leeway:   cfg.Leeway,
		logger:   cfg.Logger,
		now:      time.Now,
	}, nil
}

// SetClock overrides the codec's time source. Intended for tests.
func (c *Codec) SetClock(now func() time.Time) {
	c.now = now
}

// Issue creates a signed token bound to the given session ID and user agent.
// An empty session ID falls back to AnonymousSession. The nonce makes every
// issuance distinct even for identical inputs.
func (c *Codec) Issue(sessionID, userAgent string) (string, error) {
	if sessionID == "" {
		sessionID = AnonymousSession
	}

	now := c.now()
	claims := Claims{
		Fingerprint: Fingerprint(userAgent),
		Nonce:       uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("token: signing failed: %w", err)
	}
	return signed, nil
}

// Verify reports whether raw is a valid token for the given session ID and
// user agent. Expired, malformed, and mismatched tokens are all just
// invalid: the caller cannot distinguish the reason, which is only logged.
// Verify never panics on malformed input.
func (c *Codec) Verify(raw, sessionID, userAgent string) bool {
	if raw == "" {
		return false
	}
	if sessionID == "" {
		sessionID = AnonymousSession
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) { return c.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithLeeway(c.leeway),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		c.logger.Debug("token rejected", "reason", "parse", "error", err)
		return false
	}

	if subtle.ConstantTimeCompare([]byte(claims.Subject), []byte(sessionID)) != 1 {
		c.logger.Debug("token rejected", "reason", "session mismatch")
		return false
	}
	if claims.Fingerprint != Fingerprint(userAgent) {
		c.logger.Debug("token rejected", "reason", "fingerprint mismatch")
		return false
	}
	return true
}

// Equal reports whether two raw tokens are byte-equal in constant time.
// Used by the double-submit cookie check, where the compared values are
// attacker controlled.
func Equal(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
