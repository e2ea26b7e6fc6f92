package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Event type constants for security audit logging.
const (
	// EventTokenIssued is logged when a CSRF token is minted
	EventTokenIssued = "csrf_token_issued"

	// EventCSRFFailure is logged when CSRF validation rejects a request
	EventCSRFFailure = "csrf_validation_failed"

	// EventRateLimitExceeded is logged when a rate limit profile rejects a request
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventRequestBlocked is logged when any other chain stage rejects a request
	EventRequestBlocked = "request_blocked"
)

// Auditor handles security event logging with PII protection. Logging is
// fire-and-forget: it never returns an error and never affects the request
// being handled.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	SessionID string
	IPAddress string
	Path      string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"session_hash", hashForLogging(event.SessionID),
		"ip_address", event.IPAddress,
		"path", event.Path,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs a CSRF token issuance
func (a *Auditor) LogTokenIssued(sessionID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		SessionID: sessionID,
		IPAddress: ipAddress,
	})
}

// LogCSRFFailure logs a rejected CSRF validation with its reason code
func (a *Auditor) LogCSRFFailure(sessionID, ipAddress, path, reason string) {
	a.LogEvent(Event{
		Type:      EventCSRFFailure,
		SessionID: sessionID,
		IPAddress: ipAddress,
		Path:      path,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, profile, path string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Path:      path,
		Details: map[string]any{
			"profile": profile,
		},
	})
}

// LogRequestBlocked logs a request rejected by a chain stage
func (a *Auditor) LogRequestBlocked(ipAddress, path, stage, kind string) {
	a.LogEvent(Event{
		Type:      EventRequestBlocked,
		IPAddress: ipAddress,
		Path:      path,
		Details: map[string]any{
			"stage": stage,
			"kind":  kind,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
