package webshield

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Error kind codes as constants
const (
	KindValidation     = "VALIDATION_ERROR"
	KindAuthentication = "AUTHENTICATION_ERROR"
	KindAuthorization  = "AUTHORIZATION_ERROR"
	KindRateLimit      = "RATE_LIMIT_ERROR"
	KindDatabase       = "DATABASE_ERROR"
	KindEmail          = "EMAIL_ERROR"
	KindFileUpload     = "FILE_UPLOAD_ERROR"
	KindCSRF           = "CSRF_ERROR"
	KindNetwork        = "NETWORK_ERROR"
	KindInternal       = "INTERNAL_ERROR"
	KindNotFound       = "NOT_FOUND_ERROR"
	KindConflict       = "CONFLICT_ERROR"
)

// CSRF failure reasons surfaced in SecurityError.Details["reason"]
const (
	ReasonCSRFTokenMissing  = "CSRF_TOKEN_MISSING"
	ReasonCSRFTokenRequired = "CSRF_TOKEN_REQUIRED"
	ReasonCSRFTokenInvalid  = "CSRF_TOKEN_INVALID"
)

// SecurityLevel controls how much of an error may be surfaced to clients and logs.
type SecurityLevel string

const (
	// LevelPublic errors may be shown to clients verbatim
	LevelPublic SecurityLevel = "public"
	// LevelInternal errors are logged in full but shown sanitized
	LevelInternal SecurityLevel = "internal"
	// LevelSensitive errors are stripped of all detail before leaving the process
	LevelSensitive SecurityLevel = "sensitive"
)

// kindProfile is the fixed metadata attached to every error kind
type kindProfile struct {
	status        int
	userMessage   string
	logLevel      string
	securityLevel SecurityLevel
}

// kindProfiles maps each kind to its fixed HTTP status, user message,
// log level, and security level. The set is closed; Classify falls back
// to KindInternal for anything it cannot place.
var kindProfiles = map[string]kindProfile{
	KindValidation:     {http.StatusBadRequest, "The request could not be processed. Please check your input and try again.", "warn", LevelPublic},
	KindAuthentication: {http.StatusUnauthorized, "Authentication failed. Please sign in and try again.", "warn", LevelInternal},
	KindAuthorization:  {http.StatusForbidden, "You do not have permission to perform this action.", "warn", LevelInternal},
	KindRateLimit:      {http.StatusTooManyRequests, "Too many requests. Please wait before trying again.", "warn", LevelPublic},
	KindDatabase:       {http.StatusInternalServerError, "A storage error occurred. Please try again later.", "error", LevelInternal},
	KindEmail:          {http.StatusBadGateway, "The message could not be delivered. Please try again later.", "error", LevelInternal},
	KindFileUpload:     {http.StatusBadRequest, "The file could not be uploaded. Please check the file and try again.", "warn", LevelPublic},
	KindCSRF:           {http.StatusForbidden, "Your session has expired or the request could not be verified. Please reload the page and try again.", "warn", LevelInternal},
	KindNetwork:        {http.StatusBadGateway, "A network error occurred. Please try again later.", "error", LevelInternal},
	KindInternal:       {http.StatusInternalServerError, "An unexpected error occurred. Please try again later.", "error", LevelSensitive},
	KindNotFound:       {http.StatusNotFound, "The requested resource was not found.", "info", LevelPublic},
	KindConflict:       {http.StatusConflict, "The request conflicts with the current state. Please refresh and try again.", "warn", LevelPublic},
}

// SecurityError is the uniform error produced by every protection stage.
// It is created at the point of failure, never mutated afterward, and
// consumed exactly once by the Responder.
type SecurityError struct {
	Kind string

	// Code is the wire-visible error code. Defaults to the kind; CSRF
	// failures narrow it to their reason so clients can distinguish a
	// missing token from an invalid one.
	Code          string
	Status        int
	UserMessage   string
	LogLevel      string
	SecurityLevel SecurityLevel
	RequestID     string
	ErrorID       string
	Timestamp     time.Time
	Details       map[string]any

	// cause is the underlying error, kept for logs only
	cause error
}

// Error implements the error interface
func (e *SecurityError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return e.Kind
}

// Unwrap exposes the underlying cause for errors.Is/As
func (e *SecurityError) Unwrap() error {
	return e.cause
}

// NewSecurityError creates a SecurityError of the given kind. Unknown kinds
// are treated as KindInternal so a typo can never weaken the security level.
func NewSecurityError(kind string, cause error) *SecurityError {
	profile, ok := kindProfiles[kind]
	if !ok {
		kind = KindInternal
		profile = kindProfiles[KindInternal]
	}
	return &SecurityError{
		Kind:          kind,
		Code:          kind,
		Status:        profile.status,
		UserMessage:   profile.userMessage,
		LogLevel:      profile.logLevel,
		SecurityLevel: profile.securityLevel,
		ErrorID:       uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		cause:         cause,
	}
}

// WithRequestID returns a copy carrying the request ID. The receiver is not
// mutated; SecurityError values are immutable after creation.
func (e *SecurityError) WithRequestID(requestID string) *SecurityError {
	c := *e
	c.RequestID = requestID
	return &c
}

// WithStatus returns a copy carrying a stage-specific HTTP status where it
// differs from the kind default (413 for oversized bodies, 405 for blocked
// methods, 408 for timeouts).
func (e *SecurityError) WithStatus(status int) *SecurityError {
	c := *e
	c.Status = status
	return &c
}

// WithCode returns a copy carrying a narrower wire code than the kind.
func (e *SecurityError) WithCode(code string) *SecurityError {
	c := *e
	c.Code = code
	return &c
}

// WithMessage returns a copy carrying a custom user-facing message in place
// of the kind default. The message must already be safe to show to clients.
func (e *SecurityError) WithMessage(msg string) *SecurityError {
	c := *e
	c.UserMessage = msg
	return &c
}

// WithDetails returns a copy carrying additional context for logs and
// (sanitized) debug output.
func (e *SecurityError) WithDetails(details map[string]any) *SecurityError {
	c := *e
	c.Details = details
	return &c
}

// Common errors as reusable constructors
var (
	// ErrValidation indicates malformed or over-limit request input
	ErrValidation = func(cause error) *SecurityError {
		return NewSecurityError(KindValidation, cause)
	}

	// ErrAuthorization indicates the caller is not allowed to perform the request
	ErrAuthorization = func(cause error) *SecurityError {
		return NewSecurityError(KindAuthorization, cause)
	}

	// ErrRateLimit indicates the caller exceeded a rate-limit profile
	ErrRateLimit = func(cause error) *SecurityError {
		return NewSecurityError(KindRateLimit, cause)
	}

	// ErrCSRF indicates a missing, mismatched, or expired CSRF token
	ErrCSRF = func(reason string, cause error) *SecurityError {
		return NewSecurityError(KindCSRF, cause).
			WithCode(reason).
			WithDetails(map[string]any{"reason": reason})
	}

	// ErrInternal indicates an unclassified failure inside the protection layer
	ErrInternal = func(cause error) *SecurityError {
		return NewSecurityError(KindInternal, cause)
	}
)

// classifyKeywords maps message substrings to kinds, checked in order.
// This is the last-resort adapter for errors produced by external libraries;
// protection stages construct typed errors directly.
var classifyKeywords = []struct {
	substr string
	kind   string
}{
	{"csrf", KindCSRF},
	{"rate limit", KindRateLimit},
	{"too many requests", KindRateLimit},
	{"unauthorized", KindAuthentication},
	{"unauthenticated", KindAuthentication},
	{"forbidden", KindAuthorization},
	{"permission", KindAuthorization},
	{"not found", KindNotFound},
	{"no such", KindNotFound},
	{"conflict", KindConflict},
	{"duplicate", KindConflict},
	{"timeout", KindNetwork},
	{"connection refused", KindNetwork},
	{"database", KindDatabase},
	{"sql", KindDatabase},
	{"redis", KindDatabase},
	{"smtp", KindEmail},
	{"mail", KindEmail},
	{"upload", KindFileUpload},
	{"file too large", KindFileUpload},
	{"validation", KindValidation},
	{"invalid", KindValidation},
}

// Classify converts an arbitrary error into a SecurityError. Errors that are
// already a *SecurityError pass through unchanged. Anything else is matched
// by keyword against the message and defaults to KindInternal, the most
// restrictive security level, when nothing matches.
func Classify(err error) *SecurityError {
	if err == nil {
		return nil
	}
	var se *SecurityError
	if errors.As(err, &se) {
		return se
	}

	msg := strings.ToLower(err.Error())
	for _, kw := range classifyKeywords {
		if strings.Contains(msg, kw.substr) {
			return NewSecurityError(kw.kind, err)
		}
	}
	return NewSecurityError(KindInternal, err)
}
