package webshield

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/gearhaus/webshield/internal/util"
	"github.com/gearhaus/webshield/security"
)

// ErrorResponse is the stable JSON schema emitted for every failure.
type ErrorResponse struct {
	Error     bool           `json:"error"`
	Message   string         `json:"message"`
	Code      string         `json:"code"`
	RequestID string         `json:"requestId"`
	Timestamp string         `json:"timestamp"`
	Debug     map[string]any `json:"debug,omitempty"`
}

// Responder converts SecurityErrors into the uniform JSON error response.
// It sanitizes everything it emits and logs every failure; a logging failure
// never affects the response.
type Responder struct {
	logger     *slog.Logger
	production bool
}

// NewResponder creates a Responder. In production mode debug blocks are
// suppressed and filesystem paths are stripped from logged messages.
func NewResponder(logger *slog.Logger, production bool) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{logger: logger, production: production}
}

// Write renders err as JSON on w. The request ID is taken from the request
// context when err does not already carry one.
func (rp *Responder) Write(w http.ResponseWriter, r *http.Request, serr *SecurityError) {
	if serr == nil {
		serr = ErrInternal(nil)
	}
	if serr.RequestID == "" {
		serr = serr.WithRequestID(security.GetRequestID(r.Context()))
	}

	code := serr.Code
	if code == "" {
		code = serr.Kind
	}

	resp := ErrorResponse{
		Error:     true,
		Message:   serr.UserMessage,
		Code:      code,
		RequestID: serr.RequestID,
		Timestamp: serr.Timestamp.Format(time.RFC3339),
	}
	if !rp.production && serr.SecurityLevel != LevelSensitive {
		resp.Debug = rp.debugBlock(serr)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(serr.Status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		// Response is already committed; nothing left to do but log.
		rp.logger.Error("failed to encode error response", "error", err, "request_id", serr.RequestID)
	}

	rp.log(r, serr)
}

// debugBlock builds the non-production debug payload, sanitized.
func (rp *Responder) debugBlock(serr *SecurityError) map[string]any {
	debug := map[string]any{
		"errorId": serr.ErrorID,
	}
	if serr.Unwrap() != nil {
		debug["cause"] = Sanitize(serr.Unwrap().Error())
	}
	if len(serr.Details) > 0 {
		details := make(map[string]any, len(serr.Details))
		for k, v := range serr.Details {
			if s, ok := v.(string); ok {
				details[k] = Sanitize(s)
			} else {
				details[k] = v
			}
		}
		debug["details"] = details
	}
	return debug
}

// log records the failure. Sensitive errors are logged with their full cause
// (server side only); everything user-facing has already been sanitized.
func (rp *Responder) log(r *http.Request, serr *SecurityError) {
	msg := Sanitize(serr.Error())
	if rp.production {
		msg = StripPaths(msg)
	}

	attrs := []any{
		"code", serr.Kind,
		"status", serr.Status,
		"error_id", serr.ErrorID,
		"request_id", serr.RequestID,
		"path", r.URL.Path,
		"method", r.Method,
		"user_agent", Sanitize(util.SafeTruncate(r.UserAgent(), 256)),
		"cause", msg,
	}

	switch serr.LogLevel {
	case "error":
		rp.logger.Error("request rejected", attrs...)
	case "info":
		rp.logger.Info("request rejected", attrs...)
	default:
		rp.logger.Warn("request rejected", attrs...)
	}
}

// Redaction patterns applied to every string that leaves the process.
var (
	credentialPattern = regexp.MustCompile(`(?i)\b(password|token|key|secret)\s*=\s*\S+`)
	emailPattern      = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	cardPattern       = regexp.MustCompile(`\b(?:\d[ \-]?){13,19}\b`)
	pathPattern       = regexp.MustCompile(`(?:[A-Za-z]:)?(?:[\\/][\w.\-]+){2,}`)
)

// Sanitize redacts credential assignments, email addresses, and
// card-number-like digit runs from s.
func Sanitize(s string) string {
	s = credentialPattern.ReplaceAllString(s, "$1=[REDACTED]")
	s = emailPattern.ReplaceAllString(s, "[EMAIL]")
	s = cardPattern.ReplaceAllString(s, "[NUMBER]")
	return s
}

// StripPaths removes filesystem paths from s. Used on log output in
// production so stack traces cannot leak the deployment layout.
func StripPaths(s string) string {
	return pathPattern.ReplaceAllString(s, "[PATH]")
}
