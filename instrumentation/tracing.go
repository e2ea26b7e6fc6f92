package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// Never put actual token values or secrets in traces; only metadata such as
// validation outcomes, profiles, and stage names. Traces outlive requests
// and are replicated across monitoring infrastructure.
const (
	// Chain attributes
	AttrStage     = "webshield.stage"
	AttrErrorKind = "webshield.error_kind"
	AttrRequestID = "webshield.request_id"

	// Rate limit attributes
	AttrProfile = "webshield.ratelimit.profile"
	AttrCount   = "webshield.ratelimit.count"
	AttrLimit   = "webshield.ratelimit.limit"

	// CSRF attributes carry outcomes and sources only, never token values
	AttrCSRFOutcome = "webshield.csrf.outcome"
	AttrCSRFSource  = "webshield.csrf.source"

	// HTTP attributes
	AttrHTTPMethod     = "http.method"
	AttrHTTPPath       = "http.path"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// StringAttr creates a string attribute (nil-safe convenience)
func StringAttr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// IntAttr creates an int attribute
func IntAttr(key string, value int) attribute.KeyValue {
	return attribute.Int(key, value)
}
