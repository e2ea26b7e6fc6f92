package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the protection layer
type Metrics struct {
	// Chain metrics
	RequestsTotal   metric.Int64Counter
	RequestsBlocked metric.Int64Counter
	RequestDuration metric.Float64Histogram

	// Rate limit metrics
	RateLimitExceeded metric.Int64Counter

	// CSRF metrics
	TokensIssued    metric.Int64Counter
	CSRFValidations metric.Int64Counter

	// Store metrics
	StoreEntries metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	var err error

	chainMeter := inst.Meter("chain")

	m.RequestsTotal, err = chainMeter.Int64Counter(
		"webshield.requests.total",
		metric.WithDescription("Total number of requests seen by the protection chain"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create requests.total counter: %w", err)
	}

	m.RequestsBlocked, err = chainMeter.Int64Counter(
		"webshield.requests.blocked",
		metric.WithDescription("Requests rejected by a protection stage"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create requests.blocked counter: %w", err)
	}

	m.RequestDuration, err = chainMeter.Float64Histogram(
		"webshield.request.duration",
		metric.WithDescription("Time spent inside the protection chain in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request.duration histogram: %w", err)
	}

	ratelimitMeter := inst.Meter("ratelimit")

	m.RateLimitExceeded, err = ratelimitMeter.Int64Counter(
		"webshield.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	csrfMeter := inst.Meter("csrf")

	m.TokensIssued, err = csrfMeter.Int64Counter(
		"webshield.tokens.issued",
		metric.WithDescription("Number of CSRF tokens issued"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.issued counter: %w", err)
	}

	m.CSRFValidations, err = csrfMeter.Int64Counter(
		"webshield.csrf.validations",
		metric.WithDescription("CSRF validation attempts by outcome"),
		metric.WithUnit("{validation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create csrf.validations counter: %w", err)
	}

	storeMeter := inst.Meter("store")

	m.StoreEntries, err = storeMeter.Int64ObservableGauge(
		"webshield.store.entries",
		metric.WithDescription("Live entries in the rate limit counter store"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store.entries gauge: %w", err)
	}

	return m, nil
}

// RecordRequest records a request passing through the chain
func (m *Metrics) RecordRequest(ctx context.Context, method, path string, blocked bool, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Bool("blocked", blocked),
	}

	m.RequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.RequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("path", path)))
}

// RecordBlocked records a request rejected by a protection stage
func (m *Metrics) RecordBlocked(ctx context.Context, stage, kind string) {
	m.RequestsBlocked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("kind", kind),
	))
}

// RecordRateLimitExceeded records a rate limit violation for a profile
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, profile string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("profile", profile),
	))
}

// RecordTokenIssued records a CSRF token issuance
func (m *Metrics) RecordTokenIssued(ctx context.Context) {
	m.TokensIssued.Add(ctx, 1)
}

// RecordCSRFValidation records a CSRF validation attempt
func (m *Metrics) RecordCSRFValidation(ctx context.Context, outcome string) {
	m.CSRFValidations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}
