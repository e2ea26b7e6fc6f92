// Package instrumentation provides OpenTelemetry metrics and tracing for the
// protection layer. It is disabled by default: when no exporter is wired in,
// no-op providers are used and the overhead is negligible.
//
// Scoped meters and tracers are handed out per layer ("chain", "ratelimit",
// "csrf", "store") so instruments are attributable to the component that
// recorded them.
package instrumentation
