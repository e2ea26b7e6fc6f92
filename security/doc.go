// Package security provides the cross-cutting security helpers used by the
// protection layer: request ID generation and propagation, client IP
// extraction behind proxies, response security headers, and audit logging
// with PII protection.
package security
