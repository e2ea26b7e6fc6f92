package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockClock provides a controllable time source for deterministic testing.
// Safe for concurrent use.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock creates a mock clock starting at t
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the current mock time
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by d
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to t
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// NewRequest builds a request with a stable remote address, suitable for
// exercising IP-keyed middleware.
func NewRequest(method, path, remoteIP string) *http.Request {
	r := httptest.NewRequest(method, path, nil)
	r.RemoteAddr = remoteIP + ":54321"
	return r
}

// OKHandler returns a handler that writes 200 with the given body.
func OKHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if body != "" {
			w.Write([]byte(body))
		}
	})
}
