package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateRequestID(t *testing.T) {
	id := GenerateRequestID()

	if len(id) != 22 {
		t.Errorf("GenerateRequestID() length = %d, want 22", len(id))
	}
	if !requestIDPattern.MatchString(id) {
		t.Errorf("GenerateRequestID() = %q does not match its own validation pattern", id)
	}
	if id == GenerateRequestID() {
		t.Error("GenerateRequestID() should not repeat")
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "test-id")

	if got := GetRequestID(ctx); got != "test-id" {
		t.Errorf("GetRequestID() = %q, want test-id", got)
	}
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() on empty context = %q, want empty", got)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		upstreamID string
		preserved  bool
	}{
		{"no upstream ID", "", false},
		{"valid upstream ID", "proxy-request-42", true},
		{"invalid characters", "bad id\nwith newline", false},
		{"too long", strings.Repeat("a", 129), false},
		{"max length", strings.Repeat("a", 128), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ctxID string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxID = GetRequestID(r.Context())
			}))

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.upstreamID != "" {
				r.Header.Set(RequestIDHeader, tt.upstreamID)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			headerID := w.Header().Get(RequestIDHeader)
			if headerID == "" {
				t.Fatal("response is missing the request ID header")
			}
			if headerID != ctxID {
				t.Errorf("header ID %q != context ID %q", headerID, ctxID)
			}

			if tt.preserved {
				if headerID != tt.upstreamID {
					t.Errorf("upstream ID %q was replaced with %q", tt.upstreamID, headerID)
				}
			} else if headerID == tt.upstreamID {
				t.Errorf("invalid upstream ID %q should have been replaced", tt.upstreamID)
			}
		})
	}
}
