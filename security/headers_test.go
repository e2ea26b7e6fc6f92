package security

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSetSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SetSecurityHeaders(w, "")

	want := map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Content-Security-Policy": "default-src 'self'; frame-ancestors 'none'",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
	}
	for header, value := range want {
		if got := w.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}

	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("HSTS should not be set without an https site URL, got %q", got)
	}
}

func TestSetSecurityHeaders_HSTS(t *testing.T) {
	tests := []struct {
		name     string
		siteURL  string
		wantHSTS bool
	}{
		{"https site", "https://example.com", true},
		{"http site", "http://example.com", false},
		{"empty", "", false},
		{"unparseable", "://bad", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			SetSecurityHeaders(w, tt.siteURL)

			hsts := w.Header().Get("Strict-Transport-Security")
			if tt.wantHSTS {
				if !strings.Contains(hsts, "max-age=31536000") {
					t.Errorf("HSTS = %q, want max-age=31536000", hsts)
				}
			} else if hsts != "" {
				t.Errorf("HSTS = %q, want unset", hsts)
			}
		})
	}
}

func TestHeadersMiddleware(t *testing.T) {
	handler := HeadersMiddleware("https://example.com")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
	if got := w.Header().Get("Strict-Transport-Security"); got == "" {
		t.Error("HSTS should be set for an https site URL")
	}
}
