package webshield

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gearhaus/webshield/internal/testutil"
	"github.com/gearhaus/webshield/token"
)

const (
	testSecret = "test-signing-secret-0123456789"
	testUA     = "Mozilla/5.0 (test)"
	testIP     = "203.0.113.7"
)

func newTestShield(t *testing.T, cfg Config, opts ...Option) *Shield {
	t.Helper()
	if cfg.SigningSecret == "" {
		cfg.SigningSecret = testSecret
	}
	s, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newShieldRequest(method, path, ip string) *http.Request {
	r := testutil.NewRequest(method, path, ip)
	r.Header.Set("User-Agent", testUA)
	return r
}

func serve(s *Shield, profile string, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Protect(profile)(testutil.OKHandler("ok")).ServeHTTP(w, r)
	return w
}

func TestNew_InvalidConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without a signing secret should fail")
	}
}

func TestShield_AllowsCleanRequest(t *testing.T) {
	s := newTestShield(t, Config{})

	w := serve(s, "contact", newShieldRequest(http.MethodGet, "/contact", testIP))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "ok" {
		t.Errorf("body = %q, want ok", w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("response is missing the request ID header")
	}
}

func TestShield_RateLimitBoundary(t *testing.T) {
	s := newTestShield(t, Config{})

	// contact profile: 3 per hour per client
	for i := 1; i <= 3; i++ {
		w := serve(s, "contact", newShieldRequest(http.MethodGet, "/contact", testIP))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, w.Code)
		}
		if got := w.Header().Get("RateLimit-Limit"); got != "3" {
			t.Errorf("request %d RateLimit-Limit = %q, want 3", i, got)
		}
		wantRemaining := strconv.Itoa(3 - i)
		if got := w.Header().Get("RateLimit-Remaining"); got != wantRemaining {
			t.Errorf("request %d RateLimit-Remaining = %q, want %q", i, got, wantRemaining)
		}
	}

	w := serve(s, "contact", newShieldRequest(http.MethodGet, "/contact", testIP))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	resp := decodeErrorResponse(t, w)
	if resp.Code != KindRateLimit {
		t.Errorf("code = %q, want %q", resp.Code, KindRateLimit)
	}
	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retryAfter < 1 {
		t.Errorf("Retry-After = %q, want a positive integer", w.Header().Get("Retry-After"))
	}
}

func TestShield_RateLimit_IndependentClients(t *testing.T) {
	s := newTestShield(t, Config{})

	for i := 0; i < 3; i++ {
		serve(s, "contact", newShieldRequest(http.MethodGet, "/contact", testIP))
	}
	if w := serve(s, "contact", newShieldRequest(http.MethodGet, "/contact", testIP)); w.Code != http.StatusTooManyRequests {
		t.Fatalf("exhausted client status = %d, want 429", w.Code)
	}

	if w := serve(s, "contact", newShieldRequest(http.MethodGet, "/contact", "203.0.113.8")); w.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", w.Code)
	}
}

func TestShield_RateLimit_Override(t *testing.T) {
	s := newTestShield(t, Config{
		RateLimit: RateLimitConfig{
			Overrides: map[string]ProfileOverride{"contact": {Max: 1}},
		},
	})

	if w := serve(s, "contact", newShieldRequest(http.MethodGet, "/contact", testIP)); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", w.Code)
	}
	if w := serve(s, "contact", newShieldRequest(http.MethodGet, "/contact", testIP)); w.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429 with Max=1 override", w.Code)
	}
}

func TestShield_RateLimit_SkipPaths(t *testing.T) {
	s := newTestShield(t, Config{
		RateLimit: RateLimitConfig{SkipPaths: []string{"/healthz"}},
	})

	for i := 0; i < 10; i++ {
		w := serve(s, "contact", newShieldRequest(http.MethodGet, "/healthz", testIP))
		if w.Code != http.StatusOK {
			t.Fatalf("health check %d status = %d, want 200", i, w.Code)
		}
		if w.Header().Get("RateLimit-Limit") != "" {
			t.Error("skipped request should not carry rate limit headers")
		}
	}
}

func TestShield_RateLimit_TrustedIPs(t *testing.T) {
	s := newTestShield(t, Config{
		Production: true,
		RateLimit:  RateLimitConfig{TrustedIPs: []string{testIP}},
	})

	for i := 0; i < 10; i++ {
		if w := serve(s, "contact", newShieldRequest(http.MethodGet, "/contact", testIP)); w.Code != http.StatusOK {
			t.Fatalf("trusted IP request %d status = %d, want 200", i, w.Code)
		}
	}
}

func TestShield_RateLimit_LoopbackOutsideProduction(t *testing.T) {
	s := newTestShield(t, Config{})

	for i := 0; i < 10; i++ {
		if w := serve(s, "contact", newShieldRequest(http.MethodGet, "/contact", "127.0.0.1")); w.Code != http.StatusOK {
			t.Fatalf("loopback request %d status = %d, want 200", i, w.Code)
		}
	}
}

func TestShield_SizeLimit(t *testing.T) {
	s := newTestShield(t, Config{})

	r := newShieldRequest(http.MethodPost, "/upload", testIP)
	r.ContentLength = 11_000_000 // over the 10mb default

	w := serve(s, "upload", r)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}
	if resp := decodeErrorResponse(t, w); resp.Code != KindValidation {
		t.Errorf("code = %q, want %q", resp.Code, KindValidation)
	}
}

func TestShield_MethodNotAllowed(t *testing.T) {
	s := newTestShield(t, Config{
		Security: SecurityConfig{AllowedMethods: []string{"GET", "POST"}},
	})

	w := serve(s, "api", newShieldRequest(http.MethodDelete, "/resource", testIP))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
	if allow := w.Header().Get("Allow"); allow != "GET, POST" {
		t.Errorf("Allow = %q, want %q", allow, "GET, POST")
	}
}

func TestShield_RequireUserAgent(t *testing.T) {
	s := newTestShield(t, Config{
		Security: SecurityConfig{RequireUserAgent: true},
	})

	r := testutil.NewRequest(http.MethodGet, "/", testIP) // no User-Agent
	w := serve(s, "api", r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for missing user agent", w.Code)
	}

	if w := serve(s, "api", newShieldRequest(http.MethodGet, "/", testIP)); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with user agent", w.Code)
	}
}

func TestShield_BlockedUserAgent(t *testing.T) {
	s := newTestShield(t, Config{
		Security: SecurityConfig{BlockedUserAgents: []string{`(?i)badbot`}},
	})

	r := testutil.NewRequest(http.MethodGet, "/", testIP)
	r.Header.Set("User-Agent", "BadBot/1.0")

	w := serve(s, "api", r)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestShield_IPAllowlist(t *testing.T) {
	s := newTestShield(t, Config{
		Security: SecurityConfig{IPAllowlist: []string{"203.0.113.50"}},
	})

	if w := serve(s, "api", newShieldRequest(http.MethodGet, "/admin", testIP)); w.Code != http.StatusForbidden {
		t.Errorf("unlisted IP status = %d, want 403", w.Code)
	}
	if w := serve(s, "api", newShieldRequest(http.MethodGet, "/admin", "203.0.113.50")); w.Code != http.StatusOK {
		t.Errorf("allowlisted IP status = %d, want 200", w.Code)
	}
}

func TestShield_SecurityHeaders(t *testing.T) {
	s := newTestShield(t, Config{
		Security: SecurityConfig{SecurityHeaders: true, SiteURL: "https://example.com"},
	})

	w := serve(s, "api", newShieldRequest(http.MethodGet, "/", testIP))
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
	if w.Header().Get("Strict-Transport-Security") == "" {
		t.Error("HSTS header missing for https site")
	}
}

func TestShield_BurstGuard(t *testing.T) {
	s := newTestShield(t, Config{
		RateLimit: RateLimitConfig{BurstRate: 1, BurstSize: 1},
	})

	if w := serve(s, "api", newShieldRequest(http.MethodGet, "/", testIP)); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", w.Code)
	}

	w := serve(s, "api", newShieldRequest(http.MethodGet, "/", testIP))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("burst status = %d, want 429", w.Code)
	}
	if resp := decodeErrorResponse(t, w); resp.Code != KindRateLimit {
		t.Errorf("code = %q, want %q", resp.Code, KindRateLimit)
	}
}

func TestShield_CSRF_MissingToken(t *testing.T) {
	s := newTestShield(t, Config{})

	w := serve(s, "contact", newShieldRequest(http.MethodPost, "/contact", testIP))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	resp := decodeErrorResponse(t, w)
	if resp.Code != ReasonCSRFTokenMissing {
		t.Errorf("code = %q, want %q", resp.Code, ReasonCSRFTokenMissing)
	}
}

func TestShield_CSRF_NonMutatingBypass(t *testing.T) {
	s := newTestShield(t, Config{})

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		if w := serve(s, "api", newShieldRequest(method, "/page", testIP)); w.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200 without a token", method, w.Code)
		}
	}
}

func TestShield_CSRF_ValidToken(t *testing.T) {
	s := newTestShield(t, Config{})

	// Page render issues the token
	issueW := httptest.NewRecorder()
	raw, err := s.IssueToken(issueW, newShieldRequest(http.MethodGet, "/contact", testIP))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	// Form submission carries it back in the header
	r := newShieldRequest(http.MethodPost, "/contact", testIP)
	r.Header.Set(CSRFHeader, raw)

	if w := serve(s, "contact", r); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
}

func TestShield_CSRF_WrongClientRejected(t *testing.T) {
	s := newTestShield(t, Config{})

	issueW := httptest.NewRecorder()
	raw, err := s.IssueToken(issueW, newShieldRequest(http.MethodGet, "/contact", testIP))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	// Token stolen by a different client
	r := newShieldRequest(http.MethodPost, "/contact", "203.0.113.99")
	r.Header.Set(CSRFHeader, raw)

	w := serve(s, "contact", r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if resp := decodeErrorResponse(t, w); resp.Code != ReasonCSRFTokenInvalid {
		t.Errorf("code = %q, want %q", resp.Code, ReasonCSRFTokenInvalid)
	}
}

func TestShield_CSRF_SkipPaths(t *testing.T) {
	s := newTestShield(t, Config{
		CSRF: CSRFConfig{SkipPaths: []string{"/webhook"}},
	})

	if w := serve(s, "api", newShieldRequest(http.MethodPost, "/webhook", testIP)); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 on a CSRF-exempt path", w.Code)
	}
}

func TestShield_CSRF_DoubleSubmit(t *testing.T) {
	s := newTestShield(t, Config{
		CSRF: CSRFConfig{DoubleSubmit: true},
	})

	issueW := httptest.NewRecorder()
	raw, err := s.IssueToken(issueW, newShieldRequest(http.MethodGet, "/contact", testIP))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	t.Run("header without cookie rejected", func(t *testing.T) {
		r := newShieldRequest(http.MethodPost, "/contact", testIP)
		r.Header.Set(CSRFHeader, raw)

		w := serve(s, "contact", r)
		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", w.Code)
		}
		if resp := decodeErrorResponse(t, w); resp.Code != ReasonCSRFTokenRequired {
			t.Errorf("code = %q, want %q", resp.Code, ReasonCSRFTokenRequired)
		}
	})

	t.Run("matching header and cookie accepted", func(t *testing.T) {
		r := newShieldRequest(http.MethodPost, "/contact", testIP)
		r.Header.Set(CSRFHeader, raw)
		r.AddCookie(&http.Cookie{Name: token.CookieName, Value: raw})

		if w := serve(s, "contact", r); w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200; body: %s", w.Code, w.Body.String())
		}
	})

	t.Run("mismatched cookie rejected", func(t *testing.T) {
		r := newShieldRequest(http.MethodPost, "/contact", testIP)
		r.Header.Set(CSRFHeader, raw)
		r.AddCookie(&http.Cookie{Name: token.CookieName, Value: "different"})

		if w := serve(s, "contact", r); w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", w.Code)
		}
	})
}

func TestShield_CSRF_FormToken(t *testing.T) {
	s := newTestShield(t, Config{})

	issueW := httptest.NewRecorder()
	raw, err := s.IssueToken(issueW, newShieldRequest(http.MethodGet, "/contact", testIP))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	body := "message=hello&" + CSRFFormField + "=" + raw
	r := httptest.NewRequest(http.MethodPost, "/contact", strings.NewReader(body))
	r.RemoteAddr = testIP + ":54321"
	r.Header.Set("User-Agent", testUA)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if w := serve(s, "contact", r); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
}

func TestShield_IssueToken_Cookie(t *testing.T) {
	s := newTestShield(t, Config{
		CSRF: CSRFConfig{CookieSecure: true},
	})

	w := httptest.NewRecorder()
	raw, err := s.IssueToken(w, newShieldRequest(http.MethodGet, "/contact", testIP))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("got %d cookies, want 1", len(cookies))
	}
	c := cookies[0]
	if c.Value != raw {
		t.Error("cookie value should match the returned token")
	}
	if !c.Secure {
		t.Error("cookie should be Secure")
	}
	if !c.HttpOnly {
		t.Error("cookie should be HttpOnly when double-submit is off")
	}
}

func TestShield_IssueToken_DoubleSubmitCookieReadable(t *testing.T) {
	s := newTestShield(t, Config{
		CSRF: CSRFConfig{DoubleSubmit: true},
	})

	w := httptest.NewRecorder()
	if _, err := s.IssueToken(w, newShieldRequest(http.MethodGet, "/contact", testIP)); err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	c := w.Result().Cookies()[0]
	if c.HttpOnly {
		t.Error("double-submit cookie must be readable by client script")
	}
}

func TestShield_VerifyToken(t *testing.T) {
	s := newTestShield(t, Config{})

	r := newShieldRequest(http.MethodGet, "/contact", testIP)
	raw, err := s.IssueToken(httptest.NewRecorder(), r)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	if !s.VerifyToken(r, raw) {
		t.Error("VerifyToken() = false for a freshly issued token")
	}
	if s.VerifyToken(r, "garbage") {
		t.Error("VerifyToken() = true for garbage")
	}
}

func TestShield_SessionFunc(t *testing.T) {
	s := newTestShield(t, Config{}, WithSessionFunc(func(r *http.Request) string {
		return r.Header.Get("X-Test-Session")
	}))

	issueReq := newShieldRequest(http.MethodGet, "/contact", testIP)
	issueReq.Header.Set("X-Test-Session", "session-1")
	raw, err := s.IssueToken(httptest.NewRecorder(), issueReq)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	// Same session, different IP: the session identity wins
	r := newShieldRequest(http.MethodPost, "/contact", "203.0.113.99")
	r.Header.Set("X-Test-Session", "session-1")
	r.Header.Set(CSRFHeader, raw)
	if w := serve(s, "contact", r); w.Code != http.StatusOK {
		t.Errorf("same session status = %d, want 200", w.Code)
	}

	// Different session: rejected
	r = newShieldRequest(http.MethodPost, "/contact", testIP)
	r.Header.Set("X-Test-Session", "session-2")
	r.Header.Set(CSRFHeader, raw)
	if w := serve(s, "contact", r); w.Code != http.StatusForbidden {
		t.Errorf("other session status = %d, want 403", w.Code)
	}
}

func TestShield_AuthProfile_RefundsSuccess(t *testing.T) {
	s := newTestShield(t, Config{})

	// auth profile: 5 per 15 minutes, successful attempts refunded
	handler := s.Protect("auth")(testutil.OKHandler("welcome"))
	for i := 0; i < 20; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, newShieldRequest(http.MethodGet, "/login", testIP))
		if w.Code != http.StatusOK {
			t.Fatalf("successful login %d status = %d, want 200", i, w.Code)
		}
	}

	// Failures are not refunded and exhaust the budget
	failing := s.Protect("auth")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		failing.ServeHTTP(w, newShieldRequest(http.MethodGet, "/login", testIP))
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("failed login %d status = %d, want 401", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	failing.ServeHTTP(w, newShieldRequest(http.MethodGet, "/login", testIP))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status after 5 failures = %d, want 429", w.Code)
	}
}

func TestShield_TrustProxy(t *testing.T) {
	s := newTestShield(t, Config{
		RateLimit: RateLimitConfig{
			TrustProxy: true,
			Overrides:  map[string]ProfileOverride{"contact": {Max: 1}},
		},
	})

	// Both requests come from the proxy, but carry different client IPs
	r1 := newShieldRequest(http.MethodGet, "/contact", "10.0.0.1")
	r1.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
	r2 := newShieldRequest(http.MethodGet, "/contact", "10.0.0.1")
	r2.Header.Set("X-Forwarded-For", "198.51.100.2, 10.0.0.1")

	if w := serve(s, "contact", r1); w.Code != http.StatusOK {
		t.Fatalf("client 1 status = %d, want 200", w.Code)
	}
	if w := serve(s, "contact", r2); w.Code != http.StatusOK {
		t.Errorf("client 2 status = %d, want 200 (separate forwarded IPs)", w.Code)
	}
}

func TestShield_Close(t *testing.T) {
	s := newTestShield(t, Config{
		RateLimit: RateLimitConfig{BurstRate: 10, BurstSize: 10},
	})
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	// Close is safe to call again
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
