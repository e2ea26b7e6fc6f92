package token

import "net/http"

// Cookie names accepted when extracting a token from a request.
const (
	CookieName    = "csrf-token"
	AltCookieName = "_csrf_token"
)

// CookieOptions controls the attributes of the token cookie.
type CookieOptions struct {
	// Secure sets the Secure flag; enable when serving over HTTPS
	Secure bool

	// HTTPOnly hides the cookie from client script. Must be false when the
	// double-submit pattern is in use, since the page script has to copy
	// the cookie value into a request header.
	HTTPOnly bool

	// MaxAge in seconds; zero makes it a session cookie
	MaxAge int
}

// SetCookie writes the token cookie on the response.
func SetCookie(w http.ResponseWriter, value string, opts CookieOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Secure:   opts.Secure,
		HttpOnly: opts.HTTPOnly,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   opts.MaxAge,
	})
}

// FromCookie extracts the token from the request cookies, trying the
// primary name first and the legacy alternate second.
func FromCookie(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if c, err := r.Cookie(AltCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return ""
}
