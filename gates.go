package webshield

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gearhaus/webshield/security"
)

// sizeLimitStage rejects requests whose declared Content-Length exceeds the
// configured budget and caps the body reader so undeclared bodies cannot
// exceed it either.
func (s *Shield) sizeLimitStage(maxBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				serr := ErrValidation(fmt.Errorf("request body %d bytes exceeds limit %d", r.ContentLength, maxBytes)).
					WithStatus(http.StatusRequestEntityTooLarge)
				s.reject(w, r, "size_limit", serr)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// defaultAllowedMethods is used when the configuration does not restrict
// methods explicitly
var defaultAllowedMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

// methodStage rejects HTTP methods outside the configured allowlist.
func (s *Shield) methodStage(allowed []string) Middleware {
	if len(allowed) == 0 {
		allowed = defaultAllowedMethods
	}
	set := make(map[string]struct{}, len(allowed))
	for _, m := range allowed {
		set[strings.ToUpper(m)] = struct{}{}
	}
	allowHeader := strings.Join(allowed, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := set[r.Method]; !ok {
				w.Header().Set("Allow", allowHeader)
				serr := ErrValidation(fmt.Errorf("method %s not allowed", r.Method)).
					WithStatus(http.StatusMethodNotAllowed)
				s.reject(w, r, "method", serr)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// userAgentStage optionally requires a User-Agent header and rejects agents
// matching any blocked pattern. Patterns are validated by Config.Validate,
// so compilation here cannot fail.
func (s *Shield) userAgentStage(require bool, blockedPatterns []string) Middleware {
	blocked := make([]*regexp.Regexp, 0, len(blockedPatterns))
	for _, p := range blockedPatterns {
		blocked = append(blocked, regexp.MustCompile(p))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ua := r.UserAgent()
			if require && ua == "" {
				s.reject(w, r, "user_agent", ErrValidation(fmt.Errorf("missing User-Agent header")))
				return
			}
			for _, re := range blocked {
				if re.MatchString(ua) {
					s.reject(w, r, "user_agent", ErrAuthorization(fmt.Errorf("blocked user agent")))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ipAllowStage rejects requests from IPs outside the allowlist. With an
// empty allowlist the stage is a pass-through.
func (s *Shield) ipAllowStage(allowlist []string) Middleware {
	if len(allowlist) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	set := make(map[string]struct{}, len(allowlist))
	for _, ip := range allowlist {
		set[ip] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := s.clientIP(r)
			if _, ok := set[ip]; !ok {
				s.reject(w, r, "ip_allowlist", ErrAuthorization(fmt.Errorf("ip not in allowlist")))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// burstStage runs the token-bucket flood guard ahead of the fixed-window
// profiles.
func (s *Shield) burstStage() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.burst.Allow(s.clientIP(r)) {
				s.reject(w, r, "burst_guard", ErrRateLimit(fmt.Errorf("burst limit exceeded")))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP resolves the client IP under the configured proxy trust settings
func (s *Shield) clientIP(r *http.Request) string {
	return security.GetClientIP(r, s.config.RateLimit.TrustProxy, s.config.RateLimit.TrustedProxyCount)
}
