package webshield

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gearhaus/webshield/ratelimit"
)

// rateLimitStage charges each request against the profile limiter and
// rejects with 429 once the window budget is spent. Store failures fail
// closed: a request that cannot be counted is not let through.
func (s *Shield) rateLimitStage(l *ratelimit.Limiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := l.Check(r.Context(), r)
			if err != nil {
				s.reject(w, r, "rate_limit", ErrInternal(err))
				return
			}

			ratelimit.SetHeaders(w, d, time.Now())

			if !d.Allowed {
				s.inst.Metrics().RecordRateLimitExceeded(r.Context(), l.Profile().Name)
				serr := ErrRateLimit(fmt.Errorf("profile %s exceeded: %d/%d", l.Profile().Name, d.Count, d.Limit))
				if msg := l.Profile().Message; msg != "" {
					serr = serr.WithMessage(msg)
				}
				s.reject(w, r, "rate_limit", serr)
				return
			}

			if l.Profile().SkipSuccessful && !d.Skipped {
				// Only failures count toward the budget: refund the hit
				// when the handler reports success.
				rec := &statusRecorder{ResponseWriter: w}
				next.ServeHTTP(rec, r)
				if rec.status < http.StatusBadRequest {
					l.Refund(r.Context(), d)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
