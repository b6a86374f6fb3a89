package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/smeportal/onboarding-server/internal/audit"
	"github.com/smeportal/onboarding-server/internal/clock"
	apperrors "github.com/smeportal/onboarding-server/internal/errors"
	"github.com/smeportal/onboarding-server/internal/httputil"
	"github.com/smeportal/onboarding-server/internal/service"
)

// IPRateLimitMiddleware throttles a route group per client IP. With Redis the
// window is shared by every server instance.
type IPRateLimitMiddleware struct {
	limiter service.Limiter
	clock   clock.Clock
	limit   int
	window  time.Duration
	prefix  string
}

func NewIPRateLimitMiddleware(limiter service.Limiter, c clock.Clock, limit int, window time.Duration, prefix string) *IPRateLimitMiddleware {
	if c == nil {
		c = clock.New()
	}
	return &IPRateLimitMiddleware{
		limiter: limiter,
		clock:   c,
		limit:   limit,
		window:  window,
		prefix:  prefix,
	}
}

func (m *IPRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := audit.ClientIP(r)
		key := fmt.Sprintf("%s:%s", m.prefix, ip)

		allowed, resetAt := m.limiter.CheckLimit(r.Context(), key, m.limit, m.window)
		if !allowed {
			wait := math.Ceil(resetAt.Sub(m.clock.Now()).Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(max(int(wait), 1)))

			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Details: map[string]interface{}{"scope": m.prefix, "limit": m.limit},
			})
			httputil.WriteError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}
