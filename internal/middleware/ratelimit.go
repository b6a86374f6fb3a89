package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smeportal/onboarding-server/internal/clock"
	apperrors "github.com/smeportal/onboarding-server/internal/errors"
	"github.com/smeportal/onboarding-server/internal/httputil"
	"github.com/smeportal/onboarding-server/internal/service"
)

const userRateLimitWindow = time.Minute

// UserRateLimitMiddleware throttles signed-in API traffic per user. It must
// run after RequireSession; anonymous requests pass through.
type UserRateLimitMiddleware struct {
	limiter service.Limiter
	clock   clock.Clock
	limit   int
}

func NewUserRateLimitMiddleware(limiter service.Limiter, c clock.Clock, limit int) *UserRateLimitMiddleware {
	if c == nil {
		c = clock.New()
	}
	return &UserRateLimitMiddleware{limiter: limiter, clock: c, limit: limit}
}

func (m *UserRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := GetUser(r.Context())
		if user == nil || m.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		allowed, resetAt := m.limiter.CheckLimit(r.Context(), "user:"+user.ID, m.limit, userRateLimitWindow)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limit))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			log.Warn().Str("userId", user.ID).Msg("rate limit exceeded")
			retry := int(resetAt.Sub(m.clock.Now()).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
			httputil.WriteError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}
