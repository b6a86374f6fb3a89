package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smeportal/onboarding-server/internal/audit"
	"github.com/smeportal/onboarding-server/internal/auth"
	apperrors "github.com/smeportal/onboarding-server/internal/errors"
	"github.com/smeportal/onboarding-server/internal/httputil"
	"github.com/smeportal/onboarding-server/internal/model"
)

const (
	ClientCookie  = "sme_client"
	SessionCookie = "sme_session"
	ClientMaxAge  = 30 * 24 * time.Hour
	SessionMaxAge = 24 * time.Hour
)

const UserContextKey contextKey = "user"

const clientContextKey contextKey = "client"

// clientBinding is the request's view of its browser's authenticator. It is
// empty for browsers the registry does not know until EnsureAuthenticator
// fills it.
type clientBinding struct {
	mw    *ClientSessionMiddleware
	auth  *auth.Authenticator
	token string
}

func bindingFrom(ctx context.Context) *clientBinding {
	b, _ := ctx.Value(clientContextKey).(*clientBinding)
	return b
}

func GetAuthenticator(ctx context.Context) *auth.Authenticator {
	if b := bindingFrom(ctx); b != nil {
		return b.auth
	}
	return nil
}

func GetClientToken(ctx context.Context) string {
	if b := bindingFrom(ctx); b != nil && b.auth != nil {
		return b.token
	}
	return ""
}

// GetUser returns the signed-in user attached by RequireSession.
func GetUser(ctx context.Context) *model.User {
	if user, ok := ctx.Value(UserContextKey).(*model.User); ok {
		return user
	}
	return nil
}

// ClientRegistry hands out the authenticator bound to a browser's client token.
type ClientRegistry interface {
	Lookup(token string) (*auth.Authenticator, bool)
	Acquire(token string) (a *auth.Authenticator, clientToken string, created bool, err error)
}

// ClientSessionMiddleware binds every request to its browser's authenticator
// when the registry knows the client cookie. New browsers stay unbound until
// a handler calls EnsureAuthenticator, so anonymous traffic allocates nothing.
type ClientSessionMiddleware struct {
	registry ClientRegistry
	secure   bool
}

func NewClientSessionMiddleware(registry ClientRegistry, secure bool) *ClientSessionMiddleware {
	return &ClientSessionMiddleware{registry: registry, secure: secure}
}

func (m *ClientSessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := &clientBinding{mw: m}
		if cookie, err := r.Cookie(ClientCookie); err == nil {
			if a, ok := m.registry.Lookup(cookie.Value); ok {
				b.auth, b.token = a, cookie.Value
			}
		}

		ctx := context.WithValue(r.Context(), clientContextKey, b)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// EnsureAuthenticator returns the request's authenticator, registering a new
// one and issuing its client cookie if the browser has none yet.
func EnsureAuthenticator(w http.ResponseWriter, r *http.Request) (*auth.Authenticator, error) {
	b := bindingFrom(r.Context())
	if b == nil {
		return nil, errors.New("client session middleware is not installed")
	}
	if b.auth != nil {
		return b.auth, nil
	}

	a, token, created, err := b.mw.registry.Acquire("")
	if err != nil {
		log.Error().Err(err).Msg("client session middleware: acquire failed")
		return nil, err
	}
	if created {
		SetCookie(w, ClientCookie, token, ClientMaxAge, b.mw.secure)
	}
	b.auth, b.token = a, token
	return a, nil
}

// RequireSession admits requests whose session cookie matches the live
// session and counts each one as activity.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := GetAuthenticator(r.Context())
		if a == nil {
			httputil.WriteError(w, apperrors.Unauthorized("Sign in to continue"))
			return
		}

		var token string
		if cookie, err := r.Cookie(SessionCookie); err == nil {
			token = cookie.Value
		}
		if !a.SessionMatches(token) {
			if token != "" {
				audit.LogFromRequest(r, audit.Event{
					Type:    audit.EventAuthFailure,
					Details: map[string]interface{}{"reason": "session_mismatch"},
				})
				ClearCookie(w, SessionCookie)
				httputil.WriteError(w, apperrors.SessionExpired())
				return
			}
			httputil.WriteError(w, apperrors.Unauthorized("Sign in to continue"))
			return
		}

		a.RecordActivity()
		snap := a.Snapshot()
		if snap.User == nil {
			httputil.WriteError(w, apperrors.SessionExpired())
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, snap.User)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission gates a route on an action that does not target a
// specific application. Application-level checks happen in the services.
func RequirePermission(action auth.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a := GetAuthenticator(r.Context())
			if a == nil || !a.Authorize(action, auth.Resource{}) {
				var userID string
				if user := GetUser(r.Context()); user != nil {
					userID = user.ID
				}
				audit.LogFromRequest(r, audit.Event{
					Type:    audit.EventPermissionDenied,
					UserID:  userID,
					Details: map[string]interface{}{"action": string(action)},
				})
				httputil.WriteError(w, apperrors.Forbidden("You do not have permission to do that"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func SetCookie(w http.ResponseWriter, name, value string, maxAge time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}
