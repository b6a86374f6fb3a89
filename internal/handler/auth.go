package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/smeportal/onboarding-server/internal/auth"
	apperrors "github.com/smeportal/onboarding-server/internal/errors"
	"github.com/smeportal/onboarding-server/internal/middleware"
)

// AuthHandler exposes the login flow of the authenticator bound to the
// calling browser.
type AuthHandler struct {
	sessionTTL time.Duration
	secure     bool
}

func NewAuthHandler(sessionTTL time.Duration, secure bool) *AuthHandler {
	return &AuthHandler{sessionTTL: sessionTTL, secure: secure}
}

// Routes mounts the auth endpoints. The login throttle wraps the routes that
// check a secret.
func (h *AuthHandler) Routes(throttle func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		if throttle != nil {
			r.Use(throttle)
		}
		r.Post("/login", h.Login)
		r.Post("/verify", h.Verify)
		r.Post("/resend", h.Resend)
	})
	r.Post("/logout", h.Logout)
	r.Get("/me", h.Me)
	r.With(middleware.RequireSession).Post("/activity", h.Activity)

	return r
}

// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, apperrors.FieldErrors(map[string]string{
			"email":    "Email and password are required",
			"password": "Email and password are required",
		}))
		return
	}

	a, err := middleware.EnsureAuthenticator(w, r)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to start a session", err))
		return
	}

	res, err := a.SubmitCredentials(r.Context(), req.Email, req.Password)
	if err != nil {
		log.Error().Err(err).Msg("login failed")
		writeError(w, apperrors.Wrap(apperrors.ErrCodeInternal, "Sign-in is unavailable, please try again", err))
		return
	}

	status := http.StatusOK
	switch res.Status {
	case auth.StatusAuthenticated:
		h.setSession(w, res.Session)
	case auth.StatusLockedOut:
		status = http.StatusLocked
	}
	writeJSON(w, status, res)
}

// POST /api/auth/verify
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		writeError(w, apperrors.FieldErrors(map[string]string{"code": "Enter the verification code"}))
		return
	}

	a := middleware.GetAuthenticator(r.Context())
	if a == nil {
		writeJSON(w, http.StatusOK, auth.VerifyResult{
			Status:  auth.StatusNoChallengePending,
			Reason:  apperrors.ErrCodeNoChallengePending,
			Message: apperrors.Message(apperrors.ErrCodeNoChallengePending),
		})
		return
	}

	res, err := a.VerifyCode(r.Context(), code)
	if err != nil {
		log.Error().Err(err).Msg("verification failed")
		writeError(w, apperrors.Wrap(apperrors.ErrCodeInternal, "Verification is unavailable, please try again", err))
		return
	}

	if res.Status == auth.StatusAuthenticated {
		h.setSession(w, res.Session)
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/auth/resend
func (h *AuthHandler) Resend(w http.ResponseWriter, r *http.Request) {
	a := middleware.GetAuthenticator(r.Context())
	if a == nil {
		writeJSON(w, http.StatusOK, auth.ResendResult{
			Status:  auth.StatusNoChallengePending,
			Reason:  apperrors.ErrCodeNoChallengePending,
			Message: apperrors.Message(apperrors.ErrCodeNoChallengePending),
		})
		return
	}

	res, err := a.ResendCode(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("resend failed")
		writeError(w, apperrors.Wrap(apperrors.ErrCodeInternal, "Could not send a new code", err))
		return
	}

	status := http.StatusOK
	if res.Status == auth.StatusCooldownActive {
		w.Header().Set("Retry-After", strconv.Itoa(res.SecondsRemaining))
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, res)
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if a := middleware.GetAuthenticator(r.Context()); a != nil {
		a.Logout()
	}
	middleware.ClearCookie(w, middleware.SessionCookie)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	a := middleware.GetAuthenticator(r.Context())
	if a == nil {
		writeJSON(w, http.StatusOK, auth.Snapshot{State: auth.StateAnonymous})
		return
	}
	writeJSON(w, http.StatusOK, a.Snapshot())
}

// POST /api/auth/activity
func (h *AuthHandler) Activity(w http.ResponseWriter, r *http.Request) {
	snap := middleware.GetAuthenticator(r.Context()).Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"state":            snap.State,
		"idleExpiresAt":    snap.IdleExpiresAt,
		"sessionExpiresAt": snap.SessionExpiresAt,
	})
}

func (h *AuthHandler) setSession(w http.ResponseWriter, s *auth.Session) {
	if s == nil {
		return
	}
	middleware.SetCookie(w, middleware.SessionCookie, s.Token, h.sessionTTL, h.secure)
}
