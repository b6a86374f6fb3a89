package audit

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventLoginSuccess        EventType = "login_success"
	EventLoginFailure        EventType = "login_failure"
	EventLoginLocked         EventType = "login_locked"
	EventMFAChallenge        EventType = "mfa_challenge"
	EventMFAFailure          EventType = "mfa_failure"
	EventMFAResend           EventType = "mfa_resend"
	EventLogout              EventType = "logout"
	EventIdleTimeout         EventType = "idle_timeout"
	EventSessionExpired      EventType = "session_expired"
	EventSessionRevoked      EventType = "session_revoked"
	EventUserCreate          EventType = "user_create"
	EventUserUpdate          EventType = "user_update"
	EventApplicationSubmit   EventType = "application_submit"
	EventApplicationDecision EventType = "application_decision"
	EventRateLimitExceed     EventType = "rate_limit_exceeded"
	EventCSRFFailure         EventType = "csrf_failure"
	EventAuthFailure         EventType = "auth_failure"
	EventPermissionDenied    EventType = "permission_denied"
)

type Event struct {
	Type          EventType
	UserID        string
	ApplicationID string
	IP            string
	UserAgent     string
	Details       map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "security").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.UserID != "" {
		logger = logger.With().Str("user_id", event.UserID).Logger()
	}
	if event.ApplicationID != "" {
		logger = logger.With().Str("application_id", event.ApplicationID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = ClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

// ClientIP is the connection address without its port. Forwarding headers
// are only honoured when a trusted proxy middleware has already rewritten
// RemoteAddr from them.
func ClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
