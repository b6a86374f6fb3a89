package auth

import (
	"math"
	"time"

	"github.com/smeportal/onboarding-server/internal/audit"
	apperrors "github.com/smeportal/onboarding-server/internal/errors"
	"github.com/smeportal/onboarding-server/internal/model"
	"github.com/smeportal/onboarding-server/internal/util"
)

// machine is the complete decision state of one authenticator. It is a
// value: transition never mutates its input.
type machine struct {
	state           State
	user            *model.User
	challenge       *Challenge
	session         *Session
	loginAttempts   int
	lastResendAt    time.Time
	lastActivity    time.Time
	challengeIssued bool
}

type event interface {
	occurredAt() time.Time
}

type (
	// credentialsSubmitted carries the outcome of the password check. user is
	// nil when no account matched. accountLocked means the email has used up
	// its failures across every client; the password was not checked.
	credentialsSubmitted struct {
		at            time.Time
		email         string
		user          *model.User
		passwordOK    bool
		accountLocked bool
		code          string
		token         string
	}
	// codeSubmitted carries the account as stored when the code arrived, nil
	// if it no longer exists.
	codeSubmitted struct {
		at    time.Time
		code  string
		token string
		user  *model.User
	}
	resendRequested struct {
		at   time.Time
		code string
	}
	logoutRequested  struct{ at time.Time }
	activityRecorded struct{ at time.Time }
	idleElapsed      struct{ at time.Time }
	sessionLapsed    struct{ at time.Time }
	// expiryChecked is applied before every state-observing call so that a
	// missed or delayed timer cannot leave a dead session usable.
	expiryChecked struct{ at time.Time }
	userRevoked   struct {
		at     time.Time
		userID string
	}
)

func (e credentialsSubmitted) occurredAt() time.Time { return e.at }
func (e codeSubmitted) occurredAt() time.Time        { return e.at }
func (e resendRequested) occurredAt() time.Time      { return e.at }
func (e logoutRequested) occurredAt() time.Time      { return e.at }
func (e activityRecorded) occurredAt() time.Time     { return e.at }
func (e idleElapsed) occurredAt() time.Time          { return e.at }
func (e sessionLapsed) occurredAt() time.Time        { return e.at }
func (e expiryChecked) occurredAt() time.Time        { return e.at }
func (e userRevoked) occurredAt() time.Time          { return e.at }

type outcome struct {
	status     Status
	reason     apperrors.ErrorCode
	remaining  int
	retryAfter time.Duration
	matched    bool
}

type effect interface {
	isEffect()
}

type (
	armIdleTimer   struct{ after time.Duration }
	armExpiryTimer struct{ after time.Duration }
	cancelTimers   struct{}
	deliverCode    struct{ code, destination string }
	recordLogin    struct{ userID string }
	sessionEnded   struct{ notification Notification }
	auditEvent     struct {
		kind    audit.EventType
		userID  string
		details map[string]interface{}
	}
	contractViolation struct{ msg string }
	recordFailure     struct{ email string }
	clearFailures     struct{ email string }
)

func (armIdleTimer) isEffect()      {}
func (armExpiryTimer) isEffect()    {}
func (cancelTimers) isEffect()      {}
func (deliverCode) isEffect()       {}
func (recordLogin) isEffect()       {}
func (sessionEnded) isEffect()      {}
func (auditEvent) isEffect()        {}
func (contractViolation) isEffect() {}
func (recordFailure) isEffect()     {}
func (clearFailures) isEffect()     {}

func transition(p Policy, m machine, ev event) (machine, outcome, []effect) {
	switch ev := ev.(type) {
	case credentialsSubmitted:
		return onCredentials(p, m, ev)
	case codeSubmitted:
		return onCode(p, m, ev)
	case resendRequested:
		return onResend(p, m, ev)
	case logoutRequested:
		return onLogout(m, ev)
	case activityRecorded:
		if m.state != StateAuthenticated {
			return m, outcome{}, nil
		}
		m.lastActivity = ev.at
		return m, outcome{}, []effect{armIdleTimer{after: p.IdleTimeout}}
	case idleElapsed:
		if m.state == StateAuthenticated && idleFor(m, ev.at) >= p.IdleTimeout {
			return endSession(m, ev.at, EndReasonIdle)
		}
		return m, outcome{}, nil
	case sessionLapsed:
		if m.state == StateAuthenticated && !ev.at.Before(m.session.ExpiresAt) {
			return endSession(m, ev.at, EndReasonExpired)
		}
		return m, outcome{}, nil
	case expiryChecked:
		return onExpiryCheck(p, m, ev.at)
	case userRevoked:
		return onRevoke(m, ev)
	}
	return m, outcome{}, []effect{contractViolation{msg: "unknown event"}}
}

func onCredentials(p Policy, m machine, ev credentialsSubmitted) (machine, outcome, []effect) {
	if m.state == StateLocked {
		return m, outcome{status: StatusLockedOut, reason: apperrors.ErrCodeLockedOut}, nil
	}

	var effects []effect
	switch m.state {
	case StateAuthenticated:
		m, _, effects = endSession(m, ev.at, EndReasonSuperseded)
	case StateAwaitingMFA:
		m = clearLogin(m)
	}

	if ev.accountLocked {
		m.state = StateLocked
		effects = append(effects, auditEvent{
			kind:    audit.EventLoginLocked,
			details: map[string]interface{}{"scope": "account", "email": util.MaskEmail(ev.email)},
		})
		return m, outcome{status: StatusLockedOut, reason: apperrors.ErrCodeLockedOut}, effects
	}

	if ev.user == nil || !ev.passwordOK || !ev.user.IsActive {
		reason := apperrors.ErrCodeInvalidCredentials
		if ev.user != nil && ev.passwordOK {
			reason = apperrors.ErrCodeAccountInactive
		}

		m.loginAttempts++
		userID := ""
		if ev.user != nil {
			userID = ev.user.ID
		}
		effects = append(effects,
			auditEvent{
				kind:    audit.EventLoginFailure,
				userID:  userID,
				details: map[string]interface{}{"reason": string(reason), "attempt": m.loginAttempts},
			},
			recordFailure{email: ev.email},
		)

		if m.loginAttempts >= p.MaxLoginAttempts {
			m.state = StateLocked
			effects = append(effects, auditEvent{kind: audit.EventLoginLocked, userID: userID})
		}
		return m, outcome{
			status:    StatusRejected,
			reason:    reason,
			remaining: max(p.MaxLoginAttempts-m.loginAttempts, 0),
		}, effects
	}

	effects = append(effects, clearFailures{email: ev.email})

	if !ev.user.MFAEnabled {
		m, more := authenticate(p, m, ev.at, ev.user, ev.token)
		return m, outcome{status: StatusAuthenticated}, append(effects, more...)
	}

	m.state = StateAwaitingMFA
	m.user = ev.user
	m.challenge = newChallenge(p, ev.at, ev.code)
	m.challengeIssued = true
	m.lastResendAt = time.Time{}
	effects = append(effects,
		deliverCode{code: ev.code, destination: ev.user.Email},
		auditEvent{kind: audit.EventMFAChallenge, userID: ev.user.ID},
	)
	return m, outcome{status: StatusChallenged, remaining: p.MaxCodeAttempts}, effects
}

func onCode(p Policy, m machine, ev codeSubmitted) (machine, outcome, []effect) {
	if m.state != StateAwaitingMFA || m.challenge == nil {
		var effects []effect
		if !m.challengeIssued {
			effects = append(effects, contractViolation{msg: "code submitted before any challenge was issued"})
		}
		return m, outcome{status: StatusNoChallengePending, reason: apperrors.ErrCodeNoChallengePending}, effects
	}

	ch := *m.challenge
	expired := ch.expiredAt(ev.at)
	if !expired && codeMatches(p, ch.Code, ev.code) {
		if ev.user == nil || ev.user.ID != m.user.ID || !ev.user.IsActive {
			userID := m.user.ID
			m = clearLogin(m)
			return m, outcome{status: StatusRejected, reason: apperrors.ErrCodeAccountInactive}, []effect{auditEvent{
				kind:    audit.EventLoginFailure,
				userID:  userID,
				details: map[string]interface{}{"reason": string(apperrors.ErrCodeAccountInactive)},
			}}
		}
		m, effects := authenticate(p, m, ev.at, ev.user, ev.token)
		return m, outcome{status: StatusAuthenticated}, effects
	}

	ch.AttemptsUsed++
	m.challenge = &ch
	reason := apperrors.ErrCodeChallengeMismatch
	status := StatusRejected
	if expired {
		reason = apperrors.ErrCodeChallengeExpired
		status = StatusExpired
	}
	effects := []effect{auditEvent{
		kind:    audit.EventMFAFailure,
		userID:  m.user.ID,
		details: map[string]interface{}{"reason": string(reason), "attempt": ch.AttemptsUsed},
	}}

	if ch.AttemptsUsed >= ch.MaxAttempts {
		m = clearLogin(m)
		return m, outcome{status: StatusRestartRequired, reason: apperrors.ErrCodeChallengeExhausted}, effects
	}
	return m, outcome{status: status, reason: reason, remaining: ch.MaxAttempts - ch.AttemptsUsed}, effects
}

func onResend(p Policy, m machine, ev resendRequested) (machine, outcome, []effect) {
	if m.state != StateAwaitingMFA || m.challenge == nil {
		return m, outcome{status: StatusNoChallengePending, reason: apperrors.ErrCodeNoChallengePending}, nil
	}

	if !m.lastResendAt.IsZero() {
		if wait := m.lastResendAt.Add(p.ResendCooldown).Sub(ev.at); wait > 0 {
			return m, outcome{
				status:     StatusCooldownActive,
				reason:     apperrors.ErrCodeResendCooldownActive,
				retryAfter: wait,
			}, nil
		}
	}

	m.challenge = newChallenge(p, ev.at, ev.code)
	m.lastResendAt = ev.at
	return m, outcome{status: StatusIssued, remaining: p.MaxCodeAttempts}, []effect{
		deliverCode{code: ev.code, destination: m.user.Email},
		auditEvent{kind: audit.EventMFAResend, userID: m.user.ID},
	}
}

func onLogout(m machine, ev logoutRequested) (machine, outcome, []effect) {
	switch m.state {
	case StateAuthenticated:
		return endSession(m, ev.at, EndReasonLogout)
	case StateAwaitingMFA:
		return clearLogin(m), outcome{}, nil
	}
	return m, outcome{}, nil
}

func onExpiryCheck(p Policy, m machine, now time.Time) (machine, outcome, []effect) {
	if m.state != StateAuthenticated {
		return m, outcome{}, nil
	}
	if !now.Before(m.session.ExpiresAt) {
		return endSession(m, now, EndReasonExpired)
	}
	if idleFor(m, now) >= p.IdleTimeout {
		return endSession(m, now, EndReasonIdle)
	}
	return m, outcome{}, nil
}

func onRevoke(m machine, ev userRevoked) (machine, outcome, []effect) {
	if m.user == nil || m.user.ID != ev.userID {
		return m, outcome{}, nil
	}
	switch m.state {
	case StateAuthenticated:
		m, out, effects := endSession(m, ev.at, EndReasonRevoked)
		out.matched = true
		return m, out, effects
	case StateAwaitingMFA:
		return clearLogin(m), outcome{matched: true}, nil
	}
	return m, outcome{}, nil
}

func authenticate(p Policy, m machine, now time.Time, user *model.User, token string) (machine, []effect) {
	m.state = StateAuthenticated
	m.user = user
	m.challenge = nil
	m.lastResendAt = time.Time{}
	m.loginAttempts = 0
	m.lastActivity = now
	m.session = &Session{
		Token:         token,
		SubjectUserID: user.ID,
		IssuedAt:      now,
		ExpiresAt:     now.Add(p.SessionTTL),
	}
	return m, []effect{
		armIdleTimer{after: p.IdleTimeout},
		armExpiryTimer{after: p.SessionTTL},
		recordLogin{userID: user.ID},
		auditEvent{kind: audit.EventLoginSuccess, userID: user.ID, details: map[string]interface{}{"role": string(user.Role)}},
	}
}

func endSession(m machine, now time.Time, reason EndReason) (machine, outcome, []effect) {
	userID := m.user.ID
	m.state = StateAnonymous
	m.user = nil
	m.session = nil
	m.challenge = nil
	m.lastResendAt = time.Time{}

	return m, outcome{}, []effect{
		cancelTimers{},
		auditEvent{kind: auditTypeFor(reason), userID: userID, details: map[string]interface{}{"reason": string(reason)}},
		sessionEnded{notification: Notification{UserID: userID, Reason: reason, At: now}},
	}
}

// clearLogin abandons an in-flight login without touching the lockout counter.
func clearLogin(m machine) machine {
	m.state = StateAnonymous
	m.user = nil
	m.challenge = nil
	m.lastResendAt = time.Time{}
	return m
}

func newChallenge(p Policy, now time.Time, code string) *Challenge {
	return &Challenge{
		Code:        code,
		IssuedAt:    now,
		ExpiresAt:   now.Add(p.ChallengeTTL),
		MaxAttempts: p.MaxCodeAttempts,
	}
}

func codeMatches(p Policy, want, got string) bool {
	if util.ConstantTimeEqual(want, got) {
		return true
	}
	return p.DemoMode && p.UniversalCode != "" && util.ConstantTimeEqual(p.UniversalCode, got)
}

func idleFor(m machine, now time.Time) time.Duration {
	return now.Sub(m.lastActivity)
}

func auditTypeFor(reason EndReason) audit.EventType {
	switch reason {
	case EndReasonIdle:
		return audit.EventIdleTimeout
	case EndReasonExpired:
		return audit.EventSessionExpired
	case EndReasonRevoked:
		return audit.EventSessionRevoked
	default:
		return audit.EventLogout
	}
}

func secondsCeil(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
