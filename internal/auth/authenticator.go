package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/smeportal/onboarding-server/internal/audit"
	"github.com/smeportal/onboarding-server/internal/clock"
	apperrors "github.com/smeportal/onboarding-server/internal/errors"
	"github.com/smeportal/onboarding-server/internal/model"
	"github.com/smeportal/onboarding-server/internal/util"
)

// UserStore is the slice of the user repository the authenticator needs.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateLastLogin(ctx context.Context, id string) error
}

// FailureLog counts failed sign-ins per email across every authenticator
// instance.
type FailureLog interface {
	Locked(ctx context.Context, email string) (bool, error)
	RecordFailure(ctx context.Context, email string) error
	Reset(ctx context.Context, email string) error
}

type Options struct {
	Users     UserStore
	Deliverer CodeDeliverer
	Clock     clock.Clock
	Policy    Policy
	// Failures is optional; without it lockout is per instance only.
	Failures FailureLog
	// OnSessionEnded is called outside the lock whenever an authenticated
	// session ends, whatever the cause.
	OnSessionEnded func(Notification)
}

// Authenticator drives one principal through login, MFA and an
// authenticated session. All transitions are serialized by mu; timers are
// armed and cancelled while holding it, other side effects run after it is
// released. The account is re-read under mu right before a login can
// succeed, so an admin change either lands before that read or finds the
// resulting state to revoke.
type Authenticator struct {
	users     UserStore
	failures  FailureLog
	deliverer CodeDeliverer
	clock     clock.Clock
	policy    Policy
	onEnded   func(Notification)

	mu     sync.Mutex
	m      machine
	idle   timerSlot
	expiry timerSlot
}

func New(opts Options) *Authenticator {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Deliverer == nil {
		opts.Deliverer = LogDeliverer{}
	}
	return &Authenticator{
		users:     opts.Users,
		failures:  opts.Failures,
		deliverer: opts.Deliverer,
		clock:     opts.Clock,
		policy:    opts.Policy,
		onEnded:   opts.OnSessionEnded,
		m:         machine{state: StateAnonymous},
	}
}

// dummyHashes holds one placeholder hash per bcrypt cost. It is compared
// against when no account matches so that unknown emails cost the same as
// wrong passwords.
var dummyHashes sync.Map

func dummyHash(cost int) string {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if h, ok := dummyHashes.Load(cost); ok {
		return h.(string)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("unknown-account-placeholder"), cost)
	if err != nil {
		panic(fmt.Sprintf("generate placeholder hash: %v", err))
	}
	h, _ := dummyHashes.LoadOrStore(cost, string(hash))
	return h.(string)
}

func (a *Authenticator) SubmitCredentials(ctx context.Context, email, password string) (LoginResult, error) {
	if a.State() == StateLocked {
		return a.lockedOut(), nil
	}

	if err := clock.Sleep(ctx, a.clock, a.policy.Latency); err != nil {
		return LoginResult{}, err
	}

	email = util.NormalizeEmail(email)
	accountLocked := false
	if a.failures != nil {
		locked, err := a.failures.Locked(ctx, email)
		if err != nil {
			return LoginResult{}, err
		}
		accountLocked = locked
	}

	var (
		user       *model.User
		passwordOK bool
	)
	if !accountLocked {
		found, err := a.users.FindByEmail(ctx, email)
		if err != nil {
			return LoginResult{}, fmt.Errorf("find user: %w", err)
		}
		hash := dummyHash(a.policy.HashCost)
		if found != nil {
			hash = found.PasswordHash
		}
		user = found
		passwordOK = util.CheckPasswordHash(password, hash) && found != nil
	}

	code, err := util.GenerateNumericCode(a.policy.CodeDigits)
	if err != nil {
		return LoginResult{}, err
	}
	token, err := util.GenerateToken()
	if err != nil {
		return LoginResult{}, fmt.Errorf("generate session token: %w", err)
	}

	a.mu.Lock()
	if passwordOK {
		if user, err = a.users.FindByID(ctx, user.ID); err != nil {
			a.mu.Unlock()
			return LoginResult{}, fmt.Errorf("reload user: %w", err)
		}
	}
	out, effects := a.stepLocked(func(now time.Time) event {
		return credentialsSubmitted{
			at:            now,
			email:         email,
			user:          user,
			passwordOK:    passwordOK,
			accountLocked: accountLocked,
			code:          code,
			token:         token,
		}
	})
	result := LoginResult{
		Status:            out.status,
		Reason:            out.reason,
		Message:           messageFor(out.reason),
		RemainingAttempts: out.remaining,
	}
	switch out.status {
	case StatusChallenged:
		result.Delivery = a.deliveryLocked()
	case StatusAuthenticated:
		result.User, result.Session, result.Dashboard = a.principalLocked()
	}
	a.mu.Unlock()

	a.runEffects(ctx, effects)
	return result, nil
}

func (a *Authenticator) VerifyCode(ctx context.Context, code string) (VerifyResult, error) {
	if err := clock.Sleep(ctx, a.clock, a.policy.Latency); err != nil {
		return VerifyResult{}, err
	}

	token, err := util.GenerateToken()
	if err != nil {
		return VerifyResult{}, fmt.Errorf("generate session token: %w", err)
	}

	a.mu.Lock()
	var current *model.User
	if a.m.state == StateAwaitingMFA && a.m.user != nil {
		if current, err = a.users.FindByID(ctx, a.m.user.ID); err != nil {
			a.mu.Unlock()
			return VerifyResult{}, fmt.Errorf("reload user: %w", err)
		}
	}
	out, effects := a.stepLocked(func(now time.Time) event {
		return codeSubmitted{at: now, code: code, token: token, user: current}
	})
	result := VerifyResult{
		Status:            out.status,
		Reason:            out.reason,
		Message:           messageFor(out.reason),
		RemainingAttempts: out.remaining,
	}
	if out.status == StatusAuthenticated {
		result.User, result.Session, result.Dashboard = a.principalLocked()
	}
	a.mu.Unlock()

	a.runEffects(ctx, effects)
	return result, nil
}

func (a *Authenticator) ResendCode(ctx context.Context) (ResendResult, error) {
	code, err := util.GenerateNumericCode(a.policy.CodeDigits)
	if err != nil {
		return ResendResult{}, err
	}

	a.mu.Lock()
	out, effects := a.stepLocked(func(now time.Time) event {
		return resendRequested{at: now, code: code}
	})
	result := ResendResult{
		Status:  out.status,
		Reason:  out.reason,
		Message: messageFor(out.reason),
	}
	switch out.status {
	case StatusIssued:
		result.Delivery = a.deliveryLocked()
	case StatusCooldownActive:
		result.SecondsRemaining = secondsCeil(out.retryAfter)
	}
	a.mu.Unlock()

	a.runEffects(ctx, effects)
	return result, nil
}

// Logout ends the session or abandons a pending challenge. It is idempotent.
func (a *Authenticator) Logout() {
	a.apply(func(now time.Time) event { return logoutRequested{at: now} })
}

// RecordActivity resets the idle timer of an authenticated session.
func (a *Authenticator) RecordActivity() {
	a.apply(func(now time.Time) event { return activityRecorded{at: now} })
}

// Revoke ends any login or session held by userID and reports whether one
// was held.
func (a *Authenticator) Revoke(userID string) bool {
	out := a.apply(func(now time.Time) event { return userRevoked{at: now, userID: userID} })
	return out.matched
}

// Authorize checks action against the live session's user. It is false
// whenever no session is authenticated.
func (a *Authenticator) Authorize(action Action, res Resource) bool {
	a.mu.Lock()
	_, effects := a.stepLocked(nil)
	var user *model.User
	if a.m.state == StateAuthenticated {
		user = a.m.user
	}
	allowed := CheckPermission(user, action, res)
	a.mu.Unlock()

	a.runEffects(context.Background(), effects)
	return allowed
}

// SessionMatches reports whether token belongs to the live session.
func (a *Authenticator) SessionMatches(token string) bool {
	a.mu.Lock()
	_, effects := a.stepLocked(nil)
	ok := a.m.state == StateAuthenticated && token != "" && util.ConstantTimeEqual(a.m.session.Token, token)
	a.mu.Unlock()

	a.runEffects(context.Background(), effects)
	return ok
}

func (a *Authenticator) State() State {
	return a.Snapshot().State
}

func (a *Authenticator) Snapshot() Snapshot {
	a.mu.Lock()
	_, effects := a.stepLocked(nil)
	m := a.m
	snap := Snapshot{State: m.state, LoginAttempts: m.loginAttempts}
	switch m.state {
	case StateAuthenticated:
		snap.User = m.user.Clone()
		snap.Dashboard = DashboardFor(m.user.Role)
		expires := m.session.ExpiresAt
		idle := m.lastActivity.Add(a.policy.IdleTimeout)
		snap.SessionExpiresAt = &expires
		snap.IdleExpiresAt = &idle
	case StateAwaitingMFA:
		expires := m.challenge.ExpiresAt
		snap.ChallengeExpiresAt = &expires
		snap.RemainingCodeAttempts = m.challenge.MaxAttempts - m.challenge.AttemptsUsed
	}
	a.mu.Unlock()

	a.runEffects(context.Background(), effects)
	return snap
}

func (a *Authenticator) apply(mk func(now time.Time) event) outcome {
	a.mu.Lock()
	out, effects := a.stepLocked(mk)
	a.mu.Unlock()

	a.runEffects(context.Background(), effects)
	return out
}

// stepLocked runs the lazy expiry check followed by the event built by mk,
// arms or cancels timers, and returns the effects still to be executed.
func (a *Authenticator) stepLocked(mk func(now time.Time) event) (outcome, []effect) {
	now := a.clock.Now()
	m, _, effects := transition(a.policy, a.m, expiryChecked{at: now})

	var out outcome
	if mk != nil {
		var more []effect
		m, out, more = transition(a.policy, m, mk(now))
		effects = append(effects, more...)
	}
	a.m = m

	for _, e := range effects {
		switch e := e.(type) {
		case armIdleTimer:
			a.idle.arm(a.clock, e.after, a.onIdleTimer)
		case armExpiryTimer:
			a.expiry.arm(a.clock, e.after, a.onExpiryTimer)
		case cancelTimers:
			a.idle.cancel()
			a.expiry.cancel()
		}
	}
	return out, effects
}

func (a *Authenticator) onIdleTimer(gen uint64) {
	a.onTimer(&a.idle, gen, func(now time.Time) event { return idleElapsed{at: now} })
}

func (a *Authenticator) onExpiryTimer(gen uint64) {
	a.onTimer(&a.expiry, gen, func(now time.Time) event { return sessionLapsed{at: now} })
}

func (a *Authenticator) onTimer(slot *timerSlot, gen uint64, mk func(now time.Time) event) {
	a.mu.Lock()
	if !slot.current(gen) {
		a.mu.Unlock()
		return
	}
	slot.fired()
	_, effects := a.stepLocked(mk)
	a.mu.Unlock()

	a.runEffects(context.Background(), effects)
}

func (a *Authenticator) runEffects(ctx context.Context, effects []effect) {
	ctx = context.WithoutCancel(ctx)
	for _, e := range effects {
		switch e := e.(type) {
		case deliverCode:
			if err := a.deliverer.Deliver(ctx, e.code, e.destination); err != nil {
				log.Error().Err(err).
					Str("destination", util.MaskEmail(e.destination)).
					Msg("failed to deliver verification code")
			}
		case recordLogin:
			if err := a.users.UpdateLastLogin(ctx, e.userID); err != nil {
				log.Warn().Err(err).Str("userId", e.userID).Msg("failed to record last login")
			}
		case auditEvent:
			audit.Log(ctx, audit.Event{Type: e.kind, UserID: e.userID, Details: e.details})
		case sessionEnded:
			if a.onEnded != nil {
				a.onEnded(e.notification)
			}
		case contractViolation:
			log.Error().Str("component", "authenticator").Msg(e.msg)
		case recordFailure:
			if a.failures != nil {
				if err := a.failures.RecordFailure(ctx, e.email); err != nil {
					log.Warn().Err(err).Msg("failed to record login failure")
				}
			}
		case clearFailures:
			if a.failures != nil {
				if err := a.failures.Reset(ctx, e.email); err != nil {
					log.Warn().Err(err).Msg("failed to reset login failures")
				}
			}
		}
	}
}

func (a *Authenticator) lockedOut() LoginResult {
	return LoginResult{
		Status:  StatusLockedOut,
		Reason:  apperrors.ErrCodeLockedOut,
		Message: messageFor(apperrors.ErrCodeLockedOut),
	}
}

func (a *Authenticator) deliveryLocked() *Delivery {
	d := &Delivery{
		Destination: util.MaskEmail(a.m.user.Email),
		ExpiresAt:   a.m.challenge.ExpiresAt,
	}
	if a.policy.DemoMode {
		d.DemoCode = a.m.challenge.Code
	}
	return d
}

func (a *Authenticator) principalLocked() (*model.User, *Session, string) {
	session := *a.m.session
	return a.m.user.Clone(), &session, DashboardFor(a.m.user.Role)
}

func messageFor(code apperrors.ErrorCode) string {
	if code == "" {
		return ""
	}
	return apperrors.Message(code)
}

// timerSlot holds at most one armed timer. Every arm or cancel bumps gen so
// a callback from a replaced timer can recognise itself as stale.
type timerSlot struct {
	gen   uint64
	timer clock.Timer
}

func (s *timerSlot) arm(c clock.Clock, d time.Duration, fire func(gen uint64)) {
	s.cancel()
	gen := s.gen
	s.timer = c.AfterFunc(d, func() { fire(gen) })
}

func (s *timerSlot) cancel() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

func (s *timerSlot) current(gen uint64) bool {
	return s.timer != nil && s.gen == gen
}

func (s *timerSlot) fired() {
	s.timer = nil
}
