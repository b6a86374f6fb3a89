package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/smeportal/onboarding-server/internal/clock"
	apperrors "github.com/smeportal/onboarding-server/internal/errors"
	"github.com/smeportal/onboarding-server/internal/model"
	"github.com/smeportal/onboarding-server/internal/repository"
)

var testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type recordingDeliverer struct {
	mu    sync.Mutex
	codes []string
	err   error
}

func (d *recordingDeliverer) Deliver(ctx context.Context, code, destination string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.codes = append(d.codes, code)
	return d.err
}

func (d *recordingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.codes)
}

func (d *recordingDeliverer) last() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.codes) == 0 {
		return ""
	}
	return d.codes[len(d.codes)-1]
}

type fixture struct {
	auth      *Authenticator
	clock     *clock.Fake
	users     repository.UserRepository
	deliverer *recordingDeliverer

	mu    sync.Mutex
	ended []Notification
}

func newFixture(t *testing.T, tweak func(p *Policy)) *fixture {
	t.Helper()

	users := repository.NewMemoryUserRepository()
	require.NoError(t, repository.SeedDemoUsers(context.Background(), users, bcrypt.MinCost))

	policy := DefaultPolicy()
	policy.Latency = 0
	if tweak != nil {
		tweak(&policy)
	}

	f := &fixture{
		clock:     clock.NewFake(testStart),
		users:     users,
		deliverer: &recordingDeliverer{},
	}
	f.auth = New(Options{
		Users:     users,
		Deliverer: f.deliverer,
		Clock:     f.clock,
		Policy:    policy,
		OnSessionEnded: func(n Notification) {
			f.mu.Lock()
			f.ended = append(f.ended, n)
			f.mu.Unlock()
		},
	})
	return f
}

func (f *fixture) endings() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.ended...)
}

func (f *fixture) login(t *testing.T, email, password string) LoginResult {
	t.Helper()
	res, err := f.auth.SubmitCredentials(context.Background(), email, password)
	require.NoError(t, err)
	return res
}

func (f *fixture) verify(t *testing.T, code string) VerifyResult {
	t.Helper()
	res, err := f.auth.VerifyCode(context.Background(), code)
	require.NoError(t, err)
	return res
}

func (f *fixture) resend(t *testing.T) ResendResult {
	t.Helper()
	res, err := f.auth.ResendCode(context.Background())
	require.NoError(t, err)
	return res
}

func (f *fixture) signIn(t *testing.T) VerifyResult {
	t.Helper()
	require.Equal(t, StatusChallenged, f.login(t, "customer@test.com", repository.DemoPassword).Status)
	res := f.verify(t, f.deliverer.last())
	require.Equal(t, StatusAuthenticated, res.Status)
	return res
}

func wrongCode(actual string) string {
	if actual == "000000" {
		return "999999"
	}
	return "000000"
}

func TestAuthenticator_DemoScenario(t *testing.T) {
	f := newFixture(t, nil)

	login := f.login(t, "customer@test.com", "password123")
	require.Equal(t, StatusChallenged, login.Status)
	require.NotNil(t, login.Delivery)
	assert.Equal(t, "c***@test.com", login.Delivery.Destination)
	assert.Len(t, login.Delivery.DemoCode, 6)
	assert.Equal(t, testStart.Add(5*time.Minute), login.Delivery.ExpiresAt)
	assert.Equal(t, StateAwaitingMFA, f.auth.State())

	verified := f.verify(t, "111111")
	require.Equal(t, StatusAuthenticated, verified.Status)
	require.NotNil(t, verified.User)
	assert.Equal(t, model.RoleCustomer, verified.User.Role)
	assert.Equal(t, "/customer", verified.Dashboard)
	require.NotNil(t, verified.Session)
	assert.NotEmpty(t, verified.Session.Token)
	assert.Equal(t, testStart.Add(24*time.Hour), verified.Session.ExpiresAt)

	userID := verified.User.ID
	own := Resource{OwnerID: userID}
	assert.True(t, f.auth.Authorize(ActionViewApplication, own))

	f.auth.Logout()
	assert.Equal(t, StateAnonymous, f.auth.State())

	for _, action := range Actions {
		assert.False(t, f.auth.Authorize(action, own), "action %s", action)
	}

	endings := f.endings()
	require.Len(t, endings, 1)
	assert.Equal(t, EndReasonLogout, endings[0].Reason)
	assert.Equal(t, userID, endings[0].UserID)

	// logout is idempotent
	f.auth.Logout()
	assert.Len(t, f.endings(), 1)
}

func TestAuthenticator_Lockout(t *testing.T) {
	t.Run("fourth attempt is locked out even with the right password", func(t *testing.T) {
		f := newFixture(t, nil)

		for i, remaining := range []int{2, 1, 0} {
			res := f.login(t, "customer@test.com", "wrong-password")
			assert.Equal(t, StatusRejected, res.Status, "attempt %d", i+1)
			assert.Equal(t, apperrors.ErrCodeInvalidCredentials, res.Reason)
			assert.Equal(t, remaining, res.RemainingAttempts)
		}

		res := f.login(t, "customer@test.com", repository.DemoPassword)
		assert.Equal(t, StatusLockedOut, res.Status)
		assert.Equal(t, apperrors.ErrCodeLockedOut, res.Reason)
		assert.Equal(t, StateLocked, f.auth.State())
		assert.Zero(t, f.deliverer.count())

		f.auth.Logout()
		assert.Equal(t, StatusLockedOut, f.login(t, "customer@test.com", repository.DemoPassword).Status)

		verify := f.verify(t, "111111")
		assert.Equal(t, StatusNoChallengePending, verify.Status)
	})

	t.Run("unknown and inactive accounts count as failures", func(t *testing.T) {
		f := newFixture(t, nil)

		res := f.login(t, "nobody@test.com", repository.DemoPassword)
		assert.Equal(t, StatusRejected, res.Status)
		assert.Equal(t, apperrors.ErrCodeInvalidCredentials, res.Reason)

		res = f.login(t, "inactive@test.com", repository.DemoPassword)
		assert.Equal(t, StatusRejected, res.Status)
		assert.Equal(t, apperrors.ErrCodeAccountInactive, res.Reason)

		res = f.login(t, "inactive@test.com", "wrong-password")
		assert.Equal(t, apperrors.ErrCodeInvalidCredentials, res.Reason)

		assert.Equal(t, StateLocked, f.auth.State())
	})

	t.Run("successful login resets the counter", func(t *testing.T) {
		f := newFixture(t, nil)

		f.login(t, "customer@test.com", "wrong-password")
		f.login(t, "customer@test.com", "wrong-password")
		f.signIn(t)
		assert.Zero(t, f.auth.Snapshot().LoginAttempts)

		f.auth.Logout()
		f.login(t, "customer@test.com", "wrong-password")
		f.login(t, "customer@test.com", "wrong-password")
		assert.Equal(t, StateAnonymous, f.auth.State())
		assert.Equal(t, 2, f.auth.Snapshot().LoginAttempts)
	})

	t.Run("email is matched case-insensitively", func(t *testing.T) {
		f := newFixture(t, nil)
		res := f.login(t, "  Customer@Test.com ", repository.DemoPassword)
		assert.Equal(t, StatusChallenged, res.Status)
	})
}

func TestAuthenticator_ChallengeExpiry(t *testing.T) {
	t.Run("correct code after expiry is rejected as expired", func(t *testing.T) {
		f := newFixture(t, nil)
		f.login(t, "customer@test.com", repository.DemoPassword)
		code := f.deliverer.last()

		f.clock.Advance(301 * time.Second)
		res := f.verify(t, code)

		assert.Equal(t, StatusExpired, res.Status)
		assert.Equal(t, apperrors.ErrCodeChallengeExpired, res.Reason)
		assert.Equal(t, 2, res.RemainingAttempts)
		assert.Equal(t, StateAwaitingMFA, f.auth.State())
	})

	t.Run("expiry is exclusive of the deadline", func(t *testing.T) {
		f := newFixture(t, nil)
		f.login(t, "customer@test.com", repository.DemoPassword)

		f.clock.Advance(5 * time.Minute)
		assert.Equal(t, StatusExpired, f.verify(t, "111111").Status)
	})

	t.Run("code is accepted just before expiry", func(t *testing.T) {
		f := newFixture(t, nil)
		f.login(t, "customer@test.com", repository.DemoPassword)
		code := f.deliverer.last()

		f.clock.Advance(299 * time.Second)
		assert.Equal(t, StatusAuthenticated, f.verify(t, code).Status)
	})
}

func TestAuthenticator_AttemptExhaustion(t *testing.T) {
	f := newFixture(t, nil)
	f.login(t, "customer@test.com", repository.DemoPassword)
	code := f.deliverer.last()
	bad := wrongCode(code)

	first := f.verify(t, bad)
	assert.Equal(t, StatusRejected, first.Status)
	assert.Equal(t, apperrors.ErrCodeChallengeMismatch, first.Reason)
	assert.Equal(t, 2, first.RemainingAttempts)

	second := f.verify(t, bad)
	assert.Equal(t, 1, second.RemainingAttempts)

	third := f.verify(t, bad)
	assert.Equal(t, StatusRestartRequired, third.Status)
	assert.Equal(t, apperrors.ErrCodeChallengeExhausted, third.Reason)
	assert.Equal(t, StateAnonymous, f.auth.State())

	after := f.verify(t, code)
	assert.Equal(t, StatusNoChallengePending, after.Status)
	assert.Equal(t, apperrors.ErrCodeNoChallengePending, after.Reason)

	// a fresh login is still possible; code failures do not feed the lockout
	assert.Equal(t, StatusChallenged, f.login(t, "customer@test.com", repository.DemoPassword).Status)
}

func TestAuthenticator_ResendCooldown(t *testing.T) {
	f := newFixture(t, nil)
	f.login(t, "customer@test.com", repository.DemoPassword)
	f.verify(t, wrongCode(f.deliverer.last()))

	issued := f.resend(t)
	require.Equal(t, StatusIssued, issued.Status)
	require.NotNil(t, issued.Delivery)
	assert.Equal(t, testStart.Add(5*time.Minute), issued.Delivery.ExpiresAt)
	active := f.deliverer.last()
	assert.Equal(t, active, issued.Delivery.DemoCode)
	assert.Equal(t, 3, f.auth.Snapshot().RemainingCodeAttempts)

	cooldown := f.resend(t)
	assert.Equal(t, StatusCooldownActive, cooldown.Status)
	assert.Equal(t, apperrors.ErrCodeResendCooldownActive, cooldown.Reason)
	assert.Equal(t, 30, cooldown.SecondsRemaining)
	assert.Nil(t, cooldown.Delivery)
	assert.Equal(t, 2, f.deliverer.count())

	f.clock.Advance(10*time.Second + 500*time.Millisecond)
	cooldown = f.resend(t)
	assert.Equal(t, StatusCooldownActive, cooldown.Status)
	assert.Equal(t, 20, cooldown.SecondsRemaining)
	assert.Equal(t, active, f.deliverer.last())

	f.clock.Advance(20 * time.Second)
	reissued := f.resend(t)
	assert.Equal(t, StatusIssued, reissued.Status)
	assert.Equal(t, testStart.Add(30*time.Second+500*time.Millisecond+5*time.Minute), reissued.Delivery.ExpiresAt)

	assert.Equal(t, StatusAuthenticated, f.verify(t, f.deliverer.last()).Status)
}

func TestAuthenticator_ResendWithoutChallenge(t *testing.T) {
	f := newFixture(t, nil)
	res := f.resend(t)
	assert.Equal(t, StatusNoChallengePending, res.Status)
	assert.Zero(t, f.deliverer.count())
}

func TestAuthenticator_IdleTimeout(t *testing.T) {
	f := newFixture(t, nil)
	signedIn := f.signIn(t)
	own := Resource{OwnerID: signedIn.User.ID}

	f.clock.Advance(14 * time.Minute)
	f.auth.RecordActivity()
	f.clock.Advance(14 * time.Minute)
	assert.Equal(t, StateAuthenticated, f.auth.State())
	assert.True(t, f.auth.Authorize(ActionViewApplication, own))

	f.clock.Advance(time.Minute)
	assert.Equal(t, StateAnonymous, f.auth.State())
	assert.False(t, f.auth.Authorize(ActionViewApplication, own))
	assert.False(t, f.auth.Authorize(ActionViewProducts, Resource{}))

	endings := f.endings()
	require.Len(t, endings, 1)
	assert.Equal(t, EndReasonIdle, endings[0].Reason)
	assert.Equal(t, testStart.Add(29*time.Minute), endings[0].At)
	assert.Zero(t, f.clock.Pending())
}

func TestAuthenticator_SessionExpiry(t *testing.T) {
	f := newFixture(t, func(p *Policy) { p.IdleTimeout = 48 * time.Hour })
	f.signIn(t)

	f.clock.Advance(24*time.Hour - time.Second)
	assert.Equal(t, StateAuthenticated, f.auth.State())

	f.clock.Advance(time.Second)
	assert.Equal(t, StateAnonymous, f.auth.State())

	endings := f.endings()
	require.Len(t, endings, 1)
	assert.Equal(t, EndReasonExpired, endings[0].Reason)
	assert.Zero(t, f.clock.Pending())
}

func TestAuthenticator_LazyExpiryMatchesTimers(t *testing.T) {
	f := newFixture(t, nil)
	f.signIn(t)

	// simulate timers that never fire
	f.auth.mu.Lock()
	f.auth.idle.cancel()
	f.auth.expiry.cancel()
	f.auth.mu.Unlock()

	f.clock.Advance(16 * time.Minute)
	assert.Equal(t, StateAnonymous, f.auth.Snapshot().State)

	endings := f.endings()
	require.Len(t, endings, 1)
	assert.Equal(t, EndReasonIdle, endings[0].Reason)
}

func TestAuthenticator_TimersAreNeverDuplicated(t *testing.T) {
	f := newFixture(t, nil)
	f.signIn(t)
	assert.Equal(t, 2, f.clock.Pending())

	for i := 0; i < 5; i++ {
		f.clock.Advance(time.Minute)
		f.auth.RecordActivity()
	}
	assert.Equal(t, 2, f.clock.Pending())

	f.auth.Logout()
	assert.Zero(t, f.clock.Pending())

	f.clock.Advance(48 * time.Hour)
	assert.Len(t, f.endings(), 1)
}

func TestAuthenticator_VerifyRacingLogout(t *testing.T) {
	const latency = 400 * time.Millisecond
	f := newFixture(t, func(p *Policy) { p.Latency = latency })
	ctx := context.Background()

	var login LoginResult
	done := make(chan struct{})
	go func() {
		defer close(done)
		login, _ = f.auth.SubmitCredentials(ctx, "customer@test.com", repository.DemoPassword)
	}()
	advanceWhenBlocked(t, f.clock, latency)
	<-done
	require.Equal(t, StatusChallenged, login.Status)

	var verify VerifyResult
	done = make(chan struct{})
	go func() {
		defer close(done)
		verify, _ = f.auth.VerifyCode(ctx, login.Delivery.DemoCode)
	}()
	require.Eventually(t, func() bool { return f.clock.Pending() == 1 }, time.Second, time.Millisecond)

	f.auth.Logout()
	f.clock.Advance(latency)
	<-done

	assert.Equal(t, StatusNoChallengePending, verify.Status)
	assert.Equal(t, StateAnonymous, f.auth.State())
}

func TestAuthenticator_LatencyHonoursContext(t *testing.T) {
	f := newFixture(t, func(p *Policy) { p.Latency = time.Second })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.auth.SubmitCredentials(ctx, "customer@test.com", repository.DemoPassword)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateAnonymous, f.auth.State())
}

func TestAuthenticator_WithoutMFA(t *testing.T) {
	f := newFixture(t, nil)

	res := f.login(t, "director@test.com", repository.DemoPassword)
	require.Equal(t, StatusAuthenticated, res.Status)
	assert.Nil(t, res.Delivery)
	require.NotNil(t, res.Session)
	assert.Equal(t, "/customer", res.Dashboard)
	assert.Zero(t, f.deliverer.count())
	assert.Equal(t, 2, f.clock.Pending())

	user, err := f.users.FindByEmail(context.Background(), "director@test.com")
	require.NoError(t, err)
	require.NotNil(t, user.LastLoginAt)
}

func TestAuthenticator_Resubmission(t *testing.T) {
	t.Run("new credentials replace a pending challenge", func(t *testing.T) {
		f := newFixture(t, nil)
		f.login(t, "customer@test.com", repository.DemoPassword)
		f.verify(t, wrongCode(f.deliverer.last()))

		res := f.login(t, "rm@test.com", repository.DemoPassword)
		require.Equal(t, StatusChallenged, res.Status)
		assert.Equal(t, 3, f.auth.Snapshot().RemainingCodeAttempts)

		verified := f.verify(t, f.deliverer.last())
		require.Equal(t, StatusAuthenticated, verified.Status)
		assert.Equal(t, model.RoleRelationshipManager, verified.User.Role)
		assert.Equal(t, "/rm", verified.Dashboard)
	})

	t.Run("logging in again ends the current session", func(t *testing.T) {
		f := newFixture(t, nil)
		first := f.signIn(t)

		res := f.login(t, "director@test.com", repository.DemoPassword)
		require.Equal(t, StatusAuthenticated, res.Status)
		assert.NotEqual(t, first.Session.Token, res.Session.Token)

		endings := f.endings()
		require.Len(t, endings, 1)
		assert.Equal(t, EndReasonSuperseded, endings[0].Reason)
		assert.Equal(t, first.User.ID, endings[0].UserID)
	})
}

func TestAuthenticator_Revoke(t *testing.T) {
	f := newFixture(t, nil)
	signedIn := f.signIn(t)

	assert.False(t, f.auth.Revoke("someone-else"))
	assert.Equal(t, StateAuthenticated, f.auth.State())

	assert.True(t, f.auth.Revoke(signedIn.User.ID))
	assert.Equal(t, StateAnonymous, f.auth.State())

	endings := f.endings()
	require.Len(t, endings, 1)
	assert.Equal(t, EndReasonRevoked, endings[0].Reason)
}

func TestAuthenticator_SessionMatches(t *testing.T) {
	f := newFixture(t, nil)
	assert.False(t, f.auth.SessionMatches(""))

	signedIn := f.signIn(t)
	assert.True(t, f.auth.SessionMatches(signedIn.Session.Token))
	assert.False(t, f.auth.SessionMatches("forged"))
	assert.False(t, f.auth.SessionMatches(""))

	f.auth.Logout()
	assert.False(t, f.auth.SessionMatches(signedIn.Session.Token))
}

func TestAuthenticator_ProductionMode(t *testing.T) {
	f := newFixture(t, func(p *Policy) { p.DemoMode = false })

	res := f.login(t, "customer@test.com", repository.DemoPassword)
	require.Equal(t, StatusChallenged, res.Status)
	assert.Empty(t, res.Delivery.DemoCode)

	code := f.deliverer.last()
	if code != "111111" {
		assert.Equal(t, StatusRejected, f.verify(t, "111111").Status)
	}
	assert.Equal(t, StatusAuthenticated, f.verify(t, code).Status)
}

func TestAuthenticator_DeliveryFailureDoesNotChangeOutcome(t *testing.T) {
	f := newFixture(t, nil)
	f.deliverer.err = errors.New("gateway down")

	res := f.login(t, "customer@test.com", repository.DemoPassword)
	assert.Equal(t, StatusChallenged, res.Status)
	assert.Equal(t, StateAwaitingMFA, f.auth.State())
}

func TestAuthenticator_ConcurrentCalls(t *testing.T) {
	f := newFixture(t, nil)
	f.login(t, "customer@test.com", repository.DemoPassword)
	code := f.deliverer.last()

	var wg sync.WaitGroup
	results := make(chan Status, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			res, err := f.auth.VerifyCode(context.Background(), code)
			if err == nil {
				results <- res.Status
			}
		}()
		go func() {
			defer wg.Done()
			f.auth.RecordActivity()
			_ = f.auth.Snapshot()
		}()
	}
	wg.Wait()
	close(results)

	authenticated := 0
	for status := range results {
		if status == StatusAuthenticated {
			authenticated++
		} else {
			assert.Equal(t, StatusNoChallengePending, status)
		}
	}
	assert.Equal(t, 1, authenticated)
	assert.Equal(t, 2, f.clock.Pending())
}

func advanceWhenBlocked(t *testing.T, c *clock.Fake, d time.Duration) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Pending() > 0 }, time.Second, time.Millisecond)
	c.Advance(d)
}

// hookedUsers runs beforeEmail ahead of every FindByEmail.
type hookedUsers struct {
	repository.UserRepository
	beforeEmail func(email string)
}

func (h *hookedUsers) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if h.beforeEmail != nil {
		h.beforeEmail(email)
	}
	return h.UserRepository.FindByEmail(ctx, email)
}

func deactivate(t *testing.T, users repository.UserRepository, email string) string {
	t.Helper()
	ctx := context.Background()
	user, err := users.FindByEmail(ctx, email)
	require.NoError(t, err)
	require.NotNil(t, user)
	_, err = users.Update(ctx, user.ID, func(u *model.User) error {
		u.IsActive = false
		return nil
	})
	require.NoError(t, err)
	return user.ID
}

func TestAuthenticator_AccountChangesDuringLogin(t *testing.T) {
	t.Run("deactivation racing the password check", func(t *testing.T) {
		for _, email := range []string{"customer@test.com", "director@test.com"} {
			t.Run(email, func(t *testing.T) {
				f := newFixture(t, nil)
				hooked := &hookedUsers{UserRepository: f.users}
				f.auth.users = hooked

				var revoked bool
				hooked.beforeEmail = func(string) {
					hooked.beforeEmail = nil
					id := deactivate(t, f.users, email)
					revoked = f.auth.Revoke(id)
				}

				res := f.login(t, email, repository.DemoPassword)
				assert.False(t, revoked, "nothing to revoke before the login lands")
				assert.Equal(t, StatusRejected, res.Status)
				assert.Equal(t, apperrors.ErrCodeAccountInactive, res.Reason)
				assert.Equal(t, StateAnonymous, f.auth.State())
				assert.Nil(t, res.Session)
				assert.False(t, f.auth.Authorize(ActionViewProducts, Resource{}))
			})
		}
	})

	t.Run("deactivation while the code is pending", func(t *testing.T) {
		f := newFixture(t, nil)
		require.Equal(t, StatusChallenged, f.login(t, "customer@test.com", repository.DemoPassword).Status)

		deactivate(t, f.users, "customer@test.com")

		res := f.verify(t, f.deliverer.last())
		assert.Equal(t, StatusRejected, res.Status)
		assert.Equal(t, apperrors.ErrCodeAccountInactive, res.Reason)
		assert.Equal(t, StateAnonymous, f.auth.State())
		assert.False(t, f.auth.Authorize(ActionViewProducts, Resource{}))
		assert.Equal(t, StatusNoChallengePending, f.verify(t, "111111").Status)
	})

	t.Run("role change while the code is pending", func(t *testing.T) {
		f := newFixture(t, nil)
		require.Equal(t, StatusChallenged, f.login(t, "customer@test.com", repository.DemoPassword).Status)

		user, err := f.users.FindByEmail(context.Background(), "customer@test.com")
		require.NoError(t, err)
		_, err = f.users.Update(context.Background(), user.ID, func(u *model.User) error {
			u.Role = model.RoleRelationshipManager
			u.AccessScope = &model.AccessScope{Products: []string{"term-loan"}, MaxAmount: 1000}
			return nil
		})
		require.NoError(t, err)

		res := f.verify(t, f.deliverer.last())
		require.Equal(t, StatusAuthenticated, res.Status)
		assert.Equal(t, model.RoleRelationshipManager, res.User.Role)
		assert.Equal(t, "/rm", res.Dashboard)
	})
}

// countingFailures is an in-process FailureLog.
type countingFailures struct {
	mu     sync.Mutex
	limit  int
	counts map[string]int
	err    error
}

func newCountingFailures(limit int) *countingFailures {
	return &countingFailures{limit: limit, counts: map[string]int{}}
}

func (c *countingFailures) Locked(ctx context.Context, email string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	return c.counts[email] >= c.limit, nil
}

func (c *countingFailures) RecordFailure(ctx context.Context, email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[email]++
	return nil
}

func (c *countingFailures) Reset(ctx context.Context, email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, email)
	return nil
}

func (c *countingFailures) count(email string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[email]
}

func TestAuthenticator_AccountLockoutAcrossInstances(t *testing.T) {
	newPair := func(t *testing.T) (*fixture, *Authenticator, *countingFailures) {
		failures := newCountingFailures(3)
		f := newFixture(t, nil)
		f.auth.failures = failures
		other := New(Options{Users: f.users, Deliverer: f.deliverer, Clock: f.clock, Policy: f.auth.policy, Failures: failures})
		return f, other, failures
	}

	t.Run("a fresh instance inherits the lockout", func(t *testing.T) {
		f, other, failures := newPair(t)
		for range 3 {
			f.login(t, "Customer@Test.com", "wrong-password")
		}
		assert.Equal(t, 3, failures.count("customer@test.com"))

		res, err := other.SubmitCredentials(context.Background(), "customer@test.com", repository.DemoPassword)
		require.NoError(t, err)
		assert.Equal(t, StatusLockedOut, res.Status)
		assert.Equal(t, apperrors.ErrCodeLockedOut, res.Reason)
		assert.Equal(t, StateLocked, other.State())
		assert.Zero(t, f.deliverer.count())
	})

	t.Run("other accounts are unaffected", func(t *testing.T) {
		f, other, _ := newPair(t)
		for range 3 {
			f.login(t, "customer@test.com", "wrong-password")
		}

		res, err := other.SubmitCredentials(context.Background(), "director@test.com", repository.DemoPassword)
		require.NoError(t, err)
		assert.Equal(t, StatusAuthenticated, res.Status)
	})

	t.Run("unknown emails are counted too", func(t *testing.T) {
		f, _, failures := newPair(t)
		f.login(t, "nobody@test.com", "whatever")
		assert.Equal(t, 1, failures.count("nobody@test.com"))
	})

	t.Run("a correct password clears the count", func(t *testing.T) {
		f, _, failures := newPair(t)
		f.login(t, "customer@test.com", "wrong-password")
		f.login(t, "customer@test.com", "wrong-password")

		require.Equal(t, StatusChallenged, f.login(t, "customer@test.com", repository.DemoPassword).Status)
		assert.Zero(t, failures.count("customer@test.com"))
	})

	t.Run("an unavailable failure log is an error", func(t *testing.T) {
		f, _, failures := newPair(t)
		failures.err = errors.New("redis down")

		_, err := f.auth.SubmitCredentials(context.Background(), "customer@test.com", repository.DemoPassword)
		assert.Error(t, err)
		assert.Equal(t, StateAnonymous, f.auth.State())
	})
}

func TestDummyHashFollowsCost(t *testing.T) {
	hash := dummyHash(bcrypt.MinCost + 1)
	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost+1, cost)
	assert.Equal(t, hash, dummyHash(bcrypt.MinCost+1))

	cost, err = bcrypt.Cost([]byte(dummyHash(0)))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.DefaultCost, cost)
}
