package service

import (
	"context"
	"fmt"
	"time"

	"github.com/smeportal/onboarding-server/internal/util"
)

// LoginFailures counts failed sign-ins per account email on the shared
// Limiter, so a lockout holds across browsers and server instances.
// Unknown emails are counted like real ones.
type LoginFailures struct {
	limiter Limiter
	limit   int
	window  time.Duration
}

func NewLoginFailures(limiter Limiter, limit int, window time.Duration) *LoginFailures {
	return &LoginFailures{limiter: limiter, limit: limit, window: window}
}

func (f *LoginFailures) key(email string) string {
	return "login-failures:" + util.NormalizeEmail(email)
}

// Locked reports whether email has used up its failures in the window.
func (f *LoginFailures) Locked(ctx context.Context, email string) (bool, error) {
	n, err := f.limiter.Count(ctx, f.key(email), f.window)
	if err != nil {
		return false, fmt.Errorf("count login failures: %w", err)
	}
	return n >= f.limit, nil
}

func (f *LoginFailures) RecordFailure(ctx context.Context, email string) error {
	f.limiter.CheckLimit(ctx, f.key(email), f.limit, f.window)
	return nil
}

// Reset clears the count after a correct password.
func (f *LoginFailures) Reset(ctx context.Context, email string) error {
	return f.limiter.Reset(ctx, f.key(email))
}
