package auth

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/smeportal/onboarding-server/internal/errors"
	"github.com/smeportal/onboarding-server/internal/model"
)

// State is the lifecycle position of one authenticator instance.
type State string

const (
	StateAnonymous     State = "anonymous"
	StateAwaitingMFA   State = "awaiting_mfa"
	StateAuthenticated State = "authenticated"
	StateLocked        State = "locked"
)

// Status discriminates the typed results returned by the authenticator.
type Status string

const (
	StatusChallenged         Status = "challenged"
	StatusAuthenticated      Status = "authenticated"
	StatusRejected           Status = "rejected"
	StatusLockedOut          Status = "locked_out"
	StatusExpired            Status = "expired"
	StatusRestartRequired    Status = "restart_required"
	StatusNoChallengePending Status = "no_challenge_pending"
	StatusIssued             Status = "issued"
	StatusCooldownActive     Status = "cooldown_active"
)

// EndReason explains why an authenticated session ended.
type EndReason string

const (
	EndReasonLogout     EndReason = "logout"
	EndReasonIdle       EndReason = "idle_timeout"
	EndReasonExpired    EndReason = "session_expired"
	EndReasonRevoked    EndReason = "revoked"
	EndReasonSuperseded EndReason = "superseded"
)

// Challenge is the one-time code outstanding for an in-flight login.
type Challenge struct {
	Code         string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	AttemptsUsed int
	MaxAttempts  int
}

func (c *Challenge) expiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

type Session struct {
	Token         string    `json:"-"`
	SubjectUserID string    `json:"subjectUserId"`
	IssuedAt      time.Time `json:"issuedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// Policy holds the limits and timings the state machine enforces.
type Policy struct {
	MaxLoginAttempts int
	MaxCodeAttempts  int
	CodeDigits       int
	ChallengeTTL     time.Duration
	ResendCooldown   time.Duration
	IdleTimeout      time.Duration
	SessionTTL       time.Duration
	// Latency models the remote call behind login and verification.
	Latency time.Duration
	// DemoMode returns issued codes to the caller and accepts UniversalCode.
	DemoMode      bool
	UniversalCode string
	// HashCost is the bcrypt cost account passwords are hashed with.
	HashCost int
}

func DefaultPolicy() Policy {
	return Policy{
		MaxLoginAttempts: 3,
		MaxCodeAttempts:  3,
		CodeDigits:       6,
		ChallengeTTL:     5 * time.Minute,
		ResendCooldown:   30 * time.Second,
		IdleTimeout:      15 * time.Minute,
		SessionTTL:       24 * time.Hour,
		Latency:          400 * time.Millisecond,
		DemoMode:         true,
		UniversalCode:    "111111",
		HashCost:         bcrypt.DefaultCost,
	}
}

// Delivery acknowledges that a code was sent. DemoCode is only set in demo mode.
type Delivery struct {
	Destination string    `json:"destination"`
	ExpiresAt   time.Time `json:"expiresAt"`
	DemoCode    string    `json:"demoCode,omitempty"`
}

type LoginResult struct {
	Status            Status              `json:"status"`
	Reason            apperrors.ErrorCode `json:"reason,omitempty"`
	Message           string              `json:"message,omitempty"`
	RemainingAttempts int                 `json:"remainingAttempts"`
	Delivery          *Delivery           `json:"delivery,omitempty"`
	User              *model.User         `json:"user,omitempty"`
	Session           *Session            `json:"session,omitempty"`
	Dashboard         string              `json:"dashboard,omitempty"`
}

type VerifyResult struct {
	Status            Status              `json:"status"`
	Reason            apperrors.ErrorCode `json:"reason,omitempty"`
	Message           string              `json:"message,omitempty"`
	RemainingAttempts int                 `json:"remainingAttempts"`
	User              *model.User         `json:"user,omitempty"`
	Session           *Session            `json:"session,omitempty"`
	Dashboard         string              `json:"dashboard,omitempty"`
}

type ResendResult struct {
	Status           Status              `json:"status"`
	Reason           apperrors.ErrorCode `json:"reason,omitempty"`
	Message          string              `json:"message,omitempty"`
	SecondsRemaining int                 `json:"secondsRemaining,omitempty"`
	Delivery         *Delivery           `json:"delivery,omitempty"`
}

// Notification is emitted whenever an authenticated session ends.
type Notification struct {
	UserID string    `json:"userId"`
	Reason EndReason `json:"reason"`
	At     time.Time `json:"at"`
}

// Snapshot is a read-only view of an authenticator.
type Snapshot struct {
	State                 State       `json:"state"`
	User                  *model.User `json:"user,omitempty"`
	Dashboard             string      `json:"dashboard,omitempty"`
	SessionExpiresAt      *time.Time  `json:"sessionExpiresAt,omitempty"`
	IdleExpiresAt         *time.Time  `json:"idleExpiresAt,omitempty"`
	ChallengeExpiresAt    *time.Time  `json:"challengeExpiresAt,omitempty"`
	RemainingCodeAttempts int         `json:"remainingCodeAttempts,omitempty"`
	LoginAttempts         int         `json:"loginAttempts"`
}
