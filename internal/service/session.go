package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smeportal/onboarding-server/internal/auth"
	"github.com/smeportal/onboarding-server/internal/clock"
	"github.com/smeportal/onboarding-server/internal/sse"
	"github.com/smeportal/onboarding-server/internal/util"
)

const (
	EventSessionEnded = "session_ended"

	publishTimeout = 5 * time.Second
)

type SessionConfig struct {
	Secret      string
	InstanceTTL time.Duration
	Policy      auth.Policy
	Users       auth.UserStore
	Deliverer   auth.CodeDeliverer
	Clock       clock.Clock
	// Failures shares failed sign-in counts between instances.
	Failures auth.FailureLog
}

type registryEntry struct {
	auth     *auth.Authenticator
	lastSeen time.Time
}

// SessionService keeps one authenticator per browser client. Clients are
// identified by a random token held in a cookie; the registry only ever
// stores an HMAC of it.
type SessionService struct {
	cfg    SessionConfig
	clock  clock.Clock
	broker *sse.Broker

	mu      sync.Mutex
	entries map[string]*registryEntry
}

func NewSessionService(cfg SessionConfig, broker *sse.Broker) *SessionService {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &SessionService{
		cfg:     cfg,
		clock:   cfg.Clock,
		broker:  broker,
		entries: make(map[string]*registryEntry),
	}
}

// ClientKey is the registry and event-stream key for a client token.
func (s *SessionService) ClientKey(token string) string {
	return util.HmacSHA256(s.cfg.Secret, token)
}

// Acquire returns the authenticator bound to token. An empty or unknown
// token gets a fresh client token and instance; created reports that case.
func (s *SessionService) Acquire(token string) (a *auth.Authenticator, clientToken string, created bool, err error) {
	if token != "" {
		if a, ok := s.Lookup(token); ok {
			return a, token, false, nil
		}
	}

	clientToken, err = util.GenerateToken()
	if err != nil {
		return nil, "", false, fmt.Errorf("generate client token: %w", err)
	}

	key := s.ClientKey(clientToken)
	a = auth.New(auth.Options{
		Users:     s.cfg.Users,
		Failures:  s.cfg.Failures,
		Deliverer: s.cfg.Deliverer,
		Clock:     s.clock,
		Policy:    s.cfg.Policy,
		OnSessionEnded: func(n auth.Notification) {
			s.publishEnded(key, n)
		},
	})

	s.mu.Lock()
	s.entries[key] = &registryEntry{auth: a, lastSeen: s.clock.Now()}
	s.mu.Unlock()

	return a, clientToken, true, nil
}

// Lookup finds the authenticator for token without creating one.
func (s *SessionService) Lookup(token string) (*auth.Authenticator, bool) {
	if token == "" {
		return nil, false
	}
	key := s.ClientKey(token)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	entry.lastSeen = s.clock.Now()
	return entry.auth, true
}

// EndSessionsForUser revokes every login or session held by userID and
// returns how many instances were affected.
func (s *SessionService) EndSessionsForUser(userID string) int {
	ended := 0
	for _, a := range s.instances() {
		if a.Revoke(userID) {
			ended++
		}
	}
	if ended > 0 {
		log.Info().Str("userId", userID).Int("count", ended).Msg("sessions revoked")
	}
	return ended
}

// Sweep evicts instances unused for longer than the instance TTL that do not
// hold an authenticated session. Authenticated instances end through their
// own idle and expiry timers and are swept afterwards.
func (s *SessionService) Sweep(now time.Time) int {
	s.mu.Lock()
	var stale []string
	for key, entry := range s.entries {
		if now.Sub(entry.lastSeen) > s.cfg.InstanceTTL {
			stale = append(stale, key)
		}
	}
	s.mu.Unlock()

	evicted := 0
	for _, key := range stale {
		s.mu.Lock()
		entry, ok := s.entries[key]
		if ok && now.Sub(entry.lastSeen) > s.cfg.InstanceTTL && entry.auth.State() != auth.StateAuthenticated {
			delete(s.entries, key)
			evicted++
		}
		s.mu.Unlock()
	}
	return evicted
}

func (s *SessionService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// CountByState groups live instances by lifecycle state.
func (s *SessionService) CountByState() map[auth.State]int {
	counts := make(map[auth.State]int)
	for _, a := range s.instances() {
		counts[a.State()]++
	}
	return counts
}

func (s *SessionService) instances() []*auth.Authenticator {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*auth.Authenticator, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry.auth)
	}
	return out
}

func (s *SessionService) publishEnded(key string, n auth.Notification) {
	if s.broker == nil {
		return
	}

	data, err := json.Marshal(n)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode session event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := s.broker.Publish(ctx, key, sse.Event{Type: EventSessionEnded, Data: data}); err != nil {
		log.Warn().Err(err).Str("reason", string(n.Reason)).Msg("failed to publish session event")
	}
}
