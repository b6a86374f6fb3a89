package service

import (
	"context"
	"sync"
	"time"

	"github.com/smeportal/onboarding-server/internal/clock"
)

const (
	memoryLimiterMaxKeys     = 10000
	memoryLimiterCleanupTick = time.Minute
)

type limiterEntry struct {
	hits   []time.Time
	window time.Duration
}

// prune drops hits that have left the window and reports how many remain.
func (e *limiterEntry) prune(now time.Time, window time.Duration) int {
	e.window = window
	windowStart := now.Add(-window)
	kept := e.hits[:0]
	for _, ts := range e.hits {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}
	e.hits = kept
	return len(kept)
}

// stale reports that no hit is left inside the window the key was last used with.
func (e *limiterEntry) stale(now time.Time) bool {
	return len(e.hits) == 0 || !e.hits[len(e.hits)-1].After(now.Add(-e.window))
}

// MemoryRateLimiter is the single-instance Limiter used when no Redis is
// configured.
type MemoryRateLimiter struct {
	clock clock.Clock

	mu          sync.Mutex
	entries     map[string]*limiterEntry
	lastCleanup time.Time
}

func NewMemoryRateLimiter(c clock.Clock) *MemoryRateLimiter {
	if c == nil {
		c = clock.New()
	}
	return &MemoryRateLimiter{
		clock:       c,
		entries:     make(map[string]*limiterEntry),
		lastCleanup: c.Now(),
	}
}

func (rl *MemoryRateLimiter) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	rl.cleanup(now)

	entry, ok := rl.entries[key]
	if !ok {
		entry = &limiterEntry{}
		rl.entries[key] = entry
	}

	if entry.prune(now, window) >= limit {
		return false, entry.hits[0].Add(window)
	}

	entry.hits = append(entry.hits, now)
	return true, now.Add(window)
}

func (rl *MemoryRateLimiter) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.entries[key]
	if !ok {
		return 0, nil
	}
	return entry.prune(rl.clock.Now(), window), nil
}

func (rl *MemoryRateLimiter) Reset(ctx context.Context, key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.entries, key)
	return nil
}

func (rl *MemoryRateLimiter) cleanup(now time.Time) {
	if now.Sub(rl.lastCleanup) < memoryLimiterCleanupTick && len(rl.entries) < memoryLimiterMaxKeys {
		return
	}
	rl.lastCleanup = now
	rl.evictStale(now)
}

func (rl *MemoryRateLimiter) evictStale(now time.Time) int {
	evicted := 0
	for key, entry := range rl.entries {
		if entry.stale(now) {
			delete(rl.entries, key)
			evicted++
		}
	}
	return evicted
}

// Sweep drops keys with no hit left inside their window.
func (rl *MemoryRateLimiter) Sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.evictStale(now)
}
