package service

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smeportal/onboarding-server/internal/clock"
)

func TestMemoryRateLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("allows requests within limit", func(t *testing.T) {
		fc := clock.NewFake(testStart)
		limiter := NewMemoryRateLimiter(fc)

		for i := 0; i < 3; i++ {
			allowed, _ := limiter.CheckLimit(ctx, "login:1.2.3.4", 3, time.Minute)
			assert.True(t, allowed, "Request %d should be allowed", i+1)
		}

		allowed, resetAt := limiter.CheckLimit(ctx, "login:1.2.3.4", 3, time.Minute)
		assert.False(t, allowed)
		assert.Equal(t, testStart.Add(time.Minute), resetAt)
	})

	t.Run("sliding window behavior", func(t *testing.T) {
		fc := clock.NewFake(testStart)
		limiter := NewMemoryRateLimiter(fc)

		allowed, _ := limiter.CheckLimit(ctx, "k", 2, 10*time.Second)
		assert.True(t, allowed)
		fc.Advance(5 * time.Second)
		allowed, _ = limiter.CheckLimit(ctx, "k", 2, 10*time.Second)
		assert.True(t, allowed)
		allowed, _ = limiter.CheckLimit(ctx, "k", 2, 10*time.Second)
		assert.False(t, allowed)

		// the first hit leaves the window
		fc.Advance(5*time.Second + time.Millisecond)
		allowed, _ = limiter.CheckLimit(ctx, "k", 2, 10*time.Second)
		assert.True(t, allowed)
	})

	t.Run("different keys are independent", func(t *testing.T) {
		limiter := NewMemoryRateLimiter(clock.NewFake(testStart))

		allowed, _ := limiter.CheckLimit(ctx, "a", 1, time.Minute)
		assert.True(t, allowed)
		allowed, _ = limiter.CheckLimit(ctx, "a", 1, time.Minute)
		assert.False(t, allowed)
		allowed, _ = limiter.CheckLimit(ctx, "b", 1, time.Minute)
		assert.True(t, allowed)
	})

	t.Run("stale keys are cleaned up", func(t *testing.T) {
		fc := clock.NewFake(testStart)
		limiter := NewMemoryRateLimiter(fc)

		limiter.CheckLimit(ctx, "old", 1, time.Minute)
		fc.Advance(2 * time.Minute)
		limiter.CheckLimit(ctx, "new", 1, time.Minute)

		limiter.mu.Lock()
		defer limiter.mu.Unlock()
		assert.NotContains(t, limiter.entries, "old")
		assert.Contains(t, limiter.entries, "new")
	})

	t.Run("sweep drops keys once their window has passed", func(t *testing.T) {
		fc := clock.NewFake(testStart)
		limiter := NewMemoryRateLimiter(fc)

		limiter.CheckLimit(ctx, "short", 1, time.Minute)
		limiter.CheckLimit(ctx, "long", 1, 15*time.Minute)

		assert.Equal(t, 0, limiter.Sweep(testStart.Add(30*time.Second)))
		assert.Equal(t, 1, limiter.Sweep(testStart.Add(2*time.Minute)))
		assert.Equal(t, 0, limiter.Sweep(testStart.Add(10*time.Minute)))
		assert.Equal(t, 1, limiter.Sweep(testStart.Add(16*time.Minute)))
	})

	t.Run("short windows do not evict longer ones", func(t *testing.T) {
		fc := clock.NewFake(testStart)
		limiter := NewMemoryRateLimiter(fc)

		limiter.CheckLimit(ctx, "login-failures:a@test.com", 3, 15*time.Minute)
		fc.Advance(5 * time.Minute)
		limiter.CheckLimit(ctx, "login:1.2.3.4", 10, time.Minute)

		n, err := limiter.Count(ctx, "login-failures:a@test.com", 15*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("count does not record a hit", func(t *testing.T) {
		fc := clock.NewFake(testStart)
		limiter := NewMemoryRateLimiter(fc)

		n, err := limiter.Count(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.Zero(t, n)

		limiter.CheckLimit(ctx, "k", 5, time.Minute)
		limiter.CheckLimit(ctx, "k", 5, time.Minute)
		n, _ = limiter.Count(ctx, "k", time.Minute)
		assert.Equal(t, 2, n)

		fc.Advance(time.Minute)
		n, _ = limiter.Count(ctx, "k", time.Minute)
		assert.Zero(t, n)
	})

	t.Run("reset forgets the key", func(t *testing.T) {
		limiter := NewMemoryRateLimiter(clock.NewFake(testStart))

		allowed, _ := limiter.CheckLimit(ctx, "k", 1, time.Minute)
		require.True(t, allowed)
		require.NoError(t, limiter.Reset(ctx, "k"))
		allowed, _ = limiter.CheckLimit(ctx, "k", 1, time.Minute)
		assert.True(t, allowed)
	})
}

func TestRateLimiter_Redis(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	defer client.Close()

	ctx := context.Background()
	fc := clock.NewFake(time.Now())
	limiter := NewRateLimiter(client, fc)
	require.NoError(t, limiter.Reset(ctx, "test:login"))

	for i := 0; i < 3; i++ {
		allowed, _ := limiter.CheckLimit(ctx, "test:login", 3, 10*time.Second)
		assert.True(t, allowed, "Request %d should be allowed", i+1)
	}

	allowed, resetAt := limiter.CheckLimit(ctx, "test:login", 3, 10*time.Second)
	assert.False(t, allowed)
	assert.Equal(t, fc.Now().Add(10*time.Second).UnixMilli(), resetAt.UnixMilli())

	n, err := limiter.Count(ctx, "test:login", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	fc.Advance(11 * time.Second)
	n, err = limiter.Count(ctx, "test:login", 10*time.Second)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, limiter.Reset(ctx, "test:login"))
}

func TestRateLimiter_FailsClosed(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	fc := clock.NewFake(testStart)
	limiter := NewRateLimiter(client, fc)
	allowed, resetAt := limiter.CheckLimit(context.Background(), "test:key", 1, time.Minute)
	assert.False(t, allowed)
	assert.Equal(t, testStart.Add(time.Minute), resetAt)

	_, err := limiter.Count(context.Background(), "test:key", time.Minute)
	assert.Error(t, err)
}
