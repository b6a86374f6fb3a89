package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	t.Run("fires due timers in order", func(t *testing.T) {
		c := NewFake(start)
		var order []string
		c.AfterFunc(2*time.Second, func() { order = append(order, "b") })
		c.AfterFunc(time.Second, func() { order = append(order, "a") })
		c.AfterFunc(5*time.Second, func() { order = append(order, "c") })

		c.Advance(3 * time.Second)

		assert.Equal(t, []string{"a", "b"}, order)
		assert.Equal(t, start.Add(3*time.Second), c.Now())
		assert.Equal(t, 1, c.Pending())
	})

	t.Run("stopped timers never fire", func(t *testing.T) {
		c := NewFake(start)
		fired := false
		tm := c.AfterFunc(time.Second, func() { fired = true })

		assert.True(t, tm.Stop())
		assert.False(t, tm.Stop())
		c.Advance(time.Minute)

		assert.False(t, fired)
		assert.Equal(t, 0, c.Pending())
	})

	t.Run("callback sees deadline as now", func(t *testing.T) {
		c := NewFake(start)
		var seen time.Time
		c.AfterFunc(10*time.Second, func() { seen = c.Now() })

		c.Advance(time.Minute)

		assert.Equal(t, start.Add(10*time.Second), seen)
	})

	t.Run("timers armed from a callback fire in the same advance", func(t *testing.T) {
		c := NewFake(start)
		count := 0
		c.AfterFunc(time.Second, func() {
			count++
			c.AfterFunc(time.Second, func() { count++ })
		})

		c.Advance(5 * time.Second)

		assert.Equal(t, 2, count)
	})
}

func TestSleep(t *testing.T) {
	t.Run("zero duration returns immediately", func(t *testing.T) {
		err := Sleep(context.Background(), NewFake(time.Now()), 0)
		assert.NoError(t, err)
	})

	t.Run("cancelled context aborts the wait", func(t *testing.T) {
		c := NewFake(time.Now())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := Sleep(ctx, c, time.Hour)
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, c.Pending())
	})

	t.Run("real clock sleeps", func(t *testing.T) {
		started := time.Now()
		err := Sleep(context.Background(), New(), 5*time.Millisecond)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(started), 5*time.Millisecond)
	})
}
