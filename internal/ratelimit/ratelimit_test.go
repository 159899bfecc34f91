package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalFor(t *testing.T) {
	tests := []struct {
		rpm      int
		expected time.Duration
	}{
		{20, 3 * time.Second},
		{30, 2 * time.Second},
		{7, 8572 * time.Millisecond},
		{0, 0},
		{-1, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, IntervalFor(tt.rpm), "rpm=%d", tt.rpm)
	}
}

func TestPerMinuteDisabled(t *testing.T) {
	l := PerMinute(0)
	assert.Zero(t, l.Interval())

	start := time.Now()
	for range 5 {
		require.NoError(t, l.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_FirstWaitIsImmediate(t *testing.T) {
	l := New(time.Hour, 0)

	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiter_SpacesActions(t *testing.T) {
	l := New(50*time.Millisecond, 0)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx))
	start := time.Now()
	require.NoError(t, l.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 45*time.Millisecond)
}

func TestLimiter_ConcurrentCallersGetDistinctSlots(t *testing.T) {
	l := New(30*time.Millisecond, 0)
	ctx := context.Background()

	start := time.Now()
	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Wait(ctx))
		}()
	}
	wg.Wait()

	// slots at 0, 30ms and 60ms
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}

func TestLimiter_ContextCancel(t *testing.T) {
	l := New(time.Hour, 0)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}

func TestBackoff_WidensAfterFailures(t *testing.T) {
	b := NewBackoff(2*time.Second, time.Minute)

	b.Failure()
	b.Failure()
	assert.Equal(t, 2*time.Second, b.Base())

	b.Failure()
	assert.Equal(t, 3*time.Second, b.Base())

	for range 30 {
		b.Failure()
	}
	assert.Equal(t, 30*time.Second, b.Base())
}

func TestBackoff_NarrowsAfterSuccesses(t *testing.T) {
	b := NewBackoff(10*time.Second, time.Minute)

	for range 6 {
		b.Success()
	}
	assert.Equal(t, 9*time.Second, b.Base())

	for range 200 {
		b.Success()
	}
	assert.Equal(t, time.Second, b.Base())
}

func TestBackoff_Delay(t *testing.T) {
	b := NewBackoff(time.Second, 2*time.Minute)

	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 4*time.Second, b.Delay(3))
	assert.Equal(t, 2*time.Minute, b.Delay(20))
}
