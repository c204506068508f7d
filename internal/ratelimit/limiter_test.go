package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_GrantsUpToCapacity(t *testing.T) {
	l := NewLimiter("test/fund_nav", 3, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	assert.Equal(t, 3, l.InFlight())

	// Fourth call cannot be served within the deadline.
	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, ErrBudgetTimeout)
	assert.Equal(t, 3, l.InFlight())
}

func TestLimiter_WindowBoundNeverExceeded(t *testing.T) {
	// Drive the clock manually and verify the invariant: never more
	// than capacity grants inside any rolling window.
	l := NewLimiter("test/fund_nav", 2, time.Minute)
	now := time.Unix(1700000000, 0)
	l.now = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx))

	now = now.Add(30 * time.Second)
	require.NoError(t, l.Acquire(ctx))
	assert.Equal(t, 2, l.InFlight())

	// 61s after the first grant it leaves the window, opening one slot.
	now = now.Add(31 * time.Second)
	assert.Equal(t, 1, l.InFlight())
	require.NoError(t, l.Acquire(ctx))
	assert.Equal(t, 2, l.InFlight())
}

func TestLimiter_BlocksUntilSlotOpens(t *testing.T) {
	l := NewLimiter("test/fund_nav", 1, 80*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, l.Acquire(ctx))

	start := time.Now()
	require.NoError(t, l.Acquire(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_ConcurrentAcquire(t *testing.T) {
	const capacity = 5
	l := NewLimiter("test/fund_nav", capacity, time.Minute)

	var wg sync.WaitGroup
	granted := make(chan struct{}, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
			defer cancel()
			if l.Acquire(ctx) == nil {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	count := 0
	for range granted {
		count++
	}
	assert.Equal(t, capacity, count)
	assert.Equal(t, capacity, l.InFlight())
}

func TestRegistry_UnconfiguredEndpointIsUnlimited(t *testing.T) {
	r := NewRegistry()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	for i := 0; i < 100; i++ {
		assert.NoError(t, r.Acquire(ctx, "eastmoney", "fund_nav"))
	}
}

func TestRegistry_SeparateEndpointsDoNotContend(t *testing.T) {
	r := NewRegistry()
	r.Register("eastmoney", "fund_nav", 1, time.Minute)
	r.Register("sina", "fund_quote", 1, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, r.Acquire(ctx, "eastmoney", "fund_nav"))
	// Exhausting one endpoint leaves the other's budget untouched.
	assert.ErrorIs(t, r.Acquire(ctx, "eastmoney", "fund_nav"), ErrBudgetTimeout)
	assert.NoError(t, r.Acquire(ctx, "sina", "fund_quote"))
}
