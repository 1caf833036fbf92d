package safety

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_AllowConsumesTokensUpToCapacity(t *testing.T) {
	rl := NewRateLimiter("test", 2, 1)
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow(), "third call must be rejected with an empty bucket")
}

func TestRateLimiter_RefillsTokensAfterElapsedTime(t *testing.T) {
	rl := NewRateLimiter("test", 1, 1)
	require.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	rl.lastRefill = time.Now().Add(-2 * time.Second)
	assert.True(t, rl.Allow(), "a token must be available after the refill window elapses")
}

func TestRateLimiter_WaitBlocksUntilATokenIsAvailable(t *testing.T) {
	rl := NewRateLimiter("test", 1, 1)
	require.True(t, rl.Allow())

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rl.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}

func TestRateLimiter_WaitReturnsContextErrorOnExpiry(t *testing.T) {
	rl := NewRateLimiter("test", 1, 1)
	require.True(t, rl.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := rl.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimiterManager_GetOrCreateReturnsSameInstanceForSameName(t *testing.T) {
	mgr := NewRateLimiterManager()
	a := mgr.GetOrCreate("broker_orders", 5, 5)
	b := mgr.GetOrCreate("broker_orders", 10, 10)
	assert.Same(t, a, b, "a second GetOrCreate with the same name must not replace the limiter")

	_, ok := mgr.Get("unknown")
	assert.False(t, ok)
}
