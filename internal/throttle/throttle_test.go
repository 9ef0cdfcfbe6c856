package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupCooldown(t *testing.T, window time.Duration) (*Cooldown, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCooldown(rdb, "resend:verification", window), mr
}

func TestCooldown_SecondCallWithinWindowDenied(t *testing.T) {
	c, _ := setupCooldown(t, time.Minute)
	ctx := context.Background()

	ok, _, err := c.Allow(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, retry, err := c.Allow(ctx, "user-1")
	require.NoError(t, err)
	require.False(t, ok)
	require.Greater(t, retry, time.Duration(0))
	require.LessOrEqual(t, retry, time.Minute)

	ok, _, err = c.Allow(ctx, "user-2")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCooldown_ExpiresAfterWindow(t *testing.T) {
	c, mr := setupCooldown(t, time.Minute)
	ctx := context.Background()

	ok, _, err := c.Allow(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(61 * time.Second)

	ok, _, err = c.Allow(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCooldown_Reset(t *testing.T) {
	c, mr := setupCooldown(t, time.Minute)
	ctx := context.Background()

	_, _, err := c.Allow(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, mr.Exists("resend:verification:user-1"))

	require.NoError(t, c.Reset(ctx, "user-1"))
	ok, _, err := c.Allow(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCooldown_ZeroWindowAlwaysAllows(t *testing.T) {
	c, _ := setupCooldown(t, 0)
	for i := 0; i < 3; i++ {
		ok, _, err := c.Allow(context.Background(), "k")
		require.NoError(t, err)
		require.True(t, ok)
	}
}
