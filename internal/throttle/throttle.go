// Package throttle enforces per-key cooldowns in Redis.
package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cooldown allows one action per key per window.
type Cooldown struct {
	rdb    *redis.Client
	prefix string
	window time.Duration
}

// NewCooldown creates a Cooldown that namespaces its keys under prefix.
func NewCooldown(rdb *redis.Client, prefix string, window time.Duration) *Cooldown {
	return &Cooldown{rdb: rdb, prefix: prefix, window: window}
}

// Allow claims the cooldown for key. When the key is still cooling down it
// returns false and the time left.
func (c *Cooldown) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if c.window <= 0 {
		return true, 0, nil
	}

	full := c.prefix + ":" + key
	ok, err := c.rdb.SetNX(ctx, full, time.Now().Unix(), c.window).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to claim cooldown: %w", err)
	}
	if ok {
		return true, 0, nil
	}

	ttl, err := c.rdb.PTTL(ctx, full).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to read cooldown: %w", err)
	}
	if ttl < 0 {
		ttl = c.window
	}
	return false, ttl, nil
}

// Reset clears the cooldown for key.
func (c *Cooldown) Reset(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, c.prefix+":"+key).Err()
}
