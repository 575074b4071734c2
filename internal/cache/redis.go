// Package cache stores normalized results in Redis so identical prompts
// don't walk the model list again.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/projectmitra/mitra-assist/internal/normalize"
	"github.com/projectmitra/mitra-assist/internal/provider"
)

const keyPrefix = "mitra:result:"

// Redis is a result cache backed by a Redis client.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis wraps rdb. Entries expire after ttl.
func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

// Key derives the cache key for a built prompt. The prompt is hashed so
// keys stay short whatever the user typed.
func Key(kind provider.TaskKind, prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return keyPrefix + kind.String() + ":" + hex.EncodeToString(sum[:])
}

// Get looks up a cached result. A miss is (zero, false, nil).
func (c *Redis) Get(ctx context.Context, kind provider.TaskKind, prompt string) (normalize.Result, bool, error) {
	raw, err := c.rdb.Get(ctx, Key(kind, prompt)).Bytes()
	if errors.Is(err, redis.Nil) {
		return normalize.Result{}, false, nil
	}
	if err != nil {
		return normalize.Result{}, false, fmt.Errorf("reading cache: %w", err)
	}

	var res normalize.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return normalize.Result{}, false, fmt.Errorf("decoding cached result: %w", err)
	}
	if res.Failed() {
		// Never written by Set; treat a hand-edited entry as a miss.
		return normalize.Result{}, false, nil
	}
	return res, true, nil
}

// Set stores res. All-failed results are not cached: the next request
// should get a fresh chance at the upstream.
func (c *Redis) Set(ctx context.Context, kind provider.TaskKind, prompt string, res normalize.Result) error {
	if res.Failed() {
		return nil
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	if err := c.rdb.Set(ctx, Key(kind, prompt), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (c *Redis) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
