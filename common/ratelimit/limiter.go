// Package ratelimit provides fixed-window request limiting backed by
// Redis. Counters advance atomically through a Lua script so concurrent
// replicas agree on the window.
package ratelimit

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lyzr/agentflow/common/logger"
)

//go:embed rate_limit.lua
var rateLimitScript string

// Result contains the outcome of a rate limit check
type Result struct {
	Allowed           bool  // Whether the request is allowed
	CurrentCount      int64 // Current count in the window
	Limit             int64 // The limit that was checked
	RetryAfterSeconds int64 // Seconds until the window resets (0 if allowed)
}

// Limiter enforces fixed-window rate limits using Redis + Lua
type Limiter struct {
	redis  *redis.Client
	script *redis.Script
	log    *logger.Logger
}

// New creates a limiter with the embedded Lua script
func New(redisClient *redis.Client, log *logger.Logger) *Limiter {
	return &Limiter{
		redis:  redisClient,
		script: redis.NewScript(rateLimitScript),
		log:    log,
	}
}

// CheckGlobal checks the service-wide request limit
func (l *Limiter) CheckGlobal(ctx context.Context, limit int64) (*Result, error) {
	return l.check(ctx, "rate_limit:global", limit)
}

// CheckWorkflow checks the tiered start limit for a workflow. Each tier
// keeps its own counter per workflow so cheap graphs are never starved
// by heavy ones.
func (l *Limiter) CheckWorkflow(ctx context.Context, workflowID string, tier Tier) (*Result, error) {
	key := fmt.Sprintf("rate_limit:workflow:%s:%s", tier, workflowID)
	return l.check(ctx, key, tier.Limit())
}

func (l *Limiter) check(ctx context.Context, key string, limit int64) (*Result, error) {
	raw, err := l.script.Run(ctx, l.redis, []string{key}, limit, WindowSeconds).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	// Script returns {allowed, current_count, limit, retry_after}
	values, ok := raw.([]interface{})
	if !ok || len(values) != 4 {
		return nil, fmt.Errorf("unexpected rate limit script result: %v", raw)
	}

	result := &Result{
		Allowed:           values[0].(int64) == 1,
		CurrentCount:      values[1].(int64),
		Limit:             values[2].(int64),
		RetryAfterSeconds: values[3].(int64),
	}

	if !result.Allowed {
		l.log.Warn("rate limit exceeded",
			"key", key,
			"current", result.CurrentCount,
			"limit", result.Limit,
			"retry_after", result.RetryAfterSeconds)
	}
	return result, nil
}

// Reset clears a counter, mainly for tests and operators
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.redis.Del(ctx, key).Err()
}
