// Package ratelimit implements the distributed sliding-window limiter
// shared across service replicas. Accounting lives in the KV substrate
// (infrastructure/kv) as a per-key sorted set of request timestamps; a
// single Lua script makes the trim/count/insert sequence atomic so
// concurrent replicas never both admit a request that pushes the window
// over its cap.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/service_layer/infrastructure/kv"
)

// slidingWindowScript trims the sorted set to the current window, counts
// remaining entries, and — only if the effective cap allows it — inserts
// "now" as both score and member, refreshing the key's TTL. KEYS[1] is the
// cell key; ARGV is now_ms, window_ms, cap, member (a unique token so two
// requests arriving within the same millisecond don't collide as set
// members).
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local cap = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

if count < cap then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window)
	return {1, count + 1}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = now
if #oldest == 2 then
	oldestScore = tonumber(oldest[2])
end
return {0, count, oldestScore}
`)

// Limit describes a single named window: at most Max requests (or Burst if
// set and larger) within Window.
type Limit struct {
	Name   string
	Max    int64
	Window time.Duration
	Burst  int64
}

func (l Limit) cap() int64 {
	if l.Burst > l.Max {
		return l.Burst
	}
	return l.Max
}

// Result is the outcome of a Check call.
type Result struct {
	Allowed          bool
	Remaining        int64
	ResetAfter       time.Duration
	RetryAfter       time.Duration
	FailedLimitName  string
}

// Limiter checks one or more named limits against the substrate.
type Limiter struct {
	kv *kv.Client
}

// New builds a Limiter backed by the given substrate client.
func New(kvClient *kv.Client) *Limiter {
	return &Limiter{kv: kvClient}
}

// Check evaluates limits in order against a caller-scoped key prefix
// (namespace:caller). The first failing limit wins; its retry time is
// returned. If the substrate is unreachable the check fails open:
// allowed=true, rather than rejecting every caller on a dependency outage.
func (l *Limiter) Check(ctx context.Context, keyPrefix string, member string, limits ...Limit) (Result, error) {
	var last Result
	for _, lim := range limits {
		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, lim.Name)
		now := time.Now()
		res, err := l.kv.EvalSHA(ctx, slidingWindowScript, []string{key},
			now.UnixMilli(), lim.Window.Milliseconds(), lim.cap(), fmt.Sprintf("%s-%d", member, now.UnixNano()))
		if err != nil {
			// Fail open: the substrate being unreachable must never block
			// traffic; sustained unavailability is handled by the breaker
			// wrapping substrate calls, not by this limiter.
			return Result{Allowed: true}, nil
		}

		vals, ok := res.([]interface{})
		if !ok || len(vals) < 2 {
			return Result{Allowed: true}, nil
		}

		allowed, _ := vals[0].(int64)
		count, _ := vals[1].(int64)

		if allowed == 1 {
			last = Result{
				Allowed:         true,
				Remaining:       lim.cap() - count,
				ResetAfter:      lim.Window,
				FailedLimitName: "",
			}
			continue
		}

		retryAfter := lim.Window
		if len(vals) >= 3 {
			if oldestScore, ok := vals[2].(int64); ok {
				elapsed := now.Sub(time.UnixMilli(oldestScore))
				retryAfter = lim.Window - elapsed
				if retryAfter < 0 {
					retryAfter = 0
				}
				if retryAfter > lim.Window {
					retryAfter = lim.Window
				}
			}
		}

		return Result{
			Allowed:         false,
			Remaining:       0,
			ResetAfter:      lim.Window,
			RetryAfter:      retryAfter,
			FailedLimitName: lim.Name,
		}, nil
	}

	return last, nil
}
