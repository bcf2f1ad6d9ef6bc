package middleware

import (
	"time"

	"github.com/R3E-Network/service_layer/infrastructure/logging"
	"github.com/R3E-Network/service_layer/infrastructure/ratelimit"
)

// DefaultRateLimits returns the named limit set for most HTTP endpoints:
// 50 requests/second with a burst of 100.
func DefaultRateLimits() []ratelimit.Limit {
	return []ratelimit.Limit{
		{Name: "per_second", Max: 50, Window: time.Second, Burst: 100},
	}
}

// StrictRateLimits returns a tighter limit set for sensitive endpoints
// (login, password reset, OTP verification): 10 requests/second, burst 20.
func StrictRateLimits() []ratelimit.Limit {
	return []ratelimit.Limit{
		{Name: "per_second", Max: 10, Window: time.Second, Burst: 20},
	}
}

// LenientRateLimits returns a permissive limit set for trusted internal
// service callers: 100 requests/second, burst 200.
func LenientRateLimits() []ratelimit.Limit {
	return []ratelimit.Limit{
		{Name: "per_second", Max: 100, Window: time.Second, Burst: 200},
	}
}

// NewDefaultRateLimiter builds a RateLimiter using DefaultRateLimits against
// the given substrate-backed limiter.
func NewDefaultRateLimiter(limiter *ratelimit.Limiter, logger *logging.Logger) *RateLimiter {
	return NewRateLimiter(limiter, logger, DefaultRateLimits()...)
}

// NewStrictRateLimiter builds a RateLimiter using StrictRateLimits against
// the given substrate-backed limiter.
func NewStrictRateLimiter(limiter *ratelimit.Limiter, logger *logging.Logger) *RateLimiter {
	return NewRateLimiter(limiter, logger, StrictRateLimits()...)
}

// NewLenientRateLimiter builds a RateLimiter using LenientRateLimits against
// the given substrate-backed limiter.
func NewLenientRateLimiter(limiter *ratelimit.Limiter, logger *logging.Logger) *RateLimiter {
	return NewRateLimiter(limiter, logger, LenientRateLimits()...)
}
