// Package middleware provides HTTP middleware for the service layer
package middleware

import (
	"net/http"
	"strconv"

	"github.com/R3E-Network/service_layer/infrastructure/errors"
	internalhttputil "github.com/R3E-Network/service_layer/infrastructure/httputil"
	"github.com/R3E-Network/service_layer/infrastructure/logging"
	"github.com/R3E-Network/service_layer/infrastructure/ratelimit"
)

// RateLimiter fronts the HTTP layer with the distributed sliding-window
// limiter (infrastructure/ratelimit). Unlike an in-process token-bucket
// map, accounting lives in the shared substrate so every replica
// enforces the same window.
type RateLimiter struct {
	limiter *ratelimit.Limiter
	limits  []ratelimit.Limit
	logger  *logging.Logger
}

// NewRateLimiter builds an HTTP middleware enforcing the given named limits
// against the shared substrate limiter, keyed by authenticated user id or,
// failing that, client IP.
func NewRateLimiter(limiter *ratelimit.Limiter, logger *logging.Logger, limits ...ratelimit.Limit) *RateLimiter {
	return &RateLimiter{limiter: limiter, limits: limits, logger: logger}
}

// Handler returns the rate limiting middleware handler.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := GetUserID(r.Context())
		if key == "" {
			key = internalhttputil.ClientIP(r)
		}
		if key == "" {
			key = "unknown"
		}

		res, err := rl.limiter.Check(r.Context(), key, key, rl.limits...)
		if err != nil {
			// The limiter itself already fails open on substrate errors;
			// an error here means a programming bug, not unavailability.
			next.ServeHTTP(w, r)
			return
		}

		if !res.Allowed {
			if rl.logger != nil {
				rl.logger.LogSecurityEvent(r.Context(), "rate_limit_exceeded", map[string]interface{}{
					"key":    key,
					"path":   r.URL.Path,
					"method": r.Method,
					"limit":  res.FailedLimitName,
				})
			}

			serviceErr := errors.RateLimitExceeded(0, res.ResetAfter.String())
			if seconds := int(res.RetryAfter.Seconds() + 0.999); seconds > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
			}
			internalhttputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)
			return
		}

		next.ServeHTTP(w, r)
	})
}
