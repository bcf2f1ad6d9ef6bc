package upload

import (
	"context"
	"time"

	"github.com/R3E-Network/service_layer/infrastructure/ratelimit"
)

// TierLimits are the default per-tier windows layered on top of the
// global rate limiter: small uploads (form text, thumbnails) tolerate
// many more requests per window than large ones (photo/document
// attachments), which are also individually expensive to stream and
// store.
var TierLimits = map[SizeTier]ratelimit.Limit{
	TierSmall:  {Name: "upload-small", Max: 120, Window: time.Minute},
	TierMedium: {Name: "upload-medium", Max: 30, Window: time.Minute},
	TierLarge:  {Name: "upload-large", Max: 5, Window: time.Minute},
}

// CheckTierLimit evaluates the size-tiered limit for an upload whose size
// is already known (or estimated from a Content-Length header) before
// streaming begins, on top of whatever global limit the caller already
// applied. The key prefix embeds caller per Limiter.Check's
// "namespace:caller" convention so each caller gets an independent
// per-tier budget.
func CheckTierLimit(ctx context.Context, limiter *ratelimit.Limiter, caller string, estimatedSize int64, thresholds TierThresholds) (ratelimit.Result, error) {
	tier := ClassifyTier(estimatedSize, thresholds)
	limit := TierLimits[tier]
	return limiter.Check(ctx, "upload:"+caller, caller, limit)
}
