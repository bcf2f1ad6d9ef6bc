// Package upload implements the bounded-memory streaming upload core:
// chunked read-and-spill to a temp file, a running size cap, magic-byte
// content-type detection, and guaranteed temp-file cleanup.
package upload

import "time"

// DefaultChunkSize is the read buffer size used when none is configured.
const DefaultChunkSize = 8 * 1024

// magicByteWindow is how many leading bytes are kept in memory for
// content-type sniffing — large enough for every signature
// github.com/gabriel-vasile/mimetype matches against.
const magicByteWindow = 512

// SizeTier classifies an upload by size for the size-tiered rate limiter
// applied on top of the global limiter.
type SizeTier string

const (
	TierSmall  SizeTier = "small"
	TierMedium SizeTier = "medium"
	TierLarge  SizeTier = "large"
)

// TierThresholds are the upper bounds (inclusive) of the small and medium
// tiers; anything above MediumMax is TierLarge.
type TierThresholds struct {
	SmallMax  int64
	MediumMax int64
}

// DefaultTierThresholds matches the ranges a dispatcher-style property
// management upload surface (work-order photos, receipts, signed
// documents) actually sees: a few KB of text up through multi-MB photos.
var DefaultTierThresholds = TierThresholds{
	SmallMax:  256 * 1024,
	MediumMax: 8 * 1024 * 1024,
}

// ClassifyTier returns the SizeTier for size under thresholds.
func ClassifyTier(size int64, thresholds TierThresholds) SizeTier {
	switch {
	case size <= thresholds.SmallMax:
		return TierSmall
	case size <= thresholds.MediumMax:
		return TierMedium
	default:
		return TierLarge
	}
}

// Config bounds one Uploader's behavior.
type Config struct {
	ChunkSize    int
	MaxSize      int64
	AllowedTypes []string // MIME types, e.g. "image/jpeg", "application/pdf"
	Thresholds   TierThresholds
}

// Metadata describes a completed, validated upload.
type Metadata struct {
	Size                int64
	DeclaredContentType string
	DetectedContentType string
	TypeMismatch        bool
	Tier                SizeTier
	ReceivedAt          time.Time
}
