package upload

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/R3E-Network/service_layer/infrastructure/errors"
	"github.com/R3E-Network/service_layer/infrastructure/logging"
)

// Uploader streams one upload to a temp file in bounded-size chunks,
// enforcing a max size and an allowed-content-type set.
type Uploader struct {
	cfg    Config
	logger *logging.Logger
}

// NewUploader builds an Uploader. A zero-value ChunkSize falls back to
// DefaultChunkSize.
func NewUploader(cfg Config, logger *logging.Logger) *Uploader {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	return &Uploader{cfg: cfg, logger: logger}
}

// Process is invoked with the path of the fully-received, validated temp
// file and its Metadata. The file is removed as soon as Process returns,
// regardless of whether Process itself errors — Stream's caller is
// responsible for doing whatever it needs with the file (move it to
// permanent storage, hash it, etc.) before returning.
type Process func(ctx context.Context, path string, meta Metadata) error

// Stream reads r in Config.ChunkSize chunks into a temp file, aborting if
// the running total exceeds Config.MaxSize. Once fully read it sniffs the
// first 512 bytes for the real content type, rejects types outside
// Config.AllowedTypes, and finally invokes process with the result. The
// temp file is unlinked on every exit path — a failed size check, a
// rejected content type, a process error, or success.
func (u *Uploader) Stream(ctx context.Context, r io.Reader, declaredContentType string, process Process) (Metadata, error) {
	f, err := os.CreateTemp("", "upload-*")
	if err != nil {
		return Metadata{}, errors.Internal("create upload temp file", err)
	}
	path := f.Name()
	defer os.Remove(path)
	defer f.Close()

	header := make([]byte, 0, magicByteWindow)
	buf := make([]byte, u.cfg.ChunkSize)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return Metadata{}, errors.Timeout("upload stream")
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > u.cfg.MaxSize {
				return Metadata{}, errors.Overflow("upload")
			}
			if _, werr := f.Write(buf[:n]); werr != nil {
				return Metadata{}, errors.Internal("write upload temp file", werr)
			}
			if len(header) < magicByteWindow {
				remaining := magicByteWindow - len(header)
				if remaining > n {
					remaining = n
				}
				header = append(header, buf[:remaining]...)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return Metadata{}, errors.Internal("read upload stream", readErr)
		}
	}

	detected := mimetype.Detect(header)
	detectedType := detected.String()
	mismatch := declaredContentType != "" && declaredContentType != detectedType
	if mismatch && u.logger != nil {
		u.logger.Info(ctx, "upload declared content type does not match detected type", map[string]interface{}{
			"declared": declaredContentType,
			"detected": detectedType,
		})
	}

	if !u.typeAllowed(detectedType) {
		return Metadata{}, errors.InvalidFormat("content_type", "one of the allowed upload types")
	}

	meta := Metadata{
		Size:                total,
		DeclaredContentType: declaredContentType,
		DetectedContentType: detectedType,
		TypeMismatch:        mismatch,
		Tier:                ClassifyTier(total, u.cfg.Thresholds),
		ReceivedAt:          time.Now(),
	}

	if process != nil {
		if err := process(ctx, path, meta); err != nil {
			return Metadata{}, err
		}
	}
	return meta, nil
}

func (u *Uploader) typeAllowed(detected string) bool {
	if len(u.cfg.AllowedTypes) == 0 {
		return true
	}
	for _, t := range u.cfg.AllowedTypes {
		if t == detected {
			return true
		}
	}
	return false
}
