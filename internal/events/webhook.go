package events

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/service_layer/infrastructure/database"
	"github.com/R3E-Network/service_layer/infrastructure/errors"
	"github.com/R3E-Network/service_layer/infrastructure/logging"
)

// Handler processes one verified, deduplicated webhook delivery and
// returns the response body to persist alongside the completed intake.
type Handler interface {
	Handle(ctx context.Context, source, declaredKind string, body []byte) (response string, err error)
}

// Repository is the persistence boundary for WebhookIntake rows.
type Repository interface {
	// FindByIdempotencyKey returns the existing intake for (source, key), if
	// any — used to short-circuit a duplicate delivery.
	FindByIdempotencyKey(ctx context.Context, source, idempotencyKey string) (*WebhookIntake, error)
	CreateIntake(ctx context.Context, intake *WebhookIntake) error
	UpdateIntake(ctx context.Context, intake *WebhookIntake) error
}

// Ingress runs the webhook intake pipeline.
type Ingress struct {
	repo     Repository
	policies map[string]SourcePolicy
	logger   *logging.Logger
}

// NewIngress builds an Ingress. policies maps source name to its signing
// and retry configuration.
func NewIngress(repo Repository, policies map[string]SourcePolicy, logger *logging.Logger) *Ingress {
	return &Ingress{repo: repo, policies: policies, logger: logger}
}

// errSignatureInvalid is returned when a source with a signing policy
// receives a delivery whose signature does not verify.
func errSignatureInvalid() error {
	return errors.Unauthorized("webhook signature is invalid")
}

// VerifySignature reports whether signature (hex HMAC-SHA256 of body with
// secret) is valid, using a constant-time comparison.
func VerifySignature(secret, signature string, body []byte) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// IdempotencyKey extracts the deduplication key for an inbound delivery:
// the "event_id" field if the body declares one, otherwise a hash of the
// raw body. gjson avoids a full unmarshal purely to read one field.
func IdempotencyKey(body []byte) string {
	if id := gjson.GetBytes(body, "event_id"); id.Exists() && id.String() != "" {
		return id.String()
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Ingest runs the remainder of the webhook pipeline after routing: signature
// verification, idempotency lookup, intake persistence, handler
// invocation, and outcome recording. isTLS indicates whether the delivery
// arrived over HTTPS.
func (ig *Ingress) Ingest(ctx context.Context, source, declaredKind string, headers map[string]string, body []byte, signature string, isTLS bool, handler Handler) (*WebhookIntake, error) {
	policy, known := ig.policies[source]
	if known {
		if policy.RequireHTTPS && !isTLS {
			return nil, errors.Unauthorized("webhook delivery requires HTTPS for this source")
		}
		if len(policy.SigningSecret) > 0 {
			if !VerifySignature(string(policy.SigningSecret), signature, body) {
				return nil, errSignatureInvalid()
			}
		}
	}

	key := IdempotencyKey(body)

	existing, err := ig.repo.FindByIdempotencyKey(ctx, source, key)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	if existing != nil && existing.Status == IntakeCompleted {
		return existing, nil
	}

	intake := existing
	if intake == nil {
		intake = &WebhookIntake{
			Source:         source,
			DeclaredKind:   declaredKind,
			IdempotencyKey: key,
			Status:         IntakeReceived,
			ReceivedAt:     time.Now().UTC(),
		}
		if err := ig.repo.CreateIntake(ctx, intake); err != nil {
			return nil, err
		}
	}

	intake.Status = IntakeProcessing
	intake.AttemptCount++
	intake.UpdatedAt = time.Now().UTC()
	if err := ig.repo.UpdateIntake(ctx, intake); err != nil {
		return nil, err
	}

	response, handleErr := handler.Handle(ctx, source, declaredKind, body)
	if handleErr == nil {
		intake.Status = IntakeCompleted
		intake.ResponseBody = response
		intake.LastError = ""
		intake.NextAttemptAt = nil
	} else {
		intake.LastError = handleErr.Error()
		maxAttempts := policy.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = 5
		}
		if intake.AttemptCount >= maxAttempts {
			intake.Status = IntakeFailed
			intake.NextAttemptAt = nil
		} else {
			next := time.Now().UTC().Add(nextRetryDelay(policy, intake.AttemptCount))
			intake.NextAttemptAt = &next
			intake.Status = IntakeReceived
		}
		if ig.logger != nil {
			ig.logger.Error(ctx, "webhook handler failed", handleErr, map[string]interface{}{
				"source":        source,
				"declared_kind": declaredKind,
				"attempt":       intake.AttemptCount,
			})
		}
	}
	intake.UpdatedAt = time.Now().UTC()

	if err := ig.repo.UpdateIntake(ctx, intake); err != nil {
		return nil, err
	}
	return intake, handleErr
}

// nextRetryDelay computes the exponential backoff delay for the attempt-th
// retry (1-indexed), bounded by the source's configured maximum.
func nextRetryDelay(policy SourcePolicy, attempt int) time.Duration {
	initial := policy.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	maxDelay := policy.MaxBackoff
	if maxDelay <= 0 {
		maxDelay = 5 * time.Minute
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.MaxInterval = maxDelay
	bo.Multiplier = 2.0
	bo.RandomizationFactor = 0.1
	bo.MaxElapsedTime = 0

	delay := initial
	for i := 0; i < attempt; i++ {
		d := bo.NextBackOff()
		if d == backoff.Stop {
			break
		}
		delay = d
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

func isNotFound(err error) bool {
	return database.IsNotFound(err)
}
