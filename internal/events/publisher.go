package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/service_layer/infrastructure/errors"
	"github.com/R3E-Network/service_layer/infrastructure/kv"
	"github.com/R3E-Network/service_layer/infrastructure/logging"
	"github.com/R3E-Network/service_layer/infrastructure/utils"
)

// streamCap is the approximate cap (MAXLEN ~) applied to every kind's stream.
const streamCap = 10_000

// channelPrefix namespaces pub/sub channels from other substrate key
// spaces sharing the same Redis instance.
const channelPrefix = "events:channel:"

// streamPrefix namespaces XADD streams the same way.
const streamPrefix = "events:stream:"

// Publisher validates, serializes, and atomically publishes domain events:
// append to the kind's bounded stream, then fan out on the kind's pub/sub
// channel. Both legs must succeed for Publish to report success; once the
// stream append has been acknowledged, a subsequent channel-publish
// failure still leaves the event replayable from the stream, so Publish
// reports the error but does not attempt to undo the append (there is no
// way to undo an XADD, and undoing it would discard the one durable copy
// of the event).
type Publisher struct {
	kv            *kv.Client
	registry      *Registry
	sourceService string
	version       int
	logger        *logging.Logger
}

// NewPublisher builds a Publisher. version is the envelope schema version
// this process writes; sourceService identifies the publishing process in
// every envelope.
func NewPublisher(kvClient *kv.Client, registry *Registry, sourceService string, version int, logger *logging.Logger) *Publisher {
	return &Publisher{
		kv:            kvClient,
		registry:      registry,
		sourceService: sourceService,
		version:       version,
		logger:        logger,
	}
}

// Publish validates payload against kind's schema, composes the envelope,
// and atomically appends + publishes it.
func (p *Publisher) Publish(ctx context.Context, kind string, payload map[string]interface{}, correlationID string) (*Envelope, error) {
	env, err := p.compose(kind, payload, correlationID)
	if err != nil {
		return nil, err
	}
	if err := p.emit(ctx, env); err != nil {
		return nil, err
	}
	return env, nil
}

// PublishRequest is one event in a PublishBatch call.
type PublishRequest struct {
	Kind          string
	Payload       map[string]interface{}
	CorrelationID string
}

// BatchResult pairs a PublishRequest with its outcome.
type BatchResult struct {
	Envelope *Envelope
	Err      error
}

// PublishBatch runs Publish for every request concurrently (bounded by the
// length of reqs; webhook/notification batches are small), returning one
// result per request in input order. Each event gets the same
// stream-append-then-channel-publish guarantee as a single Publish call;
// one request's failure never blocks or rolls back another's.
func (p *Publisher) PublishBatch(ctx context.Context, reqs []PublishRequest) []BatchResult {
	results := make([]BatchResult, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		i, req := i, req
		utils.SafeGo(func() {
			defer wg.Done()
			env, err := p.Publish(ctx, req.Kind, req.Payload, req.CorrelationID)
			results[i] = BatchResult{Envelope: env, Err: err}
		}, func(err error) {
			results[i] = BatchResult{Err: err}
		})
	}
	wg.Wait()

	return results
}

func (p *Publisher) compose(kind string, payload map[string]interface{}, correlationID string) (*Envelope, error) {
	if err := p.registry.Validate(kind, payload); err != nil {
		return nil, err
	}

	return &Envelope{
		EventID:       uuid.NewString(),
		Kind:          kind,
		Version:       p.version,
		Timestamp:     time.Now().UTC(),
		SourceService: p.sourceService,
		CorrelationID: correlationID,
		Payload:       payload,
	}, nil
}

func (p *Publisher) emit(ctx context.Context, env *Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	stream := streamPrefix + env.Kind
	if _, err := p.kv.StreamAppendBounded(ctx, stream, streamCap, map[string]interface{}{"envelope": string(body)}); err != nil {
		return errors.Unavailable("event-stream", err)
	}

	channel := channelPrefix + env.Kind
	if err := p.kv.Publish(ctx, channel, string(body)); err != nil {
		if p.logger != nil {
			p.logger.Error(ctx, "event stream append succeeded but channel publish failed; event remains replayable from the stream", err, map[string]interface{}{
				"event_id": env.EventID,
				"kind":     env.Kind,
			})
		}
		return errors.Unavailable("event-channel", err)
	}

	return nil
}
