// Package events implements the schema-registered event publisher and the
// webhook ingress pipeline: every outbound domain event is validated
// against a registered schema before being durably appended to a bounded
// stream and fanned out on a pub/sub channel, and every inbound webhook is
// deduplicated by idempotency key before its handler ever runs.
package events

import "time"

// FieldType enumerates the scalar types a schema field may declare.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldInt    FieldType = "int"
	FieldFloat  FieldType = "float"
	FieldBool   FieldType = "bool"
	FieldObject FieldType = "object"
)

// FieldSchema describes one payload field.
type FieldSchema struct {
	Name     string
	Type     FieldType
	Required bool
}

// Schema is the registered shape of one event kind's payload.
type Schema struct {
	Kind   string
	Fields []FieldSchema
}

// Envelope is the base wrapper every published event carries.
type Envelope struct {
	EventID       string                 `json:"event_id"`
	Kind          string                 `json:"kind"`
	Version       int                    `json:"version"`
	Timestamp     time.Time              `json:"timestamp"`
	SourceService string                 `json:"source_service"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Payload       map[string]interface{} `json:"payload"`
}

// IntakeStatus is a WebhookIntake's lifecycle state.
type IntakeStatus string

const (
	IntakeReceived   IntakeStatus = "received"
	IntakeProcessing IntakeStatus = "processing"
	IntakeCompleted  IntakeStatus = "completed"
	IntakeFailed     IntakeStatus = "failed"
)

// WebhookIntake records one inbound webhook delivery attempt, keyed by
// (source, idempotency_key); DeclaredKind is recorded but is not part of
// the key.
type WebhookIntake struct {
	ID             string
	Source         string
	DeclaredKind   string
	IdempotencyKey string
	Status         IntakeStatus
	AttemptCount   int
	NextAttemptAt  *time.Time
	ResponseBody   string
	LastError      string
	ReceivedAt     time.Time
	UpdatedAt      time.Time
}

// SourcePolicy configures how one webhook source is authenticated and
// retried.
type SourcePolicy struct {
	Source         string
	SigningSecret  []byte // empty means no signature verification required
	RequireHTTPS   bool
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}
