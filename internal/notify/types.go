// Package notify implements the notification delivery pipeline: template
// rendering, per-channel dispatch through a circuit breaker, and the
// idempotency/retry bookkeeping a delivery pipeline needs.
package notify

import "time"

// Channel identifies a delivery channel.
type Channel string

const (
	ChannelMessenger Channel = "messenger"
	ChannelEmail     Channel = "email"
	ChannelSMS       Channel = "sms"
)

// MarkupMode controls how a messenger adapter formats a rendered body.
type MarkupMode string

const (
	MarkupPlain    MarkupMode = "plain"
	MarkupMarkdown MarkupMode = "markdown"
	MarkupHTML     MarkupMode = "html"
)

// DeliveryStatus is the lifecycle of one NotificationLog row.
type DeliveryStatus string

const (
	StatusPending DeliveryStatus = "pending"
	StatusSent    DeliveryStatus = "sent"
	StatusRetry   DeliveryStatus = "retry"
	StatusFailed  DeliveryStatus = "failed"
	StatusSkipped DeliveryStatus = "skipped"
)

// NotificationTemplate renders a (kind, channel, language) triple into a
// title/body using {placeholder} substitution. A missing placeholder in
// payload fails the render rather than rendering a blank.
type NotificationTemplate struct {
	Kind         string
	Channel      Channel
	Language     string
	TitlePattern string
	BodyPattern  string
	Markup       MarkupMode
}

// Notification is one inbound request to deliver something to a recipient.
type Notification struct {
	Kind          string
	Channel       Channel
	Recipient     string
	Language      string
	Payload       map[string]string
	ServiceOrigin string
	CorrelationID string
}

// NotificationLog is the persisted record of one delivery attempt chain.
type NotificationLog struct {
	ID            string
	Kind          string
	Channel       Channel
	Recipient     string
	CorrelationID string
	ServiceOrigin string
	Title         string
	Body          string
	Status        DeliveryStatus
	Attempts      int
	LastError     string
	NextAttemptAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RenderedMessage is a template rendered against a notification's payload.
type RenderedMessage struct {
	Title  string
	Body   string
	Markup MarkupMode
}
