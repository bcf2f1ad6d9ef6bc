package notify

import (
	"context"
	"errors"
)

// PermanentError marks an adapter failure that must not be retried, e.g.
// the recipient has blocked the sender. Dispatch maps this straight to
// StatusFailed instead of StatusRetry.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Adapter delivers one rendered message over a single channel.
type Adapter interface {
	Channel() Channel
	Send(ctx context.Context, n Notification, msg RenderedMessage) error
}

// MessengerAdapter additionally mirrors a delivery to an auxiliary
// broadcast channel, best-effort.
type MessengerAdapter interface {
	Adapter
	Broadcast(ctx context.Context, msg RenderedMessage)
}

// disabledChannelError marks a Send call against an adapter constructed in
// disabled mode (email/SMS with no provider configured); Dispatch turns
// this into a skip rather than a retry/fail outcome.
type disabledChannelError struct {
	channel Channel
}

func (e *disabledChannelError) Error() string {
	return "channel " + string(e.channel) + " is disabled by configuration"
}

// disabledAdapter is a no-op Adapter used when email/SMS is turned off.
// Send always returns disabledChannelError so Dispatch can recognize the
// no-op case without a separate enabled/disabled branch at every call site.
type disabledAdapter struct {
	channel Channel
}

// NewDisabledAdapter returns an Adapter whose Send always reports the
// channel as disabled, producing a skipped delivery.
func NewDisabledAdapter(channel Channel) Adapter {
	return &disabledAdapter{channel: channel}
}

func (a *disabledAdapter) Channel() Channel { return a.channel }

func (a *disabledAdapter) Send(_ context.Context, _ Notification, _ RenderedMessage) error {
	return &disabledChannelError{channel: a.channel}
}

func isDisabled(err error) bool {
	var d *disabledChannelError
	return errors.As(err, &d)
}
