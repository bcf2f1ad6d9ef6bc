package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/service_layer/infrastructure/logging"
	"github.com/R3E-Network/service_layer/infrastructure/resilience"
)

// Repository is the persistence boundary for NotificationLog rows.
type Repository interface {
	// FindSent looks up a prior sent delivery for (correlationID, channel,
	// recipient), the idempotency key for a notification send. Returns
	// nil, nil when no such row exists.
	FindSent(ctx context.Context, correlationID string, channel Channel, recipient string) (*NotificationLog, error)
	CreateLog(ctx context.Context, log *NotificationLog) error
	UpdateLog(ctx context.Context, log *NotificationLog) error
}

// Service is the notification delivery pipeline: render, persist, dispatch
// through a per-channel breaker, and record the outcome.
type Service struct {
	repo       Repository
	templates  TemplateStore
	adapters   map[Channel]Adapter
	breakers   *resilience.Registry
	breakerC   resilience.Config
	logger     *logging.Logger
	retryAfter time.Duration
}

// NewService builds a Service. breakers is shared with the rest of the
// process so every outgoing call — events, notifications, upstream HTTP —
// is visible in the same breaker-state gauge.
func NewService(repo Repository, templates TemplateStore, adapters map[Channel]Adapter, breakers *resilience.Registry, logger *logging.Logger) *Service {
	return &Service{
		repo:       repo,
		templates:  templates,
		adapters:   adapters,
		breakers:   breakers,
		breakerC:   resilience.DefaultConfig(),
		logger:     logger,
		retryAfter: 30 * time.Second,
	}
}

// WithBreakerConfig overrides the config used when lazily creating a
// channel's breaker.
func (s *Service) WithBreakerConfig(cfg resilience.Config) *Service {
	s.breakerC = cfg
	return s
}

// WithRetryDelay overrides the fixed delay before a transient failure's
// retry is eligible to run again.
func (s *Service) WithRetryDelay(d time.Duration) *Service {
	s.retryAfter = d
	return s
}

// Deliver runs the delivery pipeline for one notification: idempotency
// check, template lookup, render, persist pending, dispatch, persist
// outcome.
func (s *Service) Deliver(ctx context.Context, n Notification) (*NotificationLog, error) {
	if prior, err := s.repo.FindSent(ctx, n.CorrelationID, n.Channel, n.Recipient); err != nil {
		return nil, err
	} else if prior != nil {
		return prior, nil
	}

	tmpl, err := s.templates.Lookup(n.Kind, n.Channel, n.Language)
	if err != nil {
		return nil, err
	}

	rendered, err := Render(tmpl, n.Payload)
	if err != nil {
		return nil, err
	}

	log := &NotificationLog{
		ID:            uuid.NewString(),
		Kind:          n.Kind,
		Channel:       n.Channel,
		Recipient:     n.Recipient,
		CorrelationID: n.CorrelationID,
		ServiceOrigin: n.ServiceOrigin,
		Title:         rendered.Title,
		Body:          rendered.Body,
		Status:        StatusPending,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if err := s.repo.CreateLog(ctx, log); err != nil {
		return nil, err
	}

	s.dispatch(ctx, n, rendered, log)

	if err := s.repo.UpdateLog(ctx, log); err != nil {
		return nil, err
	}
	return log, nil
}

// dispatch runs the adapter for n.Channel through its breaker and updates
// log in place with the resulting status. It never returns an error: the
// outcome is the log's Status, which Deliver persists regardless.
func (s *Service) dispatch(ctx context.Context, n Notification, rendered RenderedMessage, log *NotificationLog) {
	adapter, ok := s.adapters[n.Channel]
	if !ok {
		log.Status = StatusFailed
		log.LastError = "no adapter configured for channel " + string(n.Channel)
		log.UpdatedAt = time.Now()
		return
	}

	breaker := s.breakers.GetOrCreate(string(n.Channel), s.breakerC)
	sendErr := breaker.Execute(ctx, func() error {
		return adapter.Send(ctx, n, rendered)
	})

	log.Attempts++
	log.UpdatedAt = time.Now()

	switch {
	case sendErr == nil:
		log.Status = StatusSent
		log.LastError = ""
		log.NextAttemptAt = nil
		if messenger, ok := adapter.(MessengerAdapter); ok {
			messenger.Broadcast(ctx, rendered)
		}
	case isDisabled(sendErr):
		log.Status = StatusSkipped
		log.LastError = ""
		log.NextAttemptAt = nil
	case isPermanent(sendErr):
		log.Status = StatusFailed
		log.LastError = sendErr.Error()
		log.NextAttemptAt = nil
	default:
		log.Status = StatusRetry
		log.LastError = sendErr.Error()
		next := time.Now().Add(s.retryAfter)
		log.NextAttemptAt = &next
		if s.logger != nil {
			s.logger.Error(ctx, "notification dispatch failed, scheduled for retry", sendErr, map[string]interface{}{
				"channel":   string(n.Channel),
				"recipient": n.Recipient,
			})
		}
	}
}

func isPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
