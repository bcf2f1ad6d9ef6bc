package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// fakeRepository is an in-memory Repository for exercising Service without
// a database, mirroring the pack's other fake-store test patterns.
type fakeRepository struct {
	mu   sync.Mutex
	logs map[string]*NotificationLog
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{logs: make(map[string]*NotificationLog)}
}

func (f *fakeRepository) FindSent(ctx context.Context, correlationID string, channel Channel, recipient string) (*NotificationLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.logs {
		if l.CorrelationID == correlationID && l.Channel == channel && l.Recipient == recipient && l.Status == StatusSent {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRepository) CreateLog(ctx context.Context, log *NotificationLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	cp := *log
	f.logs[log.ID] = &cp
	return nil
}

func (f *fakeRepository) UpdateLog(ctx context.Context, log *NotificationLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *log
	f.logs[log.ID] = &cp
	return nil
}

var _ Repository = (*fakeRepository)(nil)

// fakeTemplateStore resolves templates from a fixed map keyed by
// kind+"|"+channel+"|"+language.
type fakeTemplateStore struct {
	templates map[string]*NotificationTemplate
}

func newFakeTemplateStore() *fakeTemplateStore {
	return &fakeTemplateStore{templates: make(map[string]*NotificationTemplate)}
}

func (s *fakeTemplateStore) add(t NotificationTemplate) {
	s.templates[templateKey(t.Kind, t.Channel, t.Language)] = &t
}

func templateKey(kind string, channel Channel, language string) string {
	return kind + "|" + string(channel) + "|" + language
}

func (s *fakeTemplateStore) Lookup(kind string, channel Channel, language string) (*NotificationTemplate, error) {
	t, ok := s.templates[templateKey(kind, channel, language)]
	if !ok {
		return nil, errTemplateNotFound(kind, channel, language)
	}
	return t, nil
}

// fakeAdapter records every Send/Broadcast call and can be configured to
// fail (transiently or permanently) or behave as a disabled channel.
type fakeAdapter struct {
	mu            sync.Mutex
	channel       Channel
	sends         int
	broadcasts    int
	failTransient bool
	failPermanent bool
	disabled      bool
}

func (a *fakeAdapter) Channel() Channel { return a.channel }

func (a *fakeAdapter) Send(ctx context.Context, n Notification, msg RenderedMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sends++
	switch {
	case a.disabled:
		return &disabledChannelError{channel: a.channel}
	case a.failPermanent:
		return &PermanentError{Err: errRecipientBlocked}
	case a.failTransient:
		return errTransientDispatch
	default:
		return nil
	}
}

func (a *fakeAdapter) Broadcast(ctx context.Context, msg RenderedMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.broadcasts++
}

var _ MessengerAdapter = (*fakeAdapter)(nil)

var errRecipientBlocked = &dispatchError{"recipient has blocked the sender"}
var errTransientDispatch = &dispatchError{"transient dispatch failure"}

type dispatchError struct{ msg string }

func (e *dispatchError) Error() string { return e.msg }

type templateNotFoundError struct{ msg string }

func (e *templateNotFoundError) Error() string { return e.msg }

func errTemplateNotFound(kind string, channel Channel, language string) error {
	return &templateNotFoundError{"no template for " + kind + "/" + string(channel) + "/" + language}
}
