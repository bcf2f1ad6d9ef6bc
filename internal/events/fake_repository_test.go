package events

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/R3E-Network/service_layer/infrastructure/database"
)

// fakeRepository is an in-memory Repository for exercising Ingress without
// a database, mirroring the pack's other fake-store test patterns.
type fakeRepository struct {
	mu      sync.Mutex
	intakes map[string]*WebhookIntake // keyed by source + "|" + idempotency key
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{intakes: make(map[string]*WebhookIntake)}
}

func intakeKey(source, idempotencyKey string) string {
	return source + "|" + idempotencyKey
}

func (f *fakeRepository) FindByIdempotencyKey(ctx context.Context, source, idempotencyKey string) (*WebhookIntake, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.intakes[intakeKey(source, idempotencyKey)]
	if !ok {
		return nil, database.NewNotFoundError("webhook_intake", idempotencyKey)
	}
	cp := *in
	return &cp, nil
}

func (f *fakeRepository) CreateIntake(ctx context.Context, intake *WebhookIntake) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if intake.ID == "" {
		intake.ID = uuid.NewString()
	}
	cp := *intake
	f.intakes[intakeKey(intake.Source, intake.IdempotencyKey)] = &cp
	return nil
}

func (f *fakeRepository) UpdateIntake(ctx context.Context, intake *WebhookIntake) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := intakeKey(intake.Source, intake.IdempotencyKey)
	if _, ok := f.intakes[key]; !ok {
		return database.NewNotFoundError("webhook_intake", intake.ID)
	}
	cp := *intake
	f.intakes[key] = &cp
	return nil
}

var _ Repository = (*fakeRepository)(nil)

// countingHandler records how many times it was invoked and can be made to
// fail a fixed number of times before succeeding.
type countingHandler struct {
	mu        sync.Mutex
	calls     int
	failUntil int // fail the first failUntil calls, then succeed
	response  string
}

func (h *countingHandler) Handle(ctx context.Context, source, declaredKind string, body []byte) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.calls <= h.failUntil {
		return "", errTransientFailure
	}
	return h.response, nil
}

var errTransientFailure = &handlerError{"transient failure"}

type handlerError struct{ msg string }

func (e *handlerError) Error() string { return e.msg }
