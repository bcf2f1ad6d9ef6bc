package assignment

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/R3E-Network/service_layer/infrastructure/database"
)

// fakeRepository is an in-memory Repository for exercising Engine without a
// database, mirroring internal/credential's fake-store test pattern.
type fakeRepository struct {
	mu          sync.Mutex
	workOrders  map[string]*WorkOrder
	assignments map[string]*AssignmentRecord // keyed by work order id, active only
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		workOrders:  make(map[string]*WorkOrder),
		assignments: make(map[string]*AssignmentRecord),
	}
}

func (f *fakeRepository) GetWorkOrder(ctx context.Context, id string) (*WorkOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wo, ok := f.workOrders[id]
	if !ok {
		return nil, database.NewNotFoundError("work_order", id)
	}
	cp := *wo
	return &cp, nil
}

func (f *fakeRepository) UpdateWorkOrderStatus(ctx context.Context, wo *WorkOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.workOrders[wo.ID]; !ok {
		return database.NewNotFoundError("work_order", wo.ID)
	}
	cp := *wo
	f.workOrders[wo.ID] = &cp
	return nil
}

func (f *fakeRepository) CommitAssignment(ctx context.Context, workOrderID string, rec *AssignmentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.WorkOrderID = workOrderID
	rec.Active = true
	cp := *rec
	f.assignments[workOrderID] = &cp
	return nil
}

func (f *fakeRepository) GetActiveAssignment(ctx context.Context, workOrderID string) (*AssignmentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.assignments[workOrderID]
	if !ok {
		return nil, database.NewNotFoundError("assignment_record", workOrderID)
	}
	cp := *rec
	return &cp, nil
}

var _ Repository = (*fakeRepository)(nil)

// fakeUserService serves a fixed candidate pool, mirroring the shape of the
// breaker-protected HTTP client that backs UserService in production.
type fakeUserService struct {
	profiles map[string]ExecutorProfile
	err      error
}

func newFakeUserService(profiles ...ExecutorProfile) *fakeUserService {
	m := make(map[string]ExecutorProfile, len(profiles))
	for _, p := range profiles {
		m[p.ExecutorID] = p
	}
	return &fakeUserService{profiles: m}
}

func (f *fakeUserService) GetExecutorProfile(ctx context.Context, executorID string) (*ExecutorProfile, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.profiles[executorID]
	if !ok {
		return nil, database.NewNotFoundError("executor", executorID)
	}
	cp := p
	return &cp, nil
}

func (f *fakeUserService) ListCandidates(ctx context.Context, category string) ([]ExecutorProfile, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]ExecutorProfile, 0, len(f.profiles))
	for _, p := range f.profiles {
		out = append(out, p)
	}
	return out, nil
}

var _ UserService = (*fakeUserService)(nil)
