package assignment

import (
	"context"
	"errors"
	"testing"
	"time"

	infraerrors "github.com/R3E-Network/service_layer/infrastructure/errors"
)

func newTestWorkOrder(id, category string) *WorkOrder {
	return &WorkOrder{
		ID:            id,
		RequestNumber: "250927-001",
		ApplicantID:   "applicant-1",
		Category:      category,
		Urgency:       3,
		Status:        StatusNew,
		CreatedAt:     time.Unix(0, 0),
		UpdatedAt:     time.Unix(0, 0),
	}
}

func TestEngine_Assign_WorkedExample(t *testing.T) {
	repo := newFakeRepository()
	wo := newTestWorkOrder("wo-1", "plumbing")
	repo.workOrders[wo.ID] = wo

	users := newFakeUserService(
		ExecutorProfile{ExecutorID: "E1", Active: true, ExecutorRole: true, Specializations: []string{"plumbing"}, Efficiency: 85, ActiveWorkCount: 2, MaxConcurrent: 5, Available: true},
		ExecutorProfile{ExecutorID: "E2", Active: true, ExecutorRole: true, Specializations: []string{"electrical"}, Efficiency: 78, ActiveWorkCount: 1, MaxConcurrent: 6, Available: true},
		ExecutorProfile{ExecutorID: "E3", Active: true, ExecutorRole: true, Specializations: []string{"general"}, Efficiency: 92, ActiveWorkCount: 0, MaxConcurrent: 4, Available: true},
	)

	eng := NewEngine(repo, users, nil)
	rec, err := eng.Assign(context.Background(), wo)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}

	if rec.ExecutorID != "E1" {
		t.Fatalf("expected E1 assigned, got %s", rec.ExecutorID)
	}
	if len(rec.Alternates) != 2 {
		t.Fatalf("expected 2 alternates, got %d", len(rec.Alternates))
	}
	if rec.Alternates[0].ExecutorID != "E3" || rec.Alternates[1].ExecutorID != "E2" {
		t.Fatalf("expected alternates [E3, E2], got [%s, %s]", rec.Alternates[0].ExecutorID, rec.Alternates[1].ExecutorID)
	}

	updated, err := repo.GetWorkOrder(context.Background(), wo.ID)
	if err != nil {
		t.Fatalf("GetWorkOrder: %v", err)
	}
	if updated.Status != StatusAssigned {
		t.Fatalf("expected work order status assigned, got %s", updated.Status)
	}
	if updated.ExecutorID == nil || *updated.ExecutorID != "E1" {
		t.Fatalf("expected work order executor_id set to E1, got %v", updated.ExecutorID)
	}
}

func TestEngine_Assign_NoFeasibleCandidateErrors(t *testing.T) {
	repo := newFakeRepository()
	wo := newTestWorkOrder("wo-2", "plumbing")
	repo.workOrders[wo.ID] = wo

	// only candidate is at capacity: infeasible.
	users := newFakeUserService(
		ExecutorProfile{ExecutorID: "E1", Active: true, ExecutorRole: true, Specializations: []string{"plumbing"}, Efficiency: 85, ActiveWorkCount: 5, MaxConcurrent: 5, Available: true},
	)

	eng := NewEngine(repo, users, nil)
	if _, err := eng.Assign(context.Background(), wo); err == nil {
		t.Fatal("expected an error when no candidate is feasible")
	}

	if _, err := repo.GetActiveAssignment(context.Background(), wo.ID); err == nil {
		t.Fatal("expected no assignment record to be committed")
	}
}

func TestEngine_Assign_UserServiceUnavailableSurfacesTypedError(t *testing.T) {
	repo := newFakeRepository()
	wo := newTestWorkOrder("wo-3", "plumbing")
	repo.workOrders[wo.ID] = wo

	users := newFakeUserService()
	users.err = errors.New("connection refused")

	eng := NewEngine(repo, users, nil)
	_, err := eng.Assign(context.Background(), wo)
	if err == nil {
		t.Fatal("expected an error when the user service is unreachable")
	}

	var svcErr *infraerrors.ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected a *errors.ServiceError, got %T: %v", err, err)
	}
	if svcErr.Code != infraerrors.ErrCodeUnavailable {
		t.Fatalf("expected ErrCodeUnavailable, got %s", svcErr.Code)
	}

	if _, err := repo.GetActiveAssignment(context.Background(), wo.ID); err == nil {
		t.Fatal("expected no assignment record to be committed when the user service is down")
	}
}

func TestEngine_Recommend_DoesNotPersist(t *testing.T) {
	repo := newFakeRepository()
	wo := newTestWorkOrder("wo-4", "plumbing")
	repo.workOrders[wo.ID] = wo

	users := newFakeUserService(
		ExecutorProfile{ExecutorID: "E1", Active: true, ExecutorRole: true, Specializations: []string{"plumbing"}, Efficiency: 85, ActiveWorkCount: 2, MaxConcurrent: 5, Available: true},
	)

	eng := NewEngine(repo, users, nil)
	ranked, err := eng.Recommend(context.Background(), wo)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(ranked) != 1 || ranked[0].Candidate.ExecutorID != "E1" {
		t.Fatalf("unexpected ranking: %+v", ranked)
	}

	if _, err := repo.GetActiveAssignment(context.Background(), wo.ID); err == nil {
		t.Fatal("Recommend must not persist an assignment record")
	}
	refreshed, err := repo.GetWorkOrder(context.Background(), wo.ID)
	if err != nil {
		t.Fatalf("GetWorkOrder: %v", err)
	}
	if refreshed.Status != StatusNew {
		t.Fatalf("Recommend must not change work order status, got %s", refreshed.Status)
	}
}

func TestEngine_Assign_ReplacesExistingActiveAssignment(t *testing.T) {
	repo := newFakeRepository()
	wo := newTestWorkOrder("wo-5", "plumbing")
	repo.workOrders[wo.ID] = wo

	users := newFakeUserService(
		ExecutorProfile{ExecutorID: "E1", Active: true, ExecutorRole: true, Specializations: []string{"plumbing"}, Efficiency: 50, ActiveWorkCount: 0, MaxConcurrent: 5, Available: true},
	)
	eng := NewEngine(repo, users, nil)

	first, err := eng.Assign(context.Background(), wo)
	if err != nil {
		t.Fatalf("first Assign: %v", err)
	}
	if wo.Status != StatusAssigned {
		t.Fatalf("expected status assigned after first Assign, got %s", wo.Status)
	}

	// Re-dispatch to a richer pool without resetting status: this is the
	// live re-assignment path (cmd/dispatcher's commit handler loads the
	// work order at whatever status it already has, typically assigned or
	// in_progress, never new).
	repo.workOrders[wo.ID] = wo

	users.profiles["E2"] = ExecutorProfile{ExecutorID: "E2", Active: true, ExecutorRole: true, Specializations: []string{"plumbing"}, Efficiency: 99, ActiveWorkCount: 0, MaxConcurrent: 5, Available: true}

	second, err := eng.Assign(context.Background(), wo)
	if err != nil {
		t.Fatalf("second Assign: %v", err)
	}
	if second.ExecutorID != "E2" {
		t.Fatalf("expected the higher-efficiency E2 to win the re-assignment, got %s", second.ExecutorID)
	}
	if wo.Status != StatusAssigned {
		t.Fatalf("expected status to remain assigned after re-assignment, got %s", wo.Status)
	}

	active, err := repo.GetActiveAssignment(context.Background(), wo.ID)
	if err != nil {
		t.Fatalf("GetActiveAssignment: %v", err)
	}
	if active.ID != second.ID {
		t.Fatalf("expected the active assignment to be the second one, got id %s want %s", active.ID, second.ID)
	}
	if first.ID == second.ID {
		t.Fatal("expected a fresh assignment record id on re-assignment")
	}

	refreshed, err := repo.GetWorkOrder(context.Background(), wo.ID)
	if err != nil {
		t.Fatalf("GetWorkOrder: %v", err)
	}
	if refreshed.ExecutorID == nil || *refreshed.ExecutorID != "E2" {
		t.Fatalf("expected persisted work order executor to be updated to E2, got %+v", refreshed.ExecutorID)
	}
}

// TestEngine_Assign_ReassignmentFromInProgress covers re-dispatch while the
// work order is already in progress: the same CommitAssignment + status
// update flow must also hold from in_progress, not just from assigned.
func TestEngine_Assign_ReassignmentFromInProgress(t *testing.T) {
	repo := newFakeRepository()
	wo := newTestWorkOrder("wo-5b", "plumbing")
	repo.workOrders[wo.ID] = wo

	users := newFakeUserService(
		ExecutorProfile{ExecutorID: "E1", Active: true, ExecutorRole: true, Specializations: []string{"plumbing"}, Efficiency: 50, ActiveWorkCount: 0, MaxConcurrent: 5, Available: true},
	)
	eng := NewEngine(repo, users, nil)

	first, err := eng.Assign(context.Background(), wo)
	if err != nil {
		t.Fatalf("first Assign: %v", err)
	}

	if err := Transition(wo, StatusInProgress, "", ""); err != nil {
		t.Fatalf("assigned -> in_progress: %v", err)
	}
	repo.workOrders[wo.ID] = wo

	users.profiles["E2"] = ExecutorProfile{ExecutorID: "E2", Active: true, ExecutorRole: true, Specializations: []string{"plumbing"}, Efficiency: 99, ActiveWorkCount: 0, MaxConcurrent: 5, Available: true}

	second, err := eng.Assign(context.Background(), wo)
	if err != nil {
		t.Fatalf("second Assign: %v", err)
	}
	if second.ExecutorID != "E2" {
		t.Fatalf("expected the higher-efficiency E2 to win the re-assignment, got %s", second.ExecutorID)
	}
	if wo.Status != StatusAssigned {
		t.Fatalf("expected re-assignment to move status back to assigned, got %s", wo.Status)
	}
	if first.ID == second.ID {
		t.Fatal("expected a fresh assignment record id on re-assignment")
	}
}
