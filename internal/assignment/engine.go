package assignment

import (
	"context"
	"fmt"

	"github.com/R3E-Network/service_layer/infrastructure/errors"
	"github.com/R3E-Network/service_layer/infrastructure/logging"
)

// Engine ties the feasibility check, scoring, and persistence together
// into the single "assign this work order" operation.
type Engine struct {
	repo    Repository
	users   UserService
	weights Weights
	floor   float64
	logger  *logging.Logger
}

func NewEngine(repo Repository, users UserService, logger *logging.Logger) *Engine {
	return &Engine{
		repo:    repo,
		users:   users,
		weights: DefaultWeights(),
		floor:   DefaultScoreFloor,
		logger:  logger,
	}
}

// WithWeights overrides the default scoring weights; intended for
// configuration loading, not per-call tuning.
func (e *Engine) WithWeights(w Weights) *Engine {
	e.weights = w
	return e
}

// WithFloor overrides the default minimum score a candidate needs to be
// considered.
func (e *Engine) WithFloor(floor float64) *Engine {
	e.floor = floor
	return e
}

// Recommend computes the ranked, feasible candidate list for a work order
// without persisting anything — a read-only companion to Assign used by
// preview/"who would get this" UIs.
func (e *Engine) Recommend(ctx context.Context, wo *WorkOrder) ([]ScoredCandidate, error) {
	return e.rank(ctx, wo)
}

// Assign runs feasibility + scoring against the work order's category and
// persists the top candidate as the new AssignmentRecord, with the next
// three as alternates. Any previously active assignment for the work order
// is deactivated in the same transaction (Repository.CommitAssignment).
func (e *Engine) Assign(ctx context.Context, wo *WorkOrder) (*AssignmentRecord, error) {
	ranked, err := e.rank(ctx, wo)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, fmt.Errorf("no feasible candidate scored at or above the floor (%.2f) for work order %s", e.floor, wo.ID)
	}

	top := ranked[0]
	alternates := make([]AlternateCandidate, 0, 3)
	for _, c := range ranked[1:] {
		if len(alternates) == 3 {
			break
		}
		alternates = append(alternates, AlternateCandidate{ExecutorID: c.Candidate.ExecutorID, Score: c.TotalScore})
	}

	rec := &AssignmentRecord{
		WorkOrderID: wo.ID,
		ExecutorID:  top.Candidate.ExecutorID,
		Score:       top.TotalScore,
		Alternates:  alternates,
		Active:      true,
	}

	if err := e.repo.CommitAssignment(ctx, wo.ID, rec); err != nil {
		return nil, err
	}

	executorID := top.Candidate.ExecutorID
	wo.ExecutorID = &executorID
	if err := Transition(wo, StatusAssigned, "", ""); err != nil {
		return nil, err
	}
	if err := e.repo.UpdateWorkOrderStatus(ctx, wo); err != nil {
		return nil, err
	}

	if e.logger != nil {
		e.logger.Info(ctx, "work order assigned", map[string]interface{}{
			"work_order_id": wo.ID,
			"executor_id":   rec.ExecutorID,
			"score":         rec.Score,
		})
	}

	return rec, nil
}

func (e *Engine) rank(ctx context.Context, wo *WorkOrder) ([]ScoredCandidate, error) {
	profiles, err := e.users.ListCandidates(ctx, wo.Category)
	if err != nil {
		return nil, userServiceUnavailable(err)
	}

	maxEfficiency := 0.0
	feasible := make([]ExecutorProfile, 0, len(profiles))
	for _, p := range profiles {
		if err := checkFeasible(p, wo.Category); err != nil {
			continue
		}
		feasible = append(feasible, p)
		if p.Efficiency > maxEfficiency {
			maxEfficiency = p.Efficiency
		}
	}

	candidates := make([]Candidate, 0, len(feasible))
	for _, p := range feasible {
		candidates = append(candidates, profileToCandidate(p, maxEfficiency))
	}

	return Rank(candidates, wo.Category, e.weights, e.floor), nil
}

// ErrNotFeasible is a conflict-coded sentinel for an executor that fails a
// feasibility precondition. No function in this package returns it: rank
// skips infeasible profiles, and checkFeasible reports plain errors.
var ErrNotFeasible = errors.New(errors.ErrCodeConflict, "executor is not feasible for this work order", 409)
