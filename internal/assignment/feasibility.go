package assignment

import (
	"context"
	"fmt"

	"github.com/R3E-Network/service_layer/infrastructure/errors"
)

// ExecutorProfile is the subset of a User service record the assignment
// engine needs to evaluate feasibility and score a candidate.
type ExecutorProfile struct {
	ExecutorID      string
	Active          bool
	ExecutorRole    bool
	Specializations []string
	Efficiency      float64
	ActiveWorkCount int
	MaxConcurrent   int
	Available       bool
}

// UserService is the feasibility dependency: the external profile source
// an executor must exist in before an assignment can be made.
// A circuit-breaker-protected HTTP client implements this in production
// (see infrastructure/resilience); engine tests use a fake.
type UserService interface {
	GetExecutorProfile(ctx context.Context, executorID string) (*ExecutorProfile, error)
	ListCandidates(ctx context.Context, category string) ([]ExecutorProfile, error)
}

// userServiceUnavailable wraps err as the typed error returned, never
// silently swallowed, when the User service cannot be reached — the
// engine must not default to an empty or assumed-feasible candidate pool.
func userServiceUnavailable(err error) error {
	return errors.Unavailable("user-service", err)
}

// checkFeasible applies the feasibility preconditions to a
// single profile: must exist (handled by the caller), be active, carry
// the executor role, and be under its concurrency cap. A profile with no
// specialization matching category stays in the pool; the specialization
// factor of its score ranks it lower.
func checkFeasible(p ExecutorProfile, category string) error {
	if !p.Active {
		return fmt.Errorf("executor %s is not active", p.ExecutorID)
	}
	if !p.ExecutorRole {
		return fmt.Errorf("executor %s does not hold the executor role", p.ExecutorID)
	}
	if p.MaxConcurrent <= 0 || p.ActiveWorkCount >= p.MaxConcurrent {
		return fmt.Errorf("executor %s is at capacity", p.ExecutorID)
	}
	return nil
}

func profileToCandidate(p ExecutorProfile, maxEfficiency float64) Candidate {
	return Candidate{
		ExecutorID:      p.ExecutorID,
		Active:          p.Active,
		ExecutorRole:    p.ExecutorRole,
		Specializations: p.Specializations,
		Efficiency:      p.Efficiency,
		MaxEfficiency:   maxEfficiency,
		ActiveWorkCount: p.ActiveWorkCount,
		MaxConcurrent:   p.MaxConcurrent,
		Available:       p.Available,
	}
}
