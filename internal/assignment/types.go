// Package assignment implements the work-order state machine and the
// weighted-scoring dispatch engine that assigns work orders to executors.
package assignment

import "time"

// Status is a work order's lifecycle state.
type Status string

const (
	StatusNew        Status = "new"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// WorkOrder is the "request" aggregate. RequestNumber is the immutable
// human id allocated by internal/requestnum.
type WorkOrder struct {
	ID             string
	RequestNumber  string
	ApplicantID    string
	Category       string
	Urgency        int
	Description    string
	Address        string
	Latitude       *float64
	Longitude      *float64
	Status         Status
	ExecutorID     *string
	CompletionNote string
	CancelReason   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// generalSpecialization is the specialization tag that makes an executor
// eligible for the 0.7 "general fallback" score when they lack the
// required category outright.
const generalSpecialization = "general"

// Candidate is one executor considered for assignment.
type Candidate struct {
	ExecutorID      string
	Active          bool
	ExecutorRole    bool
	Specializations []string
	Efficiency      float64 // raw metric, any positive scale; normalized by the caller
	MaxEfficiency   float64 // normalization ceiling supplied by the caller's pool
	ActiveWorkCount int
	MaxConcurrent   int
	Available       bool
}

// hasSpecialization reports whether s appears in the candidate's
// specialization list.
func (c Candidate) hasSpecialization(s string) bool {
	for _, have := range c.Specializations {
		if have == s {
			return true
		}
	}
	return false
}

// ScoredCandidate is a Candidate plus its computed score breakdown.
type ScoredCandidate struct {
	Candidate           Candidate
	SpecializationMatch bool
	SpecializationScore float64
	EfficiencyScore     float64
	WorkloadScore       float64
	AvailabilityScore   float64
	TotalScore          float64
}

// Weights controls how the four scoring factors combine. Sum should be 1.0.
type Weights struct {
	Specialization float64
	Efficiency     float64
	Workload       float64
	Availability   float64
}

// DefaultWeights returns the default scoring weights.
func DefaultWeights() Weights {
	return Weights{Specialization: 0.40, Efficiency: 0.30, Workload: 0.20, Availability: 0.10}
}

// DefaultScoreFloor is the minimum total score a candidate needs to be
// considered for assignment.
const DefaultScoreFloor = 0.30

// AssignmentRecord is the persisted outcome of one assignment decision.
type AssignmentRecord struct {
	ID            string
	WorkOrderID   string
	ExecutorID    string
	Score         float64
	Alternates    []AlternateCandidate
	Active        bool
	AssignedAt    time.Time
}

// AlternateCandidate is one of the (up to three) runner-up candidates
// recorded alongside an AssignmentRecord.
type AlternateCandidate struct {
	ExecutorID string
	Score      float64
}
