package assignment

import (
	"github.com/R3E-Network/service_layer/infrastructure/errors"
)

// transitions enumerates the legal Status -> Status edges, including the
// two reassignment edges Engine.Assign uses to re-dispatch a work order
// to a different executor without resetting its lifecycle: assigned ->
// assigned (a self-loop; the status doesn't change, only the executor)
// and in_progress -> assigned (dispatching a new executor mid-work moves
// it back to assigned).
var transitions = map[Status]map[Status]bool{
	StatusNew: {
		StatusAssigned:  true,
		StatusCancelled: true,
	},
	StatusAssigned: {
		StatusInProgress: true,
		StatusCancelled:  true,
		StatusAssigned:   true, // reassignment: same status, new executor
	},
	StatusInProgress: {
		StatusCompleted: true,
		StatusCancelled: true,
		StatusAssigned:  true, // reassignment
	},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal edge
// in the state machine, independent of any business-rule preconditions
// (completion report, cancellation reason) Transition additionally
// enforces.
func CanTransition(from, to Status) bool {
	edges, ok := transitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// IsIllegalTransition reports whether err was returned for an illegal
// state-machine edge or a missing completion report/cancellation reason.
func IsIllegalTransition(err error) bool {
	svcErr, ok := err.(*errors.ServiceError)
	return ok && svcErr.Code == errors.ErrCodeInvalidState
}

// Transition validates and applies a status change to wo, enforcing the
// business-rule preconditions attached to specific edges: completion
// requires a non-empty report, cancellation requires a reason.
func Transition(wo *WorkOrder, to Status, completionNote, cancelReason string) error {
	if !CanTransition(wo.Status, to) {
		return errors.InvalidStateTransition(string(wo.Status), string(to))
	}

	switch to {
	case StatusCompleted:
		if completionNote == "" {
			return errors.InvalidStateTransition(string(wo.Status), string(to)).
				WithDetails("reason", "completion requires a non-empty completion report")
		}
		wo.CompletionNote = completionNote
	case StatusCancelled:
		if cancelReason == "" {
			return errors.InvalidStateTransition(string(wo.Status), string(to)).
				WithDetails("reason", "cancellation requires a reason")
		}
		wo.CancelReason = cancelReason
	}

	wo.Status = to
	return nil
}
