package assignment

import "context"

// Repository is the persistence boundary for work orders and assignment
// records.
type Repository interface {
	GetWorkOrder(ctx context.Context, id string) (*WorkOrder, error)
	UpdateWorkOrderStatus(ctx context.Context, wo *WorkOrder) error

	// CommitAssignment deactivates any existing active AssignmentRecord for
	// workOrderID and inserts rec as the new active one, atomically, in
	// the same transaction.
	CommitAssignment(ctx context.Context, workOrderID string, rec *AssignmentRecord) error
	GetActiveAssignment(ctx context.Context, workOrderID string) (*AssignmentRecord, error)
}
