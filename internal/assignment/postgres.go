package assignment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/R3E-Network/service_layer/infrastructure/database"
)

// PostgresRepository implements Repository against the shared
// infrastructure/database connection pool.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository builds a Repository backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetWorkOrder(ctx context.Context, id string) (*WorkOrder, error) {
	if err := database.ValidateID(id); err != nil {
		return nil, err
	}

	var wo WorkOrder
	var executorID sql.NullString
	var lat, lon sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT id, request_number, applicant_id, category, urgency, description, address,
		       latitude, longitude, status, executor_id, completion_note, cancel_reason,
		       created_at, updated_at
		FROM work_orders WHERE id = $1
	`, id).Scan(&wo.ID, &wo.RequestNumber, &wo.ApplicantID, &wo.Category, &wo.Urgency,
		&wo.Description, &wo.Address, &lat, &lon, &wo.Status, &executorID,
		&wo.CompletionNote, &wo.CancelReason, &wo.CreatedAt, &wo.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, database.NewNotFoundError("work_order", id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get work order: %v", database.ErrDatabaseError, err)
	}

	if executorID.Valid {
		wo.ExecutorID = &executorID.String
	}
	if lat.Valid {
		wo.Latitude = &lat.Float64
	}
	if lon.Valid {
		wo.Longitude = &lon.Float64
	}
	return &wo, nil
}

func (r *PostgresRepository) UpdateWorkOrderStatus(ctx context.Context, wo *WorkOrder) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE work_orders
		SET status = $2, executor_id = $3, completion_note = $4, cancel_reason = $5, updated_at = now()
		WHERE id = $1
	`, wo.ID, string(wo.Status), wo.ExecutorID, wo.CompletionNote, wo.CancelReason)
	if err != nil {
		return fmt.Errorf("%w: update work order status: %v", database.ErrDatabaseError, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return database.NewNotFoundError("work_order", wo.ID)
	}
	return nil
}

// CommitAssignment deactivates any existing active assignment record for
// workOrderID and inserts rec as the new active one, in a single
// transaction, so a reader never observes two simultaneously-active
// assignments for the same work order.
func (r *PostgresRepository) CommitAssignment(ctx context.Context, workOrderID string, rec *AssignmentRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", database.ErrDatabaseError, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE assignment_records SET active = false
		WHERE work_order_id = $1 AND active = true
	`, workOrderID); err != nil {
		return fmt.Errorf("%w: deactivate prior assignment: %v", database.ErrDatabaseError, err)
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	alternates, err := json.Marshal(rec.Alternates)
	if err != nil {
		return fmt.Errorf("marshal alternates: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO assignment_records (id, work_order_id, executor_id, score, alternates, active, assigned_at)
		VALUES ($1, $2, $3, $4, $5, true, now())
	`, rec.ID, workOrderID, rec.ExecutorID, rec.Score, alternates); err != nil {
		return fmt.Errorf("%w: insert assignment record: %v", database.ErrDatabaseError, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", database.ErrDatabaseError, err)
	}
	rec.WorkOrderID = workOrderID
	rec.Active = true
	return nil
}

func (r *PostgresRepository) GetActiveAssignment(ctx context.Context, workOrderID string) (*AssignmentRecord, error) {
	var rec AssignmentRecord
	var alternates []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, work_order_id, executor_id, score, alternates, active, assigned_at
		FROM assignment_records WHERE work_order_id = $1 AND active = true
	`, workOrderID).Scan(&rec.ID, &rec.WorkOrderID, &rec.ExecutorID, &rec.Score, &alternates, &rec.Active, &rec.AssignedAt)
	if err == sql.ErrNoRows {
		return nil, database.NewNotFoundError("assignment_record", workOrderID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get active assignment: %v", database.ErrDatabaseError, err)
	}
	if len(alternates) > 0 {
		if err := json.Unmarshal(alternates, &rec.Alternates); err != nil {
			return nil, fmt.Errorf("unmarshal alternates: %w", err)
		}
	}
	return &rec, nil
}

var _ Repository = (*PostgresRepository)(nil)
