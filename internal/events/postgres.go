package events

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/R3E-Network/service_layer/infrastructure/database"
	"github.com/R3E-Network/service_layer/infrastructure/errors"
)

// PostgresRepository implements Repository against the shared
// infrastructure/database connection pool, following the same
// query-shape conventions as internal/credential/postgres.go.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository builds a Repository backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) FindByIdempotencyKey(ctx context.Context, source, idempotencyKey string) (*WebhookIntake, error) {
	var in WebhookIntake
	var nextAttempt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, source, declared_kind, idempotency_key, status, attempt_count,
		       next_attempt_at, response_body, last_error, received_at, updated_at
		FROM webhook_intakes WHERE source = $1 AND idempotency_key = $2
	`, source, idempotencyKey).Scan(&in.ID, &in.Source, &in.DeclaredKind, &in.IdempotencyKey,
		&in.Status, &in.AttemptCount, &nextAttempt, &in.ResponseBody, &in.LastError,
		&in.ReceivedAt, &in.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, database.NewNotFoundError("webhook_intake", idempotencyKey)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find webhook intake: %v", database.ErrDatabaseError, err)
	}
	if nextAttempt.Valid {
		in.NextAttemptAt = &nextAttempt.Time
	}
	return &in, nil
}

func (r *PostgresRepository) CreateIntake(ctx context.Context, intake *WebhookIntake) error {
	if intake.ID == "" {
		intake.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_intakes (id, source, declared_kind, idempotency_key, status,
		                             attempt_count, received_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, intake.ID, intake.Source, intake.DeclaredKind, intake.IdempotencyKey,
		string(intake.Status), intake.AttemptCount, intake.ReceivedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.AlreadyExists("webhook_intake", intake.IdempotencyKey)
		}
		return fmt.Errorf("%w: create webhook intake: %v", database.ErrDatabaseError, err)
	}
	return nil
}

func (r *PostgresRepository) UpdateIntake(ctx context.Context, intake *WebhookIntake) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_intakes
		SET status = $2, attempt_count = $3, next_attempt_at = $4,
		    response_body = $5, last_error = $6, updated_at = $7
		WHERE id = $1
	`, intake.ID, string(intake.Status), intake.AttemptCount, intake.NextAttemptAt,
		intake.ResponseBody, intake.LastError, intake.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: update webhook intake: %v", database.ErrDatabaseError, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return database.NewNotFoundError("webhook_intake", intake.ID)
	}
	return nil
}

var _ Repository = (*PostgresRepository)(nil)
