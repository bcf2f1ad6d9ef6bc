package notify

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/R3E-Network/service_layer/infrastructure/database"
)

// PostgresRepository implements Repository against the shared
// infrastructure/database connection pool, following the same
// query-shape conventions as internal/events/postgres.go.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository builds a Repository backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) FindSent(ctx context.Context, correlationID string, channel Channel, recipient string) (*NotificationLog, error) {
	var l NotificationLog
	var nextAttempt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, kind, channel, recipient, correlation_id, service_origin, title, body,
		       status, attempts, last_error, next_attempt_at, created_at, updated_at
		FROM notification_logs
		WHERE correlation_id = $1 AND channel = $2 AND recipient = $3 AND status = $4
		ORDER BY created_at DESC
		LIMIT 1
	`, correlationID, string(channel), recipient, string(StatusSent)).Scan(&l.ID, &l.Kind, &l.Channel,
		&l.Recipient, &l.CorrelationID, &l.ServiceOrigin, &l.Title, &l.Body, &l.Status,
		&l.Attempts, &l.LastError, &nextAttempt, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find sent notification log: %v", database.ErrDatabaseError, err)
	}
	if nextAttempt.Valid {
		l.NextAttemptAt = &nextAttempt.Time
	}
	return &l, nil
}

func (r *PostgresRepository) CreateLog(ctx context.Context, log *NotificationLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notification_logs (id, kind, channel, recipient, correlation_id, service_origin,
		                                title, body, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, log.ID, log.Kind, string(log.Channel), log.Recipient, log.CorrelationID, log.ServiceOrigin,
		log.Title, log.Body, string(log.Status), log.Attempts, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: create notification log: %v", database.ErrDatabaseError, err)
	}
	return nil
}

func (r *PostgresRepository) UpdateLog(ctx context.Context, log *NotificationLog) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notification_logs
		SET status = $2, attempts = $3, last_error = $4, next_attempt_at = $5, updated_at = $6
		WHERE id = $1
	`, log.ID, string(log.Status), log.Attempts, log.LastError, log.NextAttemptAt, log.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: update notification log: %v", database.ErrDatabaseError, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return database.NewNotFoundError("notification_log", log.ID)
	}
	return nil
}

var _ Repository = (*PostgresRepository)(nil)

// PostgresTemplateStore implements TemplateStore against the
// notification_templates table, one row per (kind, channel, language).
type PostgresTemplateStore struct {
	db *sql.DB
}

// NewPostgresTemplateStore builds a TemplateStore backed by db.
func NewPostgresTemplateStore(db *sql.DB) *PostgresTemplateStore {
	return &PostgresTemplateStore{db: db}
}

func (s *PostgresTemplateStore) Lookup(kind string, channel Channel, language string) (*NotificationTemplate, error) {
	var t NotificationTemplate
	err := s.db.QueryRow(`
		SELECT kind, channel, language, title_pattern, body_pattern, markup
		FROM notification_templates
		WHERE kind = $1 AND channel = $2 AND language = $3
	`, kind, string(channel), language).Scan(&t.Kind, &t.Channel, &t.Language, &t.TitlePattern, &t.BodyPattern, &t.Markup)
	if err == sql.ErrNoRows {
		return nil, database.NewNotFoundError("notification_template", kind+"/"+string(channel)+"/"+language)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lookup notification template: %v", database.ErrDatabaseError, err)
	}
	return &t, nil
}

var _ TemplateStore = (*PostgresTemplateStore)(nil)
