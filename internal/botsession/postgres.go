package botsession

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/R3E-Network/service_layer/infrastructure/database"
)

// PostgresRepository implements Repository against the shared
// infrastructure/database connection pool, following the same
// query-shape convention as internal/credential/postgres.go.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository builds a Repository backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) FindActive(ctx context.Context, platformUserID string) (*Session, error) {
	var s Session
	var statePayload []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, platform_user_id, username, first_name, last_name, language,
		       state_id, state_payload, access_token, token_expires_at, role, tenant_id,
		       version, last_activity, expires_at, active, device_fingerprint
		FROM bot_sessions
		WHERE platform_user_id = $1 AND active = true
		ORDER BY last_activity DESC
		LIMIT 1
	`, platformUserID).Scan(&s.ID, &s.PlatformUserID, &s.Username, &s.FirstName, &s.LastName, &s.Language,
		&s.StateID, &statePayload, &s.Auth.AccessToken, &s.Auth.ExpiresAt, &s.Auth.Role, &s.Auth.TenantID,
		&s.Version, &s.LastActivity, &s.ExpiresAt, &s.Active, &s.DeviceFingerprint)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find active bot session: %v", database.ErrDatabaseError, err)
	}
	if len(statePayload) > 0 {
		if err := json.Unmarshal(statePayload, &s.StatePayload); err != nil {
			return nil, fmt.Errorf("%w: decode bot session state payload: %v", database.ErrDatabaseError, err)
		}
	} else {
		s.StatePayload = map[string]interface{}{}
	}
	return &s, nil
}

func (r *PostgresRepository) Create(ctx context.Context, s *Session) error {
	statePayload, err := json.Marshal(s.StatePayload)
	if err != nil {
		return fmt.Errorf("%w: encode bot session state payload: %v", database.ErrDatabaseError, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO bot_sessions (id, platform_user_id, username, first_name, last_name, language,
		                          state_id, state_payload, access_token, token_expires_at, role, tenant_id,
		                          version, last_activity, expires_at, active, device_fingerprint)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, s.ID, s.PlatformUserID, s.Username, s.FirstName, s.LastName, s.Language,
		s.StateID, statePayload, s.Auth.AccessToken, s.Auth.ExpiresAt, s.Auth.Role, s.Auth.TenantID,
		s.Version, s.LastActivity, s.ExpiresAt, s.Active, s.DeviceFingerprint)
	if err != nil {
		return fmt.Errorf("%w: create bot session: %v", database.ErrDatabaseError, err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, s *Session) error {
	statePayload, err := json.Marshal(s.StatePayload)
	if err != nil {
		return fmt.Errorf("%w: encode bot session state payload: %v", database.ErrDatabaseError, err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE bot_sessions
		SET username = $2, first_name = $3, last_name = $4, language = $5,
		    state_id = $6, state_payload = $7, access_token = $8, token_expires_at = $9,
		    role = $10, tenant_id = $11, version = $12, last_activity = $13, expires_at = $14,
		    active = $15, device_fingerprint = $16
		WHERE id = $1
	`, s.ID, s.Username, s.FirstName, s.LastName, s.Language,
		s.StateID, statePayload, s.Auth.AccessToken, s.Auth.ExpiresAt, s.Auth.Role, s.Auth.TenantID,
		s.Version, s.LastActivity, s.ExpiresAt, s.Active, s.DeviceFingerprint)
	if err != nil {
		return fmt.Errorf("%w: update bot session: %v", database.ErrDatabaseError, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return database.NewNotFoundError("bot_session", s.ID)
	}
	return nil
}

func (r *PostgresRepository) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE bot_sessions SET active = false WHERE active = true AND expires_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("%w: deactivate expired bot sessions: %v", database.ErrDatabaseError, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

var _ Repository = (*PostgresRepository)(nil)
