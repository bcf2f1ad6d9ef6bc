package credential

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

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

func (r *PostgresRepository) GetCredential(ctx context.Context, userID string) (*Credential, error) {
	if err := database.ValidateUserID(userID); err != nil {
		return nil, err
	}

	var c Credential
	var lockUntil, lastLogin, passwordSetAt sql.NullTime
	var backupCodes pq.StringArray
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, password_hash, password_salt, hash_rounds, failed_attempts,
		       lock_until, mfa_enabled, mfa_secret_encrypted, backup_code_hashes,
		       force_password_change, last_login_at, password_set_at
		FROM credentials WHERE user_id = $1
	`, userID).Scan(&c.UserID, &c.PasswordHash, &c.PasswordSalt, &c.HashRounds, &c.FailedAttempts,
		&lockUntil, &c.MFAEnabled, &c.MFASecretEncrypted, &backupCodes,
		&c.ForcePasswordChange, &lastLogin, &passwordSetAt)
	if err == sql.ErrNoRows {
		return nil, database.NewNotFoundError("credential", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get credential: %v", database.ErrDatabaseError, err)
	}

	if lockUntil.Valid {
		c.LockUntil = &lockUntil.Time
	}
	if lastLogin.Valid {
		c.LastLoginAt = &lastLogin.Time
	}
	if passwordSetAt.Valid {
		c.PasswordSetAt = &passwordSetAt.Time
	}
	c.BackupCodeHashes = []string(backupCodes)
	return &c, nil
}

func (r *PostgresRepository) CreateCredential(ctx context.Context, cred *Credential) error {
	if err := database.ValidateUserID(cred.UserID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO credentials (user_id, password_hash, password_salt, hash_rounds, failed_attempts, mfa_enabled)
		VALUES ($1, $2, $3, $4, 0, false)
	`, cred.UserID, cred.PasswordHash, cred.PasswordSalt, cred.HashRounds)
	if err != nil {
		return fmt.Errorf("%w: create credential: %v", database.ErrDatabaseError, err)
	}
	return nil
}

func (r *PostgresRepository) CommitPasswordSuccess(ctx context.Context, userID string, entry AuthLogEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", database.ErrDatabaseError, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE credentials SET failed_attempts = 0, lock_until = NULL, last_login_at = now()
		WHERE user_id = $1
	`, userID); err != nil {
		return fmt.Errorf("%w: reset failed attempts: %v", database.ErrDatabaseError, err)
	}

	if err := insertAuthLog(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresRepository) CommitPasswordFailure(ctx context.Context, userID string, maxAttempts int, lockoutWindowSeconds int64, entry AuthLogEntry) (*Credential, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %v", database.ErrDatabaseError, err)
	}
	defer tx.Rollback()

	var failedAttempts int
	var lockUntil sql.NullTime
	err = tx.QueryRowContext(ctx, `
		UPDATE credentials SET failed_attempts = failed_attempts + 1
		WHERE user_id = $1
		RETURNING failed_attempts
	`, userID).Scan(&failedAttempts)
	if err != nil {
		return nil, fmt.Errorf("%w: increment failed attempts: %v", database.ErrDatabaseError, err)
	}

	if failedAttempts >= maxAttempts {
		if err := tx.QueryRowContext(ctx, `
			UPDATE credentials SET lock_until = now() + make_interval(secs => $2)
			WHERE user_id = $1
			RETURNING lock_until
		`, userID, lockoutWindowSeconds).Scan(&lockUntil); err != nil {
			return nil, fmt.Errorf("%w: set lock_until: %v", database.ErrDatabaseError, err)
		}
	}

	if err := insertAuthLog(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", database.ErrDatabaseError, err)
	}

	c := &Credential{UserID: userID, FailedAttempts: failedAttempts}
	if lockUntil.Valid {
		c.LockUntil = &lockUntil.Time
	}
	return c, nil
}

func (r *PostgresRepository) SetPassword(ctx context.Context, userID, passwordHash, passwordSalt string, rounds int, forceChange bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE credentials
		SET password_hash = $2, password_salt = $3, hash_rounds = $4,
		    force_password_change = $5, password_set_at = now(),
		    failed_attempts = 0, lock_until = NULL
		WHERE user_id = $1
	`, userID, passwordHash, passwordSalt, rounds, forceChange)
	if err != nil {
		return fmt.Errorf("%w: set password: %v", database.ErrDatabaseError, err)
	}
	return nil
}

func (r *PostgresRepository) EnableMFA(ctx context.Context, userID, encryptedSecret string, backupCodeHashes []string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE credentials
		SET mfa_enabled = true, mfa_secret_encrypted = $2, backup_code_hashes = $3
		WHERE user_id = $1
	`, userID, encryptedSecret, pq.Array(backupCodeHashes))
	if err != nil {
		return fmt.Errorf("%w: enable mfa: %v", database.ErrDatabaseError, err)
	}
	return nil
}

func (r *PostgresRepository) DisableMFA(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE credentials
		SET mfa_enabled = false, mfa_secret_encrypted = '', backup_code_hashes = '{}'
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("%w: disable mfa: %v", database.ErrDatabaseError, err)
	}
	return nil
}

func (r *PostgresRepository) ConsumeBackupCode(ctx context.Context, userID string, remainingHashes []string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE credentials SET backup_code_hashes = $2 WHERE user_id = $1
	`, userID, pq.Array(remainingHashes))
	if err != nil {
		return fmt.Errorf("%w: consume backup code: %v", database.ErrDatabaseError, err)
	}
	return nil
}

func (r *PostgresRepository) CreateSession(ctx context.Context, s *Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, external_identity_id, access_token, refresh_token,
		                      issued_at, expires_at, refresh_expires_at, last_activity,
		                      device_fingerprint, ip_address, user_agent, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, true)
	`, s.ID, s.UserID, s.ExternalIdentityID, s.AccessToken, s.RefreshToken,
		s.IssuedAt, s.ExpiresAt, s.RefreshExpiresAt, s.LastActivity,
		s.DeviceFingerprint, s.IPAddress, s.UserAgent)
	if err != nil {
		return fmt.Errorf("%w: create session: %v", database.ErrDatabaseError, err)
	}
	s.Active = true
	return nil
}

func (r *PostgresRepository) GetSessionByID(ctx context.Context, sessionID string) (*Session, error) {
	if err := database.ValidateID(sessionID); err != nil {
		return nil, err
	}
	var s Session
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, external_identity_id, access_token, refresh_token,
		       issued_at, expires_at, refresh_expires_at, last_activity,
		       device_fingerprint, ip_address, user_agent, active
		FROM sessions WHERE id = $1 AND active = true
	`, sessionID).Scan(&s.ID, &s.UserID, &s.ExternalIdentityID, &s.AccessToken, &s.RefreshToken,
		&s.IssuedAt, &s.ExpiresAt, &s.RefreshExpiresAt, &s.LastActivity,
		&s.DeviceFingerprint, &s.IPAddress, &s.UserAgent, &s.Active)
	if err == sql.ErrNoRows {
		return nil, database.NewNotFoundError("session", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get session: %v", database.ErrDatabaseError, err)
	}
	return &s, nil
}

func (r *PostgresRepository) GetActiveSessionsByUser(ctx context.Context, userID string) ([]Session, error) {
	if err := database.ValidateUserID(userID); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, external_identity_id, access_token, refresh_token,
		       issued_at, expires_at, refresh_expires_at, last_activity,
		       device_fingerprint, ip_address, user_agent, active
		FROM sessions WHERE user_id = $1 AND active = true
		ORDER BY last_activity DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", database.ErrDatabaseError, err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.ExternalIdentityID, &s.AccessToken, &s.RefreshToken,
			&s.IssuedAt, &s.ExpiresAt, &s.RefreshExpiresAt, &s.LastActivity,
			&s.DeviceFingerprint, &s.IPAddress, &s.UserAgent, &s.Active); err != nil {
			return nil, fmt.Errorf("%w: scan session: %v", database.ErrDatabaseError, err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *PostgresRepository) UpdateSessionActivity(ctx context.Context, sessionID string, lastActivity, newExpiresAt, refreshAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET last_activity = $2, expires_at = $3 WHERE id = $1 AND active = true
	`, sessionID, lastActivity, newExpiresAt)
	if err != nil {
		return fmt.Errorf("%w: update session activity: %v", database.ErrDatabaseError, err)
	}
	return nil
}

func (r *PostgresRepository) RotateSessionTokens(ctx context.Context, sessionID, accessToken, refreshToken string, expiresAt, refreshExpiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET access_token = $2, refresh_token = $3, expires_at = $4, refresh_expires_at = $5, last_activity = now()
		WHERE id = $1 AND active = true
	`, sessionID, accessToken, refreshToken, expiresAt, refreshExpiresAt)
	if err != nil {
		return fmt.Errorf("%w: rotate session tokens: %v", database.ErrDatabaseError, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return database.NewNotFoundError("session", sessionID)
	}
	return nil
}

func (r *PostgresRepository) DeactivateSession(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET active = false WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("%w: deactivate session: %v", database.ErrDatabaseError, err)
	}
	return nil
}

func (r *PostgresRepository) DeactivateUserSessions(ctx context.Context, userID string, exceptSessionID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET active = false WHERE user_id = $1 AND id != $2
	`, userID, exceptSessionID)
	if err != nil {
		return fmt.Errorf("%w: deactivate user sessions: %v", database.ErrDatabaseError, err)
	}
	return nil
}

func (r *PostgresRepository) DeactivateExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET active = false WHERE active = true AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("%w: deactivate expired sessions: %v", database.ErrDatabaseError, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *PostgresRepository) RecordAuthEvent(ctx context.Context, entry AuthLogEntry) error {
	return insertAuthLog(ctx, r.db, entry)
}

func (r *PostgresRepository) CleanupExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE credentials SET lock_until = NULL, failed_attempts = 0
		WHERE lock_until IS NOT NULL AND lock_until <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("%w: cleanup expired locks: %v", database.ErrDatabaseError, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx so insertAuthLog can run
// inside or outside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertAuthLog(ctx context.Context, e execer, entry AuthLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := e.ExecContext(ctx, `
		INSERT INTO auth_log (id, user_id, event_type, status, message, ip_address, session_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, entry.ID, entry.UserID, string(entry.EventType), string(entry.Status), entry.Message, entry.IPAddress, entry.SessionID)
	if err != nil {
		return fmt.Errorf("%w: record auth event: %v", database.ErrDatabaseError, err)
	}
	return nil
}

var _ Repository = (*PostgresRepository)(nil)
