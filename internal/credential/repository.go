package credential

import (
	"context"
	"time"
)

// Repository is the persistence boundary for credentials, sessions, and the
// auth audit log. Implementations must make CommitPasswordFailure and
// CommitPasswordSuccess atomic: hash update, lock-state update, and audit
// emission wrapped in a single transaction.
type Repository interface {
	GetCredential(ctx context.Context, userID string) (*Credential, error)
	CreateCredential(ctx context.Context, cred *Credential) error

	// CommitPasswordSuccess resets failed_attempts/lock_until, stamps
	// last_login_at, and writes the audit row atomically.
	CommitPasswordSuccess(ctx context.Context, userID string, loginAt AuthLogEntry) error
	// CommitPasswordFailure increments failed_attempts, sets lock_until
	// when the new count reaches maxAttempts, and writes the audit row
	// atomically. Returns the credential's post-update state.
	CommitPasswordFailure(ctx context.Context, userID string, maxAttempts int, lockoutWindowSeconds int64, entry AuthLogEntry) (*Credential, error)

	SetPassword(ctx context.Context, userID, passwordHash, passwordSalt string, rounds int, forceChange bool) error
	EnableMFA(ctx context.Context, userID, encryptedSecret string, backupCodeHashes []string) error
	DisableMFA(ctx context.Context, userID string) error
	ConsumeBackupCode(ctx context.Context, userID string, remainingHashes []string) error

	CreateSession(ctx context.Context, s *Session) error
	GetSessionByID(ctx context.Context, sessionID string) (*Session, error)
	GetActiveSessionsByUser(ctx context.Context, userID string) ([]Session, error)
	UpdateSessionActivity(ctx context.Context, sessionID string, lastActivity, newExpiresAt, refreshAt time.Time) error
	RotateSessionTokens(ctx context.Context, sessionID, accessToken, refreshToken string, expiresAt, refreshExpiresAt time.Time) error
	DeactivateSession(ctx context.Context, sessionID string) error
	DeactivateUserSessions(ctx context.Context, userID string, exceptSessionID string) error
	DeactivateExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	RecordAuthEvent(ctx context.Context, entry AuthLogEntry) error
	CleanupExpiredLocks(ctx context.Context, now time.Time) (int64, error)
}
