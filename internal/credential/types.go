// Package credential implements the password/MFA/session core shared by
// every service that authenticates an end user.
package credential

import "time"

// Credential is the per-user authentication record. PasswordHash and
// BackupCodeHashes never leave this package unhashed; MFASecretEncrypted
// holds the TOTP secret envelope-encrypted at rest (see mfaCrypto.seal).
type Credential struct {
	UserID              string
	PasswordHash        string
	PasswordSalt        string
	HashRounds          int
	FailedAttempts      int
	LockUntil           *time.Time
	MFAEnabled          bool
	MFASecretEncrypted  string
	BackupCodeHashes    []string
	ForcePasswordChange bool
	LastLoginAt         *time.Time
	PasswordSetAt       *time.Time
}

// Session is an authenticated user presence.
type Session struct {
	ID                string
	UserID            string
	ExternalIdentityID string
	AccessToken       string
	RefreshToken      string
	IssuedAt          time.Time
	ExpiresAt         time.Time
	RefreshExpiresAt  time.Time
	LastActivity      time.Time
	DeviceFingerprint string
	IPAddress         string
	UserAgent         string
	Active            bool
}

// AuthEventType names the kind of auth audit event being recorded.
type AuthEventType string

const (
	EventLoginAttempt AuthEventType = "login_attempt"
	EventPasswordLogin AuthEventType = "password_login"
	EventMFAChallenge  AuthEventType = "mfa_challenge"
	EventLockout       AuthEventType = "lockout"
	EventLogout        AuthEventType = "logout"
	EventRefresh       AuthEventType = "token_refresh"
)

// AuthEventStatus is the outcome of an audited auth event.
type AuthEventStatus string

const (
	StatusSuccess AuthEventStatus = "success"
	StatusFailure AuthEventStatus = "failure"
)

// AuthLogEntry is one row of the authentication audit trail. It never
// carries secret material (passwords, tokens, TOTP codes) — only the event
// shape needed to investigate an incident after the fact.
type AuthLogEntry struct {
	ID        string
	UserID    string
	EventType AuthEventType
	Status    AuthEventStatus
	Message   string
	IPAddress string
	SessionID string
	CreatedAt time.Time
}

// Policy holds the named tunables (max_attempts, lockout_window,
// password_min_length, session cap) so callers don't hardcode them at
// each call site.
type Policy struct {
	MaxAttempts       int
	LockoutWindow     time.Duration
	PasswordMinLength int
	BcryptCost        int
	MaxSessionsPerUser int
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	RenewalWindow     time.Duration
}

// DefaultPolicy matches original_source's auth_service defaults
// (settings.max_login_attempts=5, lockout_duration_minutes=15,
// password_min_length=8).
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:        5,
		LockoutWindow:      15 * time.Minute,
		PasswordMinLength:  8,
		BcryptCost:         12,
		MaxSessionsPerUser: 5,
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenTTL:    30 * 24 * time.Hour,
		RenewalWindow:      2 * time.Minute,
	}
}

// VerifyResult is the outcome of a password verification attempt.
type VerifyResult struct {
	Success             bool
	Error               string // "invalid_credentials" | "account_locked" | "password_not_set" | "invalid_password"
	MFARequired         bool
	ForcePasswordChange bool
	LockedUntil         *time.Time
	AttemptsRemaining   int
}

// MFAEnableResult carries the one-time plaintext secret and backup codes;
// callers must show these to the user exactly once and never persist them
// unhashed.
type MFAEnableResult struct {
	Secret         string
	BackupCodes    []string
	ProvisioningURI string
}
