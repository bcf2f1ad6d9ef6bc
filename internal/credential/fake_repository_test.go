package credential

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/service_layer/infrastructure/database"
)

// fakeRepository is an in-memory Repository for exercising Service without a
// database, mirroring the fake-store pattern used elsewhere in the pack for
// service-layer unit tests.
type fakeRepository struct {
	mu       sync.Mutex
	creds    map[string]*Credential
	sessions map[string]*Session
	authLog  []AuthLogEntry
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		creds:    make(map[string]*Credential),
		sessions: make(map[string]*Session),
	}
}

func cloneCredential(c *Credential) *Credential {
	cp := *c
	if c.LockUntil != nil {
		t := *c.LockUntil
		cp.LockUntil = &t
	}
	cp.BackupCodeHashes = append([]string(nil), c.BackupCodeHashes...)
	return &cp
}

func (f *fakeRepository) GetCredential(ctx context.Context, userID string) (*Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[userID]
	if !ok {
		return nil, database.NewNotFoundError("credential", userID)
	}
	return cloneCredential(c), nil
}

func (f *fakeRepository) CreateCredential(ctx context.Context, cred *Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds[cred.UserID] = cloneCredential(cred)
	return nil
}

func (f *fakeRepository) CommitPasswordSuccess(ctx context.Context, userID string, entry AuthLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[userID]
	if !ok {
		return database.NewNotFoundError("credential", userID)
	}
	c.FailedAttempts = 0
	c.LockUntil = nil
	now := time.Now()
	c.LastLoginAt = &now
	f.authLog = append(f.authLog, entry)
	return nil
}

func (f *fakeRepository) CommitPasswordFailure(ctx context.Context, userID string, maxAttempts int, lockoutWindowSeconds int64, entry AuthLogEntry) (*Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[userID]
	if !ok {
		return nil, database.NewNotFoundError("credential", userID)
	}
	c.FailedAttempts++
	if c.FailedAttempts >= maxAttempts {
		until := time.Now().Add(time.Duration(lockoutWindowSeconds) * time.Second)
		c.LockUntil = &until
	}
	f.authLog = append(f.authLog, entry)
	return cloneCredential(c), nil
}

func (f *fakeRepository) SetPassword(ctx context.Context, userID, passwordHash, passwordSalt string, rounds int, forceChange bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[userID]
	if !ok {
		c = &Credential{UserID: userID}
		f.creds[userID] = c
	}
	c.PasswordHash = passwordHash
	c.PasswordSalt = passwordSalt
	c.HashRounds = rounds
	c.ForcePasswordChange = forceChange
	c.FailedAttempts = 0
	c.LockUntil = nil
	return nil
}

func (f *fakeRepository) EnableMFA(ctx context.Context, userID, encryptedSecret string, backupCodeHashes []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[userID]
	if !ok {
		return database.NewNotFoundError("credential", userID)
	}
	c.MFAEnabled = true
	c.MFASecretEncrypted = encryptedSecret
	c.BackupCodeHashes = append([]string(nil), backupCodeHashes...)
	return nil
}

func (f *fakeRepository) DisableMFA(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[userID]
	if !ok {
		return database.NewNotFoundError("credential", userID)
	}
	c.MFAEnabled = false
	c.MFASecretEncrypted = ""
	c.BackupCodeHashes = nil
	return nil
}

func (f *fakeRepository) ConsumeBackupCode(ctx context.Context, userID string, remainingHashes []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[userID]
	if !ok {
		return database.NewNotFoundError("credential", userID)
	}
	c.BackupCodeHashes = append([]string(nil), remainingHashes...)
	return nil
}

func (f *fakeRepository) CreateSession(ctx context.Context, s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeRepository) GetSessionByID(ctx context.Context, sessionID string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok || !s.Active {
		return nil, database.NewNotFoundError("session", sessionID)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeRepository) GetActiveSessionsByUser(ctx context.Context, userID string) ([]Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Session
	for _, s := range f.sessions {
		if s.UserID == userID && s.Active {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeRepository) UpdateSessionActivity(ctx context.Context, sessionID string, lastActivity, newExpiresAt, refreshAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return database.NewNotFoundError("session", sessionID)
	}
	s.LastActivity = lastActivity
	s.ExpiresAt = newExpiresAt
	return nil
}

func (f *fakeRepository) RotateSessionTokens(ctx context.Context, sessionID, accessToken, refreshToken string, expiresAt, refreshExpiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok || !s.Active {
		return database.NewNotFoundError("session", sessionID)
	}
	s.AccessToken = accessToken
	s.RefreshToken = refreshToken
	s.ExpiresAt = expiresAt
	s.RefreshExpiresAt = refreshExpiresAt
	s.LastActivity = time.Now()
	return nil
}

func (f *fakeRepository) DeactivateSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		s.Active = false
	}
	return nil
}

func (f *fakeRepository) DeactivateUserSessions(ctx context.Context, userID string, exceptSessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.UserID == userID && s.ID != exceptSessionID {
			s.Active = false
		}
	}
	return nil
}

func (f *fakeRepository) DeactivateExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.sessions {
		if s.Active && !s.ExpiresAt.After(now) {
			s.Active = false
			n++
		}
	}
	return n, nil
}

func (f *fakeRepository) RecordAuthEvent(ctx context.Context, entry AuthLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authLog = append(f.authLog, entry)
	return nil
}

func (f *fakeRepository) CleanupExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, c := range f.creds {
		if c.LockUntil != nil && !c.LockUntil.After(now) {
			c.LockUntil = nil
			c.FailedAttempts = 0
			n++
		}
	}
	return n, nil
}

var _ Repository = (*fakeRepository)(nil)
