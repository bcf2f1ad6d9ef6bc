package credential

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/R3E-Network/service_layer/infrastructure/errors"
	"github.com/R3E-Network/service_layer/infrastructure/logging"
)

// Service implements the password/MFA/session lifecycle.
type Service struct {
	repo   Repository
	policy Policy
	mfa    *mfaCrypto
	tokens *accessTokenIssuer
	issuer string
	logger *logging.Logger
}

func NewService(repo Repository, policy Policy, mfaMasterKey, accessTokenSecret []byte, issuer string, logger *logging.Logger) *Service {
	return &Service{
		repo:   repo,
		policy: policy,
		mfa:    newMFACrypto(mfaMasterKey),
		tokens: newAccessTokenIssuer(accessTokenSecret, issuer),
		issuer: issuer,
		logger: logger,
	}
}

// SetPassword hashes and stores a new password for userID, matching
// credential_service.py's set_password (bcrypt with configurable rounds,
// enforces password_min_length).
func (s *Service) SetPassword(ctx context.Context, userID, password string, forceChange bool) error {
	if len(password) < s.policy.PasswordMinLength {
		return errors.InvalidInput("password", fmt.Sprintf("must be at least %d characters", s.policy.PasswordMinLength))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.policy.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.repo.SetPassword(ctx, userID, string(hash), "", s.policy.BcryptCost, forceChange)
}

// VerifyPasswordInput carries the fields needed to evaluate one login
// attempt, including the audit metadata every attempt records regardless
// of outcome.
type VerifyPasswordInput struct {
	UserID    string
	Password  string
	IPAddress string
}

// VerifyPassword implements credential_service.py's verify_password flow:
// 1. load credential, reject unknown user as invalid_credentials (no user
//    enumeration); 2. reject if currently locked; 3. reject if no password
//    set; 4. bcrypt-compare; 5. on failure, commit failed-attempt increment
//    (locking at policy.MaxAttempts) and audit atomically; 6. on success,
//    reset failure state, stamp last_login_at, and audit atomically.
func (s *Service) VerifyPassword(ctx context.Context, in VerifyPasswordInput) (*VerifyResult, error) {
	cred, err := s.repo.GetCredential(ctx, in.UserID)
	if err != nil {
		return &VerifyResult{Success: false, Error: "invalid_credentials"}, nil
	}

	now := time.Now()
	if cred.LockUntil != nil && cred.LockUntil.After(now) {
		s.audit(ctx, in.UserID, EventLoginAttempt, StatusFailure, "account locked", in.IPAddress, "")
		return &VerifyResult{Success: false, Error: "account_locked", LockedUntil: cred.LockUntil}, nil
	}

	if cred.PasswordHash == "" {
		s.audit(ctx, in.UserID, EventLoginAttempt, StatusFailure, "password not set", in.IPAddress, "")
		return &VerifyResult{Success: false, Error: "password_not_set"}, nil
	}

	if bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(in.Password)) != nil {
		entry := AuthLogEntry{UserID: in.UserID, EventType: EventPasswordLogin, Status: StatusFailure, Message: "invalid password", IPAddress: in.IPAddress}
		updated, err := s.repo.CommitPasswordFailure(ctx, in.UserID, s.policy.MaxAttempts, int64(s.policy.LockoutWindow.Seconds()), entry)
		if err != nil {
			return nil, err
		}
		remaining := s.policy.MaxAttempts - updated.FailedAttempts
		if remaining < 0 {
			remaining = 0
		}
		result := &VerifyResult{Success: false, Error: "invalid_password", AttemptsRemaining: remaining}
		if updated.LockUntil != nil {
			result.Error = "account_locked"
			result.LockedUntil = updated.LockUntil
		}
		return result, nil
	}

	entry := AuthLogEntry{UserID: in.UserID, EventType: EventPasswordLogin, Status: StatusSuccess, Message: "password accepted", IPAddress: in.IPAddress}
	if err := s.repo.CommitPasswordSuccess(ctx, in.UserID, entry); err != nil {
		return nil, err
	}

	return &VerifyResult{
		Success:             true,
		MFARequired:         cred.MFAEnabled,
		ForcePasswordChange: cred.ForcePasswordChange,
	}, nil
}

// EnableMFA provisions a TOTP secret and backup codes for userID. The secret
// is stored envelope-encrypted; the plaintext secret and backup codes are
// returned once for display and never persisted unhashed.
func (s *Service) EnableMFA(ctx context.Context, userID, accountLabel string) (*MFAEnableResult, error) {
	key, err := generateTOTPSecret(s.issuer, accountLabel)
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}

	sealed, err := s.mfa.seal(userID, key.Secret())
	if err != nil {
		return nil, err
	}

	plaintext, hashes, err := generateBackupCodes(10, s.policy.BcryptCost)
	if err != nil {
		return nil, err
	}

	if err := s.repo.EnableMFA(ctx, userID, sealed, hashes); err != nil {
		return nil, err
	}

	return &MFAEnableResult{
		Secret:          key.Secret(),
		BackupCodes:     plaintext,
		ProvisioningURI: key.String(),
	}, nil
}

func (s *Service) DisableMFA(ctx context.Context, userID string) error {
	return s.repo.DisableMFA(ctx, userID)
}

// VerifyMFA checks code against the user's TOTP secret first, falling back
// to backup codes, matching credential_service.py's verify_mfa ordering.
// A matched backup code is consumed (removed from storage) immediately.
func (s *Service) VerifyMFA(ctx context.Context, userID, code, ipAddress string) (bool, error) {
	cred, err := s.repo.GetCredential(ctx, userID)
	if err != nil {
		return false, err
	}
	if !cred.MFAEnabled {
		return false, errors.InvalidInput("mfa", "not enabled for user")
	}

	secret, err := s.mfa.open(userID, cred.MFASecretEncrypted)
	if err != nil {
		return false, err
	}

	if validateTOTPCode(secret, code) {
		s.audit(ctx, userID, EventMFAChallenge, StatusSuccess, "totp accepted", ipAddress, "")
		return true, nil
	}

	if idx := matchBackupCode(cred.BackupCodeHashes, code); idx >= 0 {
		remaining := make([]string, 0, len(cred.BackupCodeHashes)-1)
		remaining = append(remaining, cred.BackupCodeHashes[:idx]...)
		remaining = append(remaining, cred.BackupCodeHashes[idx+1:]...)
		if err := s.repo.ConsumeBackupCode(ctx, userID, remaining); err != nil {
			return false, err
		}
		s.audit(ctx, userID, EventMFAChallenge, StatusSuccess, "backup code accepted", ipAddress, "")
		return true, nil
	}

	s.audit(ctx, userID, EventMFAChallenge, StatusFailure, "mfa code rejected", ipAddress, "")
	return false, nil
}

// IssueSession creates a new session for userID, trimming the user's oldest
// (by last activity) session first if the per-user cap is exceeded.
func (s *Service) IssueSession(ctx context.Context, userID, externalIdentityID, deviceFingerprint, ipAddress, userAgent string) (*Session, error) {
	existing, err := s.repo.GetActiveSessionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(existing) >= s.policy.MaxSessionsPerUser {
		sort.Slice(existing, func(i, j int) bool { return existing[i].LastActivity.Before(existing[j].LastActivity) })
		evictCount := len(existing) - s.policy.MaxSessionsPerUser + 1
		for i := 0; i < evictCount; i++ {
			if err := s.repo.DeactivateSession(ctx, existing[i].ID); err != nil {
				return nil, err
			}
		}
	}

	now := time.Now()
	expiresAt := now.Add(s.policy.AccessTokenTTL)
	sessionID := uuid.NewString()

	accessToken, err := s.tokens.issue(sessionID, userID, expiresAt)
	if err != nil {
		return nil, err
	}
	refreshToken, err := randomToken()
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:                 sessionID,
		UserID:             userID,
		ExternalIdentityID: externalIdentityID,
		AccessToken:        accessToken,
		RefreshToken:       refreshToken,
		IssuedAt:           now,
		ExpiresAt:          expiresAt,
		RefreshExpiresAt:   now.Add(s.policy.RefreshTokenTTL),
		LastActivity:       now,
		DeviceFingerprint:  deviceFingerprint,
		IPAddress:          ipAddress,
		UserAgent:          userAgent,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// ParseAccessToken verifies and decodes a session access token issued by
// IssueSession or RefreshSession.
func (s *Service) ParseAccessToken(tokenString string) (*SessionClaims, error) {
	return s.tokens.parse(tokenString)
}

// TouchSession extends a session's expiry on activity, renewing it when
// it falls within RenewalWindow of expiry.
func (s *Service) TouchSession(ctx context.Context, sessionID string) (*Session, error) {
	session, err := s.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if session.ExpiresAt.Sub(now) > s.policy.RenewalWindow {
		return session, nil
	}
	newExpiry := now.Add(s.policy.AccessTokenTTL)
	if err := s.repo.UpdateSessionActivity(ctx, sessionID, now, newExpiry, session.RefreshExpiresAt); err != nil {
		return nil, err
	}
	session.LastActivity = now
	session.ExpiresAt = newExpiry
	return session, nil
}

// RefreshSession rotates a session's access/refresh tokens. The caller must
// present both the session id and the refresh token currently on record;
// a mismatch (stale or reused token) is rejected atomically.
func (s *Service) RefreshSession(ctx context.Context, sessionID, refreshToken string) (*Session, error) {
	session, err := s.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.RefreshToken != refreshToken {
		return nil, errors.Unauthorized("refresh token mismatch")
	}
	if time.Now().After(session.RefreshExpiresAt) {
		return nil, errors.Unauthorized("refresh token expired")
	}

	now := time.Now()
	expiresAt := now.Add(s.policy.AccessTokenTTL)
	refreshExpiresAt := now.Add(s.policy.RefreshTokenTTL)

	newAccess, err := s.tokens.issue(sessionID, session.UserID, expiresAt)
	if err != nil {
		return nil, err
	}
	newRefresh, err := randomToken()
	if err != nil {
		return nil, err
	}

	if err := s.repo.RotateSessionTokens(ctx, sessionID, newAccess, newRefresh, expiresAt, refreshExpiresAt); err != nil {
		return nil, err
	}

	session.AccessToken = newAccess
	session.RefreshToken = newRefresh
	session.ExpiresAt = expiresAt
	session.RefreshExpiresAt = refreshExpiresAt
	session.LastActivity = now
	return session, nil
}

// Logout deactivates a single session.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.repo.DeactivateSession(ctx, sessionID)
}

// LogoutAllExcept deactivates every active session for userID other than
// keepSessionID: a "log out everywhere else" operation.
func (s *Service) LogoutAllExcept(ctx context.Context, userID, keepSessionID string) error {
	return s.repo.DeactivateUserSessions(ctx, userID, keepSessionID)
}

// SweepExpired deactivates expired sessions and clears expired account
// locks. Intended to run on a schedule (see cmd wiring), matching
// credential_service.py's cleanup_expired_locks sweeper.
func (s *Service) SweepExpired(ctx context.Context) (expiredSessions int64, clearedLocks int64, err error) {
	now := time.Now()
	expiredSessions, err = s.repo.DeactivateExpiredSessions(ctx, now)
	if err != nil {
		return 0, 0, err
	}
	clearedLocks, err = s.repo.CleanupExpiredLocks(ctx, now)
	if err != nil {
		return expiredSessions, 0, err
	}
	if s.logger != nil && (expiredSessions > 0 || clearedLocks > 0) {
		s.logger.Info(ctx, "credential sweep", map[string]interface{}{
			"expired_sessions": expiredSessions,
			"cleared_locks":    clearedLocks,
		})
	}
	return expiredSessions, clearedLocks, nil
}

func (s *Service) audit(ctx context.Context, userID string, eventType AuthEventType, status AuthEventStatus, message, ipAddress, sessionID string) {
	err := s.repo.RecordAuthEvent(ctx, AuthLogEntry{
		UserID:    userID,
		EventType: eventType,
		Status:    status,
		Message:   message,
		IPAddress: ipAddress,
		SessionID: sessionID,
	})
	if err != nil && s.logger != nil {
		s.logger.Error(ctx, "record auth event", err, nil)
	}
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
