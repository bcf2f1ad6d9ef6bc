package botsession

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/service_layer/infrastructure/logging"
)

// Repository is the persistence boundary for Session rows.
type Repository interface {
	// FindActive returns the active session for platformUserID, or nil if
	// none exists.
	FindActive(ctx context.Context, platformUserID string) (*Session, error)
	Create(ctx context.Context, s *Session) error
	Update(ctx context.Context, s *Session) error
	// DeactivateExpired flips Active=false on every session whose
	// ExpiresAt has passed and returns how many were deactivated.
	DeactivateExpired(ctx context.Context, now time.Time) (int, error)
}

// AuthClient renews a session's access token against the Auth service.
// The concrete implementation is an HTTP client wired at cmd/* startup,
// following the same out-of-package boundary as internal/assignment's
// UserService and internal/events's webhook Handler.
type AuthClient interface {
	Renew(ctx context.Context, userID string) (token string, expiresAt time.Time, role, tenantID string, err error)
}

// Service runs the per-message conversational pipeline.
type Service struct {
	repo   Repository
	auth   AuthClient
	router *Router
	ttl    time.Duration
	locks  *keyedLock
	logger *logging.Logger
}

// NewService builds a Service.
func NewService(repo Repository, auth AuthClient, router *Router, logger *logging.Logger) *Service {
	return &Service{repo: repo, auth: auth, router: router, ttl: DefaultSessionTTL, locks: newKeyedLock(), logger: logger}
}

// WithTTL overrides the default session TTL used when extending expiry.
func (s *Service) WithTTL(ttl time.Duration) *Service {
	s.ttl = ttl
	return s
}

// Process runs one inbound message through load-or-create, token renewal,
// and FSM dispatch, persisting the resulting session.
func (s *Service) Process(ctx context.Context, in Inbound) (*Session, *Transition, error) {
	release := s.locks.acquire(in.PlatformUserID)
	defer release()

	sess, err := s.loadOrCreate(ctx, in)
	if err != nil {
		return nil, nil, err
	}

	if err := s.renewIfNeeded(ctx, sess); err != nil {
		return nil, nil, err
	}

	hc := &HandlerContext{
		Session:  sess,
		Token:    sess.Auth.AccessToken,
		UserID:   sess.PlatformUserID,
		Role:     sess.Auth.Role,
		Language: sess.Language,
	}

	handler, ok := s.router.resolve(sess.StateID)
	if !ok {
		return sess, nil, errNoHandler(sess.StateID)
	}

	transition, err := handler.Handle(ctx, hc, in)
	if err != nil {
		if s.logger != nil {
			s.logger.Error(ctx, "fsm handler failed", err, map[string]interface{}{
				"state_id":         sess.StateID,
				"platform_user_id": sess.PlatformUserID,
			})
		}
		return sess, nil, err
	}

	s.applyTransition(sess, transition)

	if err := s.repo.Update(ctx, sess); err != nil {
		return nil, nil, err
	}
	return sess, transition, nil
}

func (s *Service) loadOrCreate(ctx context.Context, in Inbound) (*Session, error) {
	sess, err := s.repo.FindActive(ctx, in.PlatformUserID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if sess == nil {
		sess = &Session{
			ID:                uuid.NewString(),
			PlatformUserID:    in.PlatformUserID,
			Username:          in.Username,
			FirstName:         in.FirstName,
			LastName:          in.LastName,
			Language:          in.Language,
			DeviceFingerprint: in.DeviceFingerprint,
			StateID:           MainMenuState,
			StatePayload:      map[string]interface{}{},
			Version:           1,
			LastActivity:      now,
			ExpiresAt:         now.Add(s.ttl),
			Active:            true,
		}
		if err := s.repo.Create(ctx, sess); err != nil {
			return nil, err
		}
		return sess, nil
	}

	if in.Username != "" && in.Username != sess.Username {
		sess.Username = in.Username
	}
	if in.FirstName != "" && in.FirstName != sess.FirstName {
		sess.FirstName = in.FirstName
	}
	if in.LastName != "" && in.LastName != sess.LastName {
		sess.LastName = in.LastName
	}
	if in.Language != "" && in.Language != sess.Language {
		sess.Language = in.Language
		sess.Version++
	}

	sess.LastActivity = now
	if now.After(sess.ExpiresAt) {
		sess.ExpiresAt = now.Add(s.ttl)
	}
	return sess, nil
}

// renewIfNeeded calls the Auth service when the session has no access
// token or the token is inside the renewal window. A successful renewal
// bumps Version: the access token is part of observable context.
func (s *Service) renewIfNeeded(ctx context.Context, sess *Session) error {
	needsRenewal := sess.Auth.AccessToken == "" || time.Until(sess.Auth.ExpiresAt) < RenewalWindow
	if !needsRenewal {
		return nil
	}

	token, expiresAt, role, tenantID, err := s.auth.Renew(ctx, sess.PlatformUserID)
	if err != nil {
		return err
	}

	sess.Auth = AuthContext{AccessToken: token, ExpiresAt: expiresAt, Role: role, TenantID: tenantID}
	sess.Version++
	return nil
}

// applyTransition mutates sess per the handler's Transition, bumping
// Version whenever the state family changes or cancellation resets state.
func (s *Service) applyTransition(sess *Session, t *Transition) {
	if t == nil {
		return
	}
	if t.ClearState {
		sess.StatePayload = map[string]interface{}{}
		if StateFamily(sess.StateID) != StateFamily(MainMenuState) {
			sess.Version++
		}
		sess.StateID = MainMenuState
		return
	}
	if t.NextState == "" {
		return
	}
	if StateFamily(t.NextState) != StateFamily(sess.StateID) {
		sess.Version++
	}
	sess.StateID = t.NextState
	if t.Payload != nil {
		sess.StatePayload = t.Payload
	}
}

// SweepExpired deactivates every session whose expiry has passed. No cmd
// entrypoint schedules it; it runs only when a caller invokes it.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	return s.repo.DeactivateExpired(ctx, time.Now())
}

type noHandlerError struct{ stateID string }

func (e *noHandlerError) Error() string { return "no handler registered for state " + e.stateID }

func errNoHandler(stateID string) error { return &noHandlerError{stateID: stateID} }
