package botsession

import (
	"context"
	"sync"
	"time"
)

// fakeRepository is an in-memory Repository, mirroring the pack's other
// fake-store test patterns.
type fakeRepository struct {
	mu       sync.Mutex
	sessions map[string]*Session // keyed by id
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{sessions: make(map[string]*Session)}
}

func (f *fakeRepository) FindActive(ctx context.Context, platformUserID string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.PlatformUserID == platformUserID && s.Active {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRepository) Create(ctx context.Context, s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeRepository) Update(ctx context.Context, s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeRepository) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sessions {
		if s.Active && now.After(s.ExpiresAt) {
			s.Active = false
			n++
		}
	}
	return n, nil
}

var _ Repository = (*fakeRepository)(nil)

// fakeAuthClient returns a fixed token/role/tenant and counts calls.
type fakeAuthClient struct {
	mu       sync.Mutex
	calls    int
	token    string
	ttl      time.Duration
	role     string
	tenantID string
	err      error
}

func (a *fakeAuthClient) Renew(ctx context.Context, userID string) (string, time.Time, string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return "", time.Time{}, "", "", a.err
	}
	return a.token, time.Now().Add(a.ttl), a.role, a.tenantID, nil
}

var _ AuthClient = (*fakeAuthClient)(nil)
