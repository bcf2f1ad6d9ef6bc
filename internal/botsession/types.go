// Package botsession implements the conversational session core:
// per-user FSM state, access-token renewal against the Auth service, and
// the background sweep that deactivates expired sessions.
package botsession

import "time"

// AuthContext is the renewable credential a session carries for calls made
// on the user's behalf, mirroring internal/credential's Session fields
// without importing that package — the two are separate services that
// only ever talk over the Auth client boundary.
type AuthContext struct {
	AccessToken string
	ExpiresAt   time.Time
	Role        string
	TenantID    string
}

// Session is a per-user conversational presence: FSM position, renewable
// auth context, and the housekeeping fields needed to expire it.
type Session struct {
	ID                string
	PlatformUserID    string
	Username          string
	FirstName         string
	LastName          string
	Language          string
	StateID           string
	StatePayload      map[string]interface{}
	Auth              AuthContext
	Version           int64
	LastActivity      time.Time
	ExpiresAt         time.Time
	Active            bool
	DeviceFingerprint string
}

// StateFamily reports a coarse category (e.g. "onboarding", "work_order")
// by state-id prefix so callers can decide whether a transition changes
// the "state family" and must therefore bump the session version.
func StateFamily(stateID string) string {
	for i := 0; i < len(stateID); i++ {
		if stateID[i] == ':' {
			return stateID[:i]
		}
	}
	return stateID
}

// Inbound is one inbound platform message driving the conversational
// pipeline.
type Inbound struct {
	PlatformUserID    string
	Username          string
	FirstName         string
	LastName          string
	Language          string
	DeviceFingerprint string
	Text              string
	CallbackData      string
}

// RenewalWindow is how far ahead of expiry a token is proactively renewed
// rather than let to lapse mid-conversation.
const RenewalWindow = 2 * time.Minute

// DefaultSessionTTL is how long a session stays active after its last
// inbound message before the sweeper is eligible to deactivate it.
const DefaultSessionTTL = 30 * time.Minute
