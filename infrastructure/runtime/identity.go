package runtime

import (
	"os"
	"strings"
	"sync"
)

var (
	strictIdentityModeOnce  sync.Once
	strictIdentityModeValue bool
)

// ResetStrictIdentityModeCache resets the cached strict identity mode value.
// This should only be used in tests.
func ResetStrictIdentityModeCache() {
	strictIdentityModeOnce = sync.Once{}
	strictIdentityModeValue = false
}

// ResetEnvCache resets any cached environment-derived state. Currently an
// alias for ResetStrictIdentityModeCache; kept separate so callers don't need
// to know which cached values StrictIdentityMode happens to depend on.
func ResetEnvCache() {
	ResetStrictIdentityModeCache()
}

// StrictIdentityMode returns true when the service should fail closed on
// identity/security boundaries (e.g. only trust identity headers protected by
// verified mTLS).
//
// We also treat operator-injected TLS credentials (PEER_TLS_CERT/KEY/ROOT_CA)
// as strict, so a mis-set ENVIRONMENT cannot silently weaken trust boundaries.
func StrictIdentityMode() bool {
	strictIdentityModeOnce.Do(func() {
		env := Env()
		hasPeerTLS := strings.TrimSpace(os.Getenv("PEER_TLS_CERT")) != "" &&
			strings.TrimSpace(os.Getenv("PEER_TLS_KEY")) != "" &&
			strings.TrimSpace(os.Getenv("PEER_TLS_ROOT_CA")) != ""
		strictIdentityModeValue = env == Production || hasPeerTLS
	})
	return strictIdentityModeValue
}
