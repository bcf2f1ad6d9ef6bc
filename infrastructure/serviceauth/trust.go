package serviceauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/R3E-Network/service_layer/infrastructure/security"
)

// Headers carried on peer-to-peer requests.
const (
	HeaderServiceName   = "X-Service-Name"
	HeaderServiceAPIKey = "X-Service-API-Key"
	HeaderSignature     = "X-Service-Signature"
	HeaderTimestamp     = "X-Service-Timestamp"
)

// MaxSignatureSkew bounds the replay window: a request is rejected if
// |now - timestamp| exceeds this, regardless of signature validity.
const MaxSignatureSkew = 300 * time.Second

// CanonicalString builds "METHOD\nPATH\nTIMESTAMP\nSHA256(body)_hex", the
// exact format verified byte-for-byte on both ends.
func CanonicalString(method, path string, timestamp int64, body []byte) string {
	sum := sha256.Sum256(body)
	return strings.Join([]string{
		strings.ToUpper(method),
		path,
		strconv.FormatInt(timestamp, 10),
		hex.EncodeToString(sum[:]),
	}, "\n")
}

// Sign computes the hex HMAC-SHA256 signature over the canonical string for
// (method, path, timestamp, body) with secret.
func Sign(secret, method, path string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(CanonicalString(method, path, timestamp, body)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is a valid HMAC-SHA256 over the
// canonical string for (method, path, timestamp, body) with secret, and that
// timestamp falls within MaxSignatureSkew of now. Comparison is constant
// time; the pure function has no side effects so it is safe to call for
// both outbound signing verification in tests and inbound validation.
func VerifySignature(secret, method, path string, timestamp int64, body []byte, signature string, now time.Time) error {
	delta := now.Unix() - timestamp
	if delta < 0 {
		delta = -delta
	}
	if time.Duration(delta)*time.Second > MaxSignatureSkew {
		return fmt.Errorf("%w: timestamp delta %ds exceeds %s", ErrReplay, delta, MaxSignatureSkew)
	}

	expected := Sign(secret, method, path, timestamp, body)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// Registry errors for the static-key and HMAC trust paths.
var (
	ErrUnknownService    = fmt.Errorf("serviceauth: unknown service")
	ErrInvalidAPIKey     = fmt.Errorf("serviceauth: invalid api key")
	ErrInvalidSignature  = fmt.Errorf("serviceauth: invalid signature")
	ErrReplay            = fmt.Errorf("serviceauth: replayed or stale timestamp")
	ErrPermissionDenied  = fmt.Errorf("serviceauth: permission denied")
)

// PeerIdentity is one entry in the closed service allowlist: a peer has
// either (or both) a static API key and an HMAC secret, plus the set of
// permissions it's been granted.
type PeerIdentity struct {
	Name        string
	APIKey      string
	HMACSecret  string
	Permissions map[string]bool
}

// TrustStore is the fixed `{service_name -> permission set}` map plus
// credential material, consulted on every inbound peer request.
type TrustStore struct {
	peers  map[string]PeerIdentity
	replay *security.ReplayProtection
}

// NewTrustStore builds a trust store from a closed list of peer identities.
// Names not present here fail authentication unconditionally. A signature
// seen twice within MaxSignatureSkew is rejected as a replay even though its
// timestamp is still fresh.
func NewTrustStore(peers []PeerIdentity) *TrustStore {
	m := make(map[string]PeerIdentity, len(peers))
	for _, p := range peers {
		m[p.Name] = p
	}
	return &TrustStore{
		peers:  m,
		replay: security.NewReplayProtectionWithMaxSize(MaxSignatureSkew, 100000, nil),
	}
}

// LoadPeersFromEnv builds the closed peer allowlist from environment
// variables, one pair per name: PEER_<NAME>_API_KEY and
// PEER_<NAME>_HMAC_SECRET (name upper-cased, '-' replaced with '_'). A peer
// with neither variable set is skipped; permissions are granted wholesale
// per peer via PEER_<NAME>_PERMISSIONS, a comma-separated list.
func LoadPeersFromEnv(names []string) []PeerIdentity {
	peers := make([]PeerIdentity, 0, len(names))
	for _, name := range names {
		envName := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		apiKey := strings.TrimSpace(os.Getenv("PEER_" + envName + "_API_KEY"))
		hmacSecret := strings.TrimSpace(os.Getenv("PEER_" + envName + "_HMAC_SECRET"))
		if apiKey == "" && hmacSecret == "" {
			continue
		}

		perms := make(map[string]bool)
		for _, p := range strings.Split(os.Getenv("PEER_"+envName+"_PERMISSIONS"), ",") {
			if p = strings.TrimSpace(p); p != "" {
				perms[p] = true
			}
		}

		peers = append(peers, PeerIdentity{
			Name:        name,
			APIKey:      apiKey,
			HMACSecret:  hmacSecret,
			Permissions: perms,
		})
	}
	return peers
}

// VerifyAPIKey validates the static X-Service-Name/X-Service-API-Key pair
// in constant time. Unknown names or wrong keys both report ErrUnknownService
// / ErrInvalidAPIKey so callers can still emit an audit event distinguishing
// the two, without ever leaking which names exist to a remote caller's
// response (callers should map both to a generic 401).
func (t *TrustStore) VerifyAPIKey(serviceName, apiKey string) (PeerIdentity, error) {
	peer, ok := t.peers[serviceName]
	if !ok {
		return PeerIdentity{}, ErrUnknownService
	}
	if peer.APIKey == "" {
		return PeerIdentity{}, ErrInvalidAPIKey
	}

	expected := sha256.Sum256([]byte(peer.APIKey))
	got := sha256.Sum256([]byte(apiKey))
	if subtle.ConstantTimeCompare(expected[:], got[:]) != 1 {
		return PeerIdentity{}, ErrInvalidAPIKey
	}
	return peer, nil
}

// VerifyHMAC validates an HMAC-signed request from the named peer and
// rejects it as a replay if the same (peer, signature) pair was already
// seen within MaxSignatureSkew.
func (t *TrustStore) VerifyHMAC(serviceName, method, path string, timestamp int64, body []byte, signature string, now time.Time) (PeerIdentity, error) {
	peer, ok := t.peers[serviceName]
	if !ok {
		return PeerIdentity{}, ErrUnknownService
	}
	if peer.HMACSecret == "" {
		return PeerIdentity{}, ErrInvalidSignature
	}
	if err := VerifySignature(peer.HMACSecret, method, path, timestamp, body, signature, now); err != nil {
		return PeerIdentity{}, err
	}
	if !t.replay.ValidateAndMark(serviceName + ":" + signature) {
		return PeerIdentity{}, ErrReplay
	}
	return peer, nil
}

type peerIdentityContextKey struct{}

// WithPeerIdentity returns a new context carrying the verified peer identity,
// so later middleware (permission checks) and handlers can inspect it without
// re-verifying credentials.
func WithPeerIdentity(ctx context.Context, peer PeerIdentity) context.Context {
	return context.WithValue(ctx, peerIdentityContextKey{}, peer)
}

// GetPeerIdentity extracts the verified peer identity set by WithPeerIdentity.
func GetPeerIdentity(ctx context.Context) (PeerIdentity, bool) {
	peer, ok := ctx.Value(peerIdentityContextKey{}).(PeerIdentity)
	return peer, ok
}

// RequirePermission returns ErrPermissionDenied if peer lacks permission.
// Endpoints that declare required permissions call this after identity
// verification succeeds; a 403 is returned on failure (401 is reserved for
// identity failures).
func (t *TrustStore) RequirePermission(peer PeerIdentity, permission string) error {
	if peer.Permissions[permission] {
		return nil
	}
	return ErrPermissionDenied
}
