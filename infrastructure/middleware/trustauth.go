package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"

	internalhttputil "github.com/R3E-Network/service_layer/infrastructure/httputil"
	"github.com/R3E-Network/service_layer/infrastructure/logging"
	"github.com/R3E-Network/service_layer/infrastructure/serviceauth"
)

// TrustAuthMiddleware authenticates inbound peer requests against a closed
// serviceauth.TrustStore, verifying either the static API key or the
// HMAC-signed canonical request (preferred whenever a signature is present,
// since it also covers body integrity and replay).
type TrustAuthMiddleware struct {
	store  *serviceauth.TrustStore
	logger *logging.Logger
}

// NewTrustAuthMiddleware builds peer-authentication middleware backed by store.
func NewTrustAuthMiddleware(store *serviceauth.TrustStore, logger *logging.Logger) *TrustAuthMiddleware {
	if logger == nil {
		logger = logging.New("trustauth", "info", "json")
	}
	return &TrustAuthMiddleware{store: store, logger: logger}
}

// Handler verifies the caller's identity and, on success, stores the
// verified peer in the request context (serviceauth.WithPeerIdentity /
// WithServiceID) before calling next.
func (m *TrustAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.Header.Get(serviceauth.HeaderServiceName)
		if name == "" {
			m.deny(w, r, "missing "+serviceauth.HeaderServiceName)
			return
		}

		var peer serviceauth.PeerIdentity
		var err error

		if signature := r.Header.Get(serviceauth.HeaderSignature); signature != "" {
			peer, err = m.verifyHMAC(r, name, signature)
			if err != nil {
				m.logger.WithContext(r.Context()).WithError(err).Warn("peer HMAC verification failed")
				m.deny(w, r, "invalid signature")
				return
			}
		} else if apiKey := r.Header.Get(serviceauth.HeaderServiceAPIKey); apiKey != "" {
			peer, err = m.store.VerifyAPIKey(name, apiKey)
			if err != nil {
				m.logger.WithContext(r.Context()).WithError(err).Warn("peer API key verification failed")
				m.deny(w, r, "invalid api key")
				return
			}
		} else {
			m.deny(w, r, "missing "+serviceauth.HeaderSignature+" or "+serviceauth.HeaderServiceAPIKey)
			return
		}

		ctx := serviceauth.WithPeerIdentity(r.Context(), peer)
		ctx = serviceauth.WithServiceID(ctx, peer.Name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *TrustAuthMiddleware) verifyHMAC(r *http.Request, name, signature string) (serviceauth.PeerIdentity, error) {
	tsHeader := r.Header.Get(serviceauth.HeaderTimestamp)
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return serviceauth.PeerIdentity{}, err
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return serviceauth.PeerIdentity{}, err
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	return m.store.VerifyHMAC(name, r.Method, r.URL.Path, ts, body, signature, time.Now())
}

func (m *TrustAuthMiddleware) deny(w http.ResponseWriter, r *http.Request, reason string) {
	internalhttputil.WriteErrorResponse(w, r, http.StatusUnauthorized, "PEER_AUTH_REQUIRED", reason, nil)
}

// RequirePermission returns middleware that, once Handler has already
// resolved and stored the caller's verified peer identity in context, rejects
// requests whose peer lacks permission.
func (m *TrustAuthMiddleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			peer, ok := serviceauth.GetPeerIdentity(r.Context())
			if !ok {
				internalhttputil.WriteErrorResponse(w, r, http.StatusForbidden, "PERMISSION_DENIED", "peer identity not resolved", nil)
				return
			}
			if err := m.store.RequirePermission(peer, permission); err != nil {
				internalhttputil.WriteErrorResponse(w, r, http.StatusForbidden, "PERMISSION_DENIED", err.Error(), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
