package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/R3E-Network/service_layer/infrastructure/serviceauth"
)

func newTestTrustStore() *serviceauth.TrustStore {
	return serviceauth.NewTrustStore([]serviceauth.PeerIdentity{
		{
			Name:        "dispatcher",
			APIKey:      "dispatcher-key",
			HMACSecret:  "dispatcher-secret",
			Permissions: map[string]bool{"request.read": true},
		},
	})
}

func TestTrustAuthMiddleware_APIKey(t *testing.T) {
	mw := NewTrustAuthMiddleware(newTestTrustStore(), nil)
	var gotServiceID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotServiceID = serviceauth.GetServiceID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	t.Run("valid key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/internal/requests", nil)
		req.Header.Set(serviceauth.HeaderServiceName, "dispatcher")
		req.Header.Set(serviceauth.HeaderServiceAPIKey, "dispatcher-key")
		rec := httptest.NewRecorder()

		mw.Handler(next).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if gotServiceID != "dispatcher" {
			t.Fatalf("serviceID = %q, want dispatcher", gotServiceID)
		}
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/internal/requests", nil)
		req.Header.Set(serviceauth.HeaderServiceName, "dispatcher")
		req.Header.Set(serviceauth.HeaderServiceAPIKey, "wrong")
		rec := httptest.NewRecorder()

		mw.Handler(next).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("missing service name rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/internal/requests", nil)
		rec := httptest.NewRecorder()

		mw.Handler(next).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})
}

func TestTrustAuthMiddleware_HMAC(t *testing.T) {
	mw := NewTrustAuthMiddleware(newTestTrustStore(), nil)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	now := time.Now()
	sig := serviceauth.Sign("dispatcher-secret", http.MethodGet, "/internal/requests", now.Unix(), nil)

	req := httptest.NewRequest(http.MethodGet, "/internal/requests", nil)
	req.Header.Set(serviceauth.HeaderServiceName, "dispatcher")
	req.Header.Set(serviceauth.HeaderSignature, sig)
	req.Header.Set(serviceauth.HeaderTimestamp, strconv.FormatInt(now.Unix(), 10))
	rec := httptest.NewRecorder()

	mw.Handler(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestTrustAuthMiddleware_RequirePermission(t *testing.T) {
	mw := NewTrustAuthMiddleware(newTestTrustStore(), nil)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	chain := mw.Handler(mw.RequirePermission("request.read")(next))
	deniedChain := mw.Handler(mw.RequirePermission("request.write")(next))

	req := httptest.NewRequest(http.MethodGet, "/internal/requests", nil)
	req.Header.Set(serviceauth.HeaderServiceName, "dispatcher")
	req.Header.Set(serviceauth.HeaderServiceAPIKey, "dispatcher-key")
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/internal/requests", nil)
	req2.Header.Set(serviceauth.HeaderServiceName, "dispatcher")
	req2.Header.Set(serviceauth.HeaderServiceAPIKey, "dispatcher-key")
	rec2 := httptest.NewRecorder()
	deniedChain.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec2.Code)
	}
}
