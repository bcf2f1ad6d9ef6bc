package events

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"
)

func signForTest(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestIngest_SignatureVerificationRejectsBadSignature(t *testing.T) {
	repo := newFakeRepository()
	policies := map[string]SourcePolicy{
		"github": {Source: "github", SigningSecret: []byte("shh")},
	}
	ig := NewIngress(repo, policies, nil)

	body := []byte(`{"event_id":"evt-1"}`)
	_, err := ig.Ingest(context.Background(), "github", "push", nil, body, "wrong-signature", true, &countingHandler{response: "ok"})
	if err == nil {
		t.Fatal("expected an error for an invalid signature")
	}
}

func TestIngest_SignatureVerificationAcceptsGoodSignature(t *testing.T) {
	repo := newFakeRepository()
	secret := "shh"
	policies := map[string]SourcePolicy{
		"github": {Source: "github", SigningSecret: []byte(secret)},
	}
	ig := NewIngress(repo, policies, nil)

	body := []byte(`{"event_id":"evt-2"}`)
	sig := signForTest(secret, body)

	handler := &countingHandler{response: "ok"}
	intake, err := ig.Ingest(context.Background(), "github", "push", nil, body, sig, true, handler)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if intake.Status != IntakeCompleted {
		t.Fatalf("expected status completed, got %s", intake.Status)
	}
	if handler.calls != 1 {
		t.Fatalf("expected handler invoked once, got %d", handler.calls)
	}
}

func TestIngest_DuplicateDeliveryIsShortCircuited(t *testing.T) {
	repo := newFakeRepository()
	ig := NewIngress(repo, nil, nil)

	body := []byte(`{"event_id":"evt-3"}`)
	handler := &countingHandler{response: "first-response"}

	first, err := ig.Ingest(context.Background(), "stripe", "charge.succeeded", nil, body, "", true, handler)
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}

	second, err := ig.Ingest(context.Background(), "stripe", "charge.succeeded", nil, body, "", true, handler)
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}

	if handler.calls != 1 {
		t.Fatalf("expected handler invoked exactly once across both deliveries, got %d", handler.calls)
	}
	if second.ResponseBody != first.ResponseBody {
		t.Fatalf("expected identical externally-observable response, got %q vs %q", second.ResponseBody, first.ResponseBody)
	}
}

func TestIngest_IdempotencyKeyFallsBackToBodyHashWhenNoEventID(t *testing.T) {
	repo := newFakeRepository()
	ig := NewIngress(repo, nil, nil)

	body := []byte(`{"some":"payload","without":"an id"}`)
	handler := &countingHandler{response: "ok"}

	if _, err := ig.Ingest(context.Background(), "generic", "ping", nil, body, "", true, handler); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := ig.Ingest(context.Background(), "generic", "ping", nil, body, "", true, handler); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if handler.calls != 1 {
		t.Fatalf("expected the identical body to dedupe via its hash, got %d calls", handler.calls)
	}
}

func TestIngest_RetriesOnFailureUpToMaxAttempts(t *testing.T) {
	repo := newFakeRepository()
	policies := map[string]SourcePolicy{
		"flaky": {Source: "flaky", MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond},
	}
	ig := NewIngress(repo, policies, nil)

	body := []byte(`{"event_id":"evt-4"}`)
	handler := &countingHandler{failUntil: 5} // always fails

	intake, err := ig.Ingest(context.Background(), "flaky", "ping", nil, body, "", true, handler)
	if err == nil {
		t.Fatal("expected the handler error to surface on the first failed attempt")
	}
	if intake.Status != IntakeReceived {
		t.Fatalf("expected status received (awaiting retry) after attempt 1 of 2, got %s", intake.Status)
	}
	if intake.NextAttemptAt == nil {
		t.Fatal("expected a scheduled retry time after a non-final failure")
	}

	intake2, err := ig.Ingest(context.Background(), "flaky", "ping", nil, body, "", true, handler)
	if err == nil {
		t.Fatal("expected the handler error to surface on the second failed attempt")
	}
	if intake2.Status != IntakeFailed {
		t.Fatalf("expected status failed after exhausting max attempts, got %s", intake2.Status)
	}
	if intake2.NextAttemptAt != nil {
		t.Fatal("expected no further retry scheduled once max attempts is exhausted")
	}
}

func TestIngest_HTTPSRequiredRejectsPlaintext(t *testing.T) {
	repo := newFakeRepository()
	policies := map[string]SourcePolicy{
		"github": {Source: "github", RequireHTTPS: true},
	}
	ig := NewIngress(repo, policies, nil)

	_, err := ig.Ingest(context.Background(), "github", "push", nil, []byte(`{}`), "", false, &countingHandler{response: "ok"})
	if err == nil {
		t.Fatal("expected an error when HTTPS is required but the delivery was plaintext")
	}
}
