package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/R3E-Network/service_layer/infrastructure/resilience"
)

func TestRecordMessageCommandCallback(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("bot-gateway", reg)

	m.RecordMessage("bot-gateway", "messenger", "ok", 10*time.Millisecond)
	m.RecordCommand("bot-gateway", "/start", "ok", 5*time.Millisecond)
	m.RecordCallback("bot-gateway", "ok", 2*time.Millisecond)
	m.RecordSubstrateLatency("bot-gateway", "check", time.Millisecond)
}

func TestPoolAndSessionGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("bot-gateway", reg)

	m.SetPoolSize("bot-gateway", "db", "in_use", 4)
	m.SetPoolSize("bot-gateway", "db", "idle", 6)
	m.SetActiveSessions(42)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "active_sessions" {
			found = true
			if f.GetMetric()[0].GetGauge().GetValue() != 42 {
				t.Fatalf("active_sessions = %v, want 42", f.GetMetric()[0].GetGauge().GetValue())
			}
		}
	}
	if !found {
		t.Fatal("expected active_sessions metric to be registered")
	}
}

func TestRecordBreakerStates(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("bot-gateway", reg)

	breakers := resilience.NewRegistry()
	cb := breakers.GetOrCreate("adapter:messenger", resilience.Config{MaxFailures: 1, Timeout: time.Minute})
	_ = cb.Execute(nil, func() error { return nil }) // closed

	m.RecordBreakerStates("bot-gateway", breakers)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != "breaker_state" {
			continue
		}
		if len(f.GetMetric()) != 1 {
			t.Fatalf("expected exactly one breaker_state series, got %d", len(f.GetMetric()))
		}
		if f.GetMetric()[0].GetGauge().GetValue() != float64(resilience.StateClosed) {
			t.Fatalf("breaker_state = %v, want %v (closed)", f.GetMetric()[0].GetGauge().GetValue(), resilience.StateClosed)
		}
	}
}
