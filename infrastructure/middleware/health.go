// Package middleware provides HTTP middleware for the service layer.
package middleware

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/R3E-Network/service_layer/infrastructure/resilience"
)

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
	Uptime    string            `json:"uptime,omitempty"`
}

// HealthChecker provides health check functionality.
type HealthChecker struct {
	mu        sync.RWMutex
	version   string
	startTime time.Time
	checks    map[string]func() error
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version:   version,
		startTime: time.Now(),
		checks:    make(map[string]func() error),
	}
}

// RegisterCheck adds a health check function.
func (h *HealthChecker) RegisterCheck(name string, check func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Handler returns the health check HTTP handler.
func (h *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		defer h.mu.RUnlock()

		status := HealthStatus{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   h.version,
			Uptime:    time.Since(h.startTime).String(),
			Checks:    make(map[string]string),
		}

		// Run all registered checks
		for name, check := range h.checks {
			if err := check(); err != nil {
				status.Status = "unhealthy"
				status.Checks[name] = err.Error()
			} else {
				status.Checks[name] = "ok"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if status.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if encodeErr := json.NewEncoder(w).Encode(status); encodeErr != nil {
			log.Printf("health handler encode failed: %v", encodeErr)
		}
	}
}

// LivenessHandler returns a simple liveness probe handler.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if encodeErr := json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
		}); encodeErr != nil {
			log.Printf("liveness handler encode failed: %v", encodeErr)
		}
	}
}

// ReadinessHandler returns a readiness probe handler.
func ReadinessHandler(ready *bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if ready != nil && *ready {
			if encodeErr := json.NewEncoder(w).Encode(map[string]string{
				"status": "ready",
			}); encodeErr != nil {
				log.Printf("readiness handler encode failed: %v", encodeErr)
			}
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			if encodeErr := json.NewEncoder(w).Encode(map[string]string{
				"status": "not_ready",
			}); encodeErr != nil {
				log.Printf("readiness handler encode failed: %v", encodeErr)
			}
		}
	}
}

// RuntimeStats returns runtime statistics.
func RuntimeStats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	stats := map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"alloc_mb":   m.Alloc / 1024 / 1024,
		"sys_mb":     m.Sys / 1024 / 1024,
		"num_gc":     m.NumGC,
		"go_version": runtime.Version(),
		"num_cpu":    runtime.NumCPU(),
	}
	for k, v := range processStats() {
		stats[k] = v
	}
	return stats
}

// processStats reports process-level CPU/RSS/FD counts via gopsutil, which
// sees the whole OS process rather than just the Go runtime's own view.
// Failures here (e.g. unsupported platform, /proc unavailable) are reported
// as zero values rather than propagated — runtime stats are diagnostic, not
// load-bearing.
func processStats() map[string]interface{} {
	out := map[string]interface{}{
		"cpu_percent": 0.0,
		"rss_mb":      uint64(0),
		"num_fds":     int32(0),
	}

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return out
	}
	if pct, err := p.CPUPercent(); err == nil {
		out["cpu_percent"] = pct
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		out["rss_mb"] = mem.RSS / 1024 / 1024
	}
	if fds, err := p.NumFDs(); err == nil {
		out["num_fds"] = fds
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		out["host_cpu_percent"] = percents[0]
	}
	return out
}

// ---------------------------------------------------------------------------
// Detailed health (aggregated readiness)
// ---------------------------------------------------------------------------

// CheckStatus is the outcome of one dependency/readiness check.
type CheckStatus string

const (
	CheckHealthy     CheckStatus = "healthy"
	CheckDegraded    CheckStatus = "degraded"
	CheckUnreachable CheckStatus = "unreachable"
)

// CheckResult is the outcome of one named dependency check, with an
// optional human-readable detail (e.g. the underlying error).
type CheckResult struct {
	Status CheckStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

// DetailedCheck probes one dependency (substrate, DB, downstream adapter)
// and reports its current status. Implementations must not block longer
// than the caller's context deadline allows; none of the checks here
// receive a context directly, so callers should use a short-timeout ping
// internally — rate-limiter and breaker checks are themselves bounded.
type DetailedCheck func() CheckResult

// DetailedHealthStatus is the JSON body for GET /health/detailed.
type DetailedHealthStatus struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Breakers  map[string]string      `json:"breakers,omitempty"`
	Runtime   map[string]interface{} `json:"runtime,omitempty"`
}

// DetailedHealthChecker aggregates substrate/DB/breaker/component
// readiness into the single status the distilled health surface
// requires: healthy, degraded (any dependency unhealthy), or error (any
// dependency unreachable).
type DetailedHealthChecker struct {
	mu          sync.RWMutex
	serviceName string
	version     string
	startTime   time.Time
	checks      map[string]DetailedCheck
	breakers    *resilience.Registry
}

// NewDetailedHealthChecker creates a detailed health checker. breakers may
// be nil if the service has no circuit breakers to report.
func NewDetailedHealthChecker(serviceName, version string, breakers *resilience.Registry) *DetailedHealthChecker {
	return &DetailedHealthChecker{
		serviceName: serviceName,
		version:     version,
		startTime:   time.Now(),
		checks:      make(map[string]DetailedCheck),
		breakers:    breakers,
	}
}

// RegisterCheck adds a named dependency check (substrate reachability, DB
// reachability, or any component-specific readiness probe).
func (h *DetailedHealthChecker) RegisterCheck(name string, check DetailedCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Handler returns the GET /health/detailed HTTP handler.
func (h *DetailedHealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		defer h.mu.RUnlock()

		status := DetailedHealthStatus{
			Status:    string(CheckHealthy),
			Service:   h.serviceName,
			Version:   h.version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(h.startTime).String(),
			Checks:    make(map[string]CheckResult, len(h.checks)),
		}

		overall := CheckHealthy
		for name, check := range h.checks {
			result := check()
			status.Checks[name] = result
			switch result.Status {
			case CheckUnreachable:
				overall = CheckUnreachable
			case CheckDegraded:
				if overall != CheckUnreachable {
					overall = CheckDegraded
				}
			}
		}

		if h.breakers != nil {
			breakerStates := h.breakers.States()
			status.Breakers = make(map[string]string, len(breakerStates))
			for name, state := range breakerStates {
				status.Breakers[name] = state.String()
				if state == resilience.StateOpen && overall != CheckUnreachable {
					overall = CheckDegraded
				}
			}
		}

		switch overall {
		case CheckHealthy:
			status.Status = "healthy"
		case CheckDegraded:
			status.Status = "degraded"
		case CheckUnreachable:
			status.Status = "error"
		}

		status.Runtime = RuntimeStats()

		w.Header().Set("Content-Type", "application/json")
		if overall != CheckHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if encodeErr := json.NewEncoder(w).Encode(status); encodeErr != nil {
			log.Printf("detailed health handler encode failed: %v", encodeErr)
		}
	}
}
