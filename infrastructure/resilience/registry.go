package resilience

import (
	"fmt"
	"sync"
)

// Registry keeps exactly one CircuitBreaker per name so unrelated call
// sites protecting the same downstream share state instead of opening
// independent breakers against it.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	logger   *LoggerFunc
}

// LoggerFunc is invoked on every state transition of any breaker the
// registry owns, with the breaker's name attached.
type LoggerFunc func(name string, from, to State)

// NewRegistry creates an empty breaker registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*CircuitBreaker)}
}

// OnStateChange installs a callback invoked for every breaker's state
// transitions, keyed by name. Must be called before GetOrCreate for
// breakers created afterward to pick it up.
func (r *Registry) OnStateChange(fn LoggerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = &fn
}

// GetOrCreate returns the named breaker, creating it with cfg on first use.
// A subsequent call with a different cfg for the same name is ignored —
// the first registration wins, matching "a registry keyed by name prevents
// duplicate breakers".
func (r *Registry) GetOrCreate(name string, cfg Config) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	if r.logger != nil {
		userOnChange := cfg.OnStateChange
		logger := *r.logger
		cfg.OnStateChange = func(from, to State) {
			logger(name, from, to)
			if userOnChange != nil {
				userOnChange(from, to)
			}
		}
	}

	cb = New(cfg)
	r.breakers[name] = cb
	return cb
}

// Get returns the named breaker if it has already been created.
func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// States returns a snapshot of every registered breaker's current state,
// keyed by name, for the metrics gauge in infrastructure/metrics.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.State()
	}
	return out
}

// Preconfigured breaker names for the downstream paths every service
// protects: ML scoring, the geographic optimizer, the storage path, and
// external adapters (one breaker per adapter, keyed by adapter name).
const (
	BreakerMLScoring     = "ml-scoring"
	BreakerGeoOptimizer  = "geo-optimizer"
	BreakerStorage       = "storage"
)

// AdapterBreakerName returns the registry key for an external adapter's
// breaker, e.g. "adapter:messenger".
func AdapterBreakerName(adapter string) string {
	return fmt.Sprintf("adapter:%s", adapter)
}

// Bootstrap creates the breakers every service needs regardless of which
// downstream paths it exercises, using cfg for all of them. Individual
// adapters are registered lazily via AdapterBreakerName + GetOrCreate.
func (r *Registry) Bootstrap(cfg Config) {
	r.GetOrCreate(BreakerMLScoring, cfg)
	r.GetOrCreate(BreakerGeoOptimizer, cfg)
	r.GetOrCreate(BreakerStorage, cfg)
}
