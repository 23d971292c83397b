package health

import (
	"sync"
	"time"

	"github.com/finroute/finroute/pkg/config"
	"github.com/finroute/finroute/pkg/logger"
	"github.com/finroute/finroute/pkg/metrics"
	"go.uber.org/zap"
)

// State is a provider's circuit-breaker state.
type State int

const (
	StateHealthy     State = iota // normal routing
	StateDegraded                 // still routed, deprioritized
	StateUnavailable              // hard-skipped until cooldown elapses
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "HEALTHY"
	case StateDegraded:
		return "DEGRADED"
	case StateUnavailable:
		return "UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// FailureKind distinguishes what went wrong for logging and metrics; all
// kinds count the same toward degradation.
type FailureKind string

const (
	FailureTimeout FailureKind = "timeout"
	FailureNetwork FailureKind = "network"
	FailurePayload FailureKind = "payload"
	FailureAuth    FailureKind = "auth"
)

// ProviderHealth is a point-in-time snapshot of one provider's state.
type ProviderHealth struct {
	Provider            string    `json:"provider"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccessAt       time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       time.Time `json:"last_failure_at,omitempty"`
	CooldownUntil       time.Time `json:"cooldown_until,omitempty"`
}

type entry struct {
	state         State
	failures      int
	lastSuccessAt time.Time
	lastFailureAt time.Time
	cooldownUntil time.Time
}

// Registry tracks per-provider circuit-breaker state for the lifetime of the
// process. Counter updates are read-modify-write under one mutex so
// concurrent failures for the same provider are never lost.
type Registry struct {
	cfg config.HealthConfig

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates a registry with all listed providers healthy.
func NewRegistry(cfg config.HealthConfig, providers ...string) *Registry {
	r := &Registry{cfg: cfg, entries: make(map[string]*entry, len(providers))}
	for _, p := range providers {
		r.entries[p] = &entry{state: StateHealthy}
		metrics.ProviderHealthState.WithLabelValues(p).Set(0)
	}
	return r
}

func (r *Registry) get(provider string) *entry {
	e, ok := r.entries[provider]
	if !ok {
		e = &entry{state: StateHealthy}
		r.entries[provider] = e
	}
	return e
}

// RecordSuccess resets the failure counter. A success during probation (after
// cooldown) closes the breaker entirely.
func (r *Registry) RecordSuccess(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.get(provider)
	prev := e.state
	e.failures = 0
	e.lastSuccessAt = time.Now()
	e.state = StateHealthy
	e.cooldownUntil = time.Time{}

	if prev != StateHealthy {
		logger.Log.Info("provider recovered",
			zap.String("provider", provider),
			zap.String("from", prev.String()))
	}
	metrics.ProviderHealthState.WithLabelValues(provider).Set(0)
}

// RecordFailure increments the consecutive-failure counter and advances the
// breaker state when thresholds are crossed. A failure during probation
// extends the cooldown.
func (r *Registry) RecordFailure(provider string, kind FailureKind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.get(provider)
	e.failures++
	e.lastFailureAt = time.Now()
	metrics.ProviderErrors.WithLabelValues(provider, string(kind)).Inc()

	switch {
	case e.failures >= r.cfg.UnavailableThreshold:
		e.state = StateUnavailable
		e.cooldownUntil = time.Now().Add(r.cooldown(e.failures))
		logger.Log.Warn("provider unavailable",
			zap.String("provider", provider),
			zap.String("kind", string(kind)),
			zap.Int("consecutive_failures", e.failures),
			zap.Time("cooldown_until", e.cooldownUntil))
		metrics.ProviderHealthState.WithLabelValues(provider).Set(2)
	case e.failures >= r.cfg.DegradedThreshold:
		e.state = StateDegraded
		logger.Log.Warn("provider degraded",
			zap.String("provider", provider),
			zap.Int("consecutive_failures", e.failures))
		metrics.ProviderHealthState.WithLabelValues(provider).Set(1)
	}
}

// IsAvailable reports whether the provider should be routed to. DEGRADED
// providers remain available; UNAVAILABLE providers become available again
// once their cooldown elapses (probation: the next call decides).
func (r *Registry) IsAvailable(provider string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.get(provider)
	if e.state != StateUnavailable {
		return true
	}
	return time.Now().After(e.cooldownUntil)
}

// StateOf returns the provider's current breaker state.
func (r *Registry) StateOf(provider string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(provider).state
}

// Snapshot returns the current health of every tracked provider.
func (r *Registry) Snapshot() []ProviderHealth {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ProviderHealth, 0, len(r.entries))
	for name, e := range r.entries {
		out = append(out, ProviderHealth{
			Provider:            name,
			State:               e.state.String(),
			ConsecutiveFailures: e.failures,
			LastSuccessAt:       e.lastSuccessAt,
			LastFailureAt:       e.lastFailureAt,
			CooldownUntil:       e.cooldownUntil,
		})
	}
	return out
}

// cooldown returns the exponential backoff for the given consecutive-failure
// count: base * 2^(failures-threshold), capped.
func (r *Registry) cooldown(failures int) time.Duration {
	exp := failures - r.cfg.UnavailableThreshold
	if exp < 0 {
		exp = 0
	}
	if exp > 30 {
		return r.cfg.CooldownMax
	}
	d := r.cfg.CooldownBase * time.Duration(1<<uint(exp))
	if d > r.cfg.CooldownMax {
		return r.cfg.CooldownMax
	}
	return d
}
