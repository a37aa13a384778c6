package router

import (
	"sync"
	"time"
)

// HealthTracker holds one circuit breaker per provider.
type HealthTracker struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	failureThreshold int
	probeInterval    time.Duration
}

func NewHealthTracker(failureThreshold int, probeInterval time.Duration) *HealthTracker {
	return &HealthTracker{
		breakers:         make(map[string]*CircuitBreaker),
		failureThreshold: failureThreshold,
		probeInterval:    probeInterval,
	}
}

// Breaker returns (lazily creating) the circuit breaker for a provider.
func (ht *HealthTracker) Breaker(provider string) *CircuitBreaker {
	ht.mu.RLock()
	cb, ok := ht.breakers[provider]
	ht.mu.RUnlock()
	if ok {
		return cb
	}

	ht.mu.Lock()
	defer ht.mu.Unlock()
	if cb, ok := ht.breakers[provider]; ok {
		return cb
	}
	cb = NewCircuitBreaker(ht.failureThreshold, ht.probeInterval)
	ht.breakers[provider] = cb
	return cb
}

func (ht *HealthTracker) Allow(provider string) bool {
	return ht.Breaker(provider).Allow()
}

func (ht *HealthTracker) RecordSuccess(provider string) {
	ht.Breaker(provider).RecordSuccess()
}

func (ht *HealthTracker) RecordFailure(provider string) {
	ht.Breaker(provider).RecordFailure()
}

// States snapshots every tracked provider's breaker state, for /api/status.
func (ht *HealthTracker) States() map[string]string {
	ht.mu.RLock()
	defer ht.mu.RUnlock()
	out := make(map[string]string, len(ht.breakers))
	for name, cb := range ht.breakers {
		out[name] = cb.State().String()
	}
	return out
}
