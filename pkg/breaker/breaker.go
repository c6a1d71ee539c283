// Package breaker provides a keyed circuit breaker registry. Each key gets
// its own breaker: closed -> open after N consecutive failures, open rejects
// calls for a cooldown window, then half-opens to allow a single trial call.
package breaker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned when the breaker for a key rejects the call outright.
var ErrOpen = gobreaker.ErrOpenState

const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 30 * time.Second
)

// Registry holds one circuit breaker per keyed resource.
type Registry struct {
	mu        sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker
	threshold uint32
	cooldown  time.Duration
}

// NewRegistry creates a registry. Non-positive arguments fall back to the
// package defaults.
func NewRegistry(failureThreshold int, cooldown time.Duration) *Registry {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Registry{
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		threshold: uint32(failureThreshold),
		cooldown:  cooldown,
	}
}

func (r *Registry) breaker(key string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[key]; ok {
		return cb
	}

	threshold := r.threshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1, // one trial call while half-open
		Timeout:     r.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})
	r.breakers[key] = cb
	return cb
}

// Do runs fn under the breaker for key. While the breaker is open the call
// is rejected immediately with ErrOpen.
func (r *Registry) Do(key string, fn func() error) error {
	_, err := r.breaker(key).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// Forget drops the breaker for key, resetting its state.
func (r *Registry) Forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, key)
}
