package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/Rajchodisetti/autotrader/internal/observ"
)

// BreakerState is the circuit breaker's current mode.
type BreakerState string

const (
	BreakerNormal  BreakerState = "normal"  // entries allowed
	BreakerTripped BreakerState = "tripped" // daily loss limit hit, no new entries until reset
)

const (
	EventTripped = "tripped"
	EventReset   = "reset"
)

// BreakerEvent records one state change.
type BreakerEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Reason    string         `json:"reason"`
	Data      map[string]any `json:"data,omitempty"`
}

// CircuitBreaker blocks entries once tripped. Exits are never blocked.
type CircuitBreaker struct {
	mu        sync.RWMutex
	state     BreakerState
	trippedAt time.Time
	reason    string
	events    []BreakerEvent
}

func NewCircuitBreaker() *CircuitBreaker {
	observ.SetGauge("circuit_breaker_tripped", 0, nil)
	return &CircuitBreaker{state: BreakerNormal}
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

func (cb *CircuitBreaker) Tripped() bool {
	return cb.State() == BreakerTripped
}

// Reason returns why the breaker last tripped, empty when normal.
func (cb *CircuitBreaker) Reason() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.reason
}

// Trip is idempotent; a second trip keeps the original reason.
func (cb *CircuitBreaker) Trip(now time.Time, reason string, data map[string]any) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == BreakerTripped {
		return
	}
	cb.state = BreakerTripped
	cb.trippedAt = now
	cb.reason = reason
	cb.events = append(cb.events, BreakerEvent{Timestamp: now, Type: EventTripped, Reason: reason, Data: data})

	observ.SetGauge("circuit_breaker_tripped", 1, nil)
	observ.IncCounter("circuit_breaker_transitions_total", map[string]string{"to": string(BreakerTripped)})
	observ.Log("circuit_breaker_tripped", map[string]any{"reason": reason, "data": data})
}

func (cb *CircuitBreaker) Reset(now time.Time, reason string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == BreakerNormal {
		return
	}
	held := now.Sub(cb.trippedAt)
	cb.state = BreakerNormal
	cb.reason = ""
	cb.events = append(cb.events, BreakerEvent{Timestamp: now, Type: EventReset, Reason: reason,
		Data: map[string]any{"tripped_for": fmt.Sprint(held.Round(time.Second))}})

	observ.SetGauge("circuit_breaker_tripped", 0, nil)
	observ.IncCounter("circuit_breaker_transitions_total", map[string]string{"to": string(BreakerNormal)})
	observ.Log("circuit_breaker_reset", map[string]any{"reason": reason, "tripped_for_s": held.Seconds()})
}

// Events returns a copy of the breaker's history.
func (cb *CircuitBreaker) Events() []BreakerEvent {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return append([]BreakerEvent(nil), cb.events...)
}
