// Package safety holds the daemon's defensive layer: the market-data circuit
// breaker (§7 CircuitBroken) and the outbound signal validator (§4.4 step 5).
package safety

import (
	"fmt"
	"sync"
	"time"

	"github.com/ducminhle1904/crypto-dca-bot/internal/config"
	"github.com/ducminhle1904/crypto-dca-bot/internal/metrics"
)

// CircuitBreakerState is one of the three circuit breaker states.
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

func (s CircuitBreakerState) metricValue() metrics.CircuitState {
	switch s {
	case StateOpen:
		return metrics.CircuitOpen
	case StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}

// CircuitBreakerConfig parameterizes one breaker instance.
type CircuitBreakerConfig struct {
	FailureThreshold uint32        // consecutive failures before opening
	SuccessThreshold uint32        // consecutive successes to close from half-open
	Timeout          time.Duration // cooldown before a half-open retry
	MaxFailures      uint32        // failures in the rolling window that force an extended cooldown
	ResetTimeout     time.Duration // rolling window width
}

// MarketDataBreakerConfig builds a CircuitBreakerConfig from the daemon's
// §6.5 market-data circuit breaker options.
func MarketDataBreakerConfig(cfg *config.Config) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: uint32(cfg.MarketDataFailureThreshold),
		SuccessThreshold: 1,
		Timeout:          cfg.MarketDataCircuitBreakDuration,
		MaxFailures:      uint32(cfg.MarketDataFailureThreshold) * 3,
		ResetTimeout:     cfg.MarketDataFailureWindow,
	}
}

// CircuitBreaker suppresses repeated calls to a flaky dependency, per §7's
// CircuitBroken recovery policy: trip on a failure run, wait out a cooldown,
// probe once in half-open, then either close or re-open.
type CircuitBreaker struct {
	config        CircuitBreakerConfig
	state         CircuitBreakerState
	failures      uint32
	successes     uint32
	lastFailure   time.Time
	nextAttempt   time.Time
	mutex         sync.RWMutex
	name          string
	onStateChange func(from, to CircuitBreakerState)
}

// NewCircuitBreaker creates a named breaker, publishing its initial state to
// the daemon-wide gauge so /metrics reflects it even before the first trip.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = cfg.FailureThreshold * 3
	}
	if cfg.ResetTimeout == 0 {
		cfg.ResetTimeout = 5 * time.Minute
	}

	cb := &CircuitBreaker{config: cfg, state: StateClosed, name: name}
	metrics.RecordCircuitState(name, StateClosed.metricValue())
	return cb
}

// SetStateChangeCallback registers a hook invoked (off the lock, in its own
// goroutine) whenever the breaker transitions, e.g. to drive logging.
func (cb *CircuitBreaker) SetStateChangeCallback(callback func(from, to CircuitBreakerState)) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.onStateChange = callback
}

// Call executes fn under breaker protection, returning a plain "circuit
// breaker <name> is open" error immediately (without invoking fn) when the
// breaker is tripped; the monitor wraps it as a CircuitBroken error.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.canExecute() {
		return fmt.Errorf("circuit breaker %s is open", cb.name)
	}

	err := fn()
	if err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) canExecute() bool {
	cb.mutex.RLock()
	state := cb.state
	nextAttempt := cb.nextAttempt
	cb.mutex.RUnlock()

	switch state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Now().After(nextAttempt) {
			cb.toHalfOpen()
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures = 0

	switch cb.state {
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.toClosedLocked()
		}
	case StateOpen:
		cb.toClosedLocked()
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.toOpenLocked()
		}
	case StateHalfOpen:
		cb.toOpenLocked()
	case StateOpen:
		cb.nextAttempt = time.Now().Add(cb.config.Timeout)
	}

	if cb.failures >= cb.config.MaxFailures {
		cb.toOpenLocked()
		cb.nextAttempt = time.Now().Add(cb.config.Timeout * 2)
	}
}

func (cb *CircuitBreaker) toClosedLocked() {
	cb.changeStateLocked(StateClosed)
	cb.failures = 0
	cb.successes = 0
}

func (cb *CircuitBreaker) toOpenLocked() {
	cb.changeStateLocked(StateOpen)
	cb.nextAttempt = time.Now().Add(cb.config.Timeout)
	cb.successes = 0
}

func (cb *CircuitBreaker) toHalfOpen() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.changeStateLocked(StateHalfOpen)
	cb.successes = 0
}

func (cb *CircuitBreaker) changeStateLocked(newState CircuitBreakerState) {
	oldState := cb.state
	cb.state = newState
	metrics.RecordCircuitState(cb.name, newState.metricValue())

	if cb.onStateChange != nil && oldState != newState {
		go cb.onStateChange(oldState, newState)
	}
}

func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state
}

type CircuitBreakerStats struct {
	Name        string
	State       CircuitBreakerState
	Failures    uint32
	Successes   uint32
	LastFailure time.Time
	NextAttempt time.Time
}

func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return CircuitBreakerStats{
		Name:        cb.name,
		State:       cb.state,
		Failures:    cb.failures,
		Successes:   cb.successes,
		LastFailure: cb.lastFailure,
		NextAttempt: cb.nextAttempt,
	}
}

func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.toClosedLocked()
}

func (cb *CircuitBreaker) ForceOpen() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.toOpenLocked()
}

// CircuitBreakerManager owns one breaker per symbol (or other key), each
// independently tripped — a market-data outage on one symbol must not
// suppress ticks for the rest of the watchlist.
type CircuitBreakerManager struct {
	breakers map[string]*CircuitBreaker
	mutex    sync.RWMutex
}

func NewCircuitBreakerManager() *CircuitBreakerManager {
	return &CircuitBreakerManager{breakers: make(map[string]*CircuitBreaker)}
}

func (cbm *CircuitBreakerManager) GetOrCreate(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	cbm.mutex.RLock()
	if cb, exists := cbm.breakers[name]; exists {
		cbm.mutex.RUnlock()
		return cb
	}
	cbm.mutex.RUnlock()

	cbm.mutex.Lock()
	defer cbm.mutex.Unlock()
	if cb, exists := cbm.breakers[name]; exists {
		return cb
	}
	cb := NewCircuitBreaker(name, cfg)
	cbm.breakers[name] = cb
	return cb
}

func (cbm *CircuitBreakerManager) Get(name string) (*CircuitBreaker, bool) {
	cbm.mutex.RLock()
	defer cbm.mutex.RUnlock()
	cb, exists := cbm.breakers[name]
	return cb, exists
}

func (cbm *CircuitBreakerManager) GetAll() map[string]*CircuitBreaker {
	cbm.mutex.RLock()
	defer cbm.mutex.RUnlock()
	result := make(map[string]*CircuitBreaker, len(cbm.breakers))
	for name, cb := range cbm.breakers {
		result[name] = cb
	}
	return result
}

func (cbm *CircuitBreakerManager) HasOpenCircuits() bool {
	cbm.mutex.RLock()
	defer cbm.mutex.RUnlock()
	for _, cb := range cbm.breakers {
		if cb.GetState() == StateOpen {
			return true
		}
	}
	return false
}

func (cbm *CircuitBreakerManager) GetOpenCircuits() []string {
	cbm.mutex.RLock()
	defer cbm.mutex.RUnlock()
	var open []string
	for name, cb := range cbm.breakers {
		if cb.GetState() == StateOpen {
			open = append(open, name)
		}
	}
	return open
}
