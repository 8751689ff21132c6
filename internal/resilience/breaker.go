package resilience

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrBreakerOpen is returned when a call is rejected without contacting the
// remote service because the breaker is open.
var ErrBreakerOpen = errors.New("circuit breaker open")

// BreakerState represents the circuit breaker state
type BreakerState int

const (
	// BreakerClosed passes all calls through
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects all calls until the cooldown elapses
	BreakerOpen
	// BreakerHalfOpen lets a probe call through after the cooldown
	BreakerHalfOpen
)

// String returns the state name for logging and metrics
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker is a per-destination circuit breaker. It opens after a
// configurable number of consecutive failures, fails fast for a cooldown
// window, then lets a probe through and closes again on success.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	logger    *zap.Logger

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool

	// now is swapped by tests to control the cooldown clock
	now func() time.Time

	// onStateChange receives state transitions, used for metrics
	onStateChange func(name string, state BreakerState)
}

// NewBreaker creates a circuit breaker for one destination
func NewBreaker(name string, threshold int, cooldown time.Duration, logger *zap.Logger) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger,
		state:     BreakerClosed,
		now:       time.Now,
	}
}

// OnStateChange registers a callback invoked on every state transition
func (b *Breaker) OnStateChange(fn func(name string, state BreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Allow reports whether a call may proceed. When the breaker is open and
// the cooldown has not elapsed it returns a batch-fatal error immediately,
// without contacting the network. Half-open admits exactly one in-flight
// probe; concurrent callers are rejected until the probe is recorded.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerHalfOpen:
		if b.probeInFlight {
			return FatalBatch(ErrBreakerOpen)
		}
		b.probeInFlight = true
		return nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.transition(BreakerHalfOpen)
			b.probeInFlight = true
			return nil
		}
		return FatalBatch(ErrBreakerOpen)
	}
	return nil
}

// RecordSuccess resets the failure count and closes the breaker
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.probeInFlight = false
	if b.state != BreakerClosed {
		b.transition(BreakerClosed)
	}
}

// RecordFailure counts a failure and opens the breaker at the threshold.
// Item-level rejections do not count; they say nothing about the
// destination's health.
func (b *Breaker) RecordFailure(err error) {
	if ClassOf(err) == ClassFatalItem {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.probeInFlight = false
	if b.state == BreakerHalfOpen || b.consecutiveFailures >= b.threshold {
		b.openedAt = b.now()
		if b.state != BreakerOpen {
			b.transition(BreakerOpen)
		}
	}
}

// State returns the current breaker state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(state BreakerState) {
	b.state = state
	b.logger.Info("Circuit breaker state changed",
		zap.String("breaker", b.name),
		zap.String("state", state.String()),
		zap.Int("consecutive_failures", b.consecutiveFailures))
	if b.onStateChange != nil {
		b.onStateChange(b.name, state)
	}
}
