package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned when the breaker is rejecting calls.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	// BreakerClosed allows calls to pass through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects all calls.
	BreakerOpen
	// BreakerHalfOpen allows a single probe call to test recovery.
	BreakerHalfOpen
)

// String returns the state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker guards the remote sync target. After MaxFailures consecutive
// upload failures it opens and the dispatcher routes batches straight to the
// local spool; after Cooldown one probe upload is allowed through.
type Breaker struct {
	maxFailures   int
	cooldown      time.Duration
	onStateChange func(from, to BreakerState)

	mu          sync.Mutex
	state       BreakerState
	failures    int
	openedAt    time.Time
	probeActive bool
}

// NewBreaker creates a breaker that opens after maxFailures consecutive
// failures and allows a probe after cooldown.
func NewBreaker(maxFailures int, cooldown time.Duration, onStateChange func(from, to BreakerState)) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		maxFailures:   maxFailures,
		cooldown:      cooldown,
		onStateChange: onStateChange,
		state:         BreakerClosed,
	}
}

// Execute runs fn through the breaker. Returns ErrBreakerOpen without
// calling fn when the breaker is rejecting calls.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allow() {
		return ErrBreakerOpen
	}
	err := fn()
	b.record(err)
	return err
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		if b.probeActive {
			return false
		}
		b.probeActive = true
		return true
	default:
		return false
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probeActive = false
	if err == nil {
		b.failures = 0
		b.toState(BreakerClosed)
		return
	}

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.maxFailures {
		b.openedAt = time.Now()
		b.toState(BreakerOpen)
	}
}

// currentState handles the open-to-half-open cooldown transition. Caller
// holds the mutex.
func (b *Breaker) currentState() BreakerState {
	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.cooldown {
		b.toState(BreakerHalfOpen)
	}
	return b.state
}

func (b *Breaker) toState(to BreakerState) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}
