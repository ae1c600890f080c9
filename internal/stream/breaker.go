package stream

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the tri-state of the publish circuit breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // writes pass through
	BreakerOpen                         // writes rejected immediately
	BreakerHalfOpen                     // one probe write allowed
)

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

// ErrBreakerOpen is returned while the breaker rejects writes.
var ErrBreakerOpen = errors.New("publish breaker open")

// Breaker trips after maxFailures consecutive publish errors and
// rejects writes for retryAfter. The first write after the window is
// a probe: success closes the breaker, failure reopens it. The ingest
// publisher buffers rows while the breaker is open so a Redis outage
// does not drop market data.
type Breaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	maxFailures int
	retryAfter  time.Duration
	lastFailure time.Time

	// OnStateChange fires on every transition (metrics, flush).
	OnStateChange func(from, to BreakerState)
}

// NewBreaker creates a breaker tripping after maxFailures consecutive
// errors and probing again after retryAfter.
func NewBreaker(maxFailures int, retryAfter time.Duration) *Breaker {
	return &Breaker{maxFailures: maxFailures, retryAfter: retryAfter}
}

// Do runs fn unless the breaker is open. Only one probe runs at a
// time because state checks hold the mutex.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	if b.state == BreakerOpen {
		if time.Since(b.lastFailure) > b.retryAfter {
			b.transition(BreakerHalfOpen)
		} else {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		b.lastFailure = time.Now()
		if b.state == BreakerHalfOpen || b.failures >= b.maxFailures {
			b.transition(BreakerOpen)
		}
		return err
	}
	if b.state == BreakerHalfOpen {
		b.transition(BreakerClosed)
	}
	b.failures = 0
	return nil
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if to == BreakerClosed {
		b.failures = 0
	}
	if b.OnStateChange != nil {
		b.OnStateChange(from, to)
	}
}
