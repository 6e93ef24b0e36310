package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/instruqt/sandbox-broker/pkg/clock"
	"github.com/instruqt/sandbox-broker/pkg/log"
)

// State is one of the three circuit breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// ErrOpen is returned by Do when the breaker is open and the timeout has
// not yet elapsed.
var ErrOpen = errors.New("breaker: circuit open")

// Breaker guards calls to a single upstream dependency.
type Breaker struct {
	threshold int
	timeout   time.Duration
	clock     clock.Clock
	logger    zerolog.Logger

	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	halfOpenTry bool
}

// New creates a closed Breaker. threshold is the number of consecutive
// failures that trips it open; timeout is how long it stays open before
// allowing a half_open probe.
func New(threshold int, timeout time.Duration, clk clock.Clock) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Breaker{
		threshold: threshold,
		timeout:   timeout,
		clock:     clk,
		logger:    log.WithComponent("breaker"),
		state:     Closed,
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RetryAfter returns how long a caller should wait before retrying, valid
// only when State() is Open.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	elapsed := b.clock.Now().Sub(b.openedAt)
	remaining := b.timeout - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Do runs fn if the breaker allows it, tracking the outcome. It returns
// ErrOpen without calling fn if the circuit is open and the timeout has
// not elapsed.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !b.allow() {
		return ErrOpen
	}

	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.clock.Now().Sub(b.openedAt) < b.timeout {
			return false
		}
		// The Open->HalfOpen transition itself grants the single probe
		// to this caller, so halfOpenTry is marked in-flight here too: a
		// concurrent caller landing in the HalfOpen case below must not
		// also be admitted.
		b.state = HalfOpen
		b.halfOpenTry = true
		b.logger.Info().Msg("breaker half-open, allowing probe")
		return true
	case HalfOpen:
		// Only one probe in flight at a time.
		if b.halfOpenTry {
			return false
		}
		b.halfOpenTry = true
		return true
	}
	return true
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != Closed {
			b.logger.Info().Msg("breaker closing after successful probe")
		}
		b.state = Closed
		b.failures = 0
		return
	}

	switch b.state {
	case HalfOpen:
		b.trip()
	case Closed:
		b.failures++
		if b.failures >= b.threshold {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = b.clock.Now()
	b.failures = 0
	b.halfOpenTry = false
	b.logger.Warn().Dur("timeout", b.timeout).Msg("breaker tripped open")
}
