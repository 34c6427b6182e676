package prediction

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the source while the breaker is open.
var ErrCircuitOpen = errors.New("prediction: circuit breaker is open")

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// breaker trips after a run of consecutive failures and lets a single probe
// through once the cooldown has elapsed.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	state     breakerState
	failures  int
	openedAt  time.Time
	probing   bool
	now       func() time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// current must be called with mu held.
func (b *breaker) current() breakerState {
	if b.state == stateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.state = stateHalfOpen
		b.probing = false
	}
	return b.state
}

func (b *breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current().String()
}

func (b *breaker) Call(ctx context.Context, f func(context.Context) error) error {
	b.mu.Lock()
	switch b.current() {
	case stateOpen:
		b.mu.Unlock()
		return ErrCircuitOpen
	case stateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.probing = true
	}
	b.mu.Unlock()

	err := f(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		// A caller giving up is not the source's fault.
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			if b.state == stateHalfOpen {
				b.probing = false
			}
			return err
		}
		b.failures++
		if b.state == stateHalfOpen || b.failures >= b.threshold {
			b.state = stateOpen
			b.openedAt = b.now()
			b.failures = 0
			b.probing = false
		}
		return err
	}
	b.state = stateClosed
	b.failures = 0
	b.probing = false
	return nil
}
