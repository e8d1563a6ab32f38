package gateway

import (
	"sync"
	"time"
)

// BreakerState is the circuit state for one remote agent.
type BreakerState string

const (
	StateClosed   BreakerState = "CLOSED"
	StateOpen     BreakerState = "OPEN"
	StateHalfOpen BreakerState = "HALF_OPEN"
)

// breaker isolates one flaky agent. After threshold consecutive failures
// the circuit opens and calls fail fast until nextProbeAt; then exactly
// one probe is allowed through. A successful probe closes the circuit,
// a failed one reopens it with a backed-off nextProbeAt.
type breaker struct {
	name      string
	threshold int
	base      time.Duration
	max       time.Duration
	now       func() time.Time

	mu          sync.Mutex
	state       BreakerState
	failures    int
	openedAt    time.Time
	nextProbeAt time.Time
	probing     bool
}

func newBreaker(name string, threshold int, base, max time.Duration) *breaker {
	if threshold <= 0 {
		threshold = 3
	}
	return &breaker{
		name:      name,
		threshold: threshold,
		base:      base,
		max:       max,
		now:       time.Now,
		state:     StateClosed,
	}
}

// allow reports whether a call may proceed. It transitions OPEN→HALF_OPEN
// when the probe window has arrived and admits exactly one probe; all
// concurrent half-open callers fail fast.
func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Before(b.nextProbeAt) {
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probing = true
		return nil
	default: // StateHalfOpen
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	}
}

// success records a successful call and closes the circuit.
func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = StateClosed
	b.probing = false
}

// failure records a failed call (timeout, connection error, non-2xx).
func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	wasProbe := b.state == StateHalfOpen
	b.probing = false

	if wasProbe || b.failures >= b.threshold {
		b.state = StateOpen
		b.openedAt = b.now()
		b.nextProbeAt = b.openedAt.Add(b.backoff())
	}
}

// backoff computes min(max, base * 2^(failures-threshold)).
// Caller must hold b.mu.
func (b *breaker) backoff() time.Duration {
	exp := b.failures - b.threshold
	if exp < 0 {
		exp = 0
	}
	// Cap the shift so the duration can't overflow before the min.
	if exp > 20 {
		return b.max
	}
	d := b.base << uint(exp)
	if d > b.max || d <= 0 {
		return b.max
	}
	return d
}

// AgentStatus describes one breaker for the diagnostic surface.
type AgentStatus struct {
	Name                string       `json:"name"`
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	OpenedAt            time.Time    `json:"opened_at,omitempty"`
	NextProbeAt         time.Time    `json:"next_probe_at,omitempty"`
}

func (b *breaker) status() AgentStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return AgentStatus{
		Name:                b.name,
		State:               b.state,
		ConsecutiveFailures: b.failures,
		OpenedAt:            b.openedAt,
		NextProbeAt:         b.nextProbeAt,
	}
}
