// Package breaker implements a per-server circuit breaker. One breaker
// guards each registered tool server; breakers are fully independent so an
// open circuit on one server never affects another's availability.
package breaker

import (
	"sync"
	"time"

	"github.com/toolmesh/toolmesh-go/pkg/config"
	"github.com/toolmesh/toolmesh-go/pkg/logging"
	"github.com/toolmesh/toolmesh-go/pkg/metrics"
)

// State is the breaker state machine position.
type State int

const (
	// StateClosed allows all calls.
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down elapses.
	StateOpen
	// StateHalfOpen allows a single probe call whose outcome decides
	// whether the circuit closes again or reopens.
	StateHalfOpen
)

// String returns the state name used in metrics labels.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Snapshot is a read-only view of a breaker's state for summaries.
type Snapshot struct {
	Server         string    `json:"server"`
	State          string    `json:"state"`
	Failures       int       `json:"failures"`
	LastTransition time.Time `json:"last_transition"`
}

// Breaker is a per-server failure-rate state machine.
type Breaker struct {
	server    string
	cfg       config.BreakerConfig
	collector *metrics.Collector
	logger    logging.Logger
	now       func() time.Time

	mu             sync.Mutex
	state          State
	failures       int
	successes      int
	probeInFlight  bool
	lastTransition time.Time
}

// Option customizes a Breaker.
type Option func(*Breaker)

// WithClock injects a clock, for deterministic cool-down tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithLogger attaches a logger.
func WithLogger(logger logging.Logger) Option {
	return func(b *Breaker) { b.logger = logger }
}

// New creates a breaker for one server. collector may be nil.
func New(server string, cfg config.BreakerConfig, collector *metrics.Collector, opts ...Option) *Breaker {
	b := &Breaker{
		server:    server,
		cfg:       cfg,
		collector: collector,
		logger:    logging.NewNopLogger(),
		now:       time.Now,
		state:     StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastTransition = b.now()
	return b
}

// CanExecute reports whether a call may proceed. CLOSED always allows;
// OPEN transitions to HALF_OPEN once the cool-down has elapsed and then
// grants exactly one probe slot; HALF_OPEN rejects while a probe is already
// in flight, except that a probe abandoned for longer than the cool-down is
// re-armed so an unrecorded outcome cannot wedge the breaker.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.lastTransition) >= b.cfg.Cooldown {
			b.transition(StateHalfOpen)
			b.probeInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		if b.probeInFlight {
			if b.now().Sub(b.lastTransition) < b.cfg.Cooldown {
				return false
			}
			// The slot holder went away without recording an outcome
			// (caller cancelled between the gate and the call). Re-arm
			// rather than rejecting this server forever.
			b.lastTransition = b.now()
			return true
		}
		b.probeInFlight = true
		return true
	}
	return false
}

// RecordSuccess resets the failure count and, in HALF_OPEN, counts toward
// closing the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probeInFlight = false

	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

// RecordFailure increments the consecutive failure counter. Reaching the
// threshold trips CLOSED to OPEN; any HALF_OPEN failure reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.probeInFlight = false

	if b.state == StateHalfOpen {
		b.transition(StateOpen)
		return
	}
	if b.state == StateClosed && b.failures >= b.cfg.FailureThreshold {
		b.transition(StateOpen)
	}
}

// State returns the current state, applying the lazy OPEN to HALF_OPEN
// check so readers see the same view callers would.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.lastTransition) >= b.cfg.Cooldown {
		b.transition(StateHalfOpen)
	}
	return b.state
}

// Snapshot returns a read-only view for health summaries.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Server:         b.server,
		State:          b.state.String(),
		Failures:       b.failures,
		LastTransition: b.lastTransition,
	}
}

// transition moves the state machine and reports the change. Callers hold
// the mutex.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.lastTransition = b.now()
	if to == StateHalfOpen {
		b.successes = 0
		b.probeInFlight = false
	}
	if to == StateClosed {
		b.failures = 0
	}

	b.logger.Info("circuit breaker state change",
		logging.String("server", b.server),
		logging.String("from", from.String()),
		logging.String("to", to.String()),
	)
	if b.collector != nil {
		b.collector.TrackCircuitBreaker(b.server, to.String())
	}
}
