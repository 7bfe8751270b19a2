// Package resilience provides the circuit breaker and retry policy that guard
// calls to the external reviewer.
//
// Both are plain values owned by their caller and injected into the worker;
// there is no package-level state, so tests can build independent breakers.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the circuit breaker state
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// ErrCircuitOpen is returned when the breaker rejects a call without issuing it
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock
var SystemClock Clock = systemClock{}

// Outcome classifies a call result for the breaker
type Outcome int

const (
	// OutcomeSuccess resets the failure counter
	OutcomeSuccess Outcome = iota
	// OutcomeFailure counts toward tripping the breaker
	OutcomeFailure
	// OutcomeIgnored neither counts nor resets
	OutcomeIgnored
)

// Classifier maps a call error to an outcome
type Classifier func(err error) Outcome

// DefaultClassifier treats nil as success, caller cancellation as ignored and
// everything else, including deadline expiry, as a failure.
func DefaultClassifier(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, context.Canceled):
		return OutcomeIgnored
	default:
		return OutcomeFailure
	}
}

// BreakerSnapshot is a read-only view of breaker state
type BreakerSnapshot struct {
	Name          string     `json:"name"`
	State         State      `json:"state"`
	Failures      int        `json:"failures"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
}

// BreakerConfig configures a Breaker
type BreakerConfig struct {
	Name          string
	Threshold     int
	CoolDown      time.Duration
	Clock         Clock
	Classifier    Classifier
	OnStateChange func(from, to State, snap BreakerSnapshot)
}

// Breaker is a consecutive-failure circuit breaker around one call type
type Breaker struct {
	mu sync.Mutex

	name          string
	threshold     int
	coolDown      time.Duration
	clock         Clock
	classify      Classifier
	onStateChange func(from, to State, snap BreakerSnapshot)

	state         State
	failures      int
	lastFailureAt time.Time
	trialInFlight bool
	// generation changes on every transition; outcomes of calls admitted
	// under an older generation are dropped
	generation uint64
}

// NewBreaker creates a breaker in the CLOSED state
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold < 1 {
		cfg.Threshold = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.Classifier == nil {
		cfg.Classifier = DefaultClassifier
	}
	return &Breaker{
		name:          cfg.Name,
		threshold:     cfg.Threshold,
		coolDown:      cfg.CoolDown,
		clock:         cfg.Clock,
		classify:      cfg.Classifier,
		onStateChange: cfg.OnStateChange,
		state:         StateClosed,
	}
}

// Execute runs fn if the breaker admits the call and records its outcome.
// A rejected call returns ErrCircuitOpen and fn is not invoked.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	gen, trial, err := b.admit()
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			b.record(gen, trial, OutcomeFailure)
			panic(r)
		}
	}()
	callErr := fn(ctx)
	b.record(gen, trial, b.classify(callErr))
	return callErr
}

func (b *Breaker) admit() (uint64, bool, error) {
	b.mu.Lock()
	var change *stateChange
	defer func() {
		b.mu.Unlock()
		b.notify(change)
	}()

	switch b.state {
	case StateClosed:
		return b.generation, false, nil
	case StateOpen:
		if b.clock.Now().Sub(b.lastFailureAt) < b.coolDown {
			return 0, false, ErrCircuitOpen
		}
		change = b.transitionLocked(StateHalfOpen)
		b.trialInFlight = true
		return b.generation, true, nil
	default:
		// HALF_OPEN admits exactly one trial
		if b.trialInFlight {
			return 0, false, ErrCircuitOpen
		}
		b.trialInFlight = true
		return b.generation, true, nil
	}
}

func (b *Breaker) record(gen uint64, trial bool, outcome Outcome) {
	b.mu.Lock()
	var change *stateChange
	defer func() {
		b.mu.Unlock()
		b.notify(change)
	}()

	if gen != b.generation {
		return
	}
	if trial {
		b.trialInFlight = false
	}

	switch outcome {
	case OutcomeIgnored:
		return
	case OutcomeSuccess:
		b.failures = 0
		if b.state == StateHalfOpen {
			change = b.transitionLocked(StateClosed)
		}
	case OutcomeFailure:
		b.failures++
		b.lastFailureAt = b.clock.Now()
		switch b.state {
		case StateHalfOpen:
			change = b.transitionLocked(StateOpen)
		case StateClosed:
			if b.failures >= b.threshold {
				change = b.transitionLocked(StateOpen)
			}
		}
	}
}

type stateChange struct {
	from, to State
	snap     BreakerSnapshot
}

func (b *Breaker) transitionLocked(to State) *stateChange {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	b.generation++
	return &stateChange{from: from, to: to, snap: b.snapshotLocked()}
}

// notify runs the listener outside the lock so it may block or read the breaker
func (b *Breaker) notify(c *stateChange) {
	if c == nil || b.onStateChange == nil {
		return
	}
	b.onStateChange(c.from, c.to, c.snap)
}

// Snapshot returns the current state without changing it. An OPEN breaker
// whose cool-down has elapsed still reports OPEN until the next call.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Breaker) snapshotLocked() BreakerSnapshot {
	snap := BreakerSnapshot{
		Name:     b.name,
		State:    b.state,
		Failures: b.failures,
	}
	if !b.lastFailureAt.IsZero() {
		t := b.lastFailureAt
		snap.LastFailureAt = &t
	}
	return snap
}
