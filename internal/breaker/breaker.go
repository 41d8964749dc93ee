// Package breaker implements a consecutive-failure circuit breaker used to
// guard database access.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State of the circuit.
type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half-open"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned while the circuit rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

// OpenError is ErrOpen with the time left until the next trial request.
type OpenError struct {
	RetryAfter time.Duration
}

func (e *OpenError) Error() string { return ErrOpen.Error() }
func (e *OpenError) Unwrap() error { return ErrOpen }

// Config configures a Breaker. Zero values fall back to the defaults.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes needed to close again.
	SuccessThreshold int
	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration
	// IsSuccessful decides whether an error still counts as a healthy call.
	IsSuccessful func(err error) bool
	// OnStateChange is called synchronously, outside the lock.
	OnStateChange func(from, to State)
	// Now overrides the clock.
	Now func() time.Time
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
}

// Counts is a snapshot of the breaker's counters.
type Counts struct {
	State               State
	ConsecutiveFailures int
	HalfOpenSuccesses   int
	HalfOpenInFlight    int
	OpenedAt            time.Time
	TotalRejected       uint64
}

type Breaker struct {
	mu  sync.Mutex
	cfg Config

	state     State
	failures  int
	successes int
	inFlight  int
	openedAt  time.Time
	rejected  uint64
}

func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.IsSuccessful == nil {
		cfg.IsSuccessful = func(err error) bool { return err == nil }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg, state: Closed}
}

// Allow asks for permission to make a call. Every nil return must be paired
// with exactly one Record.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	var from, to State
	changed := false
	defer func() {
		b.mu.Unlock()
		if changed {
			b.notify(from, to)
		}
	}()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.OpenTimeout {
			b.rejected++
			return ErrOpen
		}
		from, to, changed = b.state, HalfOpen, true
		b.setState(HalfOpen)
		b.inFlight++
		return nil
	case HalfOpen:
		// only as many trial requests as are needed to close again
		if b.inFlight+b.successes >= b.cfg.SuccessThreshold {
			b.rejected++
			return ErrOpen
		}
		b.inFlight++
		return nil
	}
	return nil
}

// Record reports the outcome of a call admitted by Allow.
func (b *Breaker) Record(err error) {
	ok := b.cfg.IsSuccessful(err)

	b.mu.Lock()
	from := b.state
	switch b.state {
	case Closed:
		if ok {
			b.failures = 0
		} else {
			b.failures++
			if b.failures >= b.cfg.FailureThreshold {
				b.setState(Open)
			}
		}
	case HalfOpen:
		if b.inFlight > 0 {
			b.inFlight--
		}
		if ok {
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				b.setState(Closed)
			}
		} else {
			b.setState(Open)
		}
	case Open:
		// a call admitted before the circuit opened; nothing to count
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

// Execute runs fn if the circuit allows it and records the result.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn()
	b.Record(err)
	return err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.cfg.Now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		return HalfOpen
	}
	return b.state
}

func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Counts{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		HalfOpenSuccesses:   b.successes,
		HalfOpenInFlight:    b.inFlight,
		OpenedAt:            b.openedAt,
		TotalRejected:       b.rejected,
	}
}

// RetryAfter is the time left until the circuit will admit a trial request.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return 0
	}
	left := b.cfg.OpenTimeout - b.cfg.Now().Sub(b.openedAt)
	if left < 0 {
		return 0
	}
	return left
}

func (b *Breaker) setState(s State) {
	b.state = s
	switch s {
	case Closed:
		b.failures = 0
		b.successes = 0
		b.inFlight = 0
	case Open:
		b.openedAt = b.cfg.Now()
		b.successes = 0
		b.inFlight = 0
	case HalfOpen:
		b.successes = 0
		b.inFlight = 0
	}
}

func (b *Breaker) notify(from, to State) {
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
