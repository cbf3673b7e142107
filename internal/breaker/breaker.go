// Package breaker implements a three-state circuit breaker guarding calls to
// an unreliable dependency.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	// Timeout is the cooldown before an open breaker admits a trial call.
	Timeout time.Duration
	// HalfOpenMax caps the trial calls in flight while half-open.
	// Defaults to 1.
	HalfOpenMax int
	// FailureWindow resets the closed failure count when this long has
	// passed since the last failure.
	FailureWindow time.Duration
	// IsRateLimit marks failures that open the breaker immediately.
	IsRateLimit func(error) bool
	// IsFailure decides whether an error counts against the breaker.
	// Defaults to every non-nil error.
	IsFailure     func(error) bool
	OnStateChange func(name string, from, to State)
}

// Snapshot is a read-only copy of the breaker state.
type Snapshot struct {
	Name             string     `json:"name"`
	State            string     `json:"state"`
	FailureCount     int        `json:"failure_count"`
	SuccessCount     int        `json:"success_count"`
	LastFailureAt    *time.Time `json:"last_failure_at,omitempty"`
	LastTransitionAt *time.Time `json:"last_transition_at,omitempty"`
}

type transition struct{ from, to State }

type Breaker struct {
	cfg Config
	now func() time.Time

	mu               sync.Mutex
	state            State
	failures         int
	successes        int
	trials           int
	lastFailure      time.Time
	lastTransitionAt time.Time
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = 60 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	return &Breaker{cfg: cfg, now: time.Now, state: Closed}
}

// Execute runs fn unless the breaker is open, and records the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.IsAllowed() {
		return ErrOpen
	}
	err := fn(ctx)
	b.Record(err)
	return err
}

// IsAllowed reports whether a call may proceed. An open breaker whose
// cooldown has elapsed moves to half-open here. While half-open, a true
// result takes one of the HalfOpenMax trial slots; the caller must report
// the outcome with Record to free it.
func (b *Breaker) IsAllowed() bool {
	b.mu.Lock()
	var fired []transition
	if b.state == Open && b.now().Sub(b.lastTransitionAt) >= b.cfg.Timeout {
		fired = b.transitionTo(HalfOpen, fired)
	}
	allowed := true
	switch b.state {
	case Open:
		allowed = false
	case HalfOpen:
		if b.trials >= b.cfg.HalfOpenMax {
			allowed = false
		} else {
			b.trials++
		}
	}
	b.mu.Unlock()
	b.notify(fired)
	return allowed
}

// Ready is IsAllowed without side effects. It neither moves an open breaker
// to half-open nor takes a trial slot.
func (b *Breaker) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Open:
		return b.now().Sub(b.lastTransitionAt) >= b.cfg.Timeout
	case HalfOpen:
		return b.trials < b.cfg.HalfOpenMax
	}
	return true
}

// Record applies the outcome of a call made outside Execute.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	var fired []transition
	now := b.now()
	if b.state == HalfOpen && b.trials > 0 {
		b.trials--
	}

	if err != nil && b.cfg.IsFailure(err) {
		rateLimited := b.cfg.IsRateLimit != nil && b.cfg.IsRateLimit(err)
		switch b.state {
		case Closed:
			if !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > b.cfg.FailureWindow {
				b.failures = 0
			}
			b.failures++
			b.lastFailure = now
			if rateLimited || b.failures >= b.cfg.FailureThreshold {
				fired = b.transitionTo(Open, fired)
			}
		case HalfOpen:
			b.lastFailure = now
			fired = b.transitionTo(Open, fired)
		case Open:
			b.lastFailure = now
		}
	} else if err == nil {
		switch b.state {
		case Closed:
			b.failures = 0
		case HalfOpen:
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				fired = b.transitionTo(Closed, fired)
			}
		}
	}

	b.mu.Unlock()
	b.notify(fired)
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	fired := b.transitionTo(Closed, nil)
	b.failures = 0
	b.successes = 0
	b.lastFailure = time.Time{}
	b.mu.Unlock()
	b.notify(fired)
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	failures := b.failures
	if b.state == Closed && !b.lastFailure.IsZero() && b.now().Sub(b.lastFailure) > b.cfg.FailureWindow {
		failures = 0
	}
	return Snapshot{
		Name:             b.cfg.Name,
		State:            b.state.String(),
		FailureCount:     failures,
		SuccessCount:     b.successes,
		LastFailureAt:    timePtr(b.lastFailure),
		LastTransitionAt: timePtr(b.lastTransitionAt),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// transitionTo must be called with mu held.
func (b *Breaker) transitionTo(to State, fired []transition) []transition {
	if b.state == to {
		return fired
	}
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	b.trials = 0
	b.lastTransitionAt = b.now()
	return append(fired, transition{from: from, to: to})
}

func (b *Breaker) notify(fired []transition) {
	if b.cfg.OnStateChange == nil {
		return
	}
	for _, t := range fired {
		b.cfg.OnStateChange(b.cfg.Name, t.from, t.to)
	}
}
