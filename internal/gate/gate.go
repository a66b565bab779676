// Package gate admits at most one dialog turn per user at a time.
//
// Admission is a bounded-retry state machine:
//
//	Idle -> Admitted
//	Idle -> Retrying(1) -> ... -> Retrying(n) -> Admitted | Abandoned
//
// A caller that cannot block (worker pool) drives it with Step and reschedules
// itself after Backoff; a caller that owns its goroutine uses Admit.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrAdmissionAbandoned is returned when the retry budget is exhausted.
var ErrAdmissionAbandoned = errors.New("gate: admission abandoned")

// ErrDialogLogic wraps failures raised by the turn body.
var ErrDialogLogic = errors.New("gate: dialog logic failure")

const (
	DefaultMaxAttempts = 10
	DefaultBackoff     = 500 * time.Millisecond
)

// State of an admission.
type State int

const (
	StateIdle State = iota
	StateRetrying
	StateAbandoned
	StateAdmitted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRetrying:
		return "retrying"
	case StateAbandoned:
		return "abandoned"
	case StateAdmitted:
		return "admitted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Policy bounds admission retries.
// MaxAttempts is the number of retries after the first failed try.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, Backoff: DefaultBackoff}
}

// Locker is a per-key binary lock that never blocks.
type Locker interface {
	TryLock(key string) bool
	Unlock(key string)
}

// Gate serializes turns per user key.
type Gate struct {
	locks  Locker
	policy atomic.Pointer[Policy]
}

// New creates a gate over locks. A nil locker uses a fresh LockTable.
func New(locks Locker, policy Policy) *Gate {
	if locks == nil {
		locks = NewLockTable()
	}
	g := &Gate{locks: locks}
	g.SetPolicy(policy)
	return g
}

// SetPolicy replaces the retry policy. Admissions in progress pick it up on their next step.
func (g *Gate) SetPolicy(p Policy) {
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	g.policy.Store(&p)
}

// Policy returns the current retry policy.
func (g *Gate) Policy() Policy { return *g.policy.Load() }

// Held returns the number of user keys currently locked, or -1 when the
// locker cannot count them.
func (g *Gate) Held() int {
	if l, ok := g.locks.(interface{ Len() int }); ok {
		return l.Len()
	}
	return -1
}

// Admission tracks one inbound event trying to enter the gate.
type Admission struct {
	Key     string
	State   State
	Attempt int // retries performed so far

	ticket *Ticket
}

// NewAdmission starts an admission in the Idle state.
func NewAdmission(key string) *Admission {
	return &Admission{Key: key, State: StateIdle}
}

// Ticket returns the held lock once the admission reached StateAdmitted.
func (a *Admission) Ticket() *Ticket { return a.ticket }

// Step performs one lock attempt and advances the state machine.
// Terminal states are returned unchanged.
func (g *Gate) Step(a *Admission) State {
	switch a.State {
	case StateAdmitted, StateAbandoned:
		return a.State
	case StateRetrying:
		a.Attempt++
	}

	if g.locks.TryLock(a.Key) {
		a.State = StateAdmitted
		a.ticket = &Ticket{key: a.Key, locks: g.locks}
		return a.State
	}

	if a.Attempt < g.Policy().MaxAttempts {
		a.State = StateRetrying
		slog.Debug("gate: user locked, waiting", "user", a.Key, "attempt", a.Attempt)
	} else {
		a.State = StateAbandoned
		slog.Warn("gate: user locked, event skipped", "user", a.Key, "attempts", a.Attempt)
	}
	return a.State
}

// Admit blocks until the key is admitted, the retry budget is exhausted or ctx is done.
func (g *Gate) Admit(ctx context.Context, key string) (*Ticket, error) {
	a := NewAdmission(key)
	for {
		switch g.Step(a) {
		case StateAdmitted:
			return a.ticket, nil
		case StateAbandoned:
			return nil, fmt.Errorf("%w: user %s after %d retries", ErrAdmissionAbandoned, key, a.Attempt)
		}
		t := time.NewTimer(g.Policy().Backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// Run executes body while holding the ticket, then releases it.
// Errors and panics from body are converted into an error wrapping ErrDialogLogic;
// the lock is released on every path.
func (g *Gate) Run(ctx context.Context, t *Ticket, body func(ctx context.Context) error) (err error) {
	defer t.Release()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrDialogLogic, r)
		}
	}()
	if berr := body(ctx); berr != nil {
		return fmt.Errorf("%w: %w", ErrDialogLogic, berr)
	}
	return nil
}

// Ticket is a held turn lock. Release is idempotent.
type Ticket struct {
	key   string
	locks Locker
	once  sync.Once
}

// Key returns the locked user key.
func (t *Ticket) Key() string { return t.key }

// Release frees the lock exactly once.
func (t *Ticket) Release() {
	t.once.Do(func() { t.locks.Unlock(t.key) })
}
