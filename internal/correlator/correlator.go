// Package correlator keeps, per user key, the actions produced while one
// request/response inbound event is being handled, until the reply is built.
package correlator

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nextlevelbuilder/relaycore/internal/bus"
	"github.com/nextlevelbuilder/relaycore/pkg/protocol"
)

// ErrOrphanedTurn marks a pending turn evicted before it was completed.
// It is only ever logged or passed to the orphan hook: the origin may be gone.
var ErrOrphanedTurn = errors.New("correlator: request not handled")

const (
	DefaultTTL           = time.Minute
	DefaultSweepInterval = 10 * time.Second
)

// PendingTurn is the correlation record of one in-flight request.
type PendingTurn struct {
	Key       string
	Origin    any // opaque inbound context, owned by the caller
	Actions   []bus.OutgoingAction
	CreatedAt time.Time
}

// OrphanFunc is notified for every evicted pending turn.
type OrphanFunc func(pt *PendingTurn)

// Option configures a Correlator.
type Option func(*Correlator)

// WithTTL sets the eviction age.
func WithTTL(ttl time.Duration) Option {
	return func(c *Correlator) { c.ttl = ttl }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Correlator) { c.now = now }
}

// WithOrphanHook registers a callback for evicted turns (in addition to logging).
func WithOrphanHook(fn OrphanFunc) Option {
	return func(c *Correlator) { c.onOrphan = fn }
}

// Correlator is the pending-turn table. Safe for concurrent use.
type Correlator struct {
	mu       sync.Mutex
	turns    map[string]*PendingTurn
	ttl      time.Duration
	now      func() time.Time
	onOrphan OrphanFunc
}

// New creates an empty correlator.
func New(opts ...Option) *Correlator {
	c := &Correlator{
		turns: make(map[string]*PendingTurn),
		ttl:   DefaultTTL,
		now:   time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Begin registers a new pending turn for key, replacing any uncollected one.
func (c *Correlator) Begin(key string, origin any) {
	c.mu.Lock()
	prev := c.turns[key]
	c.turns[key] = &PendingTurn{Key: key, Origin: origin, CreatedAt: c.now()}
	c.mu.Unlock()

	if prev != nil && len(prev.Actions) > 0 {
		slog.Error("correlator: request not handled, replaced by a newer request",
			"user", key, "actions", len(prev.Actions), "event", protocol.EventTurnOrphaned)
	}
}

// Record appends action to the pending turn of key.
// Returns false (and drops the action) when no live turn exists.
func (c *Correlator) Record(key string, action bus.OutgoingAction) bool {
	c.mu.Lock()
	pt, ok := c.live(key)
	if ok {
		pt.Actions = append(pt.Actions, action)
	}
	c.mu.Unlock()

	if !ok {
		slog.Warn("correlator: no request registered for action", "user", key, "action", action.ID, "kind", action.Kind)
	}
	return ok
}

// Complete removes and returns the pending turn of key. It returns false if
// none exists or it already expired. Actions are in creation order.
func (c *Correlator) Complete(key string) (*PendingTurn, bool) {
	c.mu.Lock()
	pt, ok := c.live(key)
	if ok {
		delete(c.turns, key)
	}
	c.mu.Unlock()

	if !ok {
		return nil, false
	}
	sort.SliceStable(pt.Actions, func(i, j int) bool { return pt.Actions[i].Seq < pt.Actions[j].Seq })
	return pt, true
}

// Peek returns the origin of the live pending turn of key without consuming it.
func (c *Correlator) Peek(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pt, ok := c.live(key)
	if !ok {
		return nil, false
	}
	return pt.Origin, true
}

// Len returns the number of stored pending turns, expired ones included.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// Sweep evicts every pending turn older than the TTL and returns how many were evicted.
func (c *Correlator) Sweep() int {
	now := c.now()
	var evicted []*PendingTurn

	c.mu.Lock()
	for k, pt := range c.turns {
		if c.expired(pt, now) {
			delete(c.turns, k)
			evicted = append(evicted, pt)
		}
	}
	c.mu.Unlock()

	for _, pt := range evicted {
		c.orphaned(pt)
	}
	return len(evicted)
}

// Run sweeps every interval until ctx is done.
func (c *Correlator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// live returns the unexpired turn of key, evicting it lazily if expired.
// Must be called with c.mu held; the orphan hook runs asynchronously.
func (c *Correlator) live(key string) (*PendingTurn, bool) {
	pt, ok := c.turns[key]
	if !ok {
		return nil, false
	}
	if c.expired(pt, c.now()) {
		delete(c.turns, key)
		go c.orphaned(pt)
		return nil, false
	}
	return pt, true
}

func (c *Correlator) expired(pt *PendingTurn, now time.Time) bool {
	return c.ttl > 0 && now.Sub(pt.CreatedAt) > c.ttl
}

func (c *Correlator) orphaned(pt *PendingTurn) {
	slog.Error("correlator: request not handled",
		"user", pt.Key,
		"actions", len(pt.Actions),
		"age", c.now().Sub(pt.CreatedAt),
		"error", ErrOrphanedTurn,
		"event", protocol.EventTurnOrphaned,
	)
	if c.onOrphan != nil {
		c.onOrphan(pt)
	}
}
