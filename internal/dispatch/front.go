// Package dispatch routes inbound events through the turn gate into dialog logic
// and hands the produced actions to the correlator (request/response channels)
// or to the ordered delivery queue (push channels).
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/relaycore/internal/bus"
	"github.com/nextlevelbuilder/relaycore/internal/correlator"
	"github.com/nextlevelbuilder/relaycore/internal/delivery"
	"github.com/nextlevelbuilder/relaycore/internal/gate"
	"github.com/nextlevelbuilder/relaycore/internal/sessions"
	"github.com/nextlevelbuilder/relaycore/internal/store"
	"github.com/nextlevelbuilder/relaycore/internal/synth"
	"github.com/nextlevelbuilder/relaycore/pkg/protocol"
)

var (
	// ErrNoPendingTurn is reported to a request/response channel when its turn
	// produced no correlation record to answer from.
	ErrNoPendingTurn = errors.New("dispatch: no answer found for user")
	// ErrDialogLogic marks failures raised by dialog logic.
	ErrDialogLogic = gate.ErrDialogLogic
	// ErrNoQueue is returned when a push action targets a channel without a delivery queue.
	ErrNoQueue = errors.New("dispatch: no delivery queue for channel")
)

// DefaultErrorText is sent to the user when dialog logic fails.
const DefaultErrorText = "Sorry, something went wrong. Please try again later."

// Sink receives the actions dialog logic emits during a turn, in creation order.
type Sink func(action bus.OutgoingAction)

// DialogLogic is the conversational engine invoked once per admitted turn.
// state is never nil; changes made to it are persisted after the turn.
type DialogLogic interface {
	ProcessTurn(ctx context.Context, ev bus.InboundEvent, state *store.DialogState, out Sink) error
}

// DialogLogicFunc adapts a function to DialogLogic.
type DialogLogicFunc func(ctx context.Context, ev bus.InboundEvent, state *store.DialogState, out Sink) error

func (f DialogLogicFunc) ProcessTurn(ctx context.Context, ev bus.InboundEvent, state *store.DialogState, out Sink) error {
	return f(ctx, ev, state, out)
}

// ResponseWriter writes the single reply of a request/response inbound call.
type ResponseWriter interface {
	WriteResponse(resp *protocol.Response) error
}

// Origin is the inbound context of a request/response event, kept in the
// correlator while the turn runs.
type Origin struct {
	Conversation synth.Conversation
	Request      *protocol.AssistantRequest
	RequestBody  string
	Writer       ResponseWriter
}

// Config wires a Front.
type Config struct {
	Gate       *gate.Gate
	Correlator *correlator.Correlator
	Store      store.DialogStore
	Logic      DialogLogic
	Pool       *Pool
	ErrorText  string
}

// Front is the dispatch entry point used by channel adapters.
type Front struct {
	gate  *gate.Gate
	corr  *correlator.Correlator
	store store.DialogStore
	logic DialogLogic
	pool  *Pool

	errorText atomic.Pointer[string]

	mu     sync.RWMutex
	queues map[string]*delivery.Queue // channel name -> queue
}

// NewFront creates a front. Nil gate, correlator, store or pool get defaults.
func NewFront(cfg Config) *Front {
	if cfg.Gate == nil {
		cfg.Gate = gate.New(nil, gate.DefaultPolicy())
	}
	if cfg.Correlator == nil {
		cfg.Correlator = correlator.New()
	}
	if cfg.Store == nil {
		cfg.Store = store.NewMemoryStore()
	}
	if cfg.Pool == nil {
		cfg.Pool = NewPool(DefaultWorkers, DefaultBacklog)
	}
	f := &Front{
		gate:   cfg.Gate,
		corr:   cfg.Correlator,
		store:  cfg.Store,
		logic:  cfg.Logic,
		pool:   cfg.Pool,
		queues: make(map[string]*delivery.Queue),
	}
	f.SetErrorText(cfg.ErrorText)
	return f
}

// SetErrorText replaces the text sent when dialog logic fails. Empty restores the default.
func (f *Front) SetErrorText(text string) {
	if text == "" {
		text = DefaultErrorText
	}
	f.errorText.Store(&text)
}

// Gate returns the turn gate, for live policy updates.
func (f *Front) Gate() *gate.Gate { return f.gate }

// RegisterQueue routes push actions of channel to q.
func (f *Front) RegisterQueue(channel string, q *delivery.Queue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[channel] = q
}

func (f *Front) queue(channel string) *delivery.Queue {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.queues[channel]
}

// Stats is a point-in-time view of the front, served by the status API.
type Stats struct {
	PendingTurns         int      `json:"pending_turns"`
	HeldLocks            int      `json:"held_locks"`
	Workers              int      `json:"workers"`
	MaxLockedAttempts    int      `json:"max_locked_attempts"`
	LockedAttemptsWaitMs int64    `json:"locked_attempts_wait_ms"`
	PushChannels         []string `json:"push_channels"`
}

// Stats returns current dispatch counters.
func (f *Front) Stats() Stats {
	p := f.gate.Policy()
	st := Stats{
		PendingTurns:         f.corr.Len(),
		HeldLocks:            f.gate.Held(),
		Workers:              f.pool.Size(),
		MaxLockedAttempts:    p.MaxAttempts,
		LockedAttemptsWaitMs: p.Backoff.Milliseconds(),
	}
	f.mu.RLock()
	for name := range f.queues {
		st.PushChannels = append(st.PushChannels, name)
	}
	f.mu.RUnlock()
	sort.Strings(st.PushChannels)
	return st
}

// ResetDialog deletes the saved dialog state of userKey. It waits for the
// user's turn lock so it never races a running turn.
func (f *Front) ResetDialog(ctx context.Context, userKey string) error {
	ticket, err := f.gate.Admit(ctx, userKey)
	if err != nil {
		return err
	}
	defer ticket.Release()
	if err := f.store.Delete(ctx, userKey); err != nil {
		return fmt.Errorf("delete dialog state: %w", err)
	}
	slog.Info("dispatch: dialog state reset", "user", userKey)
	return nil
}

// Origin returns the inbound context of the user's in-flight request, if any.
func (f *Front) Origin(userKey string) (*Origin, bool) {
	v, ok := f.corr.Peek(userKey)
	if !ok {
		return nil, false
	}
	o, ok := v.(*Origin)
	return o, ok
}

// HandleSync processes a request/response event and writes exactly one reply
// through origin.Writer before returning. Without a writer the event is not
// admitted and ErrNoPendingTurn is returned.
func (f *Front) HandleSync(ctx context.Context, ev bus.InboundEvent, origin *Origin) error {
	key := sessions.UserKeyFor(ev)
	if origin == nil || origin.Writer == nil {
		slog.Error("dispatch: no response writer", "user", key)
		return ErrNoPendingTurn
	}

	ticket, err := f.gate.Admit(ctx, key)
	if err != nil {
		slog.Warn("dispatch: request dropped", "user", key, "error", err, "event", protocol.EventTurnAbandoned)
		f.reply(key, origin, synth.ErrorResponse(origin.Conversation, fmt.Errorf("%w: %v", synth.ErrNoAnswer, err), origin.RequestBody, origin.Request))
		return err
	}

	var (
		pt    *correlator.PendingTurn
		found bool
	)
	runErr := f.gate.Run(ctx, ticket, func(ctx context.Context) error {
		f.corr.Begin(key, origin)
		// collect under the lock so the next turn of this user cannot replace the record first
		defer func() { pt, found = f.corr.Complete(key) }()
		return f.turn(ctx, ev, key, func(a bus.OutgoingAction) { f.corr.Record(key, a) })
	})
	if runErr != nil {
		slog.Error("dispatch: turn failed", "user", key, "error", runErr, "event", protocol.EventTurnFailed)
	}

	if !found {
		slog.Error("dispatch: no answer found for user", "user", key, "event", protocol.EventTurnNoAnswer)
		return f.reply(key, origin, synth.ErrorResponse(origin.Conversation, ErrNoPendingTurn, origin.RequestBody, origin.Request))
	}

	resp, err := synth.Synthesize(origin.Conversation, pt.Actions)
	if err != nil {
		slog.Warn("dispatch: no answer produced", "user", key, "actions", len(pt.Actions), "event", protocol.EventTurnNoAnswer)
		return f.reply(key, origin, synth.ErrorResponse(origin.Conversation, err, origin.RequestBody, origin.Request))
	}
	return f.reply(key, origin, resp)
}

func (f *Front) reply(key string, origin *Origin, resp *protocol.Response) error {
	if origin == nil || origin.Writer == nil {
		slog.Error("dispatch: no response writer", "user", key)
		return ErrNoPendingTurn
	}
	if err := origin.Writer.WriteResponse(resp); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// HandleAsync queues a push-channel event and returns. Admission retries are
// rescheduled on the pool after the gate backoff, never blocking a worker.
func (f *Front) HandleAsync(ev bus.InboundEvent) error {
	a := gate.NewAdmission(sessions.UserKeyFor(ev))
	return f.pool.Submit(func(ctx context.Context) { f.admitAsync(ctx, ev, a) })
}

func (f *Front) admitAsync(ctx context.Context, ev bus.InboundEvent, a *gate.Admission) {
	switch f.gate.Step(a) {
	case gate.StateRetrying:
		slog.Debug("dispatch: retry scheduled", "user", a.Key, "attempt", a.Attempt, "event", protocol.EventTurnRetrying)
		time.AfterFunc(f.gate.Policy().Backoff, func() {
			if err := f.pool.Submit(func(ctx context.Context) { f.admitAsync(ctx, ev, a) }); err != nil {
				slog.Warn("dispatch: retry dropped", "user", a.Key, "error", err)
			}
		})
	case gate.StateAbandoned:
		slog.Warn("dispatch: event dropped", "user", a.Key, "attempts", a.Attempt, "event", protocol.EventTurnAbandoned)
	case gate.StateAdmitted:
		err := f.gate.Run(ctx, a.Ticket(), func(ctx context.Context) error {
			return f.turn(ctx, ev, a.Key, f.push)
		})
		if err != nil {
			slog.Error("dispatch: turn failed", "user", a.Key, "error", err, "event", protocol.EventTurnFailed)
		}
	}
}

func (f *Front) push(a bus.OutgoingAction) {
	if err := f.SendNow(a.RecipientID, a, a.Delay); err != nil {
		slog.Error("dispatch: push action dropped", "channel", a.Channel, "recipient", a.RecipientID, "action", a.ID, "error", err)
	}
}

// SendNow enqueues action for recipientID on its channel's delivery queue,
// outside of any dialog turn.
func (f *Front) SendNow(recipientID string, action bus.OutgoingAction, delay time.Duration) error {
	q := f.queue(action.Channel)
	if q == nil {
		return fmt.Errorf("%w %q", ErrNoQueue, action.Channel)
	}
	if recipientID != "" {
		action.RecipientID = recipientID
	}
	return q.Submit(sessions.RecipientKeyFor(action), action, delay)
}
