// Package delivery sends push-channel actions in strict per-recipient order.
//
// Each recipient has a FIFO of items stamped with a not-before time. The first
// enqueue on an empty FIFO starts a drain goroutine for that recipient; the drain
// sends one item at a time, waits for the next item's not-before time, and exits
// when the FIFO is empty. A failed send is logged and the drain moves on.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/relaycore/internal/bus"
	"github.com/nextlevelbuilder/relaycore/pkg/protocol"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("delivery: queue closed")

// Sender is the channel-level transport of a push channel.
type Sender interface {
	// Send delivers one message action.
	Send(ctx context.Context, action bus.OutgoingAction) error
	// SendSignal delivers a presence signal (typing on/off, mark seen) to recipient.
	SendSignal(ctx context.Context, recipientID string, kind bus.ActionKind) error
}

// Item is one queued action with its earliest send time.
type Item struct {
	Action    bus.OutgoingAction
	NotBefore time.Time
}

type recipientQueue struct {
	items []Item
}

// Option configures a Queue.
type Option func(*Queue)

// WithLimiter paces all sends of the queue.
func WithLimiter(l *rate.Limiter) Option {
	return func(q *Queue) { q.limiter = l }
}

// WithClock overrides the time source and sleep function.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(q *Queue) {
		q.now = now
		q.sleep = sleep
	}
}

// Queue is the per-recipient ordered delivery queue of one push channel.
type Queue struct {
	name    string
	sender  Sender
	limiter *rate.Limiter
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	queues map[string]*recipientQueue
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates a queue delivering through sender. name labels logs and spans.
func NewQueue(name string, sender Sender, opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		name:   name,
		sender: sender,
		now:    time.Now,
		sleep:  sleepCtx,
		queues: make(map[string]*recipientQueue),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue appends an item for recipient and reports whether the recipient's
// FIFO was empty, in which case the caller must start draining it.
func (q *Queue) Enqueue(recipient string, action bus.OutgoingAction, delay time.Duration) (first bool) {
	item := Item{Action: action, NotBefore: q.now().Add(delay)}

	q.mu.Lock()
	defer q.mu.Unlock()
	rq, ok := q.queues[recipient]
	if !ok {
		rq = &recipientQueue{}
		q.queues[recipient] = rq
	}
	rq.items = append(rq.items, item)
	return len(rq.items) == 1
}

// Submit enqueues action and starts the drain when needed.
// Presence signals are not ordered: they are sent once their delay has elapsed.
func (q *Queue) Submit(recipient string, action bus.OutgoingAction, delay time.Duration) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if action.Kind.IsSignal() {
		q.goWithDelay(delay, func(ctx context.Context) {
			if err := q.sender.SendSignal(ctx, action.RecipientID, action.Kind); err != nil {
				slog.Error("delivery: signal send failed", "queue", q.name, "recipient", recipient, "kind", action.Kind, "error", err)
			}
		})
		return nil
	}

	if q.Enqueue(recipient, action, delay) {
		q.goWithDelay(0, func(ctx context.Context) { q.Drain(ctx, recipient) })
	}
	return nil
}

// Drain delivers the FIFO of recipient until it is empty. It must run at most
// once per recipient at a time, which Submit guarantees.
func (q *Queue) Drain(ctx context.Context, recipient string) {
	for {
		item, ok := q.head(recipient)
		if !ok {
			return
		}
		if wait := item.NotBefore.Sub(q.now()); wait > 0 {
			if err := q.sleep(ctx, wait); err != nil {
				slog.Warn("delivery: drain interrupted", "queue", q.name, "recipient", recipient, "pending", q.Pending(recipient))
				return
			}
		}

		q.deliver(ctx, recipient, item.Action)

		if !q.pop(recipient) {
			return
		}
	}
}

func (q *Queue) deliver(ctx context.Context, recipient string, action bus.OutgoingAction) {
	ctx, span := otel.Tracer("relaycore/delivery").Start(ctx, "delivery.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("delivery.queue", q.name),
		attribute.String("delivery.recipient", recipient),
		attribute.String("delivery.action_id", action.ID),
		attribute.Bool("delivery.final", action.Final),
	)

	err := q.send(ctx, action)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("delivery: send failed",
			"queue", q.name, "recipient", recipient, "action", action.ID,
			"error", err, "event", protocol.EventDeliveryFailed)
		return
	}
	slog.Debug("delivery: sent", "queue", q.name, "recipient", recipient, "action", action.ID, "event", protocol.EventDeliverySent)

	// typing bracket: announce the next message, or close the turn
	if action.Final {
		q.signal(ctx, recipient, action.RecipientID, bus.ActionTypingOff)
		q.signal(ctx, recipient, action.RecipientID, bus.ActionMarkSeen)
	} else {
		q.signal(ctx, recipient, action.RecipientID, bus.ActionTypingOn)
	}
}

func (q *Queue) send(ctx context.Context, action bus.OutgoingAction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery: sender panic: %v", r)
		}
	}()
	if q.limiter != nil {
		if err := q.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	return q.sender.Send(ctx, action)
}

func (q *Queue) signal(ctx context.Context, recipient, recipientID string, kind bus.ActionKind) {
	if err := q.sender.SendSignal(ctx, recipientID, kind); err != nil {
		slog.Debug("delivery: signal failed", "queue", q.name, "recipient", recipient, "kind", kind, "error", err)
	}
}

func (q *Queue) head(recipient string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rq, ok := q.queues[recipient]
	if !ok || len(rq.items) == 0 {
		return Item{}, false
	}
	return rq.items[0], true
}

// pop removes the delivered head and reports whether more items remain.
// An emptied FIFO is removed so the next Enqueue starts a new drain.
func (q *Queue) pop(recipient string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	rq, ok := q.queues[recipient]
	if !ok {
		return false
	}
	rq.items[0] = Item{}
	rq.items = rq.items[1:]
	if len(rq.items) == 0 {
		delete(q.queues, recipient)
		return false
	}
	return true
}

// Pending returns the number of queued (not yet delivered) items for recipient,
// the one in flight included.
func (q *Queue) Pending(recipient string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if rq, ok := q.queues[recipient]; ok {
		return len(rq.items)
	}
	return 0
}

// Close stops accepting work, interrupts pacing sleeps and waits for drains to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
}

func (q *Queue) goWithDelay(delay time.Duration, fn func(ctx context.Context)) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		if delay > 0 {
			if err := q.sleep(q.ctx, delay); err != nil {
				return
			}
		}
		fn(q.ctx)
	}()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
