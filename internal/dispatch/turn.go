package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/relaycore/internal/bus"
	"github.com/nextlevelbuilder/relaycore/internal/store"
	"github.com/nextlevelbuilder/relaycore/pkg/protocol"
)

// turn runs dialog logic for one admitted event. It must be called while the
// user's turn lock is held. On dialog failure the error action is emitted
// before returning so it is ordered after everything the logic already sent,
// and the dialog state is saved only when the logic succeeded.
func (f *Front) turn(ctx context.Context, ev bus.InboundEvent, key string, emit Sink) error {
	turnID := uuid.NewString()
	ctx, span := otel.Tracer("relaycore/dispatch").Start(ctx, "dispatch.turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("turn.id", turnID),
		attribute.String("turn.user", key),
		attribute.String("turn.channel", ev.Channel),
		attribute.String("turn.style", string(ev.Style)),
	)
	slog.Debug("dispatch: turn admitted", "user", key, "turn", turnID, "event", protocol.EventTurnAdmitted)

	state := f.loadState(ctx, ev, key)

	emitted, sawFinal := 0, false
	sink := func(a bus.OutgoingAction) {
		emitted++
		if a.Final {
			sawFinal = true
		}
		emit(a)
	}

	err := f.callLogic(ctx, ev, state, sink)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("dispatch: dialog logic failed", "user", key, "turn", turnID, "error", err)
		// state may be half-mutated; the stored copy stays as the last good turn left it
		sink(f.errorAction(ev))
		return err
	}
	if !sawFinal {
		slog.Warn("dispatch: no final action sent", "user", key, "turn", turnID, "actions", emitted)
	}

	state.TurnCount++
	if ev.Choice != nil {
		state.PushIntent(ev.Choice.Intent)
	} else if intent := ev.Metadata["intent"]; intent != "" {
		state.PushIntent(intent)
	}
	if serr := f.store.Save(ctx, state); serr != nil {
		slog.Error("dispatch: save dialog state failed", "user", key, "error", serr)
	}

	span.SetAttributes(attribute.Int("turn.actions", emitted))
	slog.Debug("dispatch: turn completed", "user", key, "turn", turnID, "actions", emitted, "event", protocol.EventTurnCompleted)
	return nil
}

func (f *Front) loadState(ctx context.Context, ev bus.InboundEvent, key string) *store.DialogState {
	state, err := f.store.Load(ctx, key)
	if err != nil {
		slog.Error("dispatch: load dialog state failed", "user", key, "error", err)
	}
	if state == nil {
		state = store.NewDialogState(key, ev.Channel, ev.ApplicationID, ev.SenderID)
	}
	if ev.Locale != "" {
		state.Locale = ev.Locale
	}
	return state
}

func (f *Front) callLogic(ctx context.Context, ev bus.InboundEvent, state *store.DialogState, out Sink) (err error) {
	if f.logic == nil {
		return fmt.Errorf("no dialog logic configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return f.logic.ProcessTurn(ctx, ev, state, out)
}

func (f *Front) errorAction(ev bus.InboundEvent) bus.OutgoingAction {
	a := bus.ReplyTo(ev, *f.errorText.Load())
	a.Final = true
	return a
}
