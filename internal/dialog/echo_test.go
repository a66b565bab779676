package dialog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/relaycore/internal/bus"
	"github.com/nextlevelbuilder/relaycore/internal/store"
	"github.com/nextlevelbuilder/relaycore/internal/synth"
)

func run(t *testing.T, e *Echo, ev bus.InboundEvent, st *store.DialogState) []bus.OutgoingAction {
	t.Helper()
	var got []bus.OutgoingAction
	require.NoError(t, e.ProcessTurn(context.Background(), ev, st, func(a bus.OutgoingAction) { got = append(got, a) }))
	require.NotEmpty(t, got)
	assert.True(t, got[len(got)-1].Final, "last action must be final")
	return got
}

func event(text string) bus.InboundEvent {
	return bus.InboundEvent{Channel: "assistant", ApplicationID: "app", SenderID: "u1", Content: text}
}

func TestEcho_RepeatsAndRemembers(t *testing.T) {
	e := NewEcho(nil)
	st := store.NewDialogState("assistant:app:u1", "assistant", "app", "u1")

	got := run(t, e, event("hello"), st)
	assert.Equal(t, "You said: hello", got[0].Text)
	assert.Equal(t, "u1", got[0].RecipientID)
	assert.Equal(t, "1", st.Vars[varEchoes])

	got = run(t, e, event(""), st)
	assert.Contains(t, got[0].Text, "Last time you said: hello.")
}

func TestEcho_WelcomeUsesName(t *testing.T) {
	e := NewEcho(func(key string) string {
		if key == "assistant:app:u1" {
			return "Ada"
		}
		return ""
	})
	st := store.NewDialogState("assistant:app:u1", "assistant", "app", "u1")
	got := run(t, e, event(""), st)
	assert.Contains(t, got[0].Text, "Hi Ada!")
}

func TestEcho_HelpOffersChoices(t *testing.T) {
	st := store.NewDialogState("k", "assistant", "app", "u1")
	got := run(t, NewEcho(nil), event("help"), st)
	require.Len(t, got, 2)
	assert.Equal(t, helpPause, got[1].Delay)
	require.Len(t, got[1].QuickReplies, 2)

	resp, err := synth.Synthesize(synth.Conversation{Token: "t"}, got)
	require.NoError(t, err)
	assert.True(t, resp.ExpectUserResponse)
	require.Len(t, resp.ExpectedInputs, 1)
	assert.Len(t, resp.ExpectedInputs[0].InputPrompt.RichInitialPrompt.Suggestions, 2)
}

func TestEcho_ChoiceHandling(t *testing.T) {
	st := store.NewDialogState("k", "assistant", "app", "u1")
	e := NewEcho(nil)

	ev := event("")
	ev.Choice = &bus.Choice{Intent: IntentEcho, Parameters: map[string]string{"text": "picked"}}
	got := run(t, e, ev, st)
	assert.Equal(t, "You said: picked", got[0].Text)

	ev.Choice = &bus.Choice{Intent: bus.ChoiceExitIntent}
	got = run(t, e, ev, st)
	resp, err := synth.Synthesize(synth.Conversation{}, got)
	require.NoError(t, err)
	assert.False(t, resp.ExpectUserResponse)
	require.NotNil(t, resp.FinalResponse)

	ev.Choice = &bus.Choice{Intent: "unknown"}
	err = e.ProcessTurn(context.Background(), ev, st, func(bus.OutgoingAction) {})
	assert.Error(t, err)
}
