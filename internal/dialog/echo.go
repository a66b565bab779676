// Package dialog holds the dialog logic shipped with the binary. Echo is a
// small conversational engine used for smoke testing channel wiring; real
// deployments plug their own dispatch.DialogLogic.
package dialog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/relaycore/internal/bus"
	"github.com/nextlevelbuilder/relaycore/internal/dispatch"
	"github.com/nextlevelbuilder/relaycore/internal/store"
	"github.com/nextlevelbuilder/relaycore/pkg/protocol"
)

// IntentEcho is the choice intent that makes Echo repeat its "text" parameter.
const IntentEcho = "echo"

const (
	varLastText = "last_text"
	varEchoes   = "echoes"

	helpPause = 800 * time.Millisecond
)

// NameFunc resolves the given name of the user behind key, "" when unknown.
type NameFunc func(userKey string) string

// Echo repeats what the user says, offers a help menu with choices and ends
// the conversation on "bye".
type Echo struct {
	name NameFunc
}

// NewEcho creates the echo logic. name may be nil.
func NewEcho(name NameFunc) *Echo {
	return &Echo{name: name}
}

var _ dispatch.DialogLogic = (*Echo)(nil)

func (e *Echo) ProcessTurn(ctx context.Context, ev bus.InboundEvent, st *store.DialogState, out dispatch.Sink) error {
	if ev.Choice != nil {
		return e.choose(ctx, ev, st, out)
	}

	text := strings.TrimSpace(ev.Content)
	switch strings.ToLower(text) {
	case "":
		e.welcome(ev, st, out)
	case "help", "menu":
		e.help(ev, out)
	case "bye", "goodbye", "exit":
		e.goodbye(ev, out)
	default:
		n, _ := strconv.Atoi(st.Vars[varEchoes])
		st.Vars[varEchoes] = strconv.Itoa(n + 1)
		st.Vars[varLastText] = text

		a := bus.ReplyTo(ev, "You said: "+text)
		a.Final = true
		out(a)
	}
	return nil
}

func (e *Echo) welcome(ev bus.InboundEvent, st *store.DialogState, out dispatch.Sink) {
	greeting := "Hi!"
	if e.name != nil {
		if n := e.name(st.UserKey); n != "" {
			greeting = fmt.Sprintf("Hi %s!", n)
		}
	}
	if last := st.Vars[varLastText]; last != "" {
		greeting += " Last time you said: " + last + "."
	}
	a := bus.ReplyTo(ev, greeting+" Say anything and I will repeat it.")
	a.Final = true
	out(a)
}

func (e *Echo) help(ev bus.InboundEvent, out dispatch.Sink) {
	out(bus.ReplyTo(ev, "I repeat whatever you say."))

	choices := []bus.Choice{
		{Intent: IntentEcho, Parameters: map[string]string{bus.ChoiceTitleParam: "Echo something", "text": "something"}},
		{Intent: bus.ChoiceExitIntent, Parameters: map[string]string{bus.ChoiceTitleParam: "Goodbye"}},
	}
	a := bus.ReplyTo(ev, "Pick an option or just talk to me.")
	a.Delay = helpPause
	a.QuickReplies = choices
	a.Message = &protocol.ConnectorMessage{ExpectedInput: &protocol.ExpectedInput{
		InputPrompt: protocol.InputPrompt{RichInitialPrompt: protocol.RichResponse{Suggestions: suggestions(choices)}},
	}}
	a.Final = true
	out(a)
}

func (e *Echo) goodbye(ev bus.InboundEvent, out dispatch.Sink) {
	a := bus.ReplyTo(ev, "Goodbye!")
	a.Message = &protocol.ConnectorMessage{FinalResponse: &protocol.FinalResponse{}}
	a.Final = true
	out(a)
}

func (e *Echo) choose(ctx context.Context, ev bus.InboundEvent, st *store.DialogState, out dispatch.Sink) error {
	switch ev.Choice.Intent {
	case bus.ChoiceExitIntent:
		e.goodbye(ev, out)
		return nil
	case IntentEcho:
		ev.Content = ev.Choice.Parameters["text"]
		if ev.Content == "" {
			ev.Content = ev.Choice.Title()
		}
		ev.Choice = nil
		return e.ProcessTurn(ctx, ev, st, out)
	}
	return fmt.Errorf("dialog: unknown choice intent %q", ev.Choice.Intent)
}

func suggestions(choices []bus.Choice) []protocol.Suggestion {
	out := make([]protocol.Suggestion, 0, len(choices))
	for _, c := range choices {
		out = append(out, protocol.Suggestion{Title: c.Title()})
	}
	return out
}
