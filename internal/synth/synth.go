// Package synth merges the actions buffered during one request/response turn
// into a single assistant response.
package synth

import (
	"errors"
	"log/slog"

	"github.com/nextlevelbuilder/relaycore/internal/bus"
	"github.com/nextlevelbuilder/relaycore/pkg/protocol"
)

// ErrNoAnswer is returned when a turn produced neither speakable text nor a structured message.
var ErrNoAnswer = errors.New("synth: no answer produced")

// Conversation identifies the request a response answers.
type Conversation struct {
	Token   string
	Sandbox bool
}

// Synthesize builds the response for actions (in creation order).
//
// A final structured message wins: the folded text becomes its lead item and the
// response does not expect user input. Otherwise continuation prompts are merged,
// the folded text is prepended, and a free-text intent is guaranteed.
func Synthesize(conv Conversation, actions []bus.OutgoingAction) (*protocol.Response, error) {
	simple := Fold(actions)

	var messages []protocol.ConnectorMessage
	for _, a := range actions {
		if a.Kind == bus.ActionSentence && a.Message != nil {
			messages = append(messages, *a.Message)
		}
	}

	resp := &protocol.Response{
		ConversationToken: conv.Token,
		IsInSandbox:       conv.Sandbox,
	}

	if final := mergeFinals(messages); final != nil {
		final.RichResponse = PrependSimple(final.RichResponse, simple)
		resp.FinalResponse = final
		return resp, nil
	}

	expected := mergeExpected(messages)
	switch {
	case expected == nil && simple == nil:
		slog.Warn("synth: no simple response", "actions", len(actions))
		return nil, ErrNoAnswer
	case expected == nil:
		expected = &protocol.ExpectedInput{
			InputPrompt: protocol.InputPrompt{
				RichInitialPrompt: protocol.RichResponse{Items: []protocol.Item{{SimpleResponse: simple}}},
			},
		}
	default:
		expected.InputPrompt.RichInitialPrompt = PrependSimple(expected.InputPrompt.RichInitialPrompt, simple)
	}

	withText := EnsureTextIntent(*expected)
	resp.ExpectUserResponse = true
	resp.ExpectedInputs = []protocol.ExpectedInput{withText}
	return resp, nil
}

func mergeFinals(messages []protocol.ConnectorMessage) *protocol.FinalResponse {
	var out *protocol.FinalResponse
	for _, m := range messages {
		if m.FinalResponse == nil {
			continue
		}
		if out == nil {
			f := *m.FinalResponse
			f.RichResponse.Items = append([]protocol.Item(nil), f.RichResponse.Items...)
			out = &f
			continue
		}
		out.RichResponse = MergeRich(out.RichResponse, m.FinalResponse.RichResponse)
	}
	return out
}

func mergeExpected(messages []protocol.ConnectorMessage) *protocol.ExpectedInput {
	var out *protocol.ExpectedInput
	for _, m := range messages {
		if m.ExpectedInput == nil {
			continue
		}
		if out == nil {
			e := *m.ExpectedInput
			e.InputPrompt.RichInitialPrompt.Items = append([]protocol.Item(nil), e.InputPrompt.RichInitialPrompt.Items...)
			e.PossibleIntents = dedupeIntents(e.PossibleIntents)
			out = &e
			continue
		}
		merged := MergeExpectedInputs(*out, *m.ExpectedInput)
		out = &merged
	}
	return out
}

// ErrorResponse builds the technical error reply sent when no answer can be produced.
func ErrorResponse(conv Conversation, err error, requestBody string, req *protocol.AssistantRequest) *protocol.Response {
	msg := "error"
	detail := ""
	if err != nil {
		msg = err.Error()
		detail = err.Error()
	}
	return &protocol.Response{
		ConversationToken:  conv.Token,
		ExpectUserResponse: false,
		ResponseMetadata: &protocol.ResponseMetadata{
			Status: protocol.Status{
				Code:    protocol.StatusInternal,
				Message: msg,
				Details: []protocol.StatusDetail{{Error: detail, RequestBody: requestBody, Request: req}},
			},
		},
	}
}
