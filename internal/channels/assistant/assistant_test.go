package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/relaycore/internal/bus"
	"github.com/nextlevelbuilder/relaycore/internal/config"
	"github.com/nextlevelbuilder/relaycore/internal/dispatch"
	"github.com/nextlevelbuilder/relaycore/internal/store"
	"github.com/nextlevelbuilder/relaycore/pkg/protocol"
)

func newChannel(t *testing.T, logic dispatch.DialogLogicFunc) (*Channel, *dispatch.Front) {
	t.Helper()
	pool := dispatch.NewPool(2, 8)
	ctx, cancel := context.WithCancel(context.Background())
	go pool.Run(ctx)
	t.Cleanup(func() {
		pool.Close()
		cancel()
	})
	front := dispatch.NewFront(dispatch.Config{Logic: logic, Pool: pool})
	ch, err := New(config.AssistantConfig{Enabled: true, ApplicationID: "app"}, front, nil)
	require.NoError(t, err)
	require.NoError(t, ch.Start(context.Background()))
	return ch, front
}

func post(t *testing.T, h http.Handler, body string) *protocol.Response {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/assistant", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, protocol.AssistantAPIVersion, rec.Header().Get(protocol.AssistantAPIVersionHeader))

	var resp protocol.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return &resp
}

const textRequest = `{
	"user": {"userId": "u1", "locale": "en-US", "profile": {"givenName": "Ada"}},
	"conversation": {"conversationId": "c1", "conversationToken": "tok"},
	"inputs": [{"intent": "actions.intent.TEXT", "rawInputs": [{"query": "hello"}]}]
}`

func TestServeHTTP_TextTurn(t *testing.T) {
	var gotEvent bus.InboundEvent
	ch, _ := newChannel(t, func(_ context.Context, ev bus.InboundEvent, _ *store.DialogState, out dispatch.Sink) error {
		gotEvent = ev
		a := bus.ReplyTo(ev, "hi there")
		a.Final = true
		out(a)
		return nil
	})

	resp := post(t, ch, textRequest)
	assert.Equal(t, "tok", resp.ConversationToken)
	assert.True(t, resp.ExpectUserResponse)
	require.Len(t, resp.ExpectedInputs, 1)
	items := resp.ExpectedInputs[0].InputPrompt.RichInitialPrompt.Items
	require.NotEmpty(t, items)
	assert.Equal(t, "hi there", *items[0].SimpleResponse.DisplayText)

	assert.Equal(t, "u1", gotEvent.SenderID)
	assert.Equal(t, "hello", gotEvent.Content)
	assert.Equal(t, "en-US", gotEvent.Locale)
	assert.Equal(t, protocol.IntentText, gotEvent.Metadata["intent"])
	assert.Equal(t, bus.StyleRequestResponse, gotEvent.Style)
}

func TestServeHTTP_OptionBecomesChoice(t *testing.T) {
	var got *bus.Choice
	ch, _ := newChannel(t, func(_ context.Context, ev bus.InboundEvent, _ *store.DialogState, out dispatch.Sink) error {
		got = ev.Choice
		out(bus.ReplyTo(ev, "ok"))
		return nil
	})

	id := bus.EncodeChoiceID(bus.Choice{Intent: "pick", Parameters: map[string]string{"size": "L"}})
	body := `{"user":{"userId":"u1"},"conversation":{"conversationId":"c1"},
		"inputs":[{"intent":"actions.intent.OPTION","arguments":[{"name":"OPTION","textValue":` + strconvQuote(id) + `}]}]}`
	post(t, ch, body)

	require.NotNil(t, got)
	assert.Equal(t, "pick", got.Intent)
	assert.Equal(t, "L", got.Parameters["size"])
}

func strconvQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestServeHTTP_MalformedRequestGetsInternalStatus(t *testing.T) {
	ch, _ := newChannel(t, nil)
	resp := post(t, ch, `{not json`)

	assert.False(t, resp.ExpectUserResponse)
	require.NotNil(t, resp.ResponseMetadata)
	assert.Equal(t, protocol.StatusInternal, resp.ResponseMetadata.Status.Code)
	require.NotEmpty(t, resp.ResponseMetadata.Status.Details)
	assert.Equal(t, `{not json`, resp.ResponseMetadata.Status.Details[0].RequestBody)
}

func TestServeHTTP_MissingUserGetsInternalStatus(t *testing.T) {
	ch, _ := newChannel(t, nil)
	resp := post(t, ch, `{"conversation":{"conversationToken":"tok"}}`)
	require.NotNil(t, resp.ResponseMetadata)
	assert.Equal(t, protocol.StatusInternal, resp.ResponseMetadata.Status.Code)
	assert.Equal(t, "tok", resp.ConversationToken)
}

func TestServeHTTP_RejectsNonPost(t *testing.T) {
	ch, _ := newChannel(t, nil)
	rec := httptest.NewRecorder()
	ch.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/assistant", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestProfile_DuringTurn(t *testing.T) {
	var front *dispatch.Front
	var given string
	ch, f := newChannel(t, func(_ context.Context, ev bus.InboundEvent, st *store.DialogState, out dispatch.Sink) error {
		if p := Profile(front, st.UserKey); p != nil {
			given = p.GivenName
		}
		out(bus.ReplyTo(ev, "hello "+given))
		return nil
	})
	front = f

	post(t, ch, textRequest)
	assert.Equal(t, "Ada", given)
	assert.Nil(t, Profile(front, "assistant:app:u1"), "no profile once the request is answered")
}
