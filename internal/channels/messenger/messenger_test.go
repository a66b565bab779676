package messenger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/relaycore/internal/bus"
	"github.com/nextlevelbuilder/relaycore/internal/config"
	"github.com/nextlevelbuilder/relaycore/internal/dispatch"
	"github.com/nextlevelbuilder/relaycore/internal/store"
	"github.com/nextlevelbuilder/relaycore/pkg/protocol"
)

// fakeAPI records every send API call.
type fakeAPI struct {
	srv  *httptest.Server
	reqs chan protocol.SendRequest

	mu     sync.Mutex
	tokens []string
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{reqs: make(chan protocol.SendRequest, 32)}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req protocol.SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.tokens = append(f.tokens, r.URL.Query().Get("access_token"))
		f.mu.Unlock()
		f.reqs <- req
		json.NewEncoder(w).Encode(protocol.SendResponse{RecipientID: req.Recipient.ID, MessageID: "m"})
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) next(t *testing.T) protocol.SendRequest {
	t.Helper()
	select {
	case r := <-f.reqs:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no send API call")
		return protocol.SendRequest{}
	}
}

type asyncFunc func(ev bus.InboundEvent) error

func (f asyncFunc) HandleAsync(ev bus.InboundEvent) error { return f(ev) }

func testConfig(apiBase string) config.MessengerConfig {
	return config.MessengerConfig{
		Enabled:     true,
		PageID:      "page1",
		APIBase:     apiBase,
		VerifyToken: "verify-me",
		PageToken:   "page-token",
	}
}

func newWithFront(t *testing.T, api *fakeAPI, logic dispatch.DialogLogicFunc) *Channel {
	t.Helper()
	pool := dispatch.NewPool(2, 16)
	ctx, cancel := context.WithCancel(context.Background())
	go pool.Run(ctx)
	front := dispatch.NewFront(dispatch.Config{Logic: logic, Pool: pool})

	ch, err := New(testConfig(api.srv.URL), front, nil, "sorry")
	require.NoError(t, err)
	front.RegisterQueue(ch.Name(), ch.Queue())
	require.NoError(t, ch.Start(context.Background()))
	t.Cleanup(func() {
		ch.Stop(context.Background())
		pool.Close()
		cancel()
	})
	return ch
}

func callback(msgs ...string) string {
	return `{"object":"page","entry":[{"id":"page1","time":1,"messaging":[` + strings.Join(msgs, ",") + `]}]}`
}

func postCallback(t *testing.T, h http.Handler, body string, header http.Header) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/messenger", strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestVerifyHandshake(t *testing.T) {
	ch, err := New(testConfig("http://unused"), asyncFunc(func(bus.InboundEvent) error { return nil }), nil, "x")
	require.NoError(t, err)
	defer ch.Stop(context.Background())

	rec := httptest.NewRecorder()
	ch.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/messenger?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", rec.Body.String())

	rec = httptest.NewRecorder()
	ch.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/messenger?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=42", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTextMessage_RepliesThroughQueue(t *testing.T) {
	api := newFakeAPI(t)
	ch := newWithFront(t, api, func(_ context.Context, ev bus.InboundEvent, _ *store.DialogState, out dispatch.Sink) error {
		a := bus.ReplyTo(ev, "you said "+ev.Content)
		a.Final = true
		out(a)
		return nil
	})

	code := postCallback(t, ch, callback(`{"sender":{"id":"u1"},"recipient":{"id":"page1"},"timestamp":1700000000000,
		"message":{"mid":"mid.1","text":"hi"}}`), nil)
	require.Equal(t, http.StatusOK, code)

	msg := api.next(t)
	require.NotNil(t, msg.Message)
	assert.Equal(t, "u1", msg.Recipient.ID)
	assert.Equal(t, "you said hi", msg.Message.Text)
	assert.Equal(t, "RESPONSE", msg.MessagingType)
	assert.Equal(t, protocol.SenderActionTypingOff, api.next(t).SenderAction)
	assert.Equal(t, protocol.SenderActionMarkSeen, api.next(t).SenderAction)

	api.mu.Lock()
	assert.Equal(t, "page-token", api.tokens[0])
	api.mu.Unlock()
}

func TestEchoesAndDuplicatesSkipped(t *testing.T) {
	var mu sync.Mutex
	var got []bus.InboundEvent
	ch, err := New(testConfig("http://unused"), asyncFunc(func(ev bus.InboundEvent) error {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		return nil
	}), nil, "x")
	require.NoError(t, err)
	require.NoError(t, ch.Start(context.Background()))
	defer ch.Stop(context.Background())

	body := callback(
		`{"sender":{"id":"page1"},"recipient":{"id":"u1"},"message":{"mid":"mid.echo","text":"bot","is_echo":true}}`,
		`{"sender":{"id":"u1"},"recipient":{"id":"page1"},"message":{"mid":"mid.2","text":"one"}}`,
		`{"sender":{"id":"u1"},"recipient":{"id":"page1"},"message":{"mid":"mid.2","text":"one"}}`,
	)
	require.Equal(t, http.StatusOK, postCallback(t, ch, body, nil))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "one", got[0].Content)
	assert.Equal(t, "page1", got[0].ApplicationID)
	assert.Equal(t, bus.StylePush, got[0].Style)
}

func TestPostbackBecomesChoice(t *testing.T) {
	var got bus.InboundEvent
	ch, err := New(testConfig("http://unused"), asyncFunc(func(ev bus.InboundEvent) error {
		got = ev
		return nil
	}), nil, "x")
	require.NoError(t, err)
	require.NoError(t, ch.Start(context.Background()))
	defer ch.Stop(context.Background())

	payload := bus.EncodeChoiceID(bus.Choice{Intent: "order", Parameters: map[string]string{"id": "7"}})
	b, _ := json.Marshal(payload)
	body := callback(`{"sender":{"id":"u1"},"recipient":{"id":"page1"},"timestamp":5,
		"postback":{"title":"Order #7","payload":` + string(b) + `}}`)
	require.Equal(t, http.StatusOK, postCallback(t, ch, body, nil))

	require.NotNil(t, got.Choice)
	assert.Equal(t, "order", got.Choice.Intent)
	assert.Equal(t, "7", got.Choice.Parameters["id"])
	assert.Equal(t, "order", got.Metadata["intent"])
	assert.Equal(t, "Order #7", got.Content)
}

func TestDispatchFailureSendsErrorReply(t *testing.T) {
	api := newFakeAPI(t)
	ch, err := New(testConfig(api.srv.URL), asyncFunc(func(bus.InboundEvent) error {
		return dispatch.ErrPoolClosed
	}), nil, "sorry")
	require.NoError(t, err)
	require.NoError(t, ch.Start(context.Background()))
	defer ch.Stop(context.Background())

	body := callback(`{"sender":{"id":"u1"},"recipient":{"id":"page1"},"message":{"mid":"mid.3","text":"hi"}}`)
	require.Equal(t, http.StatusOK, postCallback(t, ch, body, nil))

	msg := api.next(t)
	require.NotNil(t, msg.Message)
	assert.Equal(t, "sorry", msg.Message.Text)
	assert.Equal(t, protocol.SenderActionTypingOff, api.next(t).SenderAction)
}

func TestSignatureChecked(t *testing.T) {
	cfg := testConfig("http://unused")
	cfg.AppSecret = "s3cret"
	ch, err := New(cfg, asyncFunc(func(bus.InboundEvent) error { return nil }), nil, "x")
	require.NoError(t, err)
	require.NoError(t, ch.Start(context.Background()))
	defer ch.Stop(context.Background())

	body := callback()
	assert.Equal(t, http.StatusForbidden, postCallback(t, ch, body, http.Header{signatureHeader: {"sha256=00"}}))

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write([]byte(body))
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	assert.Equal(t, http.StatusOK, postCallback(t, ch, body, http.Header{signatureHeader: {sig}}))
}

func TestNew_RequiresPageToken(t *testing.T) {
	cfg := testConfig("http://unused")
	cfg.PageToken = ""
	_, err := New(cfg, asyncFunc(func(bus.InboundEvent) error { return nil }), nil, "x")
	assert.Error(t, err)
}

func TestQuickReplies(t *testing.T) {
	choices := []bus.Choice{
		{Intent: "yes", Parameters: map[string]string{bus.ChoiceTitleParam: "Yes please, right away"}},
		{Intent: "no"},
	}
	qr := quickReplies(choices)
	require.Len(t, qr, 2)
	assert.Equal(t, "Yes please, right...", qr[0].Title)
	assert.Equal(t, "text", qr[0].ContentType)
	decoded, err := bus.DecodeChoiceID(qr[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "yes", decoded.Intent)
	assert.Equal(t, "no", qr[1].Title)

	assert.Nil(t, quickReplies(nil))
}

func TestClient_SendErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad recipient","type":"OAuthException","code":100}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil)
	err := c.Send(context.Background(), bus.NewSentence("messenger", "page1", "u1", "hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad recipient")

	assert.Error(t, c.SendSignal(context.Background(), "u1", bus.ActionSentence))
}

func TestClient_ProactiveSendIsUpdate(t *testing.T) {
	api := newFakeAPI(t)
	c := NewClient(api.srv.URL, "tok", nil)

	a := bus.NewSentence("messenger", "page1", "u1", "good morning")
	a.Metadata = map[string]string{bus.MetaProactiveJob: "morning"}
	require.NoError(t, c.Send(context.Background(), a))
	assert.Equal(t, "UPDATE", api.next(t).MessagingType)

	require.NoError(t, c.Send(context.Background(), bus.NewSentence("messenger", "page1", "u1", "hi")))
	assert.Equal(t, "RESPONSE", api.next(t).MessagingType)
}
