// Package messenger implements the Messenger-style push channel: a webhook
// receiving page events and a send API client draining through the ordered
// delivery queue.
package messenger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/relaycore/internal/bus"
	"github.com/nextlevelbuilder/relaycore/internal/channels"
	"github.com/nextlevelbuilder/relaycore/internal/config"
	"github.com/nextlevelbuilder/relaycore/internal/delivery"
	"github.com/nextlevelbuilder/relaycore/internal/sessions"
	"github.com/nextlevelbuilder/relaycore/pkg/protocol"
)

const (
	channelName  = "messenger"
	maxBodyBytes = 1 << 20

	objectPage      = "page"
	signatureHeader = "X-Hub-Signature-256"
	dedupTTL        = 5 * time.Minute
)

// Handler is the dispatch entry point the channel calls for each event.
type Handler interface {
	HandleAsync(ev bus.InboundEvent) error
}

// Channel serves the push webhook and owns the delivery queue.
type Channel struct {
	*channels.BaseChannel
	cfg       config.MessengerConfig
	handler   Handler
	client    *Client
	queue     *delivery.Queue
	errorText string
	dedup     sync.Map // message id -> struct{}
}

// New creates the messenger channel. errorText is sent when an inbound event
// cannot be handed to dispatch.
func New(cfg config.MessengerConfig, handler Handler, limiter *channels.WebhookRateLimiter, errorText string) (*Channel, error) {
	if handler == nil {
		return nil, errors.New("messenger: handler is required")
	}
	if cfg.PageToken == "" {
		return nil, errors.New("messenger: page token is required")
	}
	if cfg.Path == "" {
		cfg.Path = "/webhooks/messenger"
	}

	var sendLimiter *rate.Limiter
	if cfg.SendRPS > 0 {
		burst := cfg.SendBurst
		if burst <= 0 {
			burst = 1
		}
		sendLimiter = rate.NewLimiter(rate.Limit(cfg.SendRPS), burst)
	}
	client := NewClient(cfg.APIBase, cfg.PageToken, sendLimiter)

	return &Channel{
		BaseChannel: channels.NewBaseChannel(channelName, bus.StylePush, cfg.AllowFrom, limiter),
		cfg:         cfg,
		handler:     handler,
		client:      client,
		queue:       delivery.NewQueue(channelName, client),
		errorText:   errorText,
	}, nil
}

// Start marks the channel running. The webhook is served by the gateway mux.
func (c *Channel) Start(_ context.Context) error {
	c.SetRunning(true)
	slog.Info("messenger channel started", "path", c.cfg.Path, "page", c.cfg.PageID)
	return nil
}

// Stop closes the delivery queue; undelivered actions are abandoned.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	c.queue.Close()
	return nil
}

// WebhookPath returns the mount path.
func (c *Channel) WebhookPath() string { return c.cfg.Path }

// Queue returns the ordered delivery queue of the channel.
func (c *Channel) Queue() *delivery.Queue { return c.queue }

func (c *Channel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		c.verify(w, r)
	case http.MethodPost:
		c.receive(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// verify answers the subscription handshake.
func (c *Channel) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || c.cfg.VerifyToken == "" ||
		!hmac.Equal([]byte(q.Get("hub.verify_token")), []byte(c.cfg.VerifyToken)) {
		slog.Warn("messenger: webhook verification failed", "mode", q.Get("hub.mode"))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, q.Get("hub.challenge"))
}

func (c *Channel) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if c.cfg.AppSecret != "" && !validSignature(c.cfg.AppSecret, body, r.Header.Get(signatureHeader)) {
		slog.Warn("messenger: invalid webhook signature")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var cb protocol.CallbackRequest
	if err := json.Unmarshal(body, &cb); err != nil {
		slog.Warn("messenger: malformed callback", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if cb.Object != objectPage {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if c.IsRunning() {
		for _, entry := range cb.Entry {
			for _, m := range entry.Messaging {
				c.handleMessaging(m)
			}
		}
	}
	// acknowledge promptly, the platform redelivers otherwise
	io.WriteString(w, "EVENT_RECEIVED")
}

func (c *Channel) handleMessaging(m protocol.MessagingCallback) {
	senderID := m.Sender.ID
	if senderID == "" {
		return
	}
	if m.Message != nil && m.Message.IsEcho {
		return
	}
	if m.Message != nil && m.Message.Mid != "" && c.isDuplicate(m.Message.Mid) {
		slog.Debug("messenger: duplicate message skipped", "mid", m.Message.Mid)
		return
	}
	if !c.Admit(senderID) {
		return
	}

	ev, ok, err := c.toEvent(m)
	if err != nil {
		slog.Warn("messenger: unusable event", "sender", senderID, "error", err)
		c.sendFailure(senderID)
		return
	}
	if !ok {
		return
	}
	if err := c.handler.HandleAsync(ev); err != nil {
		slog.Error("messenger: dispatch failed", "sender", senderID, "error", err)
		c.sendFailure(senderID)
	}
}

// toEvent converts a messaging callback. ok is false for callbacks that carry
// nothing to answer (deliveries, reads).
func (c *Channel) toEvent(m protocol.MessagingCallback) (bus.InboundEvent, bool, error) {
	ev := bus.InboundEvent{
		Channel:       channelName,
		Style:         bus.StylePush,
		ApplicationID: c.cfg.PageID,
		SenderID:      m.Sender.ID,
		RecipientID:   m.Recipient.ID,
		ReceivedAt:    time.Now(),
	}
	if m.Timestamp > 0 {
		ev.ReceivedAt = time.UnixMilli(m.Timestamp)
	}

	var payload string
	switch {
	case m.Postback != nil:
		ev.ID = fmt.Sprintf("postback-%s-%d", m.Sender.ID, m.Timestamp)
		ev.Content = m.Postback.Title
		payload = m.Postback.Payload
	case m.Message != nil:
		ev.ID = m.Message.Mid
		ev.Content = strings.TrimSpace(m.Message.Text)
		if m.Message.QuickReply != nil {
			payload = m.Message.QuickReply.Payload
		}
	default:
		return bus.InboundEvent{}, false, nil
	}

	if payload != "" {
		choice, err := bus.DecodeChoiceID(payload)
		if err != nil {
			return bus.InboundEvent{}, false, fmt.Errorf("choice payload: %w", err)
		}
		ev.Choice = &choice
		ev.Metadata = map[string]string{"intent": choice.Intent}
	}
	if ev.Content == "" && ev.Choice == nil {
		return bus.InboundEvent{}, false, nil
	}
	return ev, true, nil
}

// sendFailure tells the user something went wrong outside of any turn. The
// message is final, so the queue follows it with typing off.
func (c *Channel) sendFailure(recipientID string) {
	msg := bus.NewSentence(channelName, c.cfg.PageID, recipientID, c.errorText)
	msg.Final = true
	if err := c.queue.Submit(sessions.RecipientKeyFor(msg), msg, 0); err != nil {
		slog.Warn("messenger: failure reply dropped", "recipient", recipientID, "error", err)
	}
}

// isDuplicate returns true if messageID was already processed.
func (c *Channel) isDuplicate(messageID string) bool {
	_, loaded := c.dedup.LoadOrStore(messageID, struct{}{})
	if !loaded {
		time.AfterFunc(dedupTTL, func() { c.dedup.Delete(messageID) })
	}
	return loaded
}

func validSignature(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// Ensure Channel implements the channel interfaces at compile time.
var (
	_ channels.WebhookChannel = (*Channel)(nil)
	_ channels.PushChannel    = (*Channel)(nil)
)
