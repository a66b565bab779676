// Package assistant implements the voice-assistant conversation webhook, a
// request/response channel: each inbound call is answered with exactly one
// synthesized response.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/relaycore/internal/bus"
	"github.com/nextlevelbuilder/relaycore/internal/channels"
	"github.com/nextlevelbuilder/relaycore/internal/config"
	"github.com/nextlevelbuilder/relaycore/internal/dispatch"
	"github.com/nextlevelbuilder/relaycore/internal/synth"
	"github.com/nextlevelbuilder/relaycore/pkg/protocol"
)

const (
	channelName  = "assistant"
	maxBodyBytes = 1 << 20

	// optionArgument is the argument carrying the selected option key.
	optionArgument = "OPTION"
)

// Handler is the dispatch entry point the channel calls for each request.
type Handler interface {
	HandleSync(ctx context.Context, ev bus.InboundEvent, origin *dispatch.Origin) error
}

// Channel serves the assistant webhook.
type Channel struct {
	*channels.BaseChannel
	cfg     config.AssistantConfig
	handler Handler
}

// New creates the assistant channel.
func New(cfg config.AssistantConfig, handler Handler, limiter *channels.WebhookRateLimiter) (*Channel, error) {
	if handler == nil {
		return nil, errors.New("assistant: handler is required")
	}
	if cfg.Path == "" {
		cfg.Path = "/webhooks/assistant"
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel(channelName, bus.StyleRequestResponse, cfg.AllowFrom, limiter),
		cfg:         cfg,
		handler:     handler,
	}, nil
}

// Start marks the channel running. The webhook is served by the gateway mux.
func (c *Channel) Start(_ context.Context) error {
	c.SetRunning(true)
	slog.Info("assistant channel started", "path", c.cfg.Path, "app", c.cfg.ApplicationID)
	return nil
}

// Stop marks the channel stopped; requests are then refused.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return nil
}

// WebhookPath returns the mount path.
func (c *Channel) WebhookPath() string { return c.cfg.Path }

func (c *Channel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !c.IsRunning() {
		http.Error(w, "channel stopped", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		slog.Warn("assistant: read request failed", "error", err)
		writeResponse(w, synth.ErrorResponse(synth.Conversation{}, fmt.Errorf("read request: %w", err), "", nil))
		return
	}

	var req protocol.AssistantRequest
	if err := json.Unmarshal(body, &req); err != nil {
		slog.Warn("assistant: malformed request", "error", err)
		writeResponse(w, synth.ErrorResponse(synth.Conversation{}, fmt.Errorf("decode request: %w", err), string(body), nil))
		return
	}

	conv := synth.Conversation{Token: req.Conversation.ConversationToken, Sandbox: req.IsInSandbox}
	ev, err := c.toEvent(&req)
	if err != nil {
		slog.Warn("assistant: unusable request", "error", err)
		writeResponse(w, synth.ErrorResponse(conv, err, string(body), &req))
		return
	}
	if !c.Admit(ev.SenderID) {
		writeResponse(w, synth.ErrorResponse(conv, errors.New("sender not admitted"), string(body), &req))
		return
	}

	origin := &dispatch.Origin{
		Conversation: conv,
		Request:      &req,
		RequestBody:  string(body),
		Writer:       &httpWriter{w: w},
	}
	if err := c.handler.HandleSync(r.Context(), ev, origin); err != nil {
		slog.Debug("assistant: request handled with error", "user", ev.SenderID, "error", err)
	}
}

// toEvent converts a webhook request into a bus event.
func (c *Channel) toEvent(req *protocol.AssistantRequest) (bus.InboundEvent, error) {
	if req.User.UserID == "" {
		return bus.InboundEvent{}, errors.New("request has no user id")
	}
	ev := bus.InboundEvent{
		ID:            uuid.NewString(),
		Channel:       channelName,
		Style:         bus.StyleRequestResponse,
		ApplicationID: c.cfg.ApplicationID,
		SenderID:      req.User.UserID,
		Locale:        req.User.Locale,
		ReceivedAt:    time.Now(),
		Metadata:      map[string]string{"conversation_id": req.Conversation.ConversationID},
	}
	if len(req.Inputs) == 0 {
		return ev, nil
	}

	in := req.Inputs[0]
	ev.Metadata["intent"] = in.Intent
	if len(in.RawInputs) > 0 {
		ev.Content = strings.TrimSpace(in.RawInputs[0].Query)
	}
	for _, arg := range in.Arguments {
		if ev.Content == "" && arg.RawText != "" {
			ev.Content = strings.TrimSpace(arg.RawText)
		}
		if in.Intent == protocol.IntentOption && arg.Name == optionArgument && arg.TextValue != "" {
			choice, err := bus.DecodeChoiceID(arg.TextValue)
			if err != nil {
				return bus.InboundEvent{}, fmt.Errorf("option argument: %w", err)
			}
			ev.Choice = &choice
		}
	}
	return ev, nil
}

// OriginSource exposes the in-flight request of a user, implemented by dispatch.Front.
type OriginSource interface {
	Origin(userKey string) (*dispatch.Origin, bool)
}

// Profile returns the profile sent with the user's in-flight request, or nil
// when there is no live request or the user did not grant name access.
func Profile(src OriginSource, userKey string) *protocol.AssistantProfile {
	origin, ok := src.Origin(userKey)
	if !ok || origin.Request == nil {
		return nil
	}
	return origin.Request.User.Profile
}

type httpWriter struct {
	w       http.ResponseWriter
	written bool
}

// WriteResponse always answers with 200: technical failures travel in the
// response metadata status.
func (h *httpWriter) WriteResponse(resp *protocol.Response) error {
	if h.written {
		return errors.New("assistant: response already written")
	}
	h.written = true
	return writeResponse(h.w, resp)
}

func writeResponse(w http.ResponseWriter, resp *protocol.Response) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(protocol.AssistantAPIVersionHeader, protocol.AssistantAPIVersion)
	w.WriteHeader(http.StatusOK)
	return json.NewEncoder(w).Encode(resp)
}
