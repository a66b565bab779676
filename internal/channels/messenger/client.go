package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/relaycore/internal/bus"
	"github.com/nextlevelbuilder/relaycore/internal/channels"
	"github.com/nextlevelbuilder/relaycore/pkg/protocol"
)

const (
	sendPath = "/me/messages"

	// Platform limits.
	maxTextRunes       = 2000
	maxQuickReplies    = 13
	maxQuickReplyTitle = 20

	messagingTypeResponse = "RESPONSE"
	messagingTypeUpdate   = "UPDATE"
	contentTypeText       = "text"
)

// Client is a minimal send API client using net/http. It implements
// delivery.Sender.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a send API client. A nil limiter disables pacing.
func NewClient(baseURL, pageToken string, limiter *rate.Limiter) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      pageToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    limiter,
	}
}

// Send delivers a message action.
func (c *Client) Send(ctx context.Context, action bus.OutgoingAction) error {
	text := action.DisplayText
	if text == "" {
		text = action.Text
	}
	if text == "" && len(action.QuickReplies) == 0 {
		return fmt.Errorf("messenger: action %s has nothing to send", action.ID)
	}
	msg := &protocol.SendMessage{
		Text:         channels.Truncate(text, maxTextRunes),
		QuickReplies: quickReplies(action.QuickReplies),
	}
	return c.post(ctx, protocol.SendRequest{
		Recipient:     protocol.Recipient{ID: action.RecipientID},
		MessagingType: messagingType(action),
		Message:       msg,
	})
}

// messagingType tags replies to a user message as RESPONSE and messages
// pushed on the page's own initiative as UPDATE.
func messagingType(action bus.OutgoingAction) string {
	if action.Metadata[bus.MetaProactiveJob] != "" {
		return messagingTypeUpdate
	}
	return messagingTypeResponse
}

// SendSignal delivers a sender action (typing on/off, mark seen).
func (c *Client) SendSignal(ctx context.Context, recipientID string, kind bus.ActionKind) error {
	var senderAction string
	switch kind {
	case bus.ActionTypingOn:
		senderAction = protocol.SenderActionTypingOn
	case bus.ActionTypingOff:
		senderAction = protocol.SenderActionTypingOff
	case bus.ActionMarkSeen:
		senderAction = protocol.SenderActionMarkSeen
	default:
		return fmt.Errorf("messenger: %q is not a signal", kind)
	}
	return c.post(ctx, protocol.SendRequest{
		Recipient:    protocol.Recipient{ID: recipientID},
		SenderAction: senderAction,
	})
}

func (c *Client) post(ctx context.Context, body protocol.SendRequest) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("messenger rate wait: %w", err)
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	endpoint := c.baseURL + sendPath + "?access_token=" + url.QueryEscape(c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("messenger send: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var result protocol.SendResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil && resp.StatusCode == http.StatusOK {
			return fmt.Errorf("messenger send decode: %w", err)
		}
	}
	if result.Error != nil {
		return fmt.Errorf("messenger send error: code=%d type=%s msg=%s", result.Error.Code, result.Error.Type, result.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("messenger send: status %d: %s", resp.StatusCode, channels.Truncate(string(raw), 200))
	}
	return nil
}

// quickReplies renders choices as quick replies whose payload is the encoded choice.
func quickReplies(choices []bus.Choice) []protocol.QuickReply {
	if len(choices) == 0 {
		return nil
	}
	if len(choices) > maxQuickReplies {
		choices = choices[:maxQuickReplies]
	}
	out := make([]protocol.QuickReply, 0, len(choices))
	for _, ch := range choices {
		title := ch.Title()
		if title == "" {
			title = ch.Intent
		}
		out = append(out, protocol.QuickReply{
			ContentType: contentTypeText,
			Title:       channels.Truncate(title, maxQuickReplyTitle),
			Payload:     bus.EncodeChoiceID(ch),
		})
	}
	return out
}
