package bus

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/relaycore/pkg/protocol"
)

// ChannelStyle tells the dispatch front how outgoing actions reach the channel.
type ChannelStyle string

const (
	// StyleRequestResponse channels answer one inbound call with exactly one synchronous reply.
	StyleRequestResponse ChannelStyle = "request_response"
	// StylePush channels accept messages asynchronously at any time.
	StylePush ChannelStyle = "push"
)

// ActionKind classifies the payload of an OutgoingAction.
type ActionKind string

const (
	ActionSentence  ActionKind = "sentence"   // text and/or structured message
	ActionTypingOn  ActionKind = "typing_on"  // presence signal
	ActionTypingOff ActionKind = "typing_off" // presence signal
	ActionMarkSeen  ActionKind = "mark_seen"  // presence signal
)

// IsSignal reports whether the kind is a presence signal rather than a message.
func (k ActionKind) IsSignal() bool {
	return k == ActionTypingOn || k == ActionTypingOff || k == ActionMarkSeen
}

// InboundEvent is one event received from a channel (user message, postback choice, ...).
type InboundEvent struct {
	ID            string            `json:"id"`
	Channel       string            `json:"channel"`
	Style         ChannelStyle      `json:"style"`
	ApplicationID string            `json:"application_id"`
	SenderID      string            `json:"sender_id"`              // platform user id
	RecipientID   string            `json:"recipient_id,omitempty"` // bot/page id on the platform
	Content       string            `json:"content,omitempty"`
	Choice        *Choice           `json:"choice,omitempty"` // set when the user clicked a button / postback
	Locale        string            `json:"locale,omitempty"`
	ReceivedAt    time.Time         `json:"received_at"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// OutgoingAction is one unit produced by dialog logic for a recipient.
type OutgoingAction struct {
	ID            string `json:"id"`
	Seq           uint64 `json:"seq"` // monotonically increasing creation order
	Channel       string `json:"channel"`
	ApplicationID string `json:"application_id"`
	RecipientID   string `json:"recipient_id"` // platform user id of the recipient

	Kind         ActionKind                 `json:"kind"`
	Text         string                     `json:"text,omitempty"`         // speakable text
	SSML         string                     `json:"ssml,omitempty"`         // optional markup rendering of Text
	DisplayText  string                     `json:"display_text,omitempty"` // defaults to Text when empty
	Message      *protocol.ConnectorMessage `json:"message,omitempty"`      // channel-native structured payload
	QuickReplies []Choice                   `json:"quick_replies,omitempty"`

	Delay     time.Duration     `json:"delay,omitempty"`
	Final     bool              `json:"final,omitempty"` // the turn is complete after this action
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// MetaProactiveJob is the action metadata key naming the proactive job that
// produced an action outside of any dialog turn.
const MetaProactiveJob = "proactive_job"

// HasText reports whether the action carries speakable text.
func (a OutgoingAction) HasText() bool { return a.Text != "" || a.SSML != "" }

var seqCounter atomic.Uint64

// NextSeq returns the next global creation sequence number.
func NextSeq() uint64 { return seqCounter.Add(1) }

// NewAction stamps a new action with an id, creation order and timestamp.
func NewAction(channel, applicationID, recipientID string, kind ActionKind) OutgoingAction {
	return OutgoingAction{
		ID:            uuid.NewString(),
		Seq:           NextSeq(),
		Channel:       channel,
		ApplicationID: applicationID,
		RecipientID:   recipientID,
		Kind:          kind,
		CreatedAt:     time.Now(),
	}
}

// NewSentence builds a text action.
func NewSentence(channel, applicationID, recipientID, text string) OutgoingAction {
	a := NewAction(channel, applicationID, recipientID, ActionSentence)
	a.Text = text
	return a
}

// NewSignal builds a presence signal action.
func NewSignal(channel, applicationID, recipientID string, kind ActionKind) OutgoingAction {
	return NewAction(channel, applicationID, recipientID, kind)
}

// ReplyTo builds a text action addressed to the sender of ev.
func ReplyTo(ev InboundEvent, text string) OutgoingAction {
	return NewSentence(ev.Channel, ev.ApplicationID, ev.SenderID, text)
}
