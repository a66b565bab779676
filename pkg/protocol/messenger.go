package protocol

// Messenger-style push channel wire model.

// CallbackRequest is the webhook body delivered by the push platform.
type CallbackRequest struct {
	Object string          `json:"object"`
	Entry  []CallbackEntry `json:"entry"`
}

type CallbackEntry struct {
	ID        string              `json:"id"` // page id
	Time      int64               `json:"time"`
	Messaging []MessagingCallback `json:"messaging,omitempty"`
}

type MessagingCallback struct {
	Sender    Recipient        `json:"sender"`
	Recipient Recipient        `json:"recipient"`
	Timestamp int64            `json:"timestamp"`
	Message   *InboundMessage  `json:"message,omitempty"`
	Postback  *PostbackPayload `json:"postback,omitempty"`
}

type InboundMessage struct {
	Mid        string             `json:"mid"`
	Text       string             `json:"text,omitempty"`
	IsEcho     bool               `json:"is_echo,omitempty"`
	QuickReply *QuickReplyPayload `json:"quick_reply,omitempty"`
}

type QuickReplyPayload struct {
	Payload string `json:"payload"`
}

type PostbackPayload struct {
	Title   string `json:"title,omitempty"`
	Payload string `json:"payload"`
}

type Recipient struct {
	ID string `json:"id"`
}

// SendRequest is posted to the platform send API. Exactly one of Message and SenderAction is set.
type SendRequest struct {
	Recipient     Recipient    `json:"recipient"`
	MessagingType string       `json:"messaging_type,omitempty"`
	Message       *SendMessage `json:"message,omitempty"`
	SenderAction  string       `json:"sender_action,omitempty"`
}

type SendMessage struct {
	Text         string       `json:"text,omitempty"`
	QuickReplies []QuickReply `json:"quick_replies,omitempty"`
}

type QuickReply struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title"`
	Payload     string `json:"payload"`
}

type SendResponse struct {
	RecipientID string     `json:"recipient_id,omitempty"`
	MessageID   string     `json:"message_id,omitempty"`
	Error       *SendError `json:"error,omitempty"`
}

type SendError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}
