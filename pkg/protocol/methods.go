package protocol

// ProtocolVersion is the version of the channel adapter contract.
const ProtocolVersion = 2

// AssistantAPIVersionHeader is set on every assistant webhook reply.
const (
	AssistantAPIVersionHeader = "Google-Actions-API-Version"
	AssistantAPIVersion       = "2"
)

// Built-in assistant intents.
const (
	IntentMain   = "actions.intent.MAIN"
	IntentText   = "actions.intent.TEXT"
	IntentOption = "actions.intent.OPTION"
	IntentCancel = "actions.intent.CANCEL"
)

// Status codes used in ResponseMetadata.
const (
	StatusOK       = 0
	StatusInternal = 13
)

// Push (messenger-style) sender actions.
const (
	SenderActionTypingOn  = "typing_on"
	SenderActionTypingOff = "typing_off"
	SenderActionMarkSeen  = "mark_seen"
)
