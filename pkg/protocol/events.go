package protocol

// Dispatch lifecycle event names, used as log "event" values and span event names.
const (
	EventTurnAdmitted   = "turn.admitted"
	EventTurnRetrying   = "turn.retrying"
	EventTurnAbandoned  = "turn.abandoned"
	EventTurnFailed     = "turn.failed"
	EventTurnCompleted  = "turn.completed"
	EventTurnOrphaned   = "turn.orphaned"
	EventTurnNoAnswer   = "turn.no_answer"
	EventDeliverySent   = "delivery.sent"
	EventDeliveryFailed = "delivery.failed"
)
