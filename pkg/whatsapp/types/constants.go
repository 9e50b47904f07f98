package types

// WAHA webhook event names
const (
	EventMessage         = "message"
	EventMessageAny      = "message.any"
	EventMessageReaction = "message.reaction"
	EventMessageEdited   = "message.edited"
	EventMessageRevoked  = "message.revoked"
	EventMessageAck      = "message.ack"
	EventSessionStatus   = "session.status"

	// BusinessEventPrefix marks business profile updates (labels, catalog, profile)
	BusinessEventPrefix = "business."
)

// WAHA session statuses as reported by session.status events and the sessions API
const (
	StatusStarting   = "STARTING"
	StatusScanQRCode = "SCAN_QR_CODE"
	StatusWorking    = "WORKING"
	StatusStopped    = "STOPPED"
	StatusFailed     = "FAILED"
)

const (
	APIBase          = "/api"
	EndpointSessions = "/sessions"

	HeaderAPIKey = "X-Api-Key"
)
