package types

import (
	"encoding/json"
	"strings"
)

// Envelope is the outer body WAHA posts for every webhook event
type Envelope struct {
	ID        string          `json:"id,omitempty"`
	Event     string          `json:"event"`
	Session   string          `json:"session"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Engine    string          `json:"engine,omitempty"`
}

// PayloadHeader is the subset of payload fields shared by message-like events
type PayloadHeader struct {
	ID       string `json:"id,omitempty"`
	HasMedia bool   `json:"hasMedia,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
}

// SessionStatusPayload is the payload of a session.status event
type SessionStatusPayload struct {
	Name   string `json:"name,omitempty"`
	Status string `json:"status"`
}

// SessionInfo is returned by GET /api/sessions/{name}
type SessionInfo struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Engine struct {
		Engine string `json:"engine,omitempty"`
	} `json:"engine,omitempty"`
}

// IsBusinessEvent reports whether eventType is a business profile update
func IsBusinessEvent(eventType string) bool {
	return strings.HasPrefix(eventType, BusinessEventPrefix)
}
