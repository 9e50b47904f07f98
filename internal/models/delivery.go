package models

import (
	"encoding/json"
	"time"
)

// WebhookSubscription is an outbound subscriber registered by an organization
type WebhookSubscription struct {
	ID         string    `json:"id"`
	OrgID      string    `json:"org_id"`
	URL        string    `json:"url"`
	Secret     string    `json:"-"`
	EventTypes []string  `json:"event_types"`
	MaxRetries int       `json:"max_retries"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Matches reports whether the subscription wants eventType.
// An empty list or "*" subscribes to everything.
func (s *WebhookSubscription) Matches(eventType string) bool {
	if len(s.EventTypes) == 0 {
		return true
	}
	for _, t := range s.EventTypes {
		if t == "*" || t == eventType {
			return true
		}
	}
	return false
}

// DeliveryAttempt is one outbound POST of a logical delivery
type DeliveryAttempt struct {
	ID            int64           `json:"id"`
	OrgID         string          `json:"org_id"`
	WebhookID     string          `json:"webhook_id"`
	CorrelationID string          `json:"correlation_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	AttemptNumber int             `json:"attempt_number"`
	HTTPStatus    int             `json:"http_status,omitempty"`
	IsSuccess     bool            `json:"is_success"`
	NextRetryAt   *time.Time      `json:"next_retry_at,omitempty"`
	AttemptedAt   *time.Time      `json:"attempted_at,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// OutboundPayload is the body posted to subscribers
type OutboundPayload struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}
