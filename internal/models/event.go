package models

import (
	"encoding/json"
	"time"
)

// ProcessingStatus is the lifecycle state of an inbound event
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
	StatusRetry      ProcessingStatus = "retry"
)

// Valid reports whether s is a known processing status
func (s ProcessingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRetry:
		return true
	}
	return false
}

// EventClass groups provider event types by the handler that owns them
type EventClass string

const (
	EventClassMessage          EventClass = "message"
	EventClassStatusUpdate     EventClass = "status_update"
	EventClassSessionLifecycle EventClass = "session_lifecycle"
	EventClassBusinessProfile  EventClass = "business_profile"
	EventClassUnknown          EventClass = "unknown"
)

// InboundEvent is one accepted provider delivery
type InboundEvent struct {
	ID               string           `json:"id"`
	OrgID            string           `json:"org_id"`
	SessionID        string           `json:"session_id"`
	EventID          string           `json:"event_id"`
	EventType        string           `json:"event_type"`
	EventClass       EventClass       `json:"event_class"`
	HasMedia         bool             `json:"has_media"`
	ReceivedAt       time.Time        `json:"received_at"`
	Payload          json.RawMessage  `json:"payload"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	RetryCount       int              `json:"retry_count"`
	ProcessingError  string           `json:"processing_error,omitempty"`
	NextRetryAt      *time.Time       `json:"next_retry_at,omitempty"`
	RateLimited      bool             `json:"rate_limited"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Outcome is the result of a single ingestion attempt
type Outcome string

const (
	OutcomeAccepted    Outcome = "accepted"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeInvalid     Outcome = "invalid"
	OutcomeFailed      Outcome = "failed"
)

// IngestResult describes what happened to a delivery
type IngestResult struct {
	Outcome   Outcome          `json:"outcome"`
	EventID   string           `json:"event_id,omitempty"`
	Status    ProcessingStatus `json:"status,omitempty"`
	Queued    bool             `json:"queued,omitempty"`
	ResetAt   time.Time        `json:"reset_at,omitempty"`
	LimitType string           `json:"limit_type,omitempty"`
	Err       error            `json:"-"`
}
