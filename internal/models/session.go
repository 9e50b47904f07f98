package models

import "time"

// SessionStatus is the connectivity state of a channel session
type SessionStatus string

const (
	SessionConnecting   SessionStatus = "connecting"
	SessionWorking      SessionStatus = "working"
	SessionNotWorking   SessionStatus = "not_working"
	SessionDisconnected SessionStatus = "disconnected"
	SessionError        SessionStatus = "error"
)

// AllSessionStatuses lists every declared status
var AllSessionStatuses = []SessionStatus{
	SessionConnecting, SessionWorking, SessionNotWorking, SessionDisconnected, SessionError,
}

// Valid reports whether s is a declared status
func (s SessionStatus) Valid() bool {
	for _, known := range AllSessionStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// HealthStatus is derived from the error count and status
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
	HealthUnknown  HealthStatus = "unknown"
)

// SessionEvent is a classified lifecycle signal that drives the session state machine
type SessionEvent string

const (
	SessionEventAuthSuccess  SessionEvent = "auth_success"
	SessionEventDisconnect   SessionEvent = "disconnect"
	SessionEventReconnect    SessionEvent = "reconnect"
	SessionEventAuthRequired SessionEvent = "auth_required"
	SessionEventStopped      SessionEvent = "stopped"
	SessionEventFatalError   SessionEvent = "fatal_error"
	SessionEventReset        SessionEvent = "reset"
	SessionEventError        SessionEvent = "error"
	SessionEventHealthOK     SessionEvent = "health_ok"
)

// AllSessionEvents lists every lifecycle event the tracker understands
var AllSessionEvents = []SessionEvent{
	SessionEventAuthSuccess, SessionEventDisconnect, SessionEventReconnect, SessionEventAuthRequired,
	SessionEventStopped, SessionEventFatalError, SessionEventReset, SessionEventError, SessionEventHealthOK,
}

// Session is the persisted state of one channel session
type Session struct {
	OrgID             string        `json:"org_id"`
	SessionID         string        `json:"session_id"`
	ChannelConfigID   string        `json:"channel_config_id"`
	Status            SessionStatus `json:"status"`
	HealthStatus      HealthStatus  `json:"health_status"`
	IsAuthenticated   bool          `json:"is_authenticated"`
	IsConnected       bool          `json:"is_connected"`
	ErrorCount        int           `json:"error_count"`
	LastError         string        `json:"last_error,omitempty"`
	LastHealthCheckAt *time.Time    `json:"last_health_check_at,omitempty"`
	LastEventAt       *time.Time    `json:"last_event_at,omitempty"`
	Version           int64         `json:"version"`
	ArchivedAt        *time.Time    `json:"archived_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Archived reports whether the session has been soft-archived
func (s *Session) Archived() bool {
	return s.ArchivedAt != nil
}

// SessionChange is published whenever the tracker persists a new session state
type SessionChange struct {
	OrgID        string        `json:"org_id"`
	SessionID    string        `json:"session_id"`
	Event        SessionEvent  `json:"event"`
	From         SessionStatus `json:"from"`
	To           SessionStatus `json:"to"`
	HealthStatus HealthStatus  `json:"health_status"`
	ErrorCount   int           `json:"error_count"`
	Unexpected   bool          `json:"unexpected,omitempty"`
	At           time.Time     `json:"at"`
}

// Organization is the tenant that owns every other entity
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
