package service

// Logging Standards for wahagate
//
// Standard field names and message patterns so that ingestion, retry and
// dispatch logs can be joined on the same keys.

// Standard Field Names
const (
	// Tenant and provider identifiers
	LogFieldOrgID     = "org_id"
	LogFieldSession   = "session"
	LogFieldEventID   = "event_id"
	LogFieldEventType = "event_type"
	LogFieldClass     = "event_class"
	LogFieldRowID     = "row_id"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"

	// Session state machine
	LogFieldTransition = "transition"
	LogFieldFromStatus = "from_status"
	LogFieldToStatus   = "to_status"
	LogFieldHealth     = "health_status"

	// Rate limiting
	LogFieldLimitType = "limit_type"
	LogFieldResetAt   = "reset_at"
	LogFieldRemaining = "remaining"

	// Outbound dispatch
	LogFieldWebhookID     = "webhook_id"
	LogFieldCorrelationID = "correlation_id"
	LogFieldURL           = "url"
	LogFieldStatusCode    = "status_code"

	// HTTP request fields
	LogFieldRequestID = "request_id"
	LogFieldTraceID   = "trace_id"
	LogFieldMethod    = "method"
	LogFieldRoute     = "route"
	LogFieldRemoteIP  = "remote_ip"
	LogFieldUserAgent = "user_agent"
	LogFieldSize      = "size_bytes"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"

	// Error and retry
	LogFieldErrorCode   = "error_code"
	LogFieldAttempt     = "attempt"
	LogFieldNextRetryAt = "next_retry_at"
)

// Log Level Usage Guidelines
//
// DEBUG: per-event flow detail (claims, window counts, delivery headers).
// INFO: accepted events, state transitions, workers started/stopped.
// WARN: rate limit denials, retryable handler failures, unexpected transitions.
// ERROR: permanent failures, storage errors, alert sink failures.

// Standard Log Message Patterns
//
// Starting operations: "Starting [operation]"
// Failed operations: "Failed to [operation]"
// Retrying operations: "Scheduling retry for [entity]"
// Skipping operations: "Skipping [operation]: [reason]"

// Example Usage:
//
// logger.WithFields(logrus.Fields{
//     LogFieldOrgID:   orgID,
//     LogFieldSession: privacy.MaskSessionName(sessionID),
//     LogFieldEventID: privacy.MaskEventID(eventID),
//     LogFieldAttempt: attempt,
// }).Warn("Scheduling retry for inbound event")
