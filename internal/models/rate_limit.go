package models

import "time"

// RateLimitWindow is the persisted counter for one (session, limit type)
type RateLimitWindow struct {
	OrgID                 string    `json:"org_id"`
	SessionID             string    `json:"session_id"`
	LimitType             string    `json:"limit_type"`
	WindowStart           time.Time `json:"window_start"`
	WindowDurationSeconds int       `json:"window_duration_seconds"`
	CurrentCount          int       `json:"current_count"`
	ThresholdCount        int       `json:"threshold_count"`
	IsExceeded            bool      `json:"is_exceeded"`
}

// ResetAt is the instant the window rolls over
func (w *RateLimitWindow) ResetAt() time.Time {
	return w.WindowStart.Add(time.Duration(w.WindowDurationSeconds) * time.Second)
}

// Decision is the outcome of a single rate limit check
type Decision struct {
	LimitType string    `json:"limit_type"`
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}
