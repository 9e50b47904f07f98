package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"wahagate/internal/constants"
	"wahagate/internal/database"
	"wahagate/internal/errors"
	"wahagate/internal/metrics"
	"wahagate/internal/models"
	"wahagate/pkg/whatsapp"
	"wahagate/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// transition is one row of the session state table. An empty target leaves
// the status alone; nil sources accept any current status.
type transition struct {
	target  models.SessionStatus
	sources []models.SessionStatus
}

var transitionTable = map[models.SessionEvent]transition{
	models.SessionEventAuthSuccess: {models.SessionWorking, []models.SessionStatus{models.SessionConnecting}},
	models.SessionEventDisconnect:  {models.SessionNotWorking, []models.SessionStatus{models.SessionWorking}},
	models.SessionEventReconnect: {models.SessionConnecting, []models.SessionStatus{
		models.SessionNotWorking, models.SessionDisconnected,
	}},
	models.SessionEventAuthRequired: {models.SessionConnecting, nil},
	models.SessionEventStopped:      {models.SessionDisconnected, nil},
	models.SessionEventFatalError:   {models.SessionError, nil},
	models.SessionEventReset:        {models.SessionConnecting, []models.SessionStatus{models.SessionError}},
	models.SessionEventError:        {},
	models.SessionEventHealthOK:     {},
}

// wahaStatusEvents maps provider session statuses onto lifecycle events
var wahaStatusEvents = map[string]models.SessionEvent{
	types.StatusStarting:   models.SessionEventReconnect,
	types.StatusScanQRCode: models.SessionEventAuthRequired,
	types.StatusWorking:    models.SessionEventAuthSuccess,
	types.StatusStopped:    models.SessionEventStopped,
	types.StatusFailed:     models.SessionEventFatalError,
}

// SessionEventForStatus translates a WAHA session status. ok is false for statuses the tracker ignores.
func SessionEventForStatus(status string) (models.SessionEvent, bool) {
	evt, ok := wahaStatusEvents[status]
	return evt, ok
}

// LifecycleEvents returns the events a provider status produces for a session
// currently in status. A working session that reports STARTING or STOPPED has
// lost its connection first, so disconnect precedes the mapped event.
func LifecycleEvents(status models.SessionStatus, wahaStatus string) []models.SessionEvent {
	evt, ok := SessionEventForStatus(wahaStatus)
	if !ok {
		return nil
	}
	if status == models.SessionWorking && (evt == models.SessionEventReconnect || evt == models.SessionEventStopped) {
		return []models.SessionEvent{models.SessionEventDisconnect, evt}
	}
	return []models.SessionEvent{evt}
}

// SessionThresholds bounds the error counters that drive health and the working → not_working demotion
type SessionThresholds struct {
	ConsecutiveErrorLimit int
	CriticalErrorCount    int
}

func thresholdsFromConfig(cfg models.SessionConfig) SessionThresholds {
	th := SessionThresholds{
		ConsecutiveErrorLimit: cfg.ConsecutiveErrorLimit,
		CriticalErrorCount:    cfg.CriticalErrorCount,
	}
	if th.ConsecutiveErrorLimit <= 0 {
		th.ConsecutiveErrorLimit = constants.DefaultConsecutiveErrorLimit
	}
	if th.CriticalErrorCount <= 0 {
		th.CriticalErrorCount = constants.DefaultCriticalErrorCount
	}
	return th
}

// DeriveHealth computes the health of a session from its status and error count
func DeriveHealth(status models.SessionStatus, errorCount int, th SessionThresholds) models.HealthStatus {
	switch {
	case status == models.SessionError || errorCount >= th.CriticalErrorCount:
		return models.HealthCritical
	case errorCount == 0:
		return models.HealthHealthy
	default:
		return models.HealthWarning
	}
}

// NextState applies event to s and returns the new state. unexpected is true
// when the current status is not a listed source of the transition; the
// transition is still applied.
func NextState(s models.Session, event models.SessionEvent, detail string, th SessionThresholds, now time.Time) (next models.Session, unexpected bool, err error) {
	tr, ok := transitionTable[event]
	if !ok {
		return s, false, errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown session event %q", event)).
			WithUserMessage("Unknown session event")
	}

	next = s
	if tr.sources != nil {
		unexpected = true
		for _, src := range tr.sources {
			if s.Status == src {
				unexpected = false
				break
			}
		}
	}

	switch event {
	case models.SessionEventError:
		next.ErrorCount++
		if detail != "" {
			next.LastError = detail
		}
		if next.Status == models.SessionWorking && next.ErrorCount >= th.ConsecutiveErrorLimit {
			next.Status = models.SessionNotWorking
		}
	case models.SessionEventHealthOK:
		next.ErrorCount = 0
		checked := now
		next.LastHealthCheckAt = &checked
	case models.SessionEventAuthRequired:
		next.IsAuthenticated = false
	case models.SessionEventFatalError:
		if detail != "" {
			next.LastError = detail
		}
	}

	if tr.target != "" {
		next.Status = tr.target
	}

	switch next.Status {
	case models.SessionWorking:
		next.IsAuthenticated = true
		next.IsConnected = true
	case models.SessionNotWorking, models.SessionError:
		next.IsConnected = false
	case models.SessionDisconnected:
		next.IsConnected = false
		next.IsAuthenticated = false
	}

	next.HealthStatus = DeriveHealth(next.Status, next.ErrorCount, th)
	at := now
	next.LastEventAt = &at
	return next, unexpected, nil
}

// SessionStateTracker persists session transitions with optimistic concurrency
type SessionStateTracker struct {
	store       SessionStore
	publisher   SessionChangePublisher
	thresholds  SessionThresholds
	maxAttempts int
	logger      *logrus.Logger
	now         func() time.Time
}

func NewSessionStateTracker(store SessionStore, publisher SessionChangePublisher, cfg models.SessionConfig, logger *logrus.Logger) *SessionStateTracker {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &SessionStateTracker{
		store:       store,
		publisher:   publisher,
		thresholds:  thresholdsFromConfig(cfg),
		maxAttempts: constants.DefaultStateWriteAttempts,
		logger:      logger,
		now:         time.Now,
	}
}

// Apply runs event through the state machine for one session
func (t *SessionStateTracker) Apply(ctx context.Context, orgID, sessionID string, event models.SessionEvent) (*models.Session, error) {
	return t.ApplyWithDetail(ctx, orgID, sessionID, event, "")
}

// ApplyWithDetail is Apply with an error detail recorded by error and fatal_error events
func (t *SessionStateTracker) ApplyWithDetail(ctx context.Context, orgID, sessionID string, event models.SessionEvent, detail string) (*models.Session, error) {
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		current, err := t.store.GetSession(ctx, nil, orgID, sessionID)
		if stderrors.Is(err, database.ErrNotFound) {
			return nil, errors.NewNotFoundError("session", sessionID)
		}
		if err != nil {
			return nil, errors.NewDatabaseError("load session", err)
		}
		if current.Archived() {
			return nil, errors.NewConflictError("session", "session is archived")
		}

		now := t.now().UTC()
		next, unexpected, err := NextState(*current, event, detail, t.thresholds, now)
		if err != nil {
			return nil, err
		}

		ok, err := t.store.CompareAndSwapSession(ctx, nil, &next, current.Version)
		if err != nil {
			return nil, errors.NewDatabaseError("write session", err)
		}
		if !ok {
			t.logger.WithFields(logrus.Fields{
				LogFieldOrgID:   orgID,
				LogFieldSession: sessionID,
				LogFieldAttempt: attempt,
			}).Debug("Session version moved, retrying transition")
			continue
		}

		t.record(current, &next, event, unexpected, now)
		return &next, nil
	}

	appErr := errors.NewConflictError("session", "session state changed concurrently")
	appErr.Retryable = true
	return nil, appErr.WithContext("attempts", t.maxAttempts)
}

func (t *SessionStateTracker) record(prev, next *models.Session, event models.SessionEvent, unexpected bool, now time.Time) {
	entry := t.logger.WithFields(logrus.Fields{
		LogFieldOrgID:      next.OrgID,
		LogFieldSession:    next.SessionID,
		LogFieldTransition: event,
		LogFieldFromStatus: prev.Status,
		LogFieldToStatus:   next.Status,
		LogFieldHealth:     next.HealthStatus,
	})
	if unexpected {
		entry.Warn("Unexpected session transition applied")
	} else {
		entry.Info("Session transition applied")
	}

	metrics.IncrementCounter("session_transitions_total", map[string]string{
		"event": string(event),
		"to":    string(next.Status),
	}, "Persisted session state transitions")

	t.publisher.Publish(models.SessionChange{
		OrgID:        next.OrgID,
		SessionID:    next.SessionID,
		Event:        event,
		From:         prev.Status,
		To:           next.Status,
		HealthStatus: next.HealthStatus,
		ErrorCount:   next.ErrorCount,
		Unexpected:   unexpected,
		At:           now,
	})
}

// HandleLifecycle is the router handler for session.status events
func (t *SessionStateTracker) HandleLifecycle(ctx context.Context, body json.RawMessage) error {
	evt, ok := inboundEventFromContext(ctx)
	if !ok {
		return fmt.Errorf("lifecycle handler called without an inbound event")
	}

	env, err := whatsapp.ParseEnvelope(body)
	if err != nil {
		return err
	}
	status, err := whatsapp.SessionStatus(env)
	if err != nil {
		return err
	}

	if _, ok := SessionEventForStatus(status); !ok {
		t.logger.WithFields(logrus.Fields{
			LogFieldOrgID:   evt.OrgID,
			LogFieldSession: evt.SessionID,
			"waha_status":   status,
		}).Debug("Skipping session status: no lifecycle event")
		return nil
	}

	current, err := t.store.GetSession(ctx, nil, evt.OrgID, evt.SessionID)
	if stderrors.Is(err, database.ErrNotFound) {
		return errors.NewNotFoundError("session", evt.SessionID)
	}
	if err != nil {
		return errors.NewDatabaseError("load session", err)
	}

	for _, event := range LifecycleEvents(current.Status, status) {
		if _, err := t.Apply(ctx, evt.OrgID, evt.SessionID, event); err != nil {
			return err
		}
	}
	return nil
}
