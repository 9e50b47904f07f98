package service

import (
	"context"
	"time"

	"wahagate/internal/models"

	"github.com/sirupsen/logrus"
)

// MessagePipeline receives message, status and business events once they are accepted
type MessagePipeline interface {
	Publish(ctx context.Context, evt *models.InboundEvent) error
}

// AlertSink is told about every entity that exhausted its retries
type AlertSink interface {
	Report(ctx context.Context, failure PermanentFailure) error
}

// SessionChangePublisher fans persisted session transitions out to live subscribers
type SessionChangePublisher interface {
	Publish(change models.SessionChange)
}

// Kinds of PermanentFailure
const (
	FailureKindEvent    = "inbound_event"
	FailureKindDelivery = "delivery"
)

// PermanentFailure describes an inbound event or outbound delivery that will not be retried
type PermanentFailure struct {
	Kind      string    `json:"kind"`
	OrgID     string    `json:"org_id"`
	SessionID string    `json:"session_id,omitempty"`
	EntityID  string    `json:"entity_id"`
	EventType string    `json:"event_type"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
	At        time.Time `json:"at"`
}

// LogPipeline is the MessagePipeline used when no broker is configured
type LogPipeline struct {
	logger *logrus.Logger
}

func NewLogPipeline(logger *logrus.Logger) *LogPipeline {
	return &LogPipeline{logger: logger}
}

func (p *LogPipeline) Publish(ctx context.Context, evt *models.InboundEvent) error {
	p.logger.WithFields(eventFields(ctx, evt.OrgID, evt.SessionID, evt.EventID)).
		WithFields(logrus.Fields{
			LogFieldEventType: evt.EventType,
			LogFieldClass:     evt.EventClass,
		}).Info("Event handed to pipeline")
	return nil
}

// LogAlertSink reports permanent failures as error log lines
type LogAlertSink struct {
	logger *logrus.Logger
}

func NewLogAlertSink(logger *logrus.Logger) *LogAlertSink {
	return &LogAlertSink{logger: logger}
}

func (s *LogAlertSink) Report(_ context.Context, f PermanentFailure) error {
	s.logger.WithFields(logrus.Fields{
		LogFieldComponent: "alert",
		LogFieldOrgID:     f.OrgID,
		LogFieldEventType: f.EventType,
		LogFieldAttempt:   f.Attempts,
		"kind":            f.Kind,
		"entity_id":       f.EntityID,
		"last_error":      f.LastError,
	}).Error("Permanent failure")
	return nil
}

// noopPublisher drops session changes when no live feed is wired
type noopPublisher struct{}

func (noopPublisher) Publish(models.SessionChange) {}
