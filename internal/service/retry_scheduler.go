package service

import (
	"context"
	"time"

	"wahagate/internal/constants"
	"wahagate/internal/errors"
	"wahagate/internal/metrics"
	"wahagate/internal/models"
	"wahagate/internal/retry"

	"github.com/sirupsen/logrus"
)

// RetryScheduler decides when a failed event or delivery runs again and
// reports the ones that ran out of attempts
type RetryScheduler struct {
	backoff *retry.Backoff
	events  EventStore
	alerts  AlertSink
	logger  *logrus.Logger
}

// BackoffFromConfig builds the exponential policy described by cfg
func BackoffFromConfig(cfg models.RetryConfig) *retry.Backoff {
	bc := retry.DefaultBackoffConfig()
	if cfg.BaseDelayMs > 0 {
		bc.InitialDelay = time.Duration(cfg.BaseDelayMs) * time.Millisecond
	}
	if cfg.MaxDelayMs > 0 {
		bc.MaxDelay = time.Duration(cfg.MaxDelayMs) * time.Millisecond
	}
	if cfg.MaxRetries > 0 {
		bc.MaxAttempts = cfg.MaxRetries
	}
	return retry.NewBackoff(bc)
}

func NewRetryScheduler(cfg models.RetryConfig, events EventStore, alerts AlertSink, logger *logrus.Logger) *RetryScheduler {
	if alerts == nil {
		alerts = NewLogAlertSink(logger)
	}
	return &RetryScheduler{
		backoff: BackoffFromConfig(cfg),
		events:  events,
		alerts:  alerts,
		logger:  logger,
	}
}

// MaxRetries is the default attempt budget
func (s *RetryScheduler) MaxRetries() int {
	return s.backoff.Config().MaxAttempts
}

// Schedule returns when attempt+1 should run, or permanent when attempt used
// the last of the default budget. Invalid payload errors never succeed on
// retry and are permanent at once.
func (s *RetryScheduler) Schedule(attempt int, lastErr error) (time.Time, bool) {
	if errors.HasCode(lastErr, errors.ErrCodeInvalidPayload) {
		return time.Time{}, true
	}
	return s.ScheduleWithLimit(attempt, s.MaxRetries())
}

// ScheduleWithLimit is Schedule against a caller-supplied budget, as used by
// subscriptions with their own max_retries
func (s *RetryScheduler) ScheduleWithLimit(attempt, maxRetries int) (time.Time, bool) {
	if attempt >= maxRetries {
		return time.Time{}, true
	}
	return time.Now().Add(s.backoff.Delay(attempt)).UTC(), false
}

// Delay exposes the backoff for callers that reschedule without consuming an attempt
func (s *RetryScheduler) Delay(attempt int) time.Duration {
	return s.backoff.Delay(attempt)
}

// ReportPermanent hands a permanent failure to the alert sink. Sink errors are logged only.
func (s *RetryScheduler) ReportPermanent(ctx context.Context, f PermanentFailure) {
	if f.At.IsZero() {
		f.At = time.Now().UTC()
	}

	metrics.IncrementCounter("permanent_failures_total", map[string]string{
		"kind": f.Kind,
	}, "Entities that exhausted their retry budget")

	if err := s.alerts.Report(ctx, f); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			LogFieldOrgID:     f.OrgID,
			LogFieldComponent: "alert",
			"entity_id":       f.EntityID,
		}).Error("Failed to report permanent failure")
	}
}

// Due returns events whose next_retry_at has passed
func (s *RetryScheduler) Due(ctx context.Context, now time.Time, limit int) ([]*models.InboundEvent, error) {
	if limit <= 0 {
		limit = constants.DefaultRetryBatchSize
	}
	evts, err := s.events.DueEvents(ctx, now, limit)
	if err != nil {
		return nil, errors.NewDatabaseError("scan due events", err)
	}
	return evts, nil
}
