package service

import (
	"context"
	"testing"
	"time"

	"wahagate/internal/errors"
	"wahagate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRetrySchedulerSchedule(t *testing.T) {
	s := NewRetryScheduler(models.RetryConfig{BaseDelayMs: 1000, MaxDelayMs: 300000, MaxRetries: 3}, nil, &mockAlertSink{}, testLogger())

	t.Run("retries until the budget is spent", func(t *testing.T) {
		before := time.Now()
		next, permanent := s.Schedule(1, assert.AnError)
		assert.False(t, permanent)
		// 1s * 2^1 plus at most 25% jitter
		assert.WithinRange(t, next, before.Add(2*time.Second), time.Now().Add(2500*time.Millisecond))

		_, permanent = s.Schedule(2, assert.AnError)
		assert.False(t, permanent)

		next, permanent = s.Schedule(3, assert.AnError)
		assert.True(t, permanent)
		assert.True(t, next.IsZero())
	})

	t.Run("invalid payloads are permanent at once", func(t *testing.T) {
		_, permanent := s.Schedule(1, errors.NewInvalidPayloadError("missing status", assert.AnError))
		assert.True(t, permanent)
	})

	t.Run("subscription budget", func(t *testing.T) {
		_, permanent := s.ScheduleWithLimit(4, 5)
		assert.False(t, permanent)
		_, permanent = s.ScheduleWithLimit(5, 5)
		assert.True(t, permanent)
	})
}

func TestRetrySchedulerDelaysGrow(t *testing.T) {
	s := NewRetryScheduler(models.RetryConfig{BaseDelayMs: 1000, MaxDelayMs: 60000, MaxRetries: 10}, nil, nil, testLogger())

	prev := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		d := s.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, time.Minute, "attempt %d", attempt)
		prev = d
	}
	assert.Equal(t, time.Minute, s.Delay(10))
}

func TestRetrySchedulerReportPermanent(t *testing.T) {
	ctx := context.Background()

	t.Run("reports to the sink", func(t *testing.T) {
		sink := &mockAlertSink{}
		sink.On("Report", ctx, mock.MatchedBy(func(f PermanentFailure) bool {
			return f.Kind == FailureKindEvent && f.EntityID == "evt-010" && !f.At.IsZero()
		})).Return(nil).Once()

		s := NewRetryScheduler(models.RetryConfig{}, nil, sink, testLogger())
		s.ReportPermanent(ctx, PermanentFailure{Kind: FailureKindEvent, EntityID: "evt-010", Attempts: 3})
		sink.AssertExpectations(t)
	})

	t.Run("sink errors are swallowed", func(t *testing.T) {
		sink := &mockAlertSink{}
		sink.On("Report", ctx, mock.Anything).Return(assert.AnError).Once()

		s := NewRetryScheduler(models.RetryConfig{}, nil, sink, testLogger())
		assert.NotPanics(t, func() {
			s.ReportPermanent(ctx, PermanentFailure{Kind: FailureKindDelivery})
		})
		sink.AssertExpectations(t)
	})
}

func TestRetrySchedulerDue(t *testing.T) {
	env := newTestEnv(t, func(c *models.Config) { c.Webhook.RateLimitPolicy = PolicyQueue })
	ctx := context.Background()
	seedSession(t, env.db, "org-1", "sess-A")
	env.limiter.UpdateRules(models.RateLimitConfig{Defaults: []models.RateLimitRule{perMinute(1)}})
	env.pipelineSucceeds()

	require.Equal(t, models.OutcomeAccepted, env.ingestor.Accept(ctx, "org-1", "sess-A", messageBody("evt-1", "sess-A")).Outcome)
	queued := env.ingestor.Accept(ctx, "org-1", "sess-A", messageBody("evt-2", "sess-A"))
	require.True(t, queued.Queued)

	due, err := env.scheduler.Due(ctx, env.clock.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "queued until the window resets")

	due, err = env.scheduler.Due(ctx, queued.ResetAt, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "evt-2", due[0].EventID)
}
