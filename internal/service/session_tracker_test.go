package service

import (
	"context"
	"testing"
	"time"

	"wahagate/internal/database"
	"wahagate/internal/errors"
	"wahagate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testThresholds = SessionThresholds{ConsecutiveErrorLimit: 3, CriticalErrorCount: 5}

func TestNextStateClosure(t *testing.T) {
	now := time.Now()

	for _, status := range models.AllSessionStatuses {
		for _, event := range models.AllSessionEvents {
			for _, errorCount := range []int{0, 2, 5} {
				s := models.Session{Status: status, ErrorCount: errorCount, IsAuthenticated: true, IsConnected: true}

				next, _, err := NextState(s, event, "boom", testThresholds, now)
				require.NoError(t, err, "%s + %s", status, event)

				assert.True(t, next.Status.Valid(), "%s + %s produced %q", status, event, next.Status)
				assert.Equal(t, DeriveHealth(next.Status, next.ErrorCount, testThresholds), next.HealthStatus)
				assert.NotEqual(t, models.HealthUnknown, next.HealthStatus)
				require.NotNil(t, next.LastEventAt)

				switch next.Status {
				case models.SessionWorking:
					assert.True(t, next.IsConnected && next.IsAuthenticated)
				case models.SessionDisconnected:
					assert.False(t, next.IsConnected || next.IsAuthenticated)
				case models.SessionNotWorking, models.SessionError:
					assert.False(t, next.IsConnected)
				}
			}
		}
	}
}

func TestNextStateTransitions(t *testing.T) {
	tests := []struct {
		from       models.SessionStatus
		event      models.SessionEvent
		to         models.SessionStatus
		unexpected bool
	}{
		{models.SessionConnecting, models.SessionEventAuthSuccess, models.SessionWorking, false},
		{models.SessionDisconnected, models.SessionEventAuthSuccess, models.SessionWorking, true},
		{models.SessionWorking, models.SessionEventDisconnect, models.SessionNotWorking, false},
		{models.SessionConnecting, models.SessionEventDisconnect, models.SessionNotWorking, true},
		{models.SessionNotWorking, models.SessionEventReconnect, models.SessionConnecting, false},
		{models.SessionDisconnected, models.SessionEventReconnect, models.SessionConnecting, false},
		{models.SessionError, models.SessionEventReconnect, models.SessionConnecting, true},
		{models.SessionWorking, models.SessionEventAuthRequired, models.SessionConnecting, false},
		{models.SessionWorking, models.SessionEventStopped, models.SessionDisconnected, false},
		{models.SessionConnecting, models.SessionEventFatalError, models.SessionError, false},
		{models.SessionError, models.SessionEventReset, models.SessionConnecting, false},
		{models.SessionWorking, models.SessionEventReset, models.SessionConnecting, true},
		{models.SessionWorking, models.SessionEventError, models.SessionWorking, false},
		{models.SessionNotWorking, models.SessionEventHealthOK, models.SessionNotWorking, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			next, unexpected, err := NextState(models.Session{Status: tt.from}, tt.event, "", testThresholds, time.Now())
			require.NoError(t, err)
			assert.Equal(t, tt.to, next.Status)
			assert.Equal(t, tt.unexpected, unexpected)
		})
	}
}

func TestNextStateErrorCounting(t *testing.T) {
	now := time.Now()
	s := models.Session{Status: models.SessionWorking, IsConnected: true, IsAuthenticated: true}

	var err error
	s, _, err = NextState(s, models.SessionEventError, "timeout", testThresholds, now)
	require.NoError(t, err)
	assert.Equal(t, 1, s.ErrorCount)
	assert.Equal(t, "timeout", s.LastError)
	assert.Equal(t, models.HealthWarning, s.HealthStatus)
	assert.Equal(t, models.SessionWorking, s.Status)

	s, _, _ = NextState(s, models.SessionEventError, "timeout", testThresholds, now)
	assert.Equal(t, models.SessionWorking, s.Status)

	s, _, _ = NextState(s, models.SessionEventError, "timeout", testThresholds, now)
	assert.Equal(t, 3, s.ErrorCount)
	assert.Equal(t, models.SessionNotWorking, s.Status, "consecutive error limit demotes a working session")
	assert.False(t, s.IsConnected)

	s, _, _ = NextState(s, models.SessionEventError, "timeout", testThresholds, now)
	s, _, _ = NextState(s, models.SessionEventError, "timeout", testThresholds, now)
	assert.Equal(t, 5, s.ErrorCount)
	assert.Equal(t, models.HealthCritical, s.HealthStatus)

	s, _, _ = NextState(s, models.SessionEventHealthOK, "", testThresholds, now)
	assert.Equal(t, 0, s.ErrorCount)
	assert.Equal(t, models.HealthHealthy, s.HealthStatus)
	require.NotNil(t, s.LastHealthCheckAt)
	assert.True(t, now.Equal(*s.LastHealthCheckAt))
}

func TestNextStateUnknownEvent(t *testing.T) {
	_, _, err := NextState(models.Session{Status: models.SessionWorking}, "explode", "", testThresholds, time.Now())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
}

func TestDeriveHealth(t *testing.T) {
	assert.Equal(t, models.HealthHealthy, DeriveHealth(models.SessionWorking, 0, testThresholds))
	assert.Equal(t, models.HealthWarning, DeriveHealth(models.SessionWorking, 1, testThresholds))
	assert.Equal(t, models.HealthWarning, DeriveHealth(models.SessionWorking, 4, testThresholds))
	assert.Equal(t, models.HealthCritical, DeriveHealth(models.SessionWorking, 5, testThresholds))
	assert.Equal(t, models.HealthCritical, DeriveHealth(models.SessionError, 0, testThresholds))
}

func TestSessionEventForStatus(t *testing.T) {
	tests := map[string]models.SessionEvent{
		"STARTING":     models.SessionEventReconnect,
		"SCAN_QR_CODE": models.SessionEventAuthRequired,
		"WORKING":      models.SessionEventAuthSuccess,
		"STOPPED":      models.SessionEventStopped,
		"FAILED":       models.SessionEventFatalError,
	}
	for status, expected := range tests {
		evt, ok := SessionEventForStatus(status)
		assert.True(t, ok, status)
		assert.Equal(t, expected, evt, status)
	}

	_, ok := SessionEventForStatus("OPENING")
	assert.False(t, ok)
}

func TestLifecycleEvents(t *testing.T) {
	tests := []struct {
		current models.SessionStatus
		status  string
		want    []models.SessionEvent
	}{
		{models.SessionWorking, "STARTING", []models.SessionEvent{models.SessionEventDisconnect, models.SessionEventReconnect}},
		{models.SessionWorking, "STOPPED", []models.SessionEvent{models.SessionEventDisconnect, models.SessionEventStopped}},
		{models.SessionWorking, "FAILED", []models.SessionEvent{models.SessionEventFatalError}},
		{models.SessionDisconnected, "STARTING", []models.SessionEvent{models.SessionEventReconnect}},
		{models.SessionNotWorking, "STOPPED", []models.SessionEvent{models.SessionEventStopped}},
		{models.SessionWorking, "OPENING", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LifecycleEvents(tt.current, tt.status), "%s/%s", tt.current, tt.status)
	}
}

func TestSessionStateTrackerApply(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedSession(t, env.db, "org-1", "sess-A")

	s, err := env.tracker.Apply(ctx, "org-1", "sess-A", models.SessionEventReconnect)
	require.NoError(t, err)
	assert.Equal(t, models.SessionConnecting, s.Status)
	assert.Equal(t, int64(1), s.Version)

	s, err = env.tracker.Apply(ctx, "org-1", "sess-A", models.SessionEventAuthSuccess)
	require.NoError(t, err)
	assert.Equal(t, models.SessionWorking, s.Status)
	assert.Equal(t, models.HealthHealthy, s.HealthStatus)

	stored, err := env.db.GetSession(ctx, nil, "org-1", "sess-A")
	require.NoError(t, err)
	assert.Equal(t, models.SessionWorking, stored.Status)
	assert.True(t, stored.IsAuthenticated)
	assert.True(t, stored.IsConnected)
	assert.Equal(t, int64(2), stored.Version)

	changes := env.publisher.Changes()
	require.Len(t, changes, 2)
	assert.Equal(t, models.SessionDisconnected, changes[0].From)
	assert.Equal(t, models.SessionConnecting, changes[0].To)
	assert.Equal(t, models.SessionWorking, changes[1].To)
	assert.False(t, changes[1].Unexpected)

	t.Run("unexpected source is applied and flagged", func(t *testing.T) {
		s, err := env.tracker.Apply(ctx, "org-1", "sess-A", models.SessionEventReset)
		require.NoError(t, err)
		assert.Equal(t, models.SessionConnecting, s.Status)

		changes := env.publisher.Changes()
		assert.True(t, changes[len(changes)-1].Unexpected)
	})

	t.Run("error detail is recorded", func(t *testing.T) {
		s, err := env.tracker.ApplyWithDetail(ctx, "org-1", "sess-A", models.SessionEventError, "probe failed")
		require.NoError(t, err)
		assert.Equal(t, 1, s.ErrorCount)
		assert.Equal(t, "probe failed", s.LastError)
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := env.tracker.Apply(ctx, "org-1", "nope", models.SessionEventReset)
		assert.Equal(t, errors.ErrCodeNotFound, errors.GetCode(err))
	})

	t.Run("archived session", func(t *testing.T) {
		seedSession(t, env.db, "org-1", "sess-old")
		require.NoError(t, env.db.ArchiveSession(ctx, "org-1", "sess-old"))

		_, err := env.tracker.Apply(ctx, "org-1", "sess-old", models.SessionEventReconnect)
		assert.Equal(t, errors.ErrCodeConflict, errors.GetCode(err))
	})

	t.Run("unknown event", func(t *testing.T) {
		_, err := env.tracker.Apply(ctx, "org-1", "sess-A", "explode")
		assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
	})
}

// contendedStore loses the compare-and-swap a fixed number of times
type contendedStore struct {
	*database.Database
	losses int
}

func (c *contendedStore) CompareAndSwapSession(ctx context.Context, q database.Querier, s *models.Session, expectedVersion int64) (bool, error) {
	if c.losses > 0 {
		c.losses--
		return false, nil
	}
	return c.Database.CompareAndSwapSession(ctx, q, s, expectedVersion)
}

func TestSessionStateTrackerCASRetries(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedSession(t, db, "org-1", "sess-A")

	t.Run("recovers after lost writes", func(t *testing.T) {
		store := &contendedStore{Database: db, losses: 2}
		tracker := NewSessionStateTracker(store, nil, models.SessionConfig{}, testLogger())

		s, err := tracker.Apply(ctx, "org-1", "sess-A", models.SessionEventReconnect)
		require.NoError(t, err)
		assert.Equal(t, models.SessionConnecting, s.Status)
		assert.Equal(t, 0, store.losses)
	})

	t.Run("gives up with a retryable conflict", func(t *testing.T) {
		store := &contendedStore{Database: db, losses: 100}
		tracker := NewSessionStateTracker(store, nil, models.SessionConfig{}, testLogger())

		_, err := tracker.Apply(ctx, "org-1", "sess-A", models.SessionEventAuthSuccess)
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeConflict, errors.GetCode(err))
		assert.True(t, errors.IsRetryable(err))
		assert.Equal(t, 100-tracker.maxAttempts, store.losses)
	})
}

func TestHandleLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedSession(t, env.db, "org-1", "sess-A")

	evt := &models.InboundEvent{OrgID: "org-1", SessionID: "sess-A"}
	body := []byte(`{"event":"session.status","session":"sess-A","payload":{"status":"WORKING"}}`)

	require.NoError(t, env.tracker.HandleLifecycle(withInboundEvent(ctx, evt), body))
	s, err := env.db.GetSession(ctx, nil, "org-1", "sess-A")
	require.NoError(t, err)
	assert.Equal(t, models.SessionWorking, s.Status)

	t.Run("ignored status leaves the session alone", func(t *testing.T) {
		body := []byte(`{"event":"session.status","session":"sess-A","payload":{"status":"OPENING"}}`)
		require.NoError(t, env.tracker.HandleLifecycle(withInboundEvent(ctx, evt), body))

		after, err := env.db.GetSession(ctx, nil, "org-1", "sess-A")
		require.NoError(t, err)
		assert.Equal(t, s.Version, after.Version)
	})

	t.Run("working session reporting STARTING disconnects then reconnects", func(t *testing.T) {
		before := len(env.publisher.Changes())
		body := []byte(`{"event":"session.status","session":"sess-A","payload":{"status":"STARTING"}}`)
		require.NoError(t, env.tracker.HandleLifecycle(withInboundEvent(ctx, evt), body))

		after, err := env.db.GetSession(ctx, nil, "org-1", "sess-A")
		require.NoError(t, err)
		assert.Equal(t, models.SessionConnecting, after.Status)

		changes := env.publisher.Changes()[before:]
		require.Len(t, changes, 2)
		assert.Equal(t, models.SessionEventDisconnect, changes[0].Event)
		assert.Equal(t, models.SessionWorking, changes[0].From)
		assert.Equal(t, models.SessionNotWorking, changes[0].To)
		assert.False(t, changes[0].Unexpected)
		assert.Equal(t, models.SessionEventReconnect, changes[1].Event)
		assert.False(t, changes[1].Unexpected)
	})

	t.Run("missing status fails", func(t *testing.T) {
		body := []byte(`{"event":"session.status","session":"sess-A","payload":{}}`)
		assert.Error(t, env.tracker.HandleLifecycle(withInboundEvent(ctx, evt), body))
	})

	t.Run("no event in context", func(t *testing.T) {
		assert.Error(t, env.tracker.HandleLifecycle(ctx, body))
	})
}
