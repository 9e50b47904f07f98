package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"wahagate/internal/database"
	"wahagate/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func setupTestDB(t *testing.T) *database.Database {
	t.Helper()

	db, err := database.New(context.Background(), models.DatabaseConfig{
		Driver: "sqlite3",
		Path:   filepath.Join(t.TempDir(), "service.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedSession(t *testing.T, db *database.Database, orgID, sessionID string) {
	t.Helper()
	ctx := context.Background()

	if _, err := db.GetOrganization(ctx, orgID); err == database.ErrNotFound {
		require.NoError(t, db.CreateOrganization(ctx, &models.Organization{ID: orgID, Name: orgID}))
	}
	require.NoError(t, db.CreateSession(ctx, &models.Session{OrgID: orgID, SessionID: sessionID}))
}

// testClock is a settable time source shared by the components under test
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Millisecond)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testEnv wires the ingestion stack over a temp SQLite database
type testEnv struct {
	db         *database.Database
	clock      *testClock
	pipeline   *mockPipeline
	alerts     *mockAlertSink
	publisher  *recordingPublisher
	limiter    *RateLimiter
	scheduler  *RetryScheduler
	tracker    *SessionStateTracker
	dispatcher *Dispatcher
	ingestor   *WebhookIngestor
}

func testConfig() *models.Config {
	return &models.Config{
		Webhook: models.WebhookConfig{ProcessingTimeoutSec: 2, RateLimitPolicy: PolicyReject},
		Retry:   models.RetryConfig{BaseDelayMs: 10, MaxDelayMs: 100, MaxRetries: 3, BatchSize: 50},
		Sessions: models.SessionConfig{
			ConsecutiveErrorLimit: 3,
			CriticalErrorCount:    5,
		},
	}
}

func newTestEnv(t *testing.T, configure ...func(*models.Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	for _, fn := range configure {
		fn(cfg)
	}

	logger := testLogger()
	db := setupTestDB(t)
	clock := newTestClock()

	env := &testEnv{
		db:        db,
		clock:     clock,
		pipeline:  &mockPipeline{},
		alerts:    &mockAlertSink{},
		publisher: &recordingPublisher{},
	}

	env.limiter = NewRateLimiter(db, cfg.RateLimits, logger)
	env.scheduler = NewRetryScheduler(cfg.Retry, db, env.alerts, logger)
	env.tracker = NewSessionStateTracker(db, env.publisher, cfg.Sessions, logger)
	env.tracker.now = clock.Now
	env.dispatcher = NewDispatcher(db, env.scheduler, cfg.Dispatch, logger)

	idem := NewIdempotencyStore(db)
	idem.now = clock.Now

	env.ingestor = NewWebhookIngestor(IngestorDeps{
		Tx:          db,
		Events:      db,
		Existence:   db,
		Idempotency: idem,
		Limiter:     env.limiter,
		Scheduler:   env.scheduler,
		Router:      NewEventRouter(env.tracker, env.pipeline),
		Notifier:    env.dispatcher,
	}, cfg.Webhook, logger)
	env.ingestor.now = clock.Now

	return env
}

func (e *testEnv) pipelineSucceeds() {
	e.pipeline.On("Publish", mock.Anything, mock.Anything).Return(nil)
}

func (e *testEnv) event(t *testing.T, orgID, eventID string) *models.InboundEvent {
	t.Helper()
	evt, err := e.db.GetEventByEventID(context.Background(), orgID, eventID)
	require.NoError(t, err)
	return evt
}
