package integration_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wahagate/internal/database"
	"wahagate/internal/models"
	"wahagate/internal/service"
	"wahagate/internal/stream"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// TestEnvironment wires the full ingestion stack over a temp database:
// ingestor, retry worker, subscriber dispatcher and session stream hub
type TestEnvironment struct {
	t      *testing.T
	name   string
	config *models.Config
	db     *database.Database
	logger *logrus.Logger

	pipeline *recordingPipeline
	alerts   *recordingAlerts
	hub      *stream.Hub

	limiter    *service.RateLimiter
	scheduler  *service.RetryScheduler
	tracker    *service.SessionStateTracker
	dispatcher *service.Dispatcher
	ingestor   *service.WebhookIngestor
	admin      *service.AdminService
	worker     *service.RetryWorker

	streamServer *httptest.Server
}

// NewTestEnvironment builds an environment from the named fixture configuration
func NewTestEnvironment(t *testing.T, name string, configure ...func(*models.Config)) *TestEnvironment {
	t.Helper()

	cfg := NewTestFixtures().Configurations()["default"]
	for _, fn := range configure {
		fn(cfg)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	env := &TestEnvironment{
		t:        t,
		name:     name,
		config:   cfg,
		db:       NewTestDatabase(t, nil),
		logger:   logger,
		pipeline: &recordingPipeline{},
		alerts:   &recordingAlerts{},
		hub:      stream.NewHub(logger),
	}
	env.wire()
	return env
}

func (env *TestEnvironment) wire() {
	cfg, db, logger := env.config, env.db, env.logger

	env.limiter = service.NewRateLimiter(db, cfg.RateLimits, logger)
	env.scheduler = service.NewRetryScheduler(cfg.Retry, db, env.alerts, logger)
	env.tracker = service.NewSessionStateTracker(db, env.hub, cfg.Sessions, logger)
	env.dispatcher = service.NewDispatcher(db, env.scheduler, cfg.Dispatch, logger)

	env.ingestor = service.NewWebhookIngestor(service.IngestorDeps{
		Tx:          db,
		Events:      db,
		Existence:   db,
		Idempotency: service.NewIdempotencyStore(db),
		Limiter:     env.limiter,
		Scheduler:   env.scheduler,
		Router:      service.NewEventRouter(env.tracker, env.pipeline),
		Notifier:    env.dispatcher,
	}, cfg.Webhook, logger)

	env.admin = service.NewAdminService(db, env.tracker, env.ingestor, logger)
	env.worker = service.NewRetryWorker(env.ingestor, db, env.dispatcher, cfg.Retry, logger)
}

// Seed creates every fixture organization with its sessions
func (env *TestEnvironment) Seed() {
	env.t.Helper()
	for _, org := range NewTestFixtures().Organizations() {
		SeedOrganization(env.t, env.db, org.Organization, org.Sessions...)
	}
}

// Accept posts body as if it arrived on the organization's webhook URL
func (env *TestEnvironment) Accept(orgID string, body []byte) models.IngestResult {
	return env.ingestor.Accept(context.Background(), orgID, "", body)
}

// RunWorker runs retry worker passes until one does no work or rounds run out
func (env *TestEnvironment) RunWorker(rounds int) service.RunStats {
	var total service.RunStats
	for i := 0; i < rounds; i++ {
		stats := env.worker.RunOnce(context.Background())
		total.Recovered += stats.Recovered
		total.Reprocessed += stats.Reprocessed
		total.Delivered += stats.Delivered
		if stats.Reprocessed == 0 && stats.Delivered == 0 {
			break
		}
	}
	return total
}

// Event loads a stored event by its provider id
func (env *TestEnvironment) Event(orgID, eventID string) *models.InboundEvent {
	env.t.Helper()
	evt, err := env.db.GetEventByEventID(context.Background(), orgID, eventID)
	require.NoError(env.t, err)
	return evt
}

// Session loads a session row
func (env *TestEnvironment) Session(orgID, sessionID string) *models.Session {
	env.t.Helper()
	s, err := env.db.GetSession(context.Background(), nil, orgID, sessionID)
	require.NoError(env.t, err)
	return s
}

// DialStream opens a session change stream for orgID
func (env *TestEnvironment) DialStream(orgID string) *websocket.Conn {
	env.t.Helper()

	if env.streamServer == nil {
		env.streamServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = env.hub.Serve(w, r, r.URL.Query().Get("org"))
		}))
		env.t.Cleanup(env.streamServer.Close)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(env.streamServer.URL, "http") + "?org=" + orgID
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(env.t, err)
	env.t.Cleanup(func() { conn.CloseNow() })
	return conn
}

// WaitForCondition polls condition until it holds or timeout passes
func (env *TestEnvironment) WaitForCondition(condition func() bool, timeout, checkInterval time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(checkInterval)
	}
	return condition()
}
