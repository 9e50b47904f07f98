package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wahagate/internal/broker"
	"wahagate/internal/config"
	"wahagate/internal/constants"
	"wahagate/internal/database"
	"wahagate/internal/models"
	"wahagate/internal/retry"
	"wahagate/internal/service"
	"wahagate/internal/stream"
	"wahagate/internal/tracing"
	"wahagate/pkg/whatsapp"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes request details)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("wahagate %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting wahagate")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	configureLogLevel(logger, cfg.LogLevel, *verbose)

	tracingManager := tracing.NewTracingManager(tracing.ConfigFromModel(cfg.Tracing, Version), logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	app, err := newApp(cfg, db, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	watcher := config.NewConfigWatcher(*configPath, logger)
	watcher.OnConfigChange(func(newCfg *models.Config) {
		app.limiter.UpdateRules(newCfg.RateLimits)
		app.scheduler.UpdateRetention(newCfg.RetentionDays, newCfg.CleanupIntervalHours)
	})
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.WithError(err).Warn("Configuration watcher stopped")
		}
	}()

	app.Start(ctx)
	defer app.Stop()

	server := NewServer(cfg, logger, app.ingestor, app.admin, app.hub, db)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// configureLogLevel applies the configured level; -verbose forces debug
func configureLogLevel(logger *logrus.Logger, level string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled")
		return
	}
	if level == "" {
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", level)
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	logger.SetLevel(parsed)
}

// openDatabase connects and migrates with exponential backoff
func openDatabase(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (*database.Database, error) {
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(constants.DefaultMaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})

	var db *database.Database
	err := backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(ctx, cfg.Database)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	logger.WithField("driver", db.Driver()).Info("Database ready")
	return db, nil
}

// app owns every long-lived component built from the configuration
type app struct {
	logger      *logrus.Logger
	limiter     *service.RateLimiter
	ingestor    *service.WebhookIngestor
	admin       *service.AdminService
	hub         *stream.Hub
	retryWorker *service.RetryWorker
	scheduler   *service.Scheduler
	monitor     *service.SessionMonitor
	closers     []io.Closer
}

func newApp(cfg *models.Config, db *database.Database, logger *logrus.Logger) (*app, error) {
	a := &app{logger: logger, hub: stream.NewHub(logger)}

	var pipeline service.MessagePipeline = service.NewLogPipeline(logger)
	var alerts service.AlertSink = service.NewLogAlertSink(logger)
	if cfg.Kafka.Enabled() {
		producer, err := broker.NewProducer(cfg.Kafka, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka producer: %w", err)
		}
		pipeline, alerts = producer, producer
		a.closers = append(a.closers, producer)
		logger.WithField("brokers", cfg.Kafka.Brokers).Info("Kafka message pipeline enabled")
	}

	a.limiter = service.NewRateLimiter(db, cfg.RateLimits, logger)
	scheduler := service.NewRetryScheduler(cfg.Retry, db, alerts, logger)
	tracker := service.NewSessionStateTracker(db, a.hub, cfg.Sessions, logger)
	dispatcher := service.NewDispatcher(db, scheduler, cfg.Dispatch, logger)
	idempotency := service.NewIdempotencyStore(db)

	a.ingestor = service.NewWebhookIngestor(service.IngestorDeps{
		Tx:          db,
		Events:      db,
		Existence:   db,
		Idempotency: idempotency,
		Limiter:     a.limiter,
		Scheduler:   scheduler,
		Router:      service.NewEventRouter(tracker, pipeline),
		Notifier:    dispatcher,
	}, cfg.Webhook, logger)

	a.admin = service.NewAdminService(db, tracker, a.ingestor, logger)
	a.retryWorker = service.NewRetryWorker(a.ingestor, db, dispatcher, cfg.Retry, logger)
	a.scheduler = service.NewScheduler(idempotency, cfg.RetentionDays, cfg.CleanupIntervalHours, logger)

	if cfg.WAHA.BaseURL != "" {
		prober := whatsapp.NewSessionProber(cfg.WAHA.BaseURL, cfg.WAHA.APIKey, time.Duration(cfg.WAHA.TimeoutSec)*time.Second)
		a.monitor = service.NewSessionMonitor(prober, db, tracker, cfg.WAHA, logger)
	}
	return a, nil
}

// Start launches the background workers
func (a *app) Start(ctx context.Context) {
	go a.retryWorker.Start(ctx)
	go a.scheduler.Start(ctx)
	if a.monitor != nil {
		a.monitor.Start(ctx)
	} else {
		a.logger.Info("WAHA base URL not configured, session health monitor disabled")
	}
}

func (a *app) Stop() {
	a.retryWorker.Stop()
	a.scheduler.Stop()
	if a.monitor != nil {
		a.monitor.Stop()
	}
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close component")
		}
	}
}
