package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"wahagate/internal/constants"
	"wahagate/internal/middleware"
	"wahagate/internal/models"
	"wahagate/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type webhookAcceptor interface {
	Accept(ctx context.Context, orgID, sessionID string, body []byte) models.IngestResult
}

type sessionStreamer interface {
	Serve(w http.ResponseWriter, r *http.Request, orgID string) error
}

type healthChecker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	cfg      *models.Config
	router   *mux.Router
	logger   *logrus.Logger
	ingestor webhookAcceptor
	admin    *service.AdminService
	stream   sessionStreamer
	health   healthChecker
	verifier *webhookVerifier
	limiter  *RateLimiter
	server   *http.Server
}

func NewServer(cfg *models.Config, logger *logrus.Logger, ingestor webhookAcceptor, admin *service.AdminService, stream sessionStreamer, health healthChecker) *Server {
	s := &Server{
		cfg:      cfg,
		router:   mux.NewRouter(),
		logger:   logger,
		ingestor: ingestor,
		admin:    admin,
		stream:   stream,
		health:   health,
		verifier: newWebhookVerifier(cfg.Webhook),
		limiter: NewRateLimiter(cfg.Server.AdminRatePerSec, cfg.Server.AdminBurst,
			time.Duration(constants.AdminLimiterIdleMinutes)*time.Minute),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))
	s.router.Use(middleware.DetailedLoggingMiddleware(s.logger, middleware.DefaultDetailedLoggingConfig()))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	// Provider webhooks
	waha := s.router.PathPrefix("/webhook/waha").Subrouter()
	waha.Use(middleware.WebhookObservabilityMiddleware(s.logger, "waha"))
	waha.HandleFunc("/{org}", s.handleWAHAWebhook()).Methods(http.MethodPost)

	// Admin API
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.limiter.Middleware(s.logger))
	api.HandleFunc("/orgs", s.handleCreateOrganization()).Methods(http.MethodPost)
	api.HandleFunc("/orgs/{org}/sessions", s.handleListSessions()).Methods(http.MethodGet)
	api.HandleFunc("/orgs/{org}/sessions", s.handleCreateSession()).Methods(http.MethodPost)
	api.HandleFunc("/orgs/{org}/sessions/stream", s.handleSessionStream()).Methods(http.MethodGet)
	api.HandleFunc("/orgs/{org}/sessions/{session}", s.handleGetSession()).Methods(http.MethodGet)
	api.HandleFunc("/orgs/{org}/sessions/{session}", s.handleArchiveSession()).Methods(http.MethodDelete)
	api.HandleFunc("/orgs/{org}/sessions/{session}/reset", s.handleResetSession()).Methods(http.MethodPost)
	api.HandleFunc("/orgs/{org}/events", s.handleListEvents()).Methods(http.MethodGet)
	api.HandleFunc("/orgs/{org}/events/{id}/replay", s.handleReplayEvent()).Methods(http.MethodPost)
	api.HandleFunc("/orgs/{org}/webhooks", s.handleRegisterWebhook()).Methods(http.MethodPost)
	api.HandleFunc("/orgs/{org}/deliveries", s.handleListDeliveries()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
