package service

import (
	"context"
	"sync"
	"time"

	"wahagate/internal/constants"
	"wahagate/internal/models"
	"wahagate/pkg/whatsapp"
	"wahagate/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// SessionMonitor polls the WAHA sessions API and feeds what it sees into the
// session state machine: status changes become lifecycle events, a healthy
// probe of a working session is health_ok, a failed probe is error.
type SessionMonitor struct {
	prober        whatsapp.SessionProber
	sessions      SessionStore
	tracker       *SessionStateTracker
	logger        *logrus.Logger
	checkInterval time.Duration
	probeTimeout  time.Duration

	mu              sync.Mutex
	running         bool
	stopCh          chan struct{}
	lastKnownStatus map[string]string // keyed by org/session
}

func NewSessionMonitor(prober whatsapp.SessionProber, sessions SessionStore, tracker *SessionStateTracker, cfg models.WAHAConfig, logger *logrus.Logger) *SessionMonitor {
	checkInterval := time.Duration(cfg.HealthCheckIntervalSec) * time.Second
	if checkInterval <= 0 {
		checkInterval = time.Duration(constants.DefaultSessionHealthCheckSec) * time.Second
	}
	probeTimeout := time.Duration(cfg.TimeoutSec) * time.Second
	if probeTimeout <= 0 {
		probeTimeout = time.Duration(constants.DefaultWAHATimeoutSec) * time.Second
	}
	return &SessionMonitor{
		prober:          prober,
		sessions:        sessions,
		tracker:         tracker,
		logger:          logger,
		checkInterval:   checkInterval,
		probeTimeout:    probeTimeout,
		stopCh:          make(chan struct{}),
		lastKnownStatus: make(map[string]string),
	}
}

// Start begins monitoring in the background
func (sm *SessionMonitor) Start(ctx context.Context) {
	sm.mu.Lock()
	if sm.running {
		sm.mu.Unlock()
		sm.logger.Warn("Session monitor is already running")
		return
	}

	// Reinitialize stopCh if it was closed
	if sm.stopCh == nil {
		sm.stopCh = make(chan struct{})
	}

	sm.running = true
	sm.mu.Unlock()

	go sm.monitorLoop(ctx)
	sm.logger.WithField("interval", sm.checkInterval.String()).Info("Session monitor started")
}

// Stop stops monitoring
func (sm *SessionMonitor) Stop() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.running {
		return
	}

	if sm.stopCh != nil {
		close(sm.stopCh)
		sm.stopCh = nil
	}
	sm.running = false
	sm.logger.Info("Session monitor stopped")
}

func (sm *SessionMonitor) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(sm.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sm.getStopCh():
			return
		case <-ticker.C:
			sm.CheckSessions(ctx)
		}
	}
}

// getStopCh safely retrieves the stop channel
func (sm *SessionMonitor) getStopCh() <-chan struct{} {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.stopCh == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return sm.stopCh
}

// CheckSessions probes every active session once
func (sm *SessionMonitor) CheckSessions(ctx context.Context) {
	sessions, err := sm.sessions.ListActiveSessions(ctx)
	if err != nil {
		sm.logger.WithError(err).Error("Failed to list sessions for health check")
		return
	}
	for _, s := range sessions {
		if ctx.Err() != nil {
			return
		}
		sm.checkSession(ctx, s)
	}
}

func (sm *SessionMonitor) checkSession(ctx context.Context, s *models.Session) {
	fields := logrus.Fields{LogFieldOrgID: s.OrgID, LogFieldSession: s.SessionID}

	probeCtx, cancel := context.WithTimeout(ctx, sm.probeTimeout)
	info, err := sm.prober.Status(probeCtx, s.SessionID)
	cancel()

	if err != nil {
		sm.logger.WithError(err).WithFields(fields).Warn("Session health probe failed")
		sm.apply(ctx, s, models.SessionEventError, err.Error(), fields)
		return
	}

	status := info.Status
	sm.logger.WithFields(fields).WithField("waha_status", status).Debug("Session status check")

	if sm.statusChanged(s.OrgID+"/"+s.SessionID, status) {
		for _, event := range LifecycleEvents(s.Status, status) {
			sm.apply(ctx, s, event, "", fields)
		}
	}
	if status == types.StatusWorking {
		sm.apply(ctx, s, models.SessionEventHealthOK, "", fields)
	}
}

// statusChanged records status and reports whether it differs from the last probe
func (sm *SessionMonitor) statusChanged(key, status string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	last, exists := sm.lastKnownStatus[key]
	sm.lastKnownStatus[key] = status
	return !exists || last != status
}

func (sm *SessionMonitor) apply(ctx context.Context, s *models.Session, event models.SessionEvent, detail string, fields logrus.Fields) {
	if _, err := sm.tracker.ApplyWithDetail(ctx, s.OrgID, s.SessionID, event, detail); err != nil {
		sm.logger.WithError(err).WithFields(fields).WithField(LogFieldTransition, event).
			Error("Failed to apply session event")
	}
}
