package service

import (
	"context"
	"sync"
	"time"

	"wahagate/internal/constants"

	"github.com/sirupsen/logrus"
)

// Scheduler prunes idempotency markers past the retention period. Events are kept for audit.
type Scheduler struct {
	markers *IdempotencyStore
	logger  *logrus.Logger

	mu            sync.Mutex
	retentionDays int
	intervalHours int

	resetCh  chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewScheduler(markers *IdempotencyStore, retentionDays, intervalHours int, logger *logrus.Logger) *Scheduler {
	s := &Scheduler{
		markers: markers,
		logger:  logger,
		resetCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
	s.retentionDays, s.intervalHours = retentionDefaults(retentionDays, intervalHours)
	return s
}

func retentionDefaults(retentionDays, intervalHours int) (int, int) {
	if retentionDays <= 0 {
		retentionDays = constants.DefaultRetentionDays
	}
	if intervalHours <= 0 {
		intervalHours = constants.DefaultCleanupIntervalHours
	}
	return retentionDays, intervalHours
}

// UpdateRetention applies new retention settings. A changed interval restarts
// the cleanup timer from now.
func (s *Scheduler) UpdateRetention(retentionDays, intervalHours int) {
	retentionDays, intervalHours = retentionDefaults(retentionDays, intervalHours)

	s.mu.Lock()
	intervalChanged := s.intervalHours != intervalHours
	s.retentionDays = retentionDays
	s.intervalHours = intervalHours
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"retentionDays": retentionDays,
		"intervalHours": intervalHours,
	}).Info("Cleanup settings updated")

	if intervalChanged {
		select {
		case s.resetCh <- struct{}{}:
		default:
		}
	}
}

func (s *Scheduler) settings() (retention, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.retentionDays) * 24 * time.Hour, time.Duration(s.intervalHours) * time.Hour
}

func (s *Scheduler) Start(ctx context.Context) {
	_, interval := s.settings()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Starting cleanup scheduler")

	s.runCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-s.resetCh:
			_, interval = s.settings()
			ticker.Reset(interval)
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	retention, _ := s.settings()
	s.logger.WithField("retention", retention.String()).Info("Running scheduled cleanup")

	n, err := s.markers.Prune(ctx, retention)
	if err != nil {
		s.logger.WithError(err).Error("Failed to cleanup old records")
		return
	}
	s.logger.WithField(LogFieldCount, n).Info("Successfully completed cleanup")
}
