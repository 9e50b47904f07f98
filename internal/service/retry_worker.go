package service

import (
	"context"
	"sync"
	"time"

	"wahagate/internal/constants"
	"wahagate/internal/errors"
	"wahagate/internal/metrics"
	"wahagate/internal/models"

	"github.com/sirupsen/logrus"
)

// DeliveryProcessor sends outbound deliveries that are due
type DeliveryProcessor interface {
	ProcessDue(ctx context.Context, now time.Time, limit int) (int, error)
}

// RunStats summarizes one retry worker pass
type RunStats struct {
	Recovered   int64
	Reprocessed int
	Delivered   int
}

// RetryWorker polls for due event retries and due subscriber deliveries
type RetryWorker struct {
	ingestor   *WebhookIngestor
	events     EventStore
	deliveries DeliveryProcessor
	interval   time.Duration
	batchSize  int
	logger     *logrus.Logger
	errLogger  *errors.Logger
	stopCh     chan struct{}
	stopOnce   sync.Once
	now        func() time.Time
}

func NewRetryWorker(ingestor *WebhookIngestor, events EventStore, deliveries DeliveryProcessor, cfg models.RetryConfig, logger *logrus.Logger) *RetryWorker {
	interval := time.Duration(cfg.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Duration(constants.DefaultRetryPollIntervalSec) * time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = constants.DefaultRetryBatchSize
	}
	return &RetryWorker{
		ingestor:   ingestor,
		events:     events,
		deliveries: deliveries,
		interval:   interval,
		batchSize:  batch,
		logger:     logger,
		errLogger:  errors.FromLogrus(logger),
		stopCh:     make(chan struct{}),
		now:        time.Now,
	}
}

func (w *RetryWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.WithField("interval", w.interval.String()).Info("Starting retry worker")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Retry worker context cancelled, stopping")
			return
		case <-w.stopCh:
			w.logger.Info("Retry worker stop signal received, stopping")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

func (w *RetryWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// RunOnce performs a single pass: recover events stuck in processing or never
// claimed, rerun due events, then send due deliveries. Errors are logged and the pass moves on.
func (w *RetryWorker) RunOnce(ctx context.Context) RunStats {
	var stats RunStats
	now := w.now()

	// A handler that outlived three processing timeouts is presumed lost with its
	// process. The same cutoff catches committed rows whose claim never happened.
	staleBefore := now.Add(-3 * w.ingestor.ProcessingTimeout())
	recovered, err := w.events.RecoverStaleEvents(ctx, staleBefore, now)
	if err != nil {
		w.errLogger.LogError(errors.NewDatabaseError("recover stale events", err), "Failed to recover stale events")
	} else if recovered > 0 {
		stats.Recovered = recovered
		w.logger.WithField(LogFieldCount, recovered).Warn("Recovered stale or unclaimed events")
	}

	due, err := w.ingestor.Scheduler.Due(ctx, now, w.batchSize)
	if err != nil {
		w.errLogger.LogError(err, "Failed to scan due events")
	}
	for _, evt := range due {
		if ctx.Err() != nil {
			return stats
		}
		status, err := w.ingestor.Reprocess(ctx, evt)
		if err != nil {
			w.errLogger.LogRetryableError(err, "Failed to reprocess event", eventFields(ctx, evt.OrgID, evt.SessionID, evt.EventID))
			continue
		}
		if status != models.StatusProcessing {
			stats.Reprocessed++
		}
	}

	if w.deliveries != nil {
		sent, err := w.deliveries.ProcessDue(ctx, now, w.batchSize)
		if err != nil {
			w.errLogger.LogRetryableError(err, "Failed to process due deliveries")
		}
		stats.Delivered = sent
	}

	metrics.SetGauge("retry_worker_last_batch", float64(len(due)), nil, "Events picked up by the last retry pass")
	if stats.Reprocessed > 0 || stats.Delivered > 0 {
		w.logger.WithFields(logrus.Fields{
			"reprocessed": stats.Reprocessed,
			"delivered":   stats.Delivered,
		}).Debug("Retry pass completed")
	}
	return stats
}
