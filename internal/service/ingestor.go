package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"wahagate/internal/constants"
	"wahagate/internal/database"
	"wahagate/internal/errors"
	"wahagate/internal/metrics"
	"wahagate/internal/models"
	"wahagate/internal/tracing"
	"wahagate/internal/validation"
	"wahagate/pkg/whatsapp"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Rate limit policies
const (
	PolicyReject = "reject"
	PolicyQueue  = "queue"
)

// errRateLimited rolls back the ingestion transaction under the reject policy
var errRateLimited = stderrors.New("rate limited")

// errAlreadyStored rolls back when the event row exists without its marker
var errAlreadyStored = stderrors.New("event already stored")

type inboundEventKey struct{}

func withInboundEvent(ctx context.Context, evt *models.InboundEvent) context.Context {
	return context.WithValue(ctx, inboundEventKey{}, evt)
}

func inboundEventFromContext(ctx context.Context) (*models.InboundEvent, bool) {
	evt, ok := ctx.Value(inboundEventKey{}).(*models.InboundEvent)
	return evt, ok && evt != nil
}

// Notifier fans a completed event out to outbound subscribers
type Notifier interface {
	Enqueue(ctx context.Context, evt *models.InboundEvent) (int, error)
}

// NewEventRouter registers the handlers for each event class. Unknown events have no handler.
func NewEventRouter(tracker *SessionStateTracker, pipeline MessagePipeline) whatsapp.WebhookRouter {
	router := whatsapp.NewWebhookRouter()
	router.Register(string(models.EventClassSessionLifecycle), tracker.HandleLifecycle)

	publish := func(ctx context.Context, _ json.RawMessage) error {
		evt, ok := inboundEventFromContext(ctx)
		if !ok {
			return fmt.Errorf("pipeline handler called without an inbound event")
		}
		return pipeline.Publish(ctx, evt)
	}
	router.Register(string(models.EventClassMessage), publish)
	router.Register(string(models.EventClassStatusUpdate), publish)
	router.Register(string(models.EventClassBusinessProfile), publish)
	return router
}

// IngestorDeps are the collaborators of a WebhookIngestor
type IngestorDeps struct {
	Tx          TxRunner
	Events      EventStore
	Existence   ExistenceChecker
	Idempotency *IdempotencyStore
	Limiter     *RateLimiter
	Scheduler   *RetryScheduler
	Router      whatsapp.WebhookRouter
	Notifier    Notifier
}

// WebhookIngestor accepts provider deliveries and drives each event through processing
type WebhookIngestor struct {
	IngestorDeps
	processingTimeout time.Duration
	policy            string
	logger            *logrus.Logger
	errLogger         *errors.Logger
	now               func() time.Time
}

func NewWebhookIngestor(deps IngestorDeps, cfg models.WebhookConfig, logger *logrus.Logger) *WebhookIngestor {
	timeout := time.Duration(cfg.ProcessingTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(constants.DefaultProcessingTimeoutSec) * time.Second
	}
	policy := cfg.RateLimitPolicy
	if policy != PolicyQueue {
		policy = PolicyReject
	}
	return &WebhookIngestor{
		IngestorDeps:      deps,
		processingTimeout: timeout,
		policy:            policy,
		logger:            logger,
		errLogger:         errors.FromLogrus(logger),
		now:               time.Now,
	}
}

// ProcessingTimeout is the bound on a single handler run
func (i *WebhookIngestor) ProcessingTimeout() time.Duration {
	return i.processingTimeout
}

func invalid(reason string, err error) models.IngestResult {
	return models.IngestResult{Outcome: models.OutcomeInvalid, Err: errors.NewInvalidPayloadError(reason, err)}
}

// Accept ingests one raw delivery. sessionID may be empty, in which case the
// envelope's session is used; when given it must match the envelope.
func (i *WebhookIngestor) Accept(ctx context.Context, orgID, sessionID string, body []byte) models.IngestResult {
	start := i.now()
	ctx, span := tracing.StartSpan(ctx, "webhook.accept", tracing.EventAttributes(orgID, sessionID, "")...)
	defer span.End()

	result := i.accept(ctx, orgID, sessionID, body)

	span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
	if result.Err != nil {
		tracing.RecordError(ctx, result.Err)
	}
	metrics.IncrementCounter("webhook_events_total", map[string]string{
		"outcome": string(result.Outcome),
	}, "Inbound webhook deliveries by outcome")
	metrics.RecordTimer("webhook_accept_duration", i.now().Sub(start), nil, "Time to accept an inbound delivery")
	return result
}

func (i *WebhookIngestor) accept(ctx context.Context, orgID, sessionID string, body []byte) models.IngestResult {
	if err := validation.ValidateOrgID(orgID); err != nil {
		return invalid("organization id", err)
	}

	env, err := whatsapp.ParseEnvelope(body)
	if err != nil {
		return invalid(err.Error(), err)
	}
	if sessionID == "" {
		sessionID = env.Session
	} else if sessionID != env.Session {
		return invalid("session mismatch", fmt.Errorf("envelope session %q does not match %q", env.Session, sessionID))
	}
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return invalid("session id", err)
	}
	if err := validation.ValidateEventType(env.Event); err != nil {
		return invalid("event type", err)
	}

	eventID := whatsapp.EventID(env, body)
	if err := validation.ValidateEventID(eventID); err != nil {
		return invalid("event id", err)
	}

	fields := eventFields(ctx, orgID, sessionID, eventID)

	active, err := i.Existence.SessionActive(ctx, orgID, sessionID)
	if err != nil {
		appErr := errors.NewDatabaseError("check session", err)
		i.errLogger.LogError(appErr, "Failed to check session", fields)
		return models.IngestResult{Outcome: models.OutcomeFailed, EventID: eventID, Err: appErr}
	}
	if !active {
		return invalid("unknown or archived session", fmt.Errorf("session %s is not active", sessionID))
	}

	now := i.now().UTC()
	header := whatsapp.Header(env)
	evt := &models.InboundEvent{
		ID:               uuid.NewString(),
		OrgID:            orgID,
		SessionID:        sessionID,
		EventID:          eventID,
		EventType:        env.Event,
		EventClass:       Classify(env.Event),
		HasMedia:         header.HasMedia,
		ReceivedAt:       now,
		Payload:          body,
		ProcessingStatus: models.StatusPending,
		UpdatedAt:        now,
	}

	var result models.IngestResult
	err = i.Tx.WithTx(ctx, func(q database.Querier) error {
		evt.ProcessingStatus = models.StatusPending
		evt.RateLimited = false
		evt.NextRetryAt = nil

		isNew, err := i.Idempotency.CheckAndMark(ctx, q, orgID, eventID)
		if err != nil {
			return err
		}
		if !isNew {
			result = models.IngestResult{Outcome: models.OutcomeDuplicate, EventID: eventID}
			return nil
		}

		decision, err := i.Limiter.AllowAll(ctx, q, orgID, sessionID, header.HasMedia, now)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			result = models.IngestResult{
				Outcome:   models.OutcomeRateLimited,
				EventID:   eventID,
				ResetAt:   decision.ResetAt,
				LimitType: decision.LimitType,
			}
			if i.policy != PolicyQueue {
				return errRateLimited
			}

			resetAt := decision.ResetAt
			evt.ProcessingStatus = models.StatusRetry
			evt.RateLimited = true
			evt.NextRetryAt = &resetAt
			inserted, err := i.Events.InsertEvent(ctx, q, evt)
			if err != nil {
				return errors.NewDatabaseError("queue event", err)
			}
			if !inserted {
				return errAlreadyStored
			}
			result.Queued = true
			result.Status = models.StatusRetry
			return nil
		}

		inserted, err := i.Events.InsertEvent(ctx, q, evt)
		if err != nil {
			return errors.NewDatabaseError("persist event", err)
		}
		if !inserted {
			return errAlreadyStored
		}
		result = models.IngestResult{Outcome: models.OutcomeAccepted, EventID: eventID, Status: models.StatusPending}
		return nil
	})

	switch {
	case stderrors.Is(err, errAlreadyStored):
		// the marker was pruned but the event row outlived it
		i.logger.WithFields(fields).Debug("Event already stored, treating as duplicate")
		return models.IngestResult{Outcome: models.OutcomeDuplicate, EventID: eventID}
	case stderrors.Is(err, errRateLimited):
		result.Err = errors.NewRateLimitError(result.LimitType, 0, result.ResetAt.Sub(now).String())
		return result
	case err != nil:
		if _, ok := errors.As(err); !ok {
			err = errors.NewDatabaseError("ingest event", err)
		}
		i.errLogger.LogError(err, "Failed to ingest event", fields)
		return models.IngestResult{Outcome: models.OutcomeFailed, EventID: eventID, Err: err}
	}

	if result.Outcome != models.OutcomeAccepted {
		i.logger.WithFields(fields).WithField("outcome", result.Outcome).Debug("Event not processed")
		return result
	}

	// The handler runs detached from the request so a client disconnect cannot abort it
	status, err := i.process(context.WithoutCancel(ctx), evt, models.StatusPending)
	if err != nil {
		i.errLogger.LogError(err, "Failed to record processing outcome", fields)
	}
	result.Status = status
	return result
}

// process claims evt out of from and runs it
func (i *WebhookIngestor) process(ctx context.Context, evt *models.InboundEvent, from models.ProcessingStatus) (models.ProcessingStatus, error) {
	claimed, err := i.Events.ClaimEvent(ctx, evt.ID, from, i.now())
	if err != nil {
		return from, errors.NewDatabaseError("claim event", err)
	}
	if !claimed {
		return from, nil
	}
	return i.runClaimed(ctx, evt)
}

func (i *WebhookIngestor) runClaimed(ctx context.Context, evt *models.InboundEvent) (models.ProcessingStatus, error) {
	fields := eventFields(ctx, evt.OrgID, evt.SessionID, evt.EventID)
	start := i.now()

	handlerErr := i.runHandler(ctx, evt)
	metrics.RecordTimer("event_handler_duration", i.now().Sub(start), map[string]string{
		"class": string(evt.EventClass),
	}, "Handler run time per event class")

	if handlerErr == nil {
		if err := i.Events.CompleteEvent(ctx, evt.ID, i.now()); err != nil {
			return models.StatusProcessing, errors.NewDatabaseError("complete event", err)
		}
		if i.Notifier != nil {
			if _, err := i.Notifier.Enqueue(ctx, evt); err != nil {
				i.errLogger.LogWarn(err, "Failed to enqueue subscriber deliveries", fields)
			}
		}
		i.logger.WithFields(fields).WithField(LogFieldClass, evt.EventClass).Info("Event processed")
		return models.StatusCompleted, nil
	}

	attempt := evt.RetryCount + 1
	next, permanent := i.Scheduler.Schedule(attempt, handlerErr)
	fields[LogFieldAttempt] = attempt

	if permanent {
		if err := i.Events.RescheduleEvent(ctx, evt.ID, models.StatusFailed, attempt, handlerErr.Error(), nil, i.now()); err != nil {
			return models.StatusProcessing, errors.NewDatabaseError("fail event", err)
		}
		i.errLogger.LogError(errors.NewPermanentFailureError("inbound event", attempt, handlerErr), "Event failed permanently", fields)
		i.Scheduler.ReportPermanent(ctx, PermanentFailure{
			Kind:      FailureKindEvent,
			OrgID:     evt.OrgID,
			SessionID: evt.SessionID,
			EntityID:  evt.EventID,
			EventType: evt.EventType,
			Attempts:  attempt,
			LastError: handlerErr.Error(),
		})
		return models.StatusFailed, nil
	}

	if err := i.Events.RescheduleEvent(ctx, evt.ID, models.StatusRetry, attempt, handlerErr.Error(), &next, i.now()); err != nil {
		return models.StatusProcessing, errors.NewDatabaseError("reschedule event", err)
	}
	fields[LogFieldNextRetryAt] = next
	i.errLogger.LogWarn(handlerErr, "Scheduling retry for inbound event", fields)
	return models.StatusRetry, nil
}

// runHandler runs the class handler under the processing timeout. A handler
// that overruns is reported as a timeout; its goroutine is left to observe
// the cancelled context.
func (i *WebhookIngestor) runHandler(ctx context.Context, evt *models.InboundEvent) error {
	if evt.EventClass == models.EventClassUnknown || !i.Router.Has(string(evt.EventClass)) {
		return nil
	}

	hctx, cancel := context.WithTimeout(withInboundEvent(ctx, evt), i.processingTimeout)
	defer cancel()

	hctx, span := tracing.StartSpan(hctx, "webhook.handle",
		tracing.EventAttributes(evt.OrgID, evt.SessionID, evt.EventID)...)
	span.SetAttributes(
		attribute.String("event_class", string(evt.EventClass)),
		attribute.String("event_type", evt.EventType),
	)
	defer span.End()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- i.Router.Handle(hctx, string(evt.EventClass), evt.Payload)
	}()

	timedOut := errors.NewTimeoutError("event handler", i.processingTimeout.String())
	var err error
	select {
	case err = <-done:
		if err != nil && stderrors.Is(hctx.Err(), context.DeadlineExceeded) {
			err = timedOut
		}
	case <-hctx.Done():
		err = timedOut
	}
	if err != nil {
		tracing.RecordError(hctx, err)
		if _, ok := errors.As(err); !ok {
			err = errors.NewHandlerError(string(evt.EventClass), err)
		}
	}
	return err
}

// Reprocess runs a due retry. Events of archived sessions or deleted
// organizations are dropped; rate limited events re-check their window first
// and wait for the next reset without spending an attempt.
func (i *WebhookIngestor) Reprocess(ctx context.Context, evt *models.InboundEvent) (models.ProcessingStatus, error) {
	now := i.now()
	claimed, err := i.Events.ClaimEvent(ctx, evt.ID, models.StatusRetry, now)
	if err != nil {
		return evt.ProcessingStatus, errors.NewDatabaseError("claim event", err)
	}
	if !claimed {
		return evt.ProcessingStatus, nil
	}

	fields := eventFields(ctx, evt.OrgID, evt.SessionID, evt.EventID)

	active, err := i.Existence.SessionActive(ctx, evt.OrgID, evt.SessionID)
	if err != nil {
		next := now.Add(i.Scheduler.Delay(evt.RetryCount))
		if rerr := i.Events.RescheduleEvent(ctx, evt.ID, models.StatusRetry, evt.RetryCount, err.Error(), &next, now); rerr != nil {
			return models.StatusProcessing, errors.NewDatabaseError("reschedule event", rerr)
		}
		return models.StatusRetry, errors.NewDatabaseError("check session", err)
	}
	if !active {
		if err := i.Events.DropEvent(ctx, evt.ID, "session archived or organization deleted", now); err != nil {
			return models.StatusProcessing, errors.NewDatabaseError("drop event", err)
		}
		metrics.IncrementCounter("retries_dropped_total", nil, "Retries dropped because the session or organization is gone")
		i.logger.WithFields(fields).Info("Skipping retry: session archived or organization deleted")
		return models.StatusFailed, nil
	}

	if evt.RateLimited {
		var decision models.Decision
		err := i.Tx.WithTx(ctx, func(q database.Querier) error {
			var err error
			decision, err = i.Limiter.AllowAll(ctx, q, evt.OrgID, evt.SessionID, evt.HasMedia, now)
			return err
		})
		if err != nil {
			next := now.Add(i.Scheduler.Delay(evt.RetryCount))
			if rerr := i.Events.RescheduleEvent(ctx, evt.ID, models.StatusRetry, evt.RetryCount, err.Error(), &next, now); rerr != nil {
				return models.StatusProcessing, errors.NewDatabaseError("reschedule event", rerr)
			}
			return models.StatusRetry, err
		}
		if !decision.Allowed {
			resetAt := decision.ResetAt
			if err := i.Events.RescheduleEvent(ctx, evt.ID, models.StatusRetry, evt.RetryCount, "rate limited", &resetAt, now); err != nil {
				return models.StatusProcessing, errors.NewDatabaseError("reschedule event", err)
			}
			fields[LogFieldResetAt] = resetAt
			i.logger.WithFields(fields).Debug("Queued event still rate limited")
			return models.StatusRetry, nil
		}
	}

	return i.runClaimed(ctx, evt)
}

// Replay re-queues a permanently failed event with a fresh retry budget
func (i *WebhookIngestor) Replay(ctx context.Context, orgID, id string) error {
	ok, err := i.Events.ReplayEvent(ctx, orgID, id, i.now())
	if err != nil {
		return errors.NewDatabaseError("replay event", err)
	}
	if !ok {
		existing, err := i.Events.GetEvent(ctx, id)
		if stderrors.Is(err, database.ErrNotFound) || (err == nil && existing.OrgID != orgID) {
			return errors.NewNotFoundError("event", id)
		}
		if err != nil {
			return errors.NewDatabaseError("load event", err)
		}
		return errors.NewConflictError("event", "event has not failed permanently").
			WithContext("status", string(existing.ProcessingStatus))
	}
	i.logger.WithFields(logrus.Fields{LogFieldOrgID: orgID, LogFieldRowID: id}).Info("Event queued for replay")
	return nil
}
