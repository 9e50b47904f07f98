package service

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"wahagate/internal/constants"
	"wahagate/internal/database"
	"wahagate/internal/errors"
	"wahagate/internal/metrics"
	"wahagate/internal/models"
	"wahagate/internal/privacy"
	"wahagate/internal/security"
	"wahagate/internal/tracing"
	"wahagate/pkg/circuitbreaker"
	"wahagate/pkg/whatsapp"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// Outbound delivery headers
const (
	HeaderSignature = "X-Wahagate-Signature"
	HeaderEvent     = "X-Wahagate-Event"
	HeaderDelivery  = "X-Wahagate-Delivery"
	HeaderAttempt   = "X-Wahagate-Attempt"
)

// Dispatcher queues subscriber notifications and posts them with retries.
// Each subscriber has its own circuit breaker; all posts share one rate limit.
type Dispatcher struct {
	store     DeliveryStore
	scheduler *RetryScheduler
	client    *http.Client
	limiter   *rate.Limiter
	breakers  *circuitbreaker.Set
	lease     time.Duration
	logger    *logrus.Logger
	errLogger *errors.Logger
	now       func() time.Time
}

func NewDispatcher(store DeliveryStore, scheduler *RetryScheduler, cfg models.DispatchConfig, logger *logrus.Logger) *Dispatcher {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(constants.DefaultDispatchTimeoutSec) * time.Second
	}
	ratePerSec := cfg.RatePerSec
	if ratePerSec <= 0 {
		ratePerSec = constants.DefaultDispatchRatePerSec
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = constants.DefaultDispatchBurst
	}
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures <= 0 {
		maxFailures = constants.DefaultBreakerMaxFailures
	}
	resetTimeout := time.Duration(cfg.BreakerResetTimeoutSec) * time.Second
	if resetTimeout <= 0 {
		resetTimeout = time.Duration(constants.DefaultBreakerResetTimeoutSec) * time.Second
	}

	onChange := func(name string, from, to circuitbreaker.State) {
		metrics.IncrementCounter("subscriber_breaker_transitions_total", map[string]string{
			"to": to.String(),
		}, "Subscriber circuit breaker state changes")
	}

	return &Dispatcher{
		store:     store,
		scheduler: scheduler,
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Limit(ratePerSec), burst),
		breakers:  circuitbreaker.NewSet(uint32(maxFailures), resetTimeout, logger, onChange),
		lease:     deliveryLeaseFactor * timeout,
		logger:    logger,
		errLogger: errors.FromLogrus(logger),
		now:       time.Now,
	}
}

// Breakers exposes the per-subscriber breakers for status reporting
func (d *Dispatcher) Breakers() *circuitbreaker.Set {
	return d.breakers
}

// outboundPayload is the provider payload of a stored event, or the raw body if it no longer parses
func outboundPayload(evt *models.InboundEvent) json.RawMessage {
	if env, err := whatsapp.ParseEnvelope(evt.Payload); err == nil {
		return env.Payload
	}
	return evt.Payload
}

// Enqueue creates a first, unattempted delivery row for every active
// subscription of the organization that wants evt's type
func (d *Dispatcher) Enqueue(ctx context.Context, evt *models.InboundEvent) (int, error) {
	subs, err := d.store.ListActiveSubscriptions(ctx, evt.OrgID)
	if err != nil {
		return 0, errors.NewDatabaseError("list subscriptions", err)
	}

	now := d.now().UTC()
	payload := outboundPayload(evt)
	queued := 0
	for _, sub := range subs {
		if !sub.Matches(evt.EventType) {
			continue
		}
		due := now
		a := &models.DeliveryAttempt{
			OrgID:         evt.OrgID,
			WebhookID:     sub.ID,
			CorrelationID: uuid.NewString(),
			EventType:     evt.EventType,
			Payload:       payload,
			AttemptNumber: 1,
			NextRetryAt:   &due,
			CreatedAt:     now,
		}
		if err := d.store.InsertDelivery(ctx, nil, a); err != nil {
			return queued, errors.NewDatabaseError("queue delivery", err)
		}
		queued++
	}

	if queued > 0 {
		metrics.AddToCounter("deliveries_queued_total", float64(queued), nil, "Subscriber deliveries queued")
	}
	return queued, nil
}

// deliveryLeaseFactor is how many request timeouts a claimed delivery may take
// before another pass picks it up again
const deliveryLeaseFactor = 3

// ProcessDue sends every delivery whose next_retry_at has passed. Rows
// another worker claimed first are skipped.
func (d *Dispatcher) ProcessDue(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = constants.DefaultRetryBatchSize
	}
	rows, err := d.store.DueDeliveries(ctx, now, limit)
	if err != nil {
		return 0, errors.NewDatabaseError("scan due deliveries", err)
	}

	sent := 0
	for _, row := range rows {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if row.NextRetryAt == nil {
			continue
		}
		leaseUntil := now.Add(d.lease)
		claimed, err := d.store.ClaimDelivery(ctx, row.ID, *row.NextRetryAt, leaseUntil)
		if err != nil {
			return sent, errors.NewDatabaseError("claim delivery", err)
		}
		if !claimed {
			continue
		}
		if err := d.deliver(ctx, row, leaseUntil); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func (d *Dispatcher) deliver(ctx context.Context, row *models.DeliveryAttempt, leaseUntil time.Time) error {
	attemptNo := row.AttemptNumber
	if row.AttemptedAt != nil {
		attemptNo++
	}

	now := d.now().UTC()
	attempt := &models.DeliveryAttempt{
		OrgID:         row.OrgID,
		WebhookID:     row.WebhookID,
		CorrelationID: row.CorrelationID,
		EventType:     row.EventType,
		Payload:       row.Payload,
		AttemptNumber: attemptNo,
		AttemptedAt:   &now,
		CreatedAt:     now,
	}
	fields := logrus.Fields{
		LogFieldOrgID:         row.OrgID,
		LogFieldWebhookID:     row.WebhookID,
		LogFieldCorrelationID: row.CorrelationID,
		LogFieldAttempt:       attemptNo,
	}

	sub, err := d.store.GetSubscription(ctx, row.WebhookID)
	permanent := false
	switch {
	case err != nil && !stderrors.Is(err, database.ErrNotFound):
		attempt.ErrorMessage = fmt.Sprintf("failed to load subscription: %v", err)
		var next time.Time
		next, permanent = d.scheduler.ScheduleWithLimit(attemptNo, d.scheduler.MaxRetries())
		if !permanent {
			attempt.NextRetryAt = &next
		}
	case err != nil || !sub.IsActive:
		attempt.ErrorMessage = "subscription inactive or deleted"
	default:
		fields[LogFieldURL] = privacy.MaskURL(sub.URL)
		status, sendErr := d.send(ctx, sub, attempt)
		attempt.HTTPStatus = status
		attempt.IsSuccess = sendErr == nil
		if sendErr != nil {
			attempt.ErrorMessage = sendErr.Error()
			var next time.Time
			next, permanent = d.scheduler.ScheduleWithLimit(attemptNo, sub.MaxRetries)
			if !permanent {
				attempt.NextRetryAt = &next
			}
		}
	}

	if row.AttemptedAt == nil {
		attempt.ID = row.ID
		err = d.store.RecordDelivery(ctx, attempt)
	} else {
		err = d.store.WithTx(ctx, func(q database.Querier) error {
			if err := d.store.InsertDelivery(ctx, q, attempt); err != nil {
				return err
			}
			return d.store.ReleaseDelivery(ctx, q, row.ID, leaseUntil)
		})
	}
	if err != nil {
		return errors.NewDatabaseError("record delivery", err)
	}

	result := "success"
	switch {
	case attempt.IsSuccess:
		d.logger.WithFields(fields).Debug("Delivery succeeded")
	case attempt.NextRetryAt != nil:
		result = "retry"
		fields[LogFieldNextRetryAt] = *attempt.NextRetryAt
		d.logger.WithFields(fields).WithField("error", attempt.ErrorMessage).Warn("Scheduling retry for delivery")
	default:
		result = "failed"
		d.logger.WithFields(fields).WithField("error", attempt.ErrorMessage).Error("Delivery failed permanently")
		if permanent {
			d.scheduler.ReportPermanent(ctx, PermanentFailure{
				Kind:      FailureKindDelivery,
				OrgID:     row.OrgID,
				EntityID:  row.CorrelationID,
				EventType: row.EventType,
				Attempts:  attemptNo,
				LastError: attempt.ErrorMessage,
			})
		}
	}
	metrics.IncrementCounter("deliveries_total", map[string]string{"result": result}, "Subscriber delivery attempts by result")
	return nil
}

// send posts one attempt and returns the HTTP status, 0 when no response arrived
func (d *Dispatcher) send(ctx context.Context, sub *models.WebhookSubscription, a *models.DeliveryAttempt) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "dispatch.send",
		attribute.String("webhook_id", sub.ID),
		attribute.Int("attempt", a.AttemptNumber),
	)
	defer span.End()

	body, err := json.Marshal(models.OutboundPayload{EventType: a.EventType, Payload: a.Payload})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal delivery: %w", err)
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("dispatch throttle: %w", err)
	}

	status := 0
	start := d.now()
	err = d.breakers.Get(sub.ID).Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderSignature, security.SignatureHeader(sub.Secret, body))
		req.Header.Set(HeaderEvent, a.EventType)
		req.Header.Set(HeaderDelivery, a.CorrelationID)
		req.Header.Set(HeaderAttempt, strconv.Itoa(a.AttemptNumber))

		resp, err := d.client.Do(req)
		if err != nil {
			return errors.NewAPIError("subscriber", privacy.MaskURL(sub.URL), 0, err)
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		if status >= 200 && status < 300 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, constants.DefaultMaxResponseSnippetBytes))
		return errors.NewAPIError("subscriber", privacy.MaskURL(sub.URL), status,
			fmt.Errorf("unexpected status %d: %s", status, bytes.TrimSpace(snippet)))
	})
	metrics.RecordTimer("delivery_duration", d.now().Sub(start), nil, "Subscriber POST round trip")
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return status, err
}
