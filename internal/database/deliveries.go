package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wahagate/internal/models"
)

func scanDelivery(row rowScanner) (*models.DeliveryAttempt, error) {
	var a models.DeliveryAttempt
	var payload string
	var nextRetry, attempted sql.NullInt64
	var created int64
	if err := row.Scan(
		&a.ID, &a.OrgID, &a.WebhookID, &a.CorrelationID, &a.EventType, &payload, &a.AttemptNumber,
		&a.HTTPStatus, &a.IsSuccess, &nextRetry, &attempted, &a.ErrorMessage, &created,
	); err != nil {
		return nil, err
	}
	a.Payload = []byte(payload)
	a.NextRetryAt = timePtr(nextRetry)
	a.AttemptedAt = timePtr(attempted)
	a.CreatedAt = fromMillis(created)
	return &a, nil
}

func scanDeliveries(rows *sql.Rows) ([]*models.DeliveryAttempt, error) {
	defer rows.Close()

	var out []*models.DeliveryAttempt
	for rows.Next() {
		a, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// InsertDelivery stores an attempt row and sets its ID
func (d *Database) InsertDelivery(ctx context.Context, q Querier, a *models.DeliveryAttempt) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	err := d.querier(q).QueryRowContext(ctx, insertDeliveryQuery,
		a.OrgID, a.WebhookID, a.CorrelationID, a.EventType, string(a.Payload), a.AttemptNumber, a.HTTPStatus,
		a.IsSuccess, nullableMillis(a.NextRetryAt), nullableMillis(a.AttemptedAt), a.ErrorMessage,
		toMillis(a.CreatedAt),
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to insert delivery attempt: %w", err)
	}
	return nil
}

// DueDeliveries returns attempt rows whose next_retry_at has passed
func (d *Database) DueDeliveries(ctx context.Context, now time.Time, limit int) ([]*models.DeliveryAttempt, error) {
	rows, err := d.conn.QueryContext(ctx, dueDeliveriesQuery, toMillis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due deliveries: %w", err)
	}
	return scanDeliveries(rows)
}

// ClaimDelivery moves next_retry_at from the value the caller read to
// leaseUntil. A claim whose outcome is never recorded becomes due again once
// the lease passes.
func (d *Database) ClaimDelivery(ctx context.Context, id int64, scheduledAt, leaseUntil time.Time) (bool, error) {
	res, err := d.conn.ExecContext(ctx, claimDeliveryQuery, toMillis(leaseUntil), id, toMillis(scheduledAt))
	if err != nil {
		return false, fmt.Errorf("failed to claim delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// ReleaseDelivery clears the lease of an attempt whose retry was stored as a new row
func (d *Database) ReleaseDelivery(ctx context.Context, q Querier, id int64, leaseUntil time.Time) error {
	if _, err := d.querier(q).ExecContext(ctx, releaseDeliveryQuery, id, toMillis(leaseUntil)); err != nil {
		return fmt.Errorf("failed to release delivery: %w", err)
	}
	return nil
}

// RecordDelivery stores the outcome of a queued first attempt
func (d *Database) RecordDelivery(ctx context.Context, a *models.DeliveryAttempt) error {
	_, err := d.conn.ExecContext(ctx, recordDeliveryQuery,
		nullableMillis(a.AttemptedAt), a.HTTPStatus, a.IsSuccess, a.ErrorMessage, nullableMillis(a.NextRetryAt), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to record delivery attempt: %w", err)
	}
	return nil
}

// ListDeliveries returns recent attempts of an organization. failedOnly
// restricts the result to chains whose last attempt failed with no retry left.
func (d *Database) ListDeliveries(ctx context.Context, orgID string, failedOnly bool, limit int) ([]*models.DeliveryAttempt, error) {
	var rows *sql.Rows
	var err error
	if failedOnly {
		rows, err = d.conn.QueryContext(ctx, listFailedDeliveriesQuery, orgID, false, limit)
	} else {
		rows, err = d.conn.QueryContext(ctx, listDeliveriesQuery, orgID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	return scanDeliveries(rows)
}

// DeliveryChain returns every attempt of one logical delivery ordered by attempt number
func (d *Database) DeliveryChain(ctx context.Context, correlationID string) ([]*models.DeliveryAttempt, error) {
	rows, err := d.conn.QueryContext(ctx, deliveryChainQuery, correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery chain: %w", err)
	}
	return scanDeliveries(rows)
}
