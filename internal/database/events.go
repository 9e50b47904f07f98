package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wahagate/internal/models"

	"github.com/google/uuid"
)

func scanEvent(row rowScanner) (*models.InboundEvent, error) {
	var e models.InboundEvent
	var class, status, payload string
	var received, updated int64
	var nextRetry, completed sql.NullInt64

	if err := row.Scan(
		&e.ID, &e.OrgID, &e.SessionID, &e.EventID, &e.EventType, &class, &e.HasMedia, &received, &payload,
		&status, &e.RetryCount, &e.ProcessingError, &nextRetry, &e.RateLimited, &completed, &updated,
	); err != nil {
		return nil, err
	}

	e.EventClass = models.EventClass(class)
	e.ProcessingStatus = models.ProcessingStatus(status)
	e.Payload = []byte(payload)
	e.ReceivedAt = fromMillis(received)
	e.UpdatedAt = fromMillis(updated)
	e.NextRetryAt = timePtr(nextRetry)
	e.CompletedAt = timePtr(completed)
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]*models.InboundEvent, error) {
	defer rows.Close()

	var out []*models.InboundEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inbound event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// InsertEvent persists a new inbound event, assigning an ID when missing. It
// reports false when (org_id, event_id) is already stored, which happens when
// a provider redelivers after the idempotency marker was pruned.
func (d *Database) InsertEvent(ctx context.Context, q Querier, e *models.InboundEvent) (bool, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.ReceivedAt
	}

	res, err := d.querier(q).ExecContext(ctx, insertEventQuery,
		e.ID, e.OrgID, e.SessionID, e.EventID, e.EventType, string(e.EventClass), e.HasMedia,
		toMillis(e.ReceivedAt), string(e.Payload), string(e.ProcessingStatus), e.RetryCount,
		e.ProcessingError, nullableMillis(e.NextRetryAt), e.RateLimited, nullableMillis(e.CompletedAt),
		toMillis(e.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert inbound event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (d *Database) GetEvent(ctx context.Context, id string) (*models.InboundEvent, error) {
	e, err := scanEvent(d.conn.QueryRowContext(ctx, selectEventByIDQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inbound event: %w", err)
	}
	return e, nil
}

func (d *Database) GetEventByEventID(ctx context.Context, orgID, eventID string) (*models.InboundEvent, error) {
	e, err := scanEvent(d.conn.QueryRowContext(ctx, selectEventByEventIDQuery, orgID, eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inbound event: %w", err)
	}
	return e, nil
}

// CountEvents returns how many rows exist for (orgID, eventID); at most one by construction
func (d *Database) CountEvents(ctx context.Context, orgID, eventID string) (int, error) {
	var n int
	if err := d.conn.QueryRowContext(ctx, countEventsQuery, orgID, eventID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count inbound events: %w", err)
	}
	return n, nil
}

// ListEvents returns recent events of an organization, optionally filtered by status
func (d *Database) ListEvents(ctx context.Context, orgID string, status models.ProcessingStatus, limit int) ([]*models.InboundEvent, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = d.conn.QueryContext(ctx, listEventsQuery, orgID, limit)
	} else {
		rows, err = d.conn.QueryContext(ctx, listEventsByStatusQuery, orgID, string(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list inbound events: %w", err)
	}
	return scanEvents(rows)
}

// DueEvents returns events in retry whose next_retry_at has passed
func (d *Database) DueEvents(ctx context.Context, now time.Time, limit int) ([]*models.InboundEvent, error) {
	rows, err := d.conn.QueryContext(ctx, dueEventsQuery, toMillis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due events: %w", err)
	}
	return scanEvents(rows)
}

// ClaimEvent moves an event from the given status to processing. It returns
// false when another worker, or an out-of-band completion, got there first.
func (d *Database) ClaimEvent(ctx context.Context, id string, from models.ProcessingStatus, now time.Time) (bool, error) {
	res, err := d.conn.ExecContext(ctx, claimEventQuery, toMillis(now), id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to claim inbound event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// CompleteEvent marks a processing event completed
func (d *Database) CompleteEvent(ctx context.Context, id string, now time.Time) error {
	ms := toMillis(now)
	if _, err := d.conn.ExecContext(ctx, completeEventQuery, ms, ms, id); err != nil {
		return fmt.Errorf("failed to complete inbound event: %w", err)
	}
	return nil
}

// RescheduleEvent records a failed processing attempt. nextRetryAt nil with
// status failed is a permanent failure.
func (d *Database) RescheduleEvent(ctx context.Context, id string, status models.ProcessingStatus, retryCount int, lastErr string, nextRetryAt *time.Time, now time.Time) error {
	if _, err := d.conn.ExecContext(ctx, rescheduleEventQuery,
		string(status), retryCount, lastErr, nullableMillis(nextRetryAt), toMillis(now), id,
	); err != nil {
		return fmt.Errorf("failed to reschedule inbound event: %w", err)
	}
	return nil
}

// DropEvent fails a claimed event without consuming a retry
func (d *Database) DropEvent(ctx context.Context, id, reason string, now time.Time) error {
	if _, err := d.conn.ExecContext(ctx, dropEventQuery, reason, toMillis(now), id); err != nil {
		return fmt.Errorf("failed to drop inbound event: %w", err)
	}
	return nil
}

// ReplayEvent re-queues a permanently failed event with a fresh retry budget
func (d *Database) ReplayEvent(ctx context.Context, orgID, id string, now time.Time) (bool, error) {
	ms := toMillis(now)
	res, err := d.conn.ExecContext(ctx, replayEventQuery, ms, false, ms, orgID, id)
	if err != nil {
		return false, fmt.Errorf("failed to replay inbound event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// RecoverStaleEvents returns events left in processing or pending since before
// staleBefore to the retry queue. A pending row that old was committed but
// never claimed.
func (d *Database) RecoverStaleEvents(ctx context.Context, staleBefore, now time.Time) (int64, error) {
	ms := toMillis(now)
	res, err := d.conn.ExecContext(ctx, recoverStaleEventsQuery, ms, ms, toMillis(staleBefore))
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale events: %w", err)
	}
	return res.RowsAffected()
}
