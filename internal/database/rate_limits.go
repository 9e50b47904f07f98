package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wahagate/internal/models"
)

func scanWindow(row rowScanner) (*models.RateLimitWindow, error) {
	var w models.RateLimitWindow
	var start int64
	if err := row.Scan(
		&w.OrgID, &w.SessionID, &w.LimitType, &start, &w.WindowDurationSeconds, &w.CurrentCount,
		&w.ThresholdCount, &w.IsExceeded,
	); err != nil {
		return nil, err
	}
	w.WindowStart = fromMillis(start)
	return &w, nil
}

// EnsureWindow lazily creates the window row for a key
func (d *Database) EnsureWindow(ctx context.Context, q Querier, orgID, sessionID string, rule models.RateLimitRule, now time.Time) error {
	_, err := d.querier(q).ExecContext(ctx, ensureWindowQuery,
		orgID, sessionID, rule.LimitType, toMillis(now), rule.WindowSeconds, rule.Threshold, false,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure rate limit window: %w", err)
	}
	return nil
}

// RollWindow starts a new window if the current one has elapsed, taking threshold and duration from rule
func (d *Database) RollWindow(ctx context.Context, q Querier, orgID, sessionID string, rule models.RateLimitRule, now time.Time) (bool, error) {
	ms := toMillis(now)
	res, err := d.querier(q).ExecContext(ctx, rollWindowQuery,
		ms, rule.WindowSeconds, rule.Threshold, false, orgID, sessionID, rule.LimitType, ms,
	)
	if err != nil {
		return false, fmt.Errorf("failed to roll rate limit window: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// IncrementWindow atomically takes one unit from the window. ok is false when
// the window is already at its threshold, in which case nothing changes.
func (d *Database) IncrementWindow(ctx context.Context, q Querier, orgID, sessionID, limitType string) (*models.RateLimitWindow, bool, error) {
	w, err := scanWindow(d.querier(q).QueryRowContext(ctx, incrementWindowQuery, orgID, sessionID, limitType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to increment rate limit window: %w", err)
	}
	return w, true, nil
}

// MarkWindowExceeded flags the window and returns its current state
func (d *Database) MarkWindowExceeded(ctx context.Context, q Querier, orgID, sessionID, limitType string) (*models.RateLimitWindow, error) {
	w, err := scanWindow(d.querier(q).QueryRowContext(ctx, markWindowExceededQuery, true, orgID, sessionID, limitType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark rate limit window exceeded: %w", err)
	}
	return w, nil
}

// DecrementWindow gives back one unit taken in the window that started at windowStart
func (d *Database) DecrementWindow(ctx context.Context, q Querier, orgID, sessionID, limitType string, windowStart time.Time) error {
	if _, err := d.querier(q).ExecContext(ctx, decrementWindowQuery,
		orgID, sessionID, limitType, toMillis(windowStart),
	); err != nil {
		return fmt.Errorf("failed to decrement rate limit window: %w", err)
	}
	return nil
}

func (d *Database) GetWindow(ctx context.Context, q Querier, orgID, sessionID, limitType string) (*models.RateLimitWindow, error) {
	w, err := scanWindow(d.querier(q).QueryRowContext(ctx, selectWindowQuery, orgID, sessionID, limitType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rate limit window: %w", err)
	}
	return w, nil
}
