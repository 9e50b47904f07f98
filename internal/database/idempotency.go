package database

import (
	"context"
	"fmt"
	"time"
)

// InsertMarker records (orgID, eventID) if absent and reports whether this call created it
func (d *Database) InsertMarker(ctx context.Context, q Querier, orgID, eventID string, now time.Time) (bool, error) {
	res, err := d.querier(q).ExecContext(ctx, insertMarkerQuery, orgID, eventID, toMillis(now))
	if err != nil {
		return false, fmt.Errorf("failed to insert idempotency marker: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// DeleteMarkersBefore prunes markers older than cutoff
func (d *Database) DeleteMarkersBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.conn.ExecContext(ctx, deleteMarkersBeforeQuery, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete idempotency markers: %w", err)
	}
	return res.RowsAffected()
}
