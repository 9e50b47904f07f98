package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wahagate/internal/models"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	var status, health string
	var lastHealth, lastEvent, archived sql.NullInt64
	var created, updated int64

	if err := row.Scan(
		&s.OrgID, &s.SessionID, &s.ChannelConfigID, &status, &health, &s.IsAuthenticated,
		&s.IsConnected, &s.ErrorCount, &s.LastError, &lastHealth, &lastEvent, &s.Version, &archived,
		&created, &updated,
	); err != nil {
		return nil, err
	}

	s.Status = models.SessionStatus(status)
	s.HealthStatus = models.HealthStatus(health)
	s.LastHealthCheckAt = timePtr(lastHealth)
	s.LastEventAt = timePtr(lastEvent)
	s.ArchivedAt = timePtr(archived)
	s.CreatedAt = fromMillis(created)
	s.UpdatedAt = fromMillis(updated)
	return &s, nil
}

// CreateSession provisions a channel session in the disconnected state with unknown health
func (d *Database) CreateSession(ctx context.Context, s *models.Session) error {
	now := time.Now().UTC()
	if s.Status == "" {
		s.Status = models.SessionDisconnected
	}
	if s.HealthStatus == "" {
		s.HealthStatus = models.HealthUnknown
	}
	s.CreatedAt, s.UpdatedAt, s.Version = now, now, 0

	_, err := d.conn.ExecContext(ctx, insertSessionQuery,
		s.OrgID, s.SessionID, s.ChannelConfigID, string(s.Status), string(s.HealthStatus),
		toMillis(now), toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession loads a session, archived or not
func (d *Database) GetSession(ctx context.Context, q Querier, orgID, sessionID string) (*models.Session, error) {
	s, err := scanSession(d.querier(q).QueryRowContext(ctx, selectSessionQuery, orgID, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// ListSessions returns the active sessions of an organization
func (d *Database) ListSessions(ctx context.Context, orgID string) ([]*models.Session, error) {
	rows, err := d.conn.QueryContext(ctx, listSessionsQuery, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return scanSessions(rows)
}

// ListActiveSessions returns every non-archived session across organizations
func (d *Database) ListActiveSessions(ctx context.Context) ([]*models.Session, error) {
	rows, err := d.conn.QueryContext(ctx, listAllActiveSessionsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	return scanSessions(rows)
}

func scanSessions(rows *sql.Rows) ([]*models.Session, error) {
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CompareAndSwapSession writes s only if the stored version still equals expectedVersion.
// On success s.Version is advanced.
func (d *Database) CompareAndSwapSession(ctx context.Context, q Querier, s *models.Session, expectedVersion int64) (bool, error) {
	now := time.Now().UTC()
	res, err := d.querier(q).ExecContext(ctx, updateSessionCASQuery,
		string(s.Status), string(s.HealthStatus), s.IsAuthenticated, s.IsConnected, s.ErrorCount,
		s.LastError, nullableMillis(s.LastHealthCheckAt), nullableMillis(s.LastEventAt), toMillis(now),
		s.OrgID, s.SessionID, expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	s.Version = expectedVersion + 1
	s.UpdatedAt = now
	return true, nil
}

// ArchiveSession soft-archives a session
func (d *Database) ArchiveSession(ctx context.Context, orgID, sessionID string) error {
	now := toMillis(time.Now())
	res, err := d.conn.ExecContext(ctx, archiveSessionQuery, now, now, orgID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SessionActive reports whether the organization and the session exist and the session is not archived
func (d *Database) SessionActive(ctx context.Context, orgID, sessionID string) (bool, error) {
	var count int
	if err := d.conn.QueryRowContext(ctx, sessionActiveQuery, orgID, sessionID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return count > 0, nil
}
