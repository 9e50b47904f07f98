package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wahagate/internal/models"
)

// ErrNotFound is returned when a looked-up row does not exist
var ErrNotFound = errors.New("not found")

func (d *Database) CreateOrganization(ctx context.Context, org *models.Organization) error {
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	if _, err := d.conn.ExecContext(ctx, insertOrganizationQuery, org.ID, org.Name, toMillis(org.CreatedAt)); err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

func (d *Database) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	var org models.Organization
	var created int64
	err := d.conn.QueryRowContext(ctx, selectOrganizationQuery, id).Scan(&org.ID, &org.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	org.CreatedAt = fromMillis(created)
	return &org, nil
}

// DeleteOrganization removes the tenant; every owned row cascades with it
func (d *Database) DeleteOrganization(ctx context.Context, id string) error {
	res, err := d.conn.ExecContext(ctx, deleteOrganizationQuery, id)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
