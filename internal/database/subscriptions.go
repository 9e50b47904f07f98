package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"wahagate/internal/models"

	"github.com/google/uuid"
)

func (d *Database) scanSubscription(row rowScanner) (*models.WebhookSubscription, error) {
	var s models.WebhookSubscription
	var secret, types string
	var created int64
	if err := row.Scan(&s.ID, &s.OrgID, &s.URL, &secret, &types, &s.MaxRetries, &s.IsActive, &created); err != nil {
		return nil, err
	}

	plain, err := d.encryptor.Decrypt(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt subscriber secret: %w", err)
	}
	s.Secret = plain
	if types != "" {
		s.EventTypes = strings.Split(types, ",")
	}
	s.CreatedAt = fromMillis(created)
	return &s, nil
}

// CreateSubscription registers a subscriber; the secret is encrypted at rest when enabled
func (d *Database) CreateSubscription(ctx context.Context, s *models.WebhookSubscription) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	secret, err := d.encryptor.Encrypt(s.Secret)
	if err != nil {
		return fmt.Errorf("failed to encrypt subscriber secret: %w", err)
	}

	_, err = d.conn.ExecContext(ctx, insertSubscriptionQuery,
		s.ID, s.OrgID, s.URL, secret, strings.Join(s.EventTypes, ","), s.MaxRetries, s.IsActive,
		toMillis(s.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create webhook subscription: %w", err)
	}
	return nil
}

func (d *Database) GetSubscription(ctx context.Context, id string) (*models.WebhookSubscription, error) {
	s, err := d.scanSubscription(d.conn.QueryRowContext(ctx, selectSubscriptionQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook subscription: %w", err)
	}
	return s, nil
}

// ListActiveSubscriptions returns the active subscribers of an organization
func (d *Database) ListActiveSubscriptions(ctx context.Context, orgID string) ([]*models.WebhookSubscription, error) {
	rows, err := d.conn.QueryContext(ctx, listActiveSubscriptionsQuery, orgID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*models.WebhookSubscription
	for rows.Next() {
		s, err := d.scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook subscription: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
