package database

import (
	"context"
	"testing"
	"time"

	"wahagate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSubscription(t *testing.T, db *Database, orgID string) *models.WebhookSubscription {
	t.Helper()
	sub := &models.WebhookSubscription{
		OrgID:      orgID,
		URL:        "https://hooks.example.com/waha",
		Secret:     "subscriber-secret",
		EventTypes: []string{"message", "session.status"},
		MaxRetries: 3,
		IsActive:   true,
	}
	require.NoError(t, db.CreateSubscription(context.Background(), sub))
	return sub
}

func TestSubscriptions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedSession(t, db, "org-1", "sess-A")

	sub := seedSubscription(t, db, "org-1")
	require.NotEmpty(t, sub.ID)

	inactive := &models.WebhookSubscription{OrgID: "org-1", URL: "https://off.example.com", Secret: "s", MaxRetries: 1}
	require.NoError(t, db.CreateSubscription(ctx, inactive))

	got, err := db.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "subscriber-secret", got.Secret)
	assert.Equal(t, []string{"message", "session.status"}, got.EventTypes)

	active, err := db.ListActiveSubscriptions(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, sub.ID, active[0].ID)

	_, err = db.GetSubscription(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeliveryChain(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedSession(t, db, "org-1", "sess-A")
	sub := seedSubscription(t, db, "org-1")
	now := time.Now().UTC().Truncate(time.Millisecond)

	first := &models.DeliveryAttempt{
		OrgID: "org-1", WebhookID: sub.ID, CorrelationID: "corr-1", EventType: "message",
		Payload: []byte(`{"event_type":"message"}`), AttemptNumber: 1, NextRetryAt: &now,
	}
	require.NoError(t, db.InsertDelivery(ctx, nil, first))
	require.NotZero(t, first.ID)

	due, err := db.DueDeliveries(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	lease := now.Add(30 * time.Second)
	claimed, err := db.ClaimDelivery(ctx, first.ID, now, lease)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = db.ClaimDelivery(ctx, first.ID, now, lease)
	require.NoError(t, err)
	assert.False(t, claimed)

	due, err = db.DueDeliveries(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due, "a leased row is not due")

	retryAt := now.Add(time.Second)
	first.AttemptedAt = &now
	first.HTTPStatus = 503
	first.ErrorMessage = "service unavailable"
	first.NextRetryAt = &retryAt
	require.NoError(t, db.RecordDelivery(ctx, first))

	second := &models.DeliveryAttempt{
		OrgID: "org-1", WebhookID: sub.ID, CorrelationID: "corr-1", EventType: "message",
		Payload: first.Payload, AttemptNumber: 2, HTTPStatus: 200, IsSuccess: true, AttemptedAt: &retryAt,
	}
	require.NoError(t, db.InsertDelivery(ctx, nil, second))

	duplicate := *second
	duplicate.ID = 0
	assert.Error(t, db.InsertDelivery(ctx, nil, &duplicate), "attempt numbers are unique per chain")

	chain, err := db.DeliveryChain(ctx, "corr-1")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, 1, chain[0].AttemptNumber)
	assert.Equal(t, 503, chain[0].HTTPStatus)
	assert.Equal(t, 2, chain[1].AttemptNumber)
	assert.True(t, chain[1].IsSuccess)

	all, err := db.ListDeliveries(ctx, "org-1", false, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	failed, err := db.ListDeliveries(ctx, "org-1", true, 10)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestListFailedDeliveries(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedSession(t, db, "org-1", "sess-A")
	sub := seedSubscription(t, db, "org-1")
	now := time.Now().UTC()

	for i := 1; i <= 3; i++ {
		require.NoError(t, db.InsertDelivery(ctx, nil, &models.DeliveryAttempt{
			OrgID: "org-1", WebhookID: sub.ID, CorrelationID: "corr-fail", EventType: "message",
			Payload: []byte(`{}`), AttemptNumber: i, HTTPStatus: 500, AttemptedAt: &now,
			ErrorMessage: "boom",
		}))
	}

	failed, err := db.ListDeliveries(ctx, "org-1", true, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].AttemptNumber)
}

func TestDeliveryLease(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedSession(t, db, "org-1", "sess-A")
	sub := seedSubscription(t, db, "org-1")
	now := time.Now().UTC().Truncate(time.Millisecond)

	row := &models.DeliveryAttempt{
		OrgID: "org-1", WebhookID: sub.ID, CorrelationID: "corr-lease", EventType: "message",
		Payload: []byte(`{}`), AttemptNumber: 1, NextRetryAt: &now,
	}
	require.NoError(t, db.InsertDelivery(ctx, nil, row))

	lease := now.Add(30 * time.Second)
	claimed, err := db.ClaimDelivery(ctx, row.ID, now, lease)
	require.NoError(t, err)
	require.True(t, claimed)

	// the outcome was never recorded
	due, err := db.DueDeliveries(ctx, lease, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.True(t, lease.Equal(*due[0].NextRetryAt))
	assert.Nil(t, due[0].AttemptedAt)

	next := lease.Add(30 * time.Second)
	claimed, err = db.ClaimDelivery(ctx, row.ID, lease, next)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, db.ReleaseDelivery(ctx, nil, row.ID, lease), "a stale lease does not release")
	due, err = db.DueDeliveries(ctx, next, 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	require.NoError(t, db.ReleaseDelivery(ctx, nil, row.ID, next))
	due, err = db.DueDeliveries(ctx, next, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}
