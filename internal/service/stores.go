package service

import (
	"context"
	"time"

	"wahagate/internal/database"
	"wahagate/internal/models"
)

// The service layer depends on these narrow views of the datastore.
// *database.Database satisfies all of them.

// TxRunner runs fn inside one transaction
type TxRunner interface {
	WithTx(ctx context.Context, fn func(q database.Querier) error) error
}

type MarkerStore interface {
	InsertMarker(ctx context.Context, q database.Querier, orgID, eventID string, now time.Time) (bool, error)
	DeleteMarkersBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type WindowStore interface {
	EnsureWindow(ctx context.Context, q database.Querier, orgID, sessionID string, rule models.RateLimitRule, now time.Time) error
	RollWindow(ctx context.Context, q database.Querier, orgID, sessionID string, rule models.RateLimitRule, now time.Time) (bool, error)
	IncrementWindow(ctx context.Context, q database.Querier, orgID, sessionID, limitType string) (*models.RateLimitWindow, bool, error)
	MarkWindowExceeded(ctx context.Context, q database.Querier, orgID, sessionID, limitType string) (*models.RateLimitWindow, error)
	DecrementWindow(ctx context.Context, q database.Querier, orgID, sessionID, limitType string, windowStart time.Time) error
}

type EventStore interface {
	InsertEvent(ctx context.Context, q database.Querier, e *models.InboundEvent) (bool, error)
	GetEvent(ctx context.Context, id string) (*models.InboundEvent, error)
	DueEvents(ctx context.Context, now time.Time, limit int) ([]*models.InboundEvent, error)
	ClaimEvent(ctx context.Context, id string, from models.ProcessingStatus, now time.Time) (bool, error)
	CompleteEvent(ctx context.Context, id string, now time.Time) error
	RescheduleEvent(ctx context.Context, id string, status models.ProcessingStatus, retryCount int, lastErr string, nextRetryAt *time.Time, now time.Time) error
	DropEvent(ctx context.Context, id, reason string, now time.Time) error
	ReplayEvent(ctx context.Context, orgID, id string, now time.Time) (bool, error)
	RecoverStaleEvents(ctx context.Context, staleBefore, now time.Time) (int64, error)
}

// ExistenceChecker reports whether the organization and session still exist and the session is not archived
type ExistenceChecker interface {
	SessionActive(ctx context.Context, orgID, sessionID string) (bool, error)
}

type SessionStore interface {
	GetSession(ctx context.Context, q database.Querier, orgID, sessionID string) (*models.Session, error)
	CompareAndSwapSession(ctx context.Context, q database.Querier, s *models.Session, expectedVersion int64) (bool, error)
	ListActiveSessions(ctx context.Context) ([]*models.Session, error)
}

type DeliveryStore interface {
	TxRunner
	ListActiveSubscriptions(ctx context.Context, orgID string) ([]*models.WebhookSubscription, error)
	GetSubscription(ctx context.Context, id string) (*models.WebhookSubscription, error)
	InsertDelivery(ctx context.Context, q database.Querier, a *models.DeliveryAttempt) error
	DueDeliveries(ctx context.Context, now time.Time, limit int) ([]*models.DeliveryAttempt, error)
	ClaimDelivery(ctx context.Context, id int64, scheduledAt, leaseUntil time.Time) (bool, error)
	ReleaseDelivery(ctx context.Context, q database.Querier, id int64, leaseUntil time.Time) error
	RecordDelivery(ctx context.Context, a *models.DeliveryAttempt) error
}

var (
	_ TxRunner         = (*database.Database)(nil)
	_ MarkerStore      = (*database.Database)(nil)
	_ WindowStore      = (*database.Database)(nil)
	_ EventStore       = (*database.Database)(nil)
	_ ExistenceChecker = (*database.Database)(nil)
	_ SessionStore     = (*database.Database)(nil)
	_ DeliveryStore    = (*database.Database)(nil)
)
