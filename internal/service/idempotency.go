package service

import (
	"context"
	"time"

	"wahagate/internal/database"
	"wahagate/internal/errors"
)

// IdempotencyStore remembers which provider event IDs an organization has already accepted
type IdempotencyStore struct {
	store MarkerStore
	now   func() time.Time
}

func NewIdempotencyStore(store MarkerStore) *IdempotencyStore {
	return &IdempotencyStore{store: store, now: time.Now}
}

// CheckAndMark records (orgID, eventID) and reports whether this call was the first.
// When q is a transaction the marker disappears again if that transaction rolls back.
func (s *IdempotencyStore) CheckAndMark(ctx context.Context, q database.Querier, orgID, eventID string) (bool, error) {
	isNew, err := s.store.InsertMarker(ctx, q, orgID, eventID, s.now())
	if err != nil {
		return false, errors.NewDatabaseError("mark event", err).
			WithContext("org_id", orgID)
	}
	return isNew, nil
}

// Prune deletes markers older than retention and returns how many were removed
func (s *IdempotencyStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.store.DeleteMarkersBefore(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, errors.NewDatabaseError("prune markers", err)
	}
	return n, nil
}
