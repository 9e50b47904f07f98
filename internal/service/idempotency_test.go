package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wahagate/internal/database"
	"wahagate/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyStoreCheckAndMark(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedSession(t, db, "org-1", "sess-A")
	seedSession(t, db, "org-2", "sess-A")
	store := NewIdempotencyStore(db)

	isNew, err := store.CheckAndMark(ctx, nil, "org-1", "evt-001")
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = store.CheckAndMark(ctx, nil, "org-1", "evt-001")
	require.NoError(t, err)
	assert.False(t, isNew)

	isNew, err = store.CheckAndMark(ctx, nil, "org-2", "evt-001")
	require.NoError(t, err)
	assert.True(t, isNew, "event ids are scoped per organization")

	t.Run("rolled back marker is forgotten", func(t *testing.T) {
		err := db.WithTx(ctx, func(q database.Querier) error {
			isNew, err := store.CheckAndMark(ctx, q, "org-1", "evt-rollback")
			require.NoError(t, err)
			assert.True(t, isNew)
			return assert.AnError
		})
		require.ErrorIs(t, err, assert.AnError)

		isNew, err := store.CheckAndMark(ctx, nil, "org-1", "evt-rollback")
		require.NoError(t, err)
		assert.True(t, isNew)
	})

	t.Run("storage failure is a database error", func(t *testing.T) {
		isNew, err := store.CheckAndMark(ctx, nil, "org-missing", "evt-x")
		require.Error(t, err)
		assert.False(t, isNew)
		assert.Equal(t, errors.ErrCodeDatabaseQuery, errors.GetCode(err))
	})
}

func TestIdempotencyStoreConcurrent(t *testing.T) {
	db := setupTestDB(t)
	seedSession(t, db, "org-1", "sess-A")
	store := NewIdempotencyStore(db)

	const workers = 16
	var winners atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			isNew, err := store.CheckAndMark(context.Background(), nil, "org-1", "evt-race")
			assert.NoError(t, err)
			if isNew {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestIdempotencyStorePrune(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedSession(t, db, "org-1", "sess-A")
	store := NewIdempotencyStore(db)

	old := time.Now().Add(-48 * time.Hour)
	_, err := db.InsertMarker(ctx, nil, "org-1", "evt-old", old)
	require.NoError(t, err)
	_, err = store.CheckAndMark(ctx, nil, "org-1", "evt-new")
	require.NoError(t, err)

	n, err := store.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	isNew, err := store.CheckAndMark(ctx, nil, "org-1", "evt-old")
	require.NoError(t, err)
	assert.True(t, isNew)
}
