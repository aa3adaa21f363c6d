package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
)

func testSnapshot(id string, started time.Time) domain.Snapshot {
	return domain.Snapshot{
		ID:               id,
		Container:        "orders",
		PartitionKeyPath: domain.PartitionKeyPath{"tenant"},
		Backend:          string(domain.BackendSQLite),
		Location:         "carbon.db#" + id,
		State:            domain.SnapshotInProgress,
		StartedAt:        started,
	}
}

func TestCatalog_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	catalog := setupTestStore(t).Catalog()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := testSnapshot("s1", started)
	require.NoError(t, catalog.Save(ctx, snap))

	got, err := catalog.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "orders", got.Container)
	assert.Equal(t, domain.PartitionKeyPath{"tenant"}, got.PartitionKeyPath)
	assert.Equal(t, domain.SnapshotInProgress, got.State)
	assert.True(t, got.StartedAt.Equal(started))
	assert.True(t, got.CompletedAt.IsZero())
}

func TestCatalog_SaveUpdatesExisting(t *testing.T) {
	ctx := context.Background()
	catalog := setupTestStore(t).Catalog()

	snap := testSnapshot("s1", time.Now().UTC())
	require.NoError(t, catalog.Save(ctx, snap))

	snap.State = domain.SnapshotComplete
	snap.BulkCount = 10
	snap.TailCount = 2
	snap.SizeBytes = 512
	snap.CompletedAt = snap.StartedAt.Add(time.Second)
	require.NoError(t, catalog.Save(ctx, snap))

	got, err := catalog.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SnapshotComplete, got.State)
	assert.Equal(t, int64(10), got.BulkCount)
	assert.Equal(t, int64(2), got.TailCount)
	assert.Equal(t, int64(512), got.SizeBytes)
	assert.False(t, got.CompletedAt.IsZero())

	all, err := catalog.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCatalog_SaveRequiresID(t *testing.T) {
	catalog := setupTestStore(t).Catalog()
	err := catalog.Save(context.Background(), domain.Snapshot{Container: "orders"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCatalog_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	catalog := setupTestStore(t).Catalog()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, catalog.Save(ctx, testSnapshot("old", base)))
	require.NoError(t, catalog.Save(ctx, testSnapshot("new", base.Add(time.Hour))))
	require.NoError(t, catalog.Save(ctx, testSnapshot("mid", base.Add(time.Minute))))

	all, err := catalog.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "new", all[0].ID)
	assert.Equal(t, "mid", all[1].ID)
	assert.Equal(t, "old", all[2].ID)
}

func TestCatalog_GetNotFound(t *testing.T) {
	catalog := setupTestStore(t).Catalog()
	_, err := catalog.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCatalog_Delete(t *testing.T) {
	ctx := context.Background()
	catalog := setupTestStore(t).Catalog()
	require.NoError(t, catalog.Save(ctx, testSnapshot("s1", time.Now())))

	require.NoError(t, catalog.Delete(ctx, "s1"))
	_, err := catalog.Get(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, catalog.Delete(ctx, "s1"), domain.ErrNotFound)
}
