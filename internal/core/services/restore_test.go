package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driving"
)

func destination(name string) domain.ContainerConfiguration {
	return domain.ContainerConfiguration{Name: name, Throughput: 100000}
}

func newRestoreService(f *backupFixture) *RestoreService {
	return NewRestoreService(f.db, f.catalog, fastWriterConfig(8), f.backend)
}

func TestRestoreService_BackupThenRestore(t *testing.T) {
	ctx := context.Background()
	f := newBackupFixture(t, 1)
	for _, body := range []string{`{"id":"1","tenant":"a"}`, `{"id":"2","tenant":"a"}`, `{"id":"3","tenant":"b"}`} {
		require.NoError(t, f.source.Put(body))
	}

	// Update "2" after the scan has passed it; only the tail has the new version.
	var once sync.Once
	f.source.OnRead(func(cursor string) {
		if cursor != "1" {
			return
		}
		once.Do(func() {
			assert.NoError(t, f.source.Put(`{"id":"2","tenant":"a","v":2}`))
			assert.Eventually(t, func() bool {
				stats, ok := f.service.Status(ctx)
				return ok && stats.TailCount == 1
			}, time.Second, time.Millisecond)
		})
	})

	backup, err := f.service.Backup(ctx, driving.BackupRequest{Container: "orders"})
	require.NoError(t, err)

	service := newRestoreService(f)
	observer := &recordingObserver{}
	service.SetObserver(observer)

	result, err := service.Restore(ctx, driving.RestoreRequest{
		SnapshotID:  backup.Snapshot.ID,
		Destination: destination("orders-copy"),
	})
	require.NoError(t, err)

	copyContainer, err := f.db.Get("orders-copy")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, copyContainer.IDs())
	body, _ := copyContainer.Document("2")
	assert.JSONEq(t, `{"id":"2","tenant":"a","v":2}`, string(body))

	path, err := copyContainer.PartitionKeyPath(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PartitionKeyPath{"tenant"}, path)

	assert.Equal(t, int64(4), result.Stats.Inserted)
	assert.Zero(t, result.Stats.Failed)
	assert.False(t, result.Stats.Running)
	assert.Equal(t, 4, observer.count(domain.EventInserted))
	assert.Equal(t, int64(4), service.Status(ctx).Inserted)
}

func TestRestoreService_DestinationExists(t *testing.T) {
	ctx := context.Background()
	f := newBackupFixture(t, 10)
	require.NoError(t, f.source.Put(`{"id":"1","tenant":"a"}`))
	backup, err := f.service.Backup(ctx, driving.BackupRequest{Container: "orders"})
	require.NoError(t, err)

	existing, err := f.db.Create(domain.ContainerConfiguration{Name: "copy", PartitionKeyPath: domain.PartitionKeyPath{"id"}, Throughput: 100000})
	require.NoError(t, err)
	require.NoError(t, existing.Put(`{"id":"stale"}`))

	service := newRestoreService(f)

	_, err = service.Restore(ctx, driving.RestoreRequest{SnapshotID: backup.Snapshot.ID, Destination: destination("copy")})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = service.Restore(ctx, driving.RestoreRequest{SnapshotID: backup.Snapshot.ID, Destination: destination("copy"), Reuse: true})
	require.NoError(t, err)
	reused, err := f.db.Get("copy")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "stale"}, reused.IDs())

	_, err = service.Restore(ctx, driving.RestoreRequest{SnapshotID: backup.Snapshot.ID, Destination: destination("copy"), DropIfExists: true})
	require.NoError(t, err)
	recreated, err := f.db.Get("copy")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, recreated.IDs())
}

func TestRestoreService_RejectsIncompleteSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newBackupFixture(t, 10)
	require.NoError(t, f.catalog.Save(ctx, domain.Snapshot{ID: "partial", Backend: "file", State: domain.SnapshotInProgress}))

	_, err := newRestoreService(f).Restore(ctx, driving.RestoreRequest{SnapshotID: "partial", Destination: destination("copy")})
	assert.ErrorIs(t, err, domain.ErrSnapshotIncomplete)
	assert.Equal(t, []string{"orders"}, f.db.Names())
}

func TestRestoreService_UnknownSnapshotAndBackend(t *testing.T) {
	ctx := context.Background()
	f := newBackupFixture(t, 10)
	service := newRestoreService(f)

	_, err := service.Restore(ctx, driving.RestoreRequest{SnapshotID: "missing", Destination: destination("copy")})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, f.catalog.Save(ctx, domain.Snapshot{ID: "s", Backend: "gcs", State: domain.SnapshotComplete}))
	_, err = service.Restore(ctx, driving.RestoreRequest{SnapshotID: "s", Destination: destination("copy")})
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
}

func TestRestoreService_SkipsInvalidRecords(t *testing.T) {
	ctx := context.Background()
	f := newBackupFixture(t, 10)

	log, err := f.backend.Create(ctx, "hand-made")
	require.NoError(t, err)
	require.NoError(t, log.Append(ctx, domain.SegmentBulk, []byte(`{"id":"1"}`)))
	require.NoError(t, log.Append(ctx, domain.SegmentBulk, []byte(`{"name":"no id"}`)))
	require.NoError(t, log.Close())
	require.NoError(t, f.catalog.Save(ctx, domain.Snapshot{
		ID:               "hand-made",
		Backend:          "file",
		State:            domain.SnapshotComplete,
		PartitionKeyPath: domain.PartitionKeyPath{"id"},
	}))

	result, err := newRestoreService(f).Restore(ctx, driving.RestoreRequest{SnapshotID: "hand-made", Destination: destination("copy")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Stats.Inserted)
	assert.Equal(t, int64(1), result.Stats.Failed)
}

func TestRestoreService_ThrottledDestination(t *testing.T) {
	ctx := context.Background()
	f := newBackupFixture(t, 50)
	require.NoError(t, f.source.Seed(120))
	backup, err := f.service.Backup(ctx, driving.BackupRequest{Container: "orders"})
	require.NoError(t, err)

	// The minimum throughput forces the destination to push back.
	service := newRestoreService(f)
	result, err := service.Restore(ctx, driving.RestoreRequest{
		SnapshotID:  backup.Snapshot.ID,
		Destination: domain.ContainerConfiguration{Name: "slow", Throughput: domain.MinThroughput},
	})
	require.NoError(t, err)

	slow, err := f.db.Get("slow")
	require.NoError(t, err)
	assert.Len(t, slow.IDs(), 120)
	assert.Equal(t, int64(120), result.Stats.Inserted)
	assert.Positive(t, result.Stats.Throttled)
}

