package main

import (
	"context"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/carbon-cli/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/carbon-cli/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driving"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	a, err := newApp(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func testSettings(t *testing.T, a *app) *domain.Settings {
	t.Helper()
	settings, err := a.settings.Get()
	require.NoError(t, err)
	return settings
}

func TestApp_BackupAndRestore(t *testing.T) {
	for _, backend := range []domain.SnapshotBackendType{
		domain.BackendFile,
		domain.BackendFileSingle,
		domain.BackendSQLite,
	} {
		t.Run(string(backend), func(t *testing.T) {
			ctx := context.Background()
			a := newTestApp(t)
			settings := testSettings(t, a)
			settings.Source.URL = "memory://?seed=25"
			settings.Source.Container = "orders"
			settings.Snapshot.Backend = backend
			destPath := filepath.Join(t.TempDir(), "dest.db")
			settings.Destination.URL = "sqlite://" + destPath

			// 1. Capture
			backup, closer, err := a.openBackup(ctx, settings)
			require.NoError(t, err)
			result, err := backup.Backup(ctx, driving.BackupRequest{Container: "orders"})
			require.NoError(t, closer.Close())
			require.NoError(t, err)
			assert.Equal(t, int64(25), result.Snapshot.Total())
			assert.Equal(t, string(backend), result.Snapshot.Backend)

			listed, err := a.snapshots.List(ctx)
			require.NoError(t, err)
			require.Len(t, listed, 1)

			// 2. Replay
			restore, closer, err := a.openRestore(ctx, settings)
			require.NoError(t, err)
			replayed, err := restore.Restore(ctx, driving.RestoreRequest{
				SnapshotID: result.Snapshot.ID,
				Destination: domain.ContainerConfiguration{
					Name:       "orders-copy",
					Throughput: 400,
				},
			})
			require.NoError(t, closer.Close())
			require.NoError(t, err)
			assert.Equal(t, int64(25), replayed.Stats.Inserted)

			// 3. Verify the destination
			dest, err := sqlite.OpenDatabase(destPath, 0)
			require.NoError(t, err)
			defer dest.Close()
			container, err := dest.Container(ctx, "orders-copy")
			require.NoError(t, err)
			count, err := container.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(25), count)

			// 4. Delete through the snapshot service
			require.NoError(t, a.snapshots.Delete(ctx, result.Snapshot.ID))
			_, err = a.snapshots.Get(ctx, result.Snapshot.ID)
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestApp_OpenDatabase_Schemes(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	settings := testSettings(t, a)

	db, err := a.openDatabase(ctx, "memory://", settings)
	require.NoError(t, err)
	assert.IsType(t, &memory.Database{}, db)

	db, err = a.openDatabase(ctx, "sqlite://", settings)
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Database{}, db)
	require.NoError(t, db.Close())

	db, err = a.openDatabase(ctx, "sqlite://"+filepath.Join(t.TempDir(), "x.db"), settings)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = a.openDatabase(ctx, "mongodb://localhost", settings)
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
}

func TestApp_Backend_Unsupported(t *testing.T) {
	a := newTestApp(t)
	settings := testSettings(t, a)
	settings.Snapshot.Backend = "tape"

	_, err := a.backend(context.Background(), settings)

	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
}

func TestApp_Backends_IncludesGCSWhenBucketSet(t *testing.T) {
	a := newTestApp(t)
	settings := testSettings(t, a)

	names := func() []domain.SnapshotBackendType {
		var out []domain.SnapshotBackendType
		for _, b := range a.backends(context.Background(), settings) {
			out = append(out, b.Name())
		}
		return out
	}

	assert.NotContains(t, names(), domain.BackendGCS)

	settings.Snapshot.Bucket = "snaps"
	settings.Snapshot.GCSEndpoint = "http://127.0.0.1:1/storage/v1/"
	assert.Contains(t, names(), domain.BackendGCS)
}

func TestApp_SnapshotDir(t *testing.T) {
	a := newTestApp(t)

	assert.Equal(t, filepath.Join(a.root, "snapshots"), a.snapshotDir(domain.SnapshotSettings{}))
	assert.Equal(t, "/srv/snaps", a.snapshotDir(domain.SnapshotSettings{Dir: "/srv/snaps"}))
}

func TestSeedSource(t *testing.T) {
	db := memory.NewDatabase(10)

	require.NoError(t, seedSource(db, "memory://?seed=7", "demo"))

	c, err := db.Get("demo")
	require.NoError(t, err)
	count, err := c.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
}

func TestSeedSource_NoSeed(t *testing.T) {
	db := memory.NewDatabase(10)

	require.NoError(t, seedSource(db, "memory://", "demo"))

	assert.Empty(t, db.Names())
}

func TestSeedSource_InvalidCount(t *testing.T) {
	db := memory.NewDatabase(10)

	err := seedSource(db, "memory://?seed=lots", "demo")

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSurrealEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"surreal://localhost:8000", "ws://localhost:8000/rpc"},
		{"surreals://db.example.com", "wss://db.example.com/rpc"},
		{"ws://localhost:8000/rpc", "ws://localhost:8000/rpc"},
		{"http://localhost:8000", "http://localhost:8000"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			u, err := url.Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, surrealEndpoint(u))
		})
	}
}
