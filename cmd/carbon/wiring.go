package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/custodia-labs/carbon-cli/internal/adapters/driven/config/file"
	snapfile "github.com/custodia-labs/carbon-cli/internal/adapters/driven/snapshot/file"
	"github.com/custodia-labs/carbon-cli/internal/adapters/driven/snapshot/gcs"
	"github.com/custodia-labs/carbon-cli/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/carbon-cli/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/carbon-cli/internal/adapters/driven/surreal"
	"github.com/custodia-labs/carbon-cli/internal/adapters/driving/cli"
	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driving"
	"github.com/custodia-labs/carbon-cli/internal/core/services"
	"github.com/custodia-labs/carbon-cli/internal/logger"
)

// seedThroughput is the provisioned throughput of a seeded memory container.
const seedThroughput = 10000

// app owns the local state shared by every command: the config file and
// the SQLite store holding the snapshot catalog.
type app struct {
	root      string
	store     *sqlite.Store
	settings  *services.SettingsService
	snapshots *services.SnapshotService
}

// newApp opens the local state under root, or ~/.carbon when root is empty.
func newApp(root string) (*app, error) {
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		root = filepath.Join(home, ".carbon")
	}

	configStore, err := file.NewConfigStore(root)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	store, err := sqlite.NewStore(filepath.Join(root, "data"))
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	a := &app{
		root:     root,
		store:    store,
		settings: services.NewSettingsService(configStore),
	}

	settings, err := a.settings.Get()
	if err != nil {
		store.Close()
		return nil, err
	}
	a.snapshots = services.NewSnapshotService(store.Catalog(), a.backends(context.Background(), settings)...)
	return a, nil
}

// Close closes the local store.
func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) cliConfig() *cli.Config {
	return &cli.Config{
		SettingsService: a.settings,
		SnapshotService: a.snapshots,
		OpenBackup:      a.openBackup,
		OpenRestore:     a.openRestore,
		NewScheduler:    a.newScheduler,
	}
}

// openBackup connects the source and builds a backup service writing to
// the configured backend.
func (a *app) openBackup(ctx context.Context, settings *domain.Settings) (driving.BackupService, io.Closer, error) {
	source, err := a.openDatabase(ctx, settings.Source.URL, settings)
	if err != nil {
		return nil, nil, err
	}
	if err := seedSource(source, settings.Source.URL, settings.Source.Container); err != nil {
		source.Close()
		return nil, nil, err
	}

	backend, err := a.backend(ctx, settings)
	if err != nil {
		source.Close()
		return nil, nil, err
	}

	cfg := services.DefaultBackupConfig()
	cfg.SinkCapacity = settings.Pipeline.ReadCapacity
	cfg.Reader.RetryDefault = settings.Pipeline.RetryDefault

	logger.Debug("backup: source %s, backend %s", settings.Source.URL, backend.Name())
	return services.NewBackupService(source, backend, a.store.Catalog(), cfg), source, nil
}

// openRestore connects the destination and builds a restore service able
// to read every configured backend.
func (a *app) openRestore(ctx context.Context, settings *domain.Settings) (driving.RestoreService, io.Closer, error) {
	dest, err := a.openDatabase(ctx, settings.Destination.URL, settings)
	if err != nil {
		return nil, nil, err
	}

	cfg := services.WriterConfig{
		Capacity:            settings.Pipeline.WriteCapacity,
		Parallelism:         settings.Pipeline.Parallelism,
		RetryDefault:        settings.Pipeline.RetryDefault,
		MaxUpsertsPerSecond: settings.Pipeline.MaxUpsertsPerSecond,
	}

	logger.Debug("restore: destination %s", settings.Destination.URL)
	return services.NewRestoreService(dest, a.store.Catalog(), cfg, a.backends(ctx, settings)...), dest, nil
}

func (a *app) newScheduler(
	backup driving.BackupService,
	req driving.BackupRequest,
	schedule domain.ScheduleSettings,
	onResult func(domain.ScheduleResult),
) driving.Scheduler {
	return services.NewScheduler(backup, a.snapshots, req, schedule, onResult)
}

// openDatabase selects a database implementation by URL scheme.
func (a *app) openDatabase(ctx context.Context, rawURL string, settings *domain.Settings) (driven.Database, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: database url %q: %v", domain.ErrInvalidInput, rawURL, err)
	}
	pageSize := settings.Pipeline.PageSize

	switch u.Scheme {
	case "memory":
		return memory.NewDatabase(pageSize), nil
	case "sqlite":
		path := u.Host + u.Path
		if path == "" {
			return a.store.Database(pageSize), nil
		}
		db, err := sqlite.OpenDatabase(path, pageSize)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "surreal", "surreals", "ws", "wss", "http", "https":
		db, err := surreal.Open(ctx, surreal.Options{
			URL:       surrealEndpoint(u),
			Namespace: settings.Surreal.Namespace,
			Database:  settings.Surreal.Database,
			Username:  settings.Surreal.Username,
			Password:  settings.Surreal.Password,
			PageSize:  pageSize,
		})
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("%w: database url scheme %q", domain.ErrUnsupportedType, u.Scheme)
	}
}

// surrealEndpoint maps surreal:// and surreals:// to the websocket RPC
// endpoint; other schemes are used as given.
func surrealEndpoint(u *url.URL) string {
	out := *u
	switch u.Scheme {
	case "surreal":
		out.Scheme = "ws"
	case "surreals":
		out.Scheme = "wss"
	default:
		return u.String()
	}
	if out.Path == "" || out.Path == "/" {
		out.Path = "/rpc"
	}
	return out.String()
}

// seedSource fills a memory source with synthetic documents when the URL
// carries ?seed=N.
func seedSource(db driven.Database, rawURL, container string) error {
	mem, ok := db.(*memory.Database)
	if !ok {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	raw := u.Query().Get("seed")
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fmt.Errorf("%w: seed %q", domain.ErrInvalidInput, raw)
	}

	c, err := mem.Create(domain.ContainerConfiguration{
		Name:             container,
		PartitionKeyPath: domain.PartitionKeyPath{domain.IDField},
		Throughput:       seedThroughput,
	})
	if err != nil {
		return fmt.Errorf("seed %s: %w", container, err)
	}
	logger.Debug("seeding %d documents into %s", n, container)
	return c.Seed(n)
}

// backend returns the backend new snapshots are written to.
func (a *app) backend(ctx context.Context, settings *domain.Settings) (driven.SnapshotBackend, error) {
	snap := settings.Snapshot
	switch snap.Backend {
	case domain.BackendFile:
		return snapfile.NewBackend(a.snapshotDir(snap)), nil
	case domain.BackendFileSingle:
		return snapfile.NewSingleBackend(a.snapshotDir(snap)), nil
	case domain.BackendSQLite:
		return a.store.SnapshotBackend(), nil
	case domain.BackendGCS:
		b, err := gcs.NewBackend(ctx, gcsOptions(snap))
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: snapshot backend %q", domain.ErrUnsupportedType, snap.Backend)
	}
}

// backends returns every backend that can be reached with settings, so
// snapshots taken with an earlier configuration stay readable.
func (a *app) backends(ctx context.Context, settings *domain.Settings) []driven.SnapshotBackend {
	dir := a.snapshotDir(settings.Snapshot)
	backends := []driven.SnapshotBackend{
		snapfile.NewBackend(dir),
		snapfile.NewSingleBackend(dir),
		a.store.SnapshotBackend(),
	}
	if settings.Snapshot.Bucket != "" {
		b, err := gcs.NewBackend(ctx, gcsOptions(settings.Snapshot))
		if err != nil {
			logger.Warn("gcs backend unavailable: %v", err)
		} else {
			backends = append(backends, b)
		}
	}
	return backends
}

func (a *app) snapshotDir(snap domain.SnapshotSettings) string {
	if snap.Dir != "" {
		return snap.Dir
	}
	return filepath.Join(a.root, "snapshots")
}

func gcsOptions(snap domain.SnapshotSettings) gcs.Options {
	return gcs.Options{
		Bucket:   snap.Bucket,
		Prefix:   snap.Prefix,
		Endpoint: snap.GCSEndpoint,
		Token:    snap.GCSToken,
	}
}
