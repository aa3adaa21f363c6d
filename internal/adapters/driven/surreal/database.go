package surreal

import (
	"context"
	"errors"
	"fmt"

	surrealdb "github.com/surrealdb/surrealdb.go"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
	"github.com/custodia-labs/carbon-cli/internal/logger"
)

// Ensure Database implements the interface.
var _ driven.Database = (*Database)(nil)

const (
	metaTable = "carbon_containers"

	// changefeedRetention is how long SurrealDB keeps change feed entries.
	changefeedRetention = "1h"

	// DefaultPageSize is the number of documents returned per page.
	DefaultPageSize = 100
)

// Options configures a connection.
type Options struct {
	// URL is the endpoint, e.g. ws://localhost:8000/rpc or http://localhost:8000.
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	PageSize  int
}

// Database is a SurrealDB namespace and database.
type Database struct {
	db       *surrealdb.DB
	pageSize int
}

type containerMeta struct {
	Name         string `json:"name"`
	PartitionKey string `json:"partition_key"`
	Throughput   int    `json:"throughput"`
}

// Open connects, selects the namespace and database, and signs in when
// credentials are given.
func Open(ctx context.Context, opts Options) (*Database, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("%w: surreal url is required", domain.ErrInvalidInput)
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}

	db, err := surrealdb.FromEndpointURLString(ctx, opts.URL)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", opts.URL, err)
	}

	// 1. Select namespace and database
	if err := db.Use(ctx, opts.Namespace, opts.Database); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("selecting %s/%s: %w", opts.Namespace, opts.Database, err)
	}

	// 2. Sign in
	if opts.Username != "" {
		token, err := db.SignIn(ctx, &surrealdb.Auth{Username: opts.Username, Password: opts.Password})
		if err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("signing in: %w", err)
		}
		if err := db.Authenticate(ctx, token); err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("authenticating: %w", err)
		}
	}

	logger.Debug("surreal: connected to %s (%s/%s)", opts.URL, opts.Namespace, opts.Database)
	return &Database{db: db, pageSize: opts.PageSize}, nil
}

// query runs one statement set and fails on the first statement error.
func query[T any](ctx context.Context, db *surrealdb.DB, sql string, vars map[string]any) ([]surrealdb.QueryResult[T], error) {
	results, err := surrealdb.Query[T](ctx, db, sql, vars)
	if err != nil {
		return nil, err
	}
	if results == nil {
		return nil, nil
	}
	var errs []error
	for _, r := range *results {
		if r.Error != nil {
			errs = append(errs, r.Error)
		}
	}
	return *results, errors.Join(errs...)
}

// Container opens an existing container.
func (d *Database) Container(ctx context.Context, name string) (driven.Container, error) {
	meta, err := d.meta(ctx, name)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("container %s: %w", name, domain.ErrNotFound)
	}

	path, err := domain.ParsePartitionKeyPath(meta.PartitionKey)
	if err != nil {
		return nil, fmt.Errorf("container %s: %w", name, err)
	}
	return &Container{db: d, name: name, path: path}, nil
}

func (d *Database) meta(ctx context.Context, name string) (*containerMeta, error) {
	if err := validateTableName(name); err != nil {
		return nil, err
	}
	results, err := query[[]containerMeta](ctx, d.db,
		"SELECT name, partition_key, throughput FROM type::thing($tb, $name)",
		map[string]any{"tb": metaTable, "name": name})
	if err != nil {
		return nil, fmt.Errorf("reading container %s: %w", name, err)
	}
	if len(results) == 0 || len(results[0].Result) == 0 {
		return nil, nil
	}
	return &results[0].Result[0], nil
}

// ContainerExists reports whether a container exists.
func (d *Database) ContainerExists(ctx context.Context, name string) (bool, error) {
	meta, err := d.meta(ctx, name)
	if err != nil {
		return false, err
	}
	return meta != nil, nil
}

// CreateContainer defines the table with a change feed and records its
// configuration.
func (d *Database) CreateContainer(ctx context.Context, cfg domain.ContainerConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := validateTableName(cfg.Name); err != nil {
		return err
	}
	exists, err := d.ContainerExists(ctx, cfg.Name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("container %s: %w", cfg.Name, domain.ErrAlreadyExists)
	}

	sql := fmt.Sprintf(`
		DEFINE TABLE %[1]s SCHEMALESS CHANGEFEED %[2]s;
		DEFINE INDEX %[3]s ON TABLE %[1]s FIELDS key UNIQUE;
		UPSERT type::thing($tb, $name) CONTENT $meta RETURN NONE;
	`, quoteIdent(cfg.Name), changefeedRetention, quoteIdent(cfg.Name+"_key"))
	_, err = query[any](ctx, d.db, sql, map[string]any{
		"tb":   metaTable,
		"name": cfg.Name,
		"meta": containerMeta{
			Name:         cfg.Name,
			PartitionKey: cfg.PartitionKeyPath.String(),
			Throughput:   cfg.Throughput,
		},
	})
	if err != nil {
		return fmt.Errorf("creating container %s: %w", cfg.Name, err)
	}
	return nil
}

// DropContainer removes the table and its metadata.
func (d *Database) DropContainer(ctx context.Context, name string) error {
	if err := validateTableName(name); err != nil {
		return err
	}
	sql := fmt.Sprintf(`
		REMOVE TABLE IF EXISTS %s;
		DELETE type::thing($tb, $name) RETURN NONE;
	`, quoteIdent(name))
	if _, err := query[any](ctx, d.db, sql, map[string]any{"tb": metaTable, "name": name}); err != nil {
		return fmt.Errorf("dropping container %s: %w", name, err)
	}
	return nil
}

// Close closes the connection.
func (d *Database) Close() error {
	return d.db.Close(context.Background())
}
