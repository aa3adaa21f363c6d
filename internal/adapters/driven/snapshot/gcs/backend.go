package gcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
	"github.com/custodia-labs/carbon-cli/internal/logger"
)

// Ensure Backend implements the interface.
var _ driven.SnapshotBackend = (*Backend)(nil)

const (
	manifestName  = "snapshot.json"
	bulkDir       = "documents"
	tailDir       = "changefeed"
	chunkMimeType = "application/x-ndjson"

	// DefaultChunkRecords is the number of records per chunk object.
	DefaultChunkRecords = 1000

	// maxUploadAttempts bounds retries of a throttled upload.
	maxUploadAttempts = 5
)

// Options configures the backend.
type Options struct {
	// Bucket is the destination bucket. Required.
	Bucket string

	// Prefix is prepended to every object name.
	Prefix string

	// Endpoint overrides the JSON API endpoint, e.g. for an emulator.
	Endpoint string

	// Token is a static OAuth2 access token. When empty, application
	// default credentials are used, or no authentication with Endpoint.
	Token string

	// ChunkRecords is the number of records per chunk object.
	ChunkRecords int

	// RetryAfter is the first backoff after a throttled upload.
	RetryAfter time.Duration
}

// Backend stores snapshots in a bucket.
type Backend struct {
	service *storage.Service
	opts    Options
}

// NewBackend connects to the storage JSON API.
func NewBackend(ctx context.Context, opts Options) (*Backend, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("%w: bucket is required", domain.ErrInvalidInput)
	}
	if opts.ChunkRecords <= 0 {
		opts.ChunkRecords = DefaultChunkRecords
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = domain.DefaultRetryAfter
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")

	var clientOpts []option.ClientOption
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}
	switch {
	case opts.Token != "":
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
		clientOpts = append(clientOpts, option.WithTokenSource(ts))
	case opts.Endpoint != "":
		clientOpts = append(clientOpts, option.WithoutAuthentication())
	}

	service, err := storage.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &Backend{service: service, opts: opts}, nil
}

// Name returns the backend type.
func (b *Backend) Name() domain.SnapshotBackendType {
	return domain.BackendGCS
}

// Location returns the gs:// URL of the snapshot.
func (b *Backend) Location(snapshotID string) string {
	return "gs://" + b.opts.Bucket + "/" + b.root(snapshotID)
}

func (b *Backend) root(snapshotID string) string {
	if b.opts.Prefix == "" {
		return snapshotID
	}
	return path.Join(b.opts.Prefix, snapshotID)
}

type manifest struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Create writes the snapshot manifest.
func (b *Backend) Create(ctx context.Context, snapshotID string) (driven.SnapshotLog, error) {
	root := b.root(snapshotID)
	_, err := b.service.Objects.Get(b.opts.Bucket, path.Join(root, manifestName)).Context(ctx).Do()
	if err == nil {
		return nil, fmt.Errorf("snapshot %s: %w", snapshotID, domain.ErrAlreadyExists)
	}
	if !isNotFound(err) {
		return nil, fmt.Errorf("checking snapshot: %w", err)
	}

	body, err := json.Marshal(manifest{ID: snapshotID, CreatedAt: time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := b.upload(ctx, path.Join(root, manifestName), "application/json", body); err != nil {
		return nil, err
	}
	return &chunkLog{backend: b, root: root, writable: true}, nil
}

// Open checks for the manifest and returns a read-only log.
func (b *Backend) Open(ctx context.Context, snapshotID string) (driven.SnapshotLog, error) {
	root := b.root(snapshotID)
	_, err := b.service.Objects.Get(b.opts.Bucket, path.Join(root, manifestName)).Context(ctx).Do()
	if isNotFound(err) {
		return nil, fmt.Errorf("snapshot %s: %w", snapshotID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	return &chunkLog{backend: b, root: root}, nil
}

// upload inserts an object, backing off while the service is throttling.
func (b *Backend) upload(ctx context.Context, name, contentType string, data []byte) error {
	wait := b.opts.RetryAfter
	for attempt := 1; ; attempt++ {
		_, err := b.service.Objects.Insert(b.opts.Bucket, &storage.Object{Name: name, ContentType: contentType}).
			Media(bytes.NewReader(data)).
			Context(ctx).
			Do()
		if err == nil {
			return nil
		}
		if !isRateLimited(err) {
			return fmt.Errorf("uploading %s: %w", name, err)
		}
		if attempt == maxUploadAttempts {
			return fmt.Errorf("uploading %s: %w: %v", name, domain.ErrRateLimited, err)
		}

		logger.Debug("gcs: upload of %s throttled, retrying in %v", name, wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		wait *= 2
	}
}

// list returns object names under prefix in lexicographic order.
func (b *Backend) list(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := b.service.Objects.List(b.opts.Bucket).
		Prefix(prefix).
		Fields("items(name)", "nextPageToken").
		Pages(ctx, func(objs *storage.Objects) error {
			for _, obj := range objs.Items {
				names = append(names, obj.Name)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", prefix, err)
	}
	return names, nil
}
