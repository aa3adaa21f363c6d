package services

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
	"github.com/custodia-labs/carbon-cli/internal/logger"
)

// Emitter hands one document to the next stage. It blocks while the
// next stage is full.
type Emitter func(ctx context.Context, doc domain.Document) error

// BulkReaderConfig tunes a BulkReader.
type BulkReaderConfig struct {
	// RetryDefault is the wait for a throttled page without a retry hint.
	RetryDefault time.Duration

	// ErrorBackoff is the wait before retrying a page that failed.
	ErrorBackoff time.Duration
}

// DefaultBulkReaderConfig returns the default configuration.
func DefaultBulkReaderConfig() BulkReaderConfig {
	return BulkReaderConfig{
		RetryDefault: domain.DefaultRetryAfter,
		ErrorBackoff: time.Second,
	}
}

// BulkReader streams every document matching a query out of a container,
// page by page. A throttled or failed page is retried at the same cursor,
// so no page is ever skipped.
type BulkReader struct {
	reader driven.ContainerReader
	query  string
	config BulkReaderConfig

	pages     atomic.Int64
	items     atomic.Int64
	throttled atomic.Int64
	failures  atomic.Int64
}

// NewBulkReader creates a reader for documents matching query.
func NewBulkReader(reader driven.ContainerReader, query string, config BulkReaderConfig) *BulkReader {
	if config.RetryDefault <= 0 {
		config.RetryDefault = domain.DefaultRetryAfter
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = DefaultBulkReaderConfig().ErrorBackoff
	}
	return &BulkReader{
		reader: reader,
		query:  query,
		config: config,
	}
}

// Run reads pages until one reports no continuation, emitting every item
// in page order. It returns nil after the last page, ctx.Err() when
// cancelled, or the first error returned by emit.
func (r *BulkReader) Run(ctx context.Context, emit Emitter) error {
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := r.reader.ReadPage(ctx, r.query, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.failures.Add(1)
			logger.Warn("bulk read at cursor %q failed, retrying in %s: %v", cursor, r.config.ErrorBackoff, err)
			if err := sleep(ctx, r.config.ErrorBackoff); err != nil {
				return err
			}
			continue
		}

		if page.RateLimited {
			r.throttled.Add(1)
			wait := page.RetryAfter
			if wait <= 0 {
				wait = r.config.RetryDefault
			}
			logger.Debug("bulk read throttled at cursor %q, waiting %s", cursor, wait)
			if err := sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		r.pages.Add(1)
		for _, doc := range page.Items {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := emit(ctx, doc); err != nil {
				return err
			}
			r.items.Add(1)
		}

		if page.Continuation == "" {
			logger.Debug("bulk read complete: %d pages, %d documents", r.pages.Load(), r.items.Load())
			return nil
		}
		cursor = page.Continuation
	}
}

// Pages returns the number of pages read successfully.
func (r *BulkReader) Pages() int64 {
	return r.pages.Load()
}

// Items returns the number of documents emitted.
func (r *BulkReader) Items() int64 {
	return r.items.Load()
}

// Throttled returns the number of rate-limited page reads.
func (r *BulkReader) Throttled() int64 {
	return r.throttled.Load()
}

// Failures returns the number of page reads that failed and were retried.
func (r *BulkReader) Failures() int64 {
	return r.failures.Load()
}
