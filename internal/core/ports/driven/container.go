package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
)

// Database is a document database holding named containers.
// Implementations are selected by URL scheme at startup.
type Database interface {
	// Container opens an existing container.
	// Returns domain.ErrNotFound if it does not exist.
	Container(ctx context.Context, name string) (Container, error)

	// ContainerExists reports whether a container exists.
	ContainerExists(ctx context.Context, name string) (bool, error)

	// CreateContainer creates a container.
	// Returns domain.ErrAlreadyExists if the name is taken.
	CreateContainer(ctx context.Context, cfg domain.ContainerConfiguration) error

	// DropContainer deletes a container and its documents.
	// Dropping a missing container is not an error.
	DropContainer(ctx context.Context, name string) error

	// Close releases the connection.
	Close() error
}

// Container is a partitioned document container.
type Container interface {
	ContainerReader
	ChangeFeed
	ContainerWriter

	// Name returns the container name.
	Name() string

	// PartitionKeyPath returns the container's partition key path.
	PartitionKeyPath(ctx context.Context) (domain.PartitionKeyPath, error)

	// Count returns the number of documents in the container.
	Count(ctx context.Context) (int64, error)
}

// Page is one response from a paged read.
type Page struct {
	// Items are the documents in page order.
	Items []domain.Document

	// Continuation is the cursor for the next page; empty on the last page.
	Continuation string

	// RateLimited is true when the read was throttled. Items and
	// Continuation are empty and the same cursor must be retried.
	RateLimited bool

	// RetryAfter is the suggested wait for a throttled read; zero if absent.
	RetryAfter time.Duration
}

// ContainerReader issues paged reads over a container.
type ContainerReader interface {
	// ReadPage fetches the page at continuation ("" for the first page)
	// for documents matching query ("" for all documents).
	// A throttled read is reported through Page.RateLimited, not an error.
	// Any returned error is treated as transient and retried.
	ReadPage(ctx context.Context, query, continuation string) (Page, error)
}

// ChangeBatchHandler receives one batch of committed changes.
// Returning an error aborts the subscription.
type ChangeBatchHandler func(ctx context.Context, docs []domain.Document) error

// ChangeFeed is the database's native change feed.
type ChangeFeed interface {
	// StartChangeFeed subscribes to changes committed from now on.
	// lease names the container holding the subscription checkpoint.
	// Delivery is at-least-once, ordered within a partition.
	StartChangeFeed(ctx context.Context, lease string, onBatch ChangeBatchHandler) (ChangeFeedHandle, error)
}

// ChangeFeedHandle controls a running change feed subscription.
type ChangeFeedHandle interface {
	// Stop ends the subscription. No batch is delivered after Stop returns.
	Stop(ctx context.Context) error

	// Done is closed when the subscription ends, either through Stop or
	// because the feed failed.
	Done() <-chan struct{}

	// Err returns the error that ended the subscription, if any.
	Err() error
}

// UpsertResult is the outcome of a single upsert.
type UpsertResult struct {
	// Success is true when the document was written.
	Success bool

	// RateLimited is true when the destination asked to retry later.
	RateLimited bool

	// RetryAfter is the suggested wait for a throttled upsert.
	RetryAfter time.Duration

	// Status is backend-specific status text for diagnostics.
	Status string
}

// ContainerWriter writes documents into a container.
type ContainerWriter interface {
	// Upsert inserts or replaces the document with body's identifier.
	// Rejections are reported through UpsertResult; an error means the
	// request could not be completed and is treated as a failed write.
	Upsert(ctx context.Context, pk domain.PartitionKeyValue, body []byte) (UpsertResult, error)
}
