package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
)

// Ensure Backend implements the interface.
var _ driven.SnapshotBackend = (*Backend)(nil)

const (
	bulkFileName = "bulk.jsonl"
	tailFileName = "tail.jsonl"
)

// Backend stores each snapshot as a directory holding one file per segment.
type Backend struct {
	dir string
}

// NewBackend creates a two-stream backend rooted at dir.
func NewBackend(dir string) *Backend {
	return &Backend{dir: dir}
}

// Name returns the backend type.
func (b *Backend) Name() domain.SnapshotBackendType {
	return domain.BackendFile
}

// Location returns the snapshot directory.
func (b *Backend) Location(snapshotID string) string {
	return filepath.Join(b.dir, snapshotID)
}

// Create makes the snapshot directory and both segment files.
func (b *Backend) Create(_ context.Context, snapshotID string) (driven.SnapshotLog, error) {
	if err := os.MkdirAll(b.dir, 0700); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	root := b.Location(snapshotID)
	if err := os.Mkdir(root, 0700); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("snapshot %s: %w", snapshotID, domain.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}

	bulk, err := createLineWriter(filepath.Join(root, bulkFileName))
	if err != nil {
		return nil, err
	}
	tail, err := createLineWriter(filepath.Join(root, tailFileName))
	if err != nil {
		_ = bulk.close()
		return nil, err
	}
	return &dirLog{root: root, bulk: bulk, tail: tail}, nil
}

// Open opens an existing snapshot for reading.
func (b *Backend) Open(_ context.Context, snapshotID string) (driven.SnapshotLog, error) {
	root := b.Location(snapshotID)
	if _, err := os.Stat(filepath.Join(root, bulkFileName)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("snapshot %s: %w", snapshotID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	return &dirLog{root: root}, nil
}

// dirLog is a snapshot directory. Writers are nil when opened for reading.
type dirLog struct {
	root string

	mu     sync.Mutex
	bulk   *lineWriter
	tail   *lineWriter
	closed bool
}

func (l *dirLog) Append(_ context.Context, segment domain.Segment, body []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.bulk == nil {
		return fmt.Errorf("append to snapshot %s: %w", l.root, domain.ErrClosed)
	}
	switch segment {
	case domain.SegmentBulk:
		return l.bulk.writeDocument(body)
	case domain.SegmentTail:
		return l.tail.writeDocument(body)
	default:
		return fmt.Errorf("%w: segment %q", domain.ErrInvalidInput, segment)
	}
}

// Enumerate reads bulk.jsonl to the end, then tail.jsonl.
func (l *dirLog) Enumerate(ctx context.Context) (<-chan domain.Record, <-chan error) {
	records := make(chan domain.Record)
	errs := make(chan error, 1)

	go func() {
		defer close(records)
		defer close(errs)

		for _, seg := range []struct {
			segment domain.Segment
			name    string
		}{
			{domain.SegmentBulk, bulkFileName},
			{domain.SegmentTail, tailFileName},
		} {
			err := scanLines(ctx, filepath.Join(l.root, seg.name), func(line []byte) bool {
				return sendRecord(ctx, records, seg.segment, line)
			})
			if err != nil {
				errs <- err
				return
			}
		}
	}()

	return records, errs
}

// Delete closes any open files and removes the snapshot directory.
func (l *dirLog) Delete(_ context.Context) error {
	closeErr := l.Close()
	if err := os.RemoveAll(l.root); err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	return closeErr
}

// Close flushes and closes both segment files.
func (l *dirLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.bulk == nil {
		return nil
	}
	return errors.Join(l.bulk.close(), l.tail.close())
}
