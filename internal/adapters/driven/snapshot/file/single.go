package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
)

// Ensure SingleBackend implements the interface.
var _ driven.SnapshotBackend = (*SingleBackend)(nil)

// tailMarker separates bulk records from tail records in a single-stream file.
var tailMarker = []byte("#tail")

// SingleBackend stores each snapshot as one file.
type SingleBackend struct {
	dir string
}

// NewSingleBackend creates a single-stream backend rooted at dir.
func NewSingleBackend(dir string) *SingleBackend {
	return &SingleBackend{dir: dir}
}

// Name returns the backend type.
func (b *SingleBackend) Name() domain.SnapshotBackendType {
	return domain.BackendFileSingle
}

// Location returns the snapshot file path.
func (b *SingleBackend) Location(snapshotID string) string {
	return filepath.Join(b.dir, snapshotID+".jsonl")
}

func (b *SingleBackend) spoolPath(snapshotID string) string {
	return filepath.Join(b.dir, snapshotID+".tail.jsonl")
}

// Create opens the snapshot file and its tail spool.
func (b *SingleBackend) Create(_ context.Context, snapshotID string) (driven.SnapshotLog, error) {
	if err := os.MkdirAll(b.dir, 0700); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	main, err := createLineWriter(b.Location(snapshotID))
	if err != nil {
		return nil, err
	}
	spool, err := createLineWriter(b.spoolPath(snapshotID))
	if err != nil {
		_ = main.close()
		_ = os.Remove(b.Location(snapshotID))
		return nil, err
	}
	return &singleLog{path: b.Location(snapshotID), spoolPath: b.spoolPath(snapshotID), main: main, spool: spool}, nil
}

// Open opens an existing snapshot file for reading.
func (b *SingleBackend) Open(_ context.Context, snapshotID string) (driven.SnapshotLog, error) {
	path := b.Location(snapshotID)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("snapshot %s: %w", snapshotID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	return &singleLog{path: path, spoolPath: b.spoolPath(snapshotID)}, nil
}

type singleLog struct {
	path      string
	spoolPath string

	mu     sync.Mutex
	main   *lineWriter
	spool  *lineWriter
	closed bool
}

func (l *singleLog) Append(_ context.Context, segment domain.Segment, body []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.main == nil {
		return fmt.Errorf("append to snapshot %s: %w", l.path, domain.ErrClosed)
	}
	switch segment {
	case domain.SegmentBulk:
		return l.main.writeDocument(body)
	case domain.SegmentTail:
		return l.spool.writeDocument(body)
	default:
		return fmt.Errorf("%w: segment %q", domain.ErrInvalidInput, segment)
	}
}

// Enumerate reads the file; lines after the tail marker are tail records.
func (l *singleLog) Enumerate(ctx context.Context) (<-chan domain.Record, <-chan error) {
	records := make(chan domain.Record)
	errs := make(chan error, 1)

	go func() {
		defer close(records)
		defer close(errs)

		segment := domain.SegmentBulk
		err := scanLines(ctx, l.path, func(line []byte) bool {
			if bytes.Equal(line, tailMarker) {
				segment = domain.SegmentTail
				return true
			}
			return sendRecord(ctx, records, segment, line)
		})
		if err != nil {
			errs <- err
		}
	}()

	return records, errs
}

// Delete removes the snapshot file and any leftover spool.
func (l *singleLog) Delete(_ context.Context) error {
	l.mu.Lock()
	if !l.closed && l.main != nil {
		_ = l.main.close()
		_ = l.spool.close()
	}
	l.closed = true
	l.mu.Unlock()

	var errs []error
	for _, path := range []string{l.path, l.spoolPath} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("deleting snapshot: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close appends the spooled tail after the marker and removes the spool.
func (l *singleLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.main == nil {
		return nil
	}

	if err := l.spool.close(); err != nil {
		_ = l.main.close()
		return err
	}
	if l.spool.n > 0 {
		if err := l.appendSpool(); err != nil {
			_ = l.main.close()
			return err
		}
	}
	if err := l.main.close(); err != nil {
		return err
	}
	if err := os.Remove(l.spoolPath); err != nil {
		return fmt.Errorf("removing tail spool: %w", err)
	}
	return nil
}

func (l *singleLog) appendSpool() error {
	if err := l.main.writeRaw(append(append([]byte(nil), tailMarker...), '\n')); err != nil {
		return err
	}
	spool, err := os.Open(l.spoolPath)
	if err != nil {
		return fmt.Errorf("opening tail spool: %w", err)
	}
	defer spool.Close()

	if _, err := io.Copy(l.main.buf, spool); err != nil {
		return fmt.Errorf("copying tail spool: %w", err)
	}
	return nil
}
