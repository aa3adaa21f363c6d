package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
)

// Ensure SnapshotBackend implements the interface.
var _ driven.SnapshotBackend = (*SnapshotBackend)(nil)

// Ensure SnapshotLog implements the interface.
var _ driven.SnapshotLog = (*SnapshotLog)(nil)

// SnapshotBackend keeps snapshot logs in memory.
type SnapshotBackend struct {
	mu   sync.Mutex
	logs map[string]*SnapshotLog
}

// NewSnapshotBackend creates an empty backend.
func NewSnapshotBackend() *SnapshotBackend {
	return &SnapshotBackend{logs: make(map[string]*SnapshotLog)}
}

// Name returns the backend type. Memory logs report as file logs because
// they are only used in place of one.
func (b *SnapshotBackend) Name() domain.SnapshotBackendType {
	return domain.BackendFile
}

// Create starts a new log.
func (b *SnapshotBackend) Create(_ context.Context, snapshotID string) (driven.SnapshotLog, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.logs[snapshotID]; ok {
		return nil, fmt.Errorf("snapshot log %s: %w", snapshotID, domain.ErrAlreadyExists)
	}
	l := &SnapshotLog{}
	b.logs[snapshotID] = l
	return l, nil
}

// Open returns an existing log.
func (b *SnapshotBackend) Open(_ context.Context, snapshotID string) (driven.SnapshotLog, error) {
	l, ok := b.Log(snapshotID)
	if !ok || l.Deleted() {
		return nil, fmt.Errorf("snapshot log %s: %w", snapshotID, domain.ErrNotFound)
	}
	return l, nil
}

// Log returns the concrete log, for tests.
func (b *SnapshotBackend) Log(snapshotID string) (*SnapshotLog, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.logs[snapshotID]
	return l, ok
}

// Location returns a pseudo address.
func (b *SnapshotBackend) Location(snapshotID string) string {
	return "memory://" + snapshotID
}

// SnapshotLog holds records in two slices.
type SnapshotLog struct {
	mu      sync.Mutex
	bulk    [][]byte
	tail    [][]byte
	closed  bool
	deleted bool
	deletes int
	closes  int

	failAfter int
	failErr   error
	appends   int
}

// Append copies body into a segment.
func (l *SnapshotLog) Append(_ context.Context, segment domain.Segment, body []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("append to snapshot log: %w", domain.ErrClosed)
	}
	if l.failErr != nil && l.appends >= l.failAfter {
		return l.failErr
	}
	l.appends++

	record := append([]byte(nil), body...)
	switch segment {
	case domain.SegmentBulk:
		l.bulk = append(l.bulk, record)
	case domain.SegmentTail:
		l.tail = append(l.tail, record)
	default:
		return fmt.Errorf("segment %q: %w", segment, domain.ErrInvalidInput)
	}
	return nil
}

// Enumerate streams bulk records then tail records.
func (l *SnapshotLog) Enumerate(ctx context.Context) (<-chan domain.Record, <-chan error) {
	records := make(chan domain.Record)
	errs := make(chan error, 1)

	l.mu.Lock()
	all := l.records()
	l.mu.Unlock()

	go func() {
		defer close(records)
		defer close(errs)
		for _, r := range all {
			select {
			case records <- r:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()
	return records, errs
}

// Delete drops every record.
func (l *SnapshotLog) Delete(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.bulk = nil
	l.tail = nil
	l.deleted = true
	l.deletes++
	return nil
}

// Close marks the log closed.
func (l *SnapshotLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		l.closed = true
		l.closes++
	}
	return nil
}

// FailAppends makes every append after the first n return err.
func (l *SnapshotLog) FailAppends(n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failAfter = n
	l.failErr = err
}

// Records returns a copy of the stored records in enumeration order.
func (l *SnapshotLog) Records() []domain.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records()
}

// Deleted reports whether Delete was called.
func (l *SnapshotLog) Deleted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deleted
}

// DeleteCount returns how many times Delete was called.
func (l *SnapshotLog) DeleteCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deletes
}

// Closed reports whether Close was called.
func (l *SnapshotLog) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *SnapshotLog) records() []domain.Record {
	out := make([]domain.Record, 0, len(l.bulk)+len(l.tail))
	for _, b := range l.bulk {
		out = append(out, domain.Record{Segment: domain.SegmentBulk, Body: append([]byte(nil), b...)})
	}
	for _, b := range l.tail {
		out = append(out, domain.Record{Segment: domain.SegmentTail, Body: append([]byte(nil), b...)})
	}
	return out
}
