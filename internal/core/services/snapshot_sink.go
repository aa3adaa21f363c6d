package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
	"github.com/custodia-labs/carbon-cli/internal/logger"
)

// DefaultSinkCapacity bounds the documents queued in front of the log.
const DefaultSinkCapacity = 100

// SnapshotSink serializes documents and appends them to a snapshot log.
// Producers (bulk scan and change feed) append concurrently into one
// bounded queue; a single worker drains it, because logs do not accept
// concurrent writers and segment order must be kept.
type SnapshotSink struct {
	log   driven.SnapshotLog
	queue *Queue[domain.Record]

	mu      sync.RWMutex
	closed  bool
	deleted bool

	done     chan struct{}
	failed   chan struct{}
	failOnce sync.Once
	err      error

	bulk  atomic.Int64
	tail  atomic.Int64
	bytes atomic.Int64
}

// NewSnapshotSink starts the append worker. The worker stops appending
// when ctx is cancelled.
func NewSnapshotSink(ctx context.Context, log driven.SnapshotLog, capacity int) *SnapshotSink {
	if capacity <= 0 {
		capacity = DefaultSinkCapacity
	}
	s := &SnapshotSink{
		log:    log,
		queue:  NewQueue[domain.Record]("snapshot-sink", capacity),
		done:   make(chan struct{}),
		failed: make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

// AppendBulk queues a document for the bulk segment.
func (s *SnapshotSink) AppendBulk(ctx context.Context, doc domain.Document) error {
	return s.Append(ctx, domain.SegmentBulk, doc)
}

// AppendTail queues a document for the tail segment.
func (s *SnapshotSink) AppendTail(ctx context.Context, doc domain.Document) error {
	return s.Append(ctx, domain.SegmentTail, doc)
}

// Append queues a document, blocking while the queue is full.
// Returns domain.ErrClosed after Close, or the worker's error if
// appending to the log has failed.
func (s *SnapshotSink) Append(ctx context.Context, segment domain.Segment, doc domain.Document) error {
	if !segment.IsValid() {
		return fmt.Errorf("%w: segment %q", domain.ErrInvalidInput, segment)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("append to snapshot: %w", domain.ErrClosed)
	}

	err := s.queue.SendUnless(ctx, domain.Record{Segment: segment, Body: doc.Body}, s.failed)
	if errors.Is(err, errStopped) {
		return s.Err()
	}
	return err
}

// Close stops accepting documents, waits for queued ones to be appended
// and closes the log. It returns the first append or close error.
// Calling Close again is a no-op.
func (s *SnapshotSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue.Close()
	s.mu.Unlock()

	<-s.done

	var errs []error
	if err := s.Err(); err != nil {
		errs = append(errs, err)
	}
	if err := s.log.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close snapshot log: %w", err))
	}
	return errors.Join(errs...)
}

// Delete closes the sink if needed and removes everything appended.
// Calling Delete again is a no-op.
func (s *SnapshotSink) Delete(ctx context.Context) error {
	// Close errors are irrelevant once the records are being discarded.
	_ = s.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return nil
	}
	s.deleted = true

	if err := s.log.Delete(ctx); err != nil {
		return fmt.Errorf("delete snapshot log: %w", err)
	}
	logger.Debug("snapshot deleted after %d bulk and %d tail records", s.bulk.Load(), s.tail.Load())
	return nil
}

// Err returns the append error that stopped the worker, if any.
func (s *SnapshotSink) Err() error {
	select {
	case <-s.failed:
		return s.err
	default:
		return nil
	}
}

// BulkCount returns the number of bulk records appended.
func (s *SnapshotSink) BulkCount() int64 {
	return s.bulk.Load()
}

// TailCount returns the number of tail records appended.
func (s *SnapshotSink) TailCount() int64 {
	return s.tail.Load()
}

// Bytes returns the number of serialized bytes appended.
func (s *SnapshotSink) Bytes() int64 {
	return s.bytes.Load()
}

// QueuePeak returns the deepest the append queue has been.
func (s *SnapshotSink) QueuePeak() int {
	return s.queue.Peak()
}

// QueueCap returns the append queue capacity.
func (s *SnapshotSink) QueueCap() int {
	return s.queue.Cap()
}

func (s *SnapshotSink) run(ctx context.Context) {
	defer close(s.done)

	var buf bytes.Buffer
	for rec := range s.queue.C() {
		if s.Err() != nil {
			// Drain so blocked producers are released.
			continue
		}

		buf.Reset()
		if err := json.Compact(&buf, rec.Body); err != nil {
			s.fail(fmt.Errorf("serialize document: %w", err))
			continue
		}

		if err := s.log.Append(ctx, rec.Segment, buf.Bytes()); err != nil {
			s.fail(fmt.Errorf("append %s record: %w", rec.Segment, err))
			continue
		}

		s.bytes.Add(int64(buf.Len()))
		if rec.Segment == domain.SegmentBulk {
			s.bulk.Add(1)
		} else {
			s.tail.Add(1)
		}
	}
}

func (s *SnapshotSink) fail(err error) {
	s.failOnce.Do(func() {
		s.err = err
		close(s.failed)
		logger.Warn("snapshot sink failed: %v", err)
	})
}
