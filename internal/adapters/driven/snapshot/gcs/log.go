package gcs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
)

// Ensure chunkLog implements the interface.
var _ driven.SnapshotLog = (*chunkLog)(nil)

// chunkBuffer accumulates records for one segment.
type chunkBuffer struct {
	buf     bytes.Buffer
	records int
	chunks  int
}

// chunkLog buffers appends per segment and uploads full chunks.
type chunkLog struct {
	backend  *Backend
	root     string
	writable bool

	mu     sync.Mutex
	bulk   chunkBuffer
	tail   chunkBuffer
	closed bool
}

func segmentDir(segment domain.Segment) string {
	if segment == domain.SegmentTail {
		return tailDir
	}
	return bulkDir
}

func (l *chunkLog) buffer(segment domain.Segment) *chunkBuffer {
	if segment == domain.SegmentTail {
		return &l.tail
	}
	return &l.bulk
}

// Append buffers a record, uploading the segment's chunk when it is full.
func (l *chunkLog) Append(ctx context.Context, segment domain.Segment, body []byte) error {
	if !segment.IsValid() {
		return fmt.Errorf("%w: segment %q", domain.ErrInvalidInput, segment)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || !l.writable {
		return fmt.Errorf("append to snapshot %s: %w", l.root, domain.ErrClosed)
	}

	cb := l.buffer(segment)
	if err := json.Compact(&cb.buf, body); err != nil {
		return fmt.Errorf("%w: snapshot record is not JSON: %v", domain.ErrInvalidInput, err)
	}
	cb.buf.WriteByte('\n')
	cb.records++

	if cb.records >= l.backend.opts.ChunkRecords {
		return l.flush(ctx, segment)
	}
	return nil
}

// flush uploads the segment's buffered records. Caller holds mu.
func (l *chunkLog) flush(ctx context.Context, segment domain.Segment) error {
	cb := l.buffer(segment)
	if cb.records == 0 {
		return nil
	}

	name := path.Join(l.root, segmentDir(segment), fmt.Sprintf("%06d.jsonl", cb.chunks+1))
	if err := l.backend.upload(ctx, name, chunkMimeType, cb.buf.Bytes()); err != nil {
		return err
	}
	cb.chunks++
	cb.records = 0
	cb.buf.Reset()
	return nil
}

// Enumerate downloads documents/ chunks, then changefeed/ chunks.
func (l *chunkLog) Enumerate(ctx context.Context) (<-chan domain.Record, <-chan error) {
	records := make(chan domain.Record)
	errs := make(chan error, 1)

	go func() {
		defer close(records)
		defer close(errs)

		for _, segment := range []domain.Segment{domain.SegmentBulk, domain.SegmentTail} {
			names, err := l.backend.list(ctx, path.Join(l.root, segmentDir(segment))+"/")
			if err != nil {
				errs <- err
				return
			}
			for _, name := range names {
				if err := l.readChunk(ctx, name, segment, records); err != nil {
					errs <- err
					return
				}
			}
		}
	}()

	return records, errs
}

func (l *chunkLog) readChunk(ctx context.Context, name string, segment domain.Segment, out chan<- domain.Record) error {
	resp, err := l.backend.service.Objects.Get(l.backend.opts.Bucket, name).Context(ctx).Download()
	if err != nil {
		return fmt.Errorf("downloading %s: %w", name, err)
	}
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	for {
		line, err := r.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			select {
			case out <- domain.Record{Segment: segment, Body: json.RawMessage(trimmed)}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
	}
}

// Delete removes every object of the snapshot.
func (l *chunkLog) Delete(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.bulk = chunkBuffer{}
	l.tail = chunkBuffer{}
	l.mu.Unlock()

	names, err := l.backend.list(ctx, l.root+"/")
	if err != nil {
		return err
	}
	var errs []error
	for _, name := range names {
		err := l.backend.service.Objects.Delete(l.backend.opts.Bucket, name).Context(ctx).Do()
		if err != nil && !isNotFound(err) {
			errs = append(errs, fmt.Errorf("deleting %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close uploads partially filled chunks.
func (l *chunkLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if !l.writable {
		return nil
	}

	ctx := context.Background()
	return errors.Join(l.flush(ctx, domain.SegmentBulk), l.flush(ctx, domain.SegmentTail))
}
