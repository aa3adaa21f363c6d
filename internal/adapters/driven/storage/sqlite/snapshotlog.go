package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
)

// Ensure SnapshotBackend implements the interface.
var _ driven.SnapshotBackend = (*SnapshotBackend)(nil)

// Ensure snapshotLog implements the interface.
var _ driven.SnapshotLog = (*snapshotLog)(nil)

// appendBatchSize is the number of records written per transaction.
const appendBatchSize = 500

// enumeratePageSize is the number of records read per query.
const enumeratePageSize = 1000

// SnapshotBackend stores snapshot records as rows ordered by segment and
// sequence number, so enumeration returns bulk records before tail records.
type SnapshotBackend struct {
	store *Store
}

// Name returns the backend type.
func (b *SnapshotBackend) Name() domain.SnapshotBackendType {
	return domain.BackendSQLite
}

// Location returns the database path and snapshot id.
func (b *SnapshotBackend) Location(snapshotID string) string {
	return b.store.path + "#" + snapshotID
}

// Create registers a new, empty log.
func (b *SnapshotBackend) Create(ctx context.Context, snapshotID string) (driven.SnapshotLog, error) {
	_, err := b.store.db.ExecContext(ctx, "INSERT INTO snapshot_logs (snapshot_id) VALUES (?)", snapshotID)
	if err != nil {
		var exists int
		if row := b.store.db.QueryRowContext(ctx, "SELECT 1 FROM snapshot_logs WHERE snapshot_id = ?", snapshotID); row.Scan(&exists) == nil {
			return nil, fmt.Errorf("snapshot log %s: %w", snapshotID, domain.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("creating snapshot log: %w", err)
	}
	return &snapshotLog{store: b.store, id: snapshotID}, nil
}

// Open opens an existing log.
func (b *SnapshotBackend) Open(ctx context.Context, snapshotID string) (driven.SnapshotLog, error) {
	var exists int
	err := b.store.db.QueryRowContext(ctx, "SELECT 1 FROM snapshot_logs WHERE snapshot_id = ?", snapshotID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot log %s: %w", snapshotID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("opening snapshot log: %w", err)
	}

	log := &snapshotLog{store: b.store, id: snapshotID, readOnly: true}
	return log, nil
}

type pendingRecord struct {
	segment int
	seq     int64
	body    []byte
}

// snapshotLog buffers appends and writes them in batched transactions.
type snapshotLog struct {
	store    *Store
	id       string
	readOnly bool

	mu      sync.Mutex
	pending []pendingRecord
	seq     [2]int64
	closed  bool
}

func segmentOrdinal(segment domain.Segment) (int, error) {
	switch segment {
	case domain.SegmentBulk:
		return 0, nil
	case domain.SegmentTail:
		return 1, nil
	default:
		return 0, fmt.Errorf("%w: segment %q", domain.ErrInvalidInput, segment)
	}
}

func segmentFromOrdinal(n int) domain.Segment {
	if n == 0 {
		return domain.SegmentBulk
	}
	return domain.SegmentTail
}

// Append buffers a record, flushing a full batch.
func (l *snapshotLog) Append(ctx context.Context, segment domain.Segment, body []byte) error {
	ordinal, err := segmentOrdinal(segment)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.readOnly {
		return fmt.Errorf("append to snapshot log: %w", domain.ErrClosed)
	}

	l.seq[ordinal]++
	l.pending = append(l.pending, pendingRecord{
		segment: ordinal,
		seq:     l.seq[ordinal],
		body:    append([]byte(nil), body...),
	})
	if len(l.pending) >= appendBatchSize {
		return l.flush(ctx)
	}
	return nil
}

// flush writes pending records in one transaction. Caller holds mu.
func (l *snapshotLog) flush(ctx context.Context) error {
	if len(l.pending) == 0 {
		return nil
	}

	tx, err := l.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO snapshot_records (snapshot_id, segment, seq, body) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range l.pending {
		if _, err := stmt.ExecContext(ctx, l.id, rec.segment, rec.seq, rec.body); err != nil {
			return fmt.Errorf("inserting snapshot record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot records: %w", err)
	}
	l.pending = l.pending[:0]
	return nil
}

// Enumerate streams records page by page in (segment, seq) order.
func (l *snapshotLog) Enumerate(ctx context.Context) (<-chan domain.Record, <-chan error) {
	records := make(chan domain.Record)
	errs := make(chan error, 1)

	go func() {
		defer close(records)
		defer close(errs)

		segment, seq := -1, int64(0)
		for {
			page, err := l.readPage(ctx, segment, seq)
			if err != nil {
				errs <- err
				return
			}
			for _, rec := range page {
				select {
				case records <- domain.Record{Segment: segmentFromOrdinal(rec.segment), Body: rec.body}:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
				segment, seq = rec.segment, rec.seq
			}
			if len(page) < enumeratePageSize {
				return
			}
		}
	}()

	return records, errs
}

// readPage returns records after (segment, seq).
func (l *snapshotLog) readPage(ctx context.Context, segment int, seq int64) ([]pendingRecord, error) {
	rows, err := l.store.db.QueryContext(ctx, `
		SELECT segment, seq, body FROM snapshot_records
		WHERE snapshot_id = ? AND (segment > ? OR (segment = ? AND seq > ?))
		ORDER BY segment, seq
		LIMIT ?
	`, l.id, segment, segment, seq, enumeratePageSize)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot records: %w", err)
	}
	defer rows.Close()

	var page []pendingRecord
	for rows.Next() {
		var rec pendingRecord
		if err := rows.Scan(&rec.segment, &rec.seq, &rec.body); err != nil {
			return nil, fmt.Errorf("scanning snapshot record: %w", err)
		}
		page = append(page, rec)
	}
	return page, rows.Err()
}

// Delete drops buffered and stored records and the log itself.
func (l *snapshotLog) Delete(ctx context.Context) error {
	l.mu.Lock()
	l.pending = nil
	l.mu.Unlock()

	_, err := l.store.db.ExecContext(ctx, "DELETE FROM snapshot_logs WHERE snapshot_id = ?", l.id)
	if err != nil {
		return fmt.Errorf("deleting snapshot log: %w", err)
	}
	return nil
}

// Close flushes buffered records.
func (l *snapshotLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.flush(context.Background())
}
