package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Segment identifies which part of a snapshot a record belongs to.
type Segment string

// Snapshot segments. On replay every bulk record is applied before any
// tail record, so the tail's newer state wins for a repeated identifier.
const (
	// SegmentBulk holds documents from the paginated point-in-time scan.
	SegmentBulk Segment = "bulk"

	// SegmentTail holds documents from the change feed during the scan.
	SegmentTail Segment = "tail"
)

// IsValid returns true if the segment is recognised.
func (s Segment) IsValid() bool {
	return s == SegmentBulk || s == SegmentTail
}

// String returns the string representation.
func (s Segment) String() string {
	return string(s)
}

// Record is one serialized document as stored in a snapshot log.
type Record struct {
	Segment Segment
	Body    json.RawMessage
}

// SnapshotState is the catalog state of a snapshot.
type SnapshotState string

// Snapshot states.
const (
	SnapshotInProgress SnapshotState = "in_progress"
	SnapshotComplete   SnapshotState = "complete"
	SnapshotCancelled  SnapshotState = "cancelled"
	SnapshotFailed     SnapshotState = "failed"
)

// IsValid returns true if the snapshot state is recognised.
func (s SnapshotState) IsValid() bool {
	switch s {
	case SnapshotInProgress, SnapshotComplete, SnapshotCancelled, SnapshotFailed:
		return true
	default:
		return false
	}
}

// Snapshot is the catalog entry describing a captured snapshot.
type Snapshot struct {
	// ID is the unique snapshot identifier.
	ID string

	// Container is the source container name.
	Container string

	// PartitionKeyPath is the source container's partition key path,
	// reused as the default when restoring.
	PartitionKeyPath PartitionKeyPath

	// Backend names the log backend holding the records.
	Backend string

	// Location is the backend-specific address (directory, bucket prefix, ...).
	Location string

	// State tracks whether the snapshot may be replayed.
	State SnapshotState

	// BulkCount is the number of documents written by the bulk scan.
	BulkCount int64

	// TailCount is the number of documents written from the change feed.
	TailCount int64

	// SizeBytes is the total serialized size appended.
	SizeBytes int64

	// StartedAt is when the capture began.
	StartedAt time.Time

	// CompletedAt is when the capture finished; zero while in progress.
	CompletedAt time.Time
}

// Restorable reports an error unless the snapshot may be replayed.
func (s *Snapshot) Restorable() error {
	if s.State != SnapshotComplete {
		return fmt.Errorf("%w: snapshot %s is %s", ErrSnapshotIncomplete, s.ID, s.State)
	}
	return nil
}

// Total returns the number of records in both segments.
func (s *Snapshot) Total() int64 {
	return s.BulkCount + s.TailCount
}

// Duration returns how long the capture took, or zero if unfinished.
func (s *Snapshot) Duration() time.Duration {
	if s.CompletedAt.IsZero() {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt)
}
