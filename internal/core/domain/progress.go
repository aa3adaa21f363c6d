package domain

import "time"

// ReplayEventKind is the type of observation emitted by the replay pipeline.
type ReplayEventKind string

// Replay observations.
const (
	EventQueued               ReplayEventKind = "queued"
	EventInserting            ReplayEventKind = "inserting"
	EventInserted             ReplayEventKind = "inserted"
	EventFailed               ReplayEventKind = "failed"
	EventThrottleWaitStarted  ReplayEventKind = "throttle_wait_started"
	EventThrottleWaitFinished ReplayEventKind = "throttle_wait_finished"
)

// ReplayEvent is one observation about a document moving through replay.
type ReplayEvent struct {
	// Kind is the observation type.
	Kind ReplayEventKind

	// CorrelationID is stable for one document across retries.
	CorrelationID string

	// DocumentID is the document identifier.
	DocumentID string

	// Attempt is the upsert attempt number, starting at 1.
	Attempt int

	// Elapsed is the upsert latency (inserted, failed) or the throttle
	// wait (throttle_wait_*).
	Elapsed time.Duration

	// Status carries the destination's status for failed upserts.
	Status string

	// Err is set on failed events when the upsert returned an error.
	Err error
}

// ReplayStats is a point-in-time view of replay progress.
type ReplayStats struct {
	// Queued is documents accepted by the pipeline but not yet upserting.
	Queued int64

	// Waiting is documents sleeping on a throttle delay.
	Waiting int64

	// Inserting is upserts currently in flight.
	Inserting int64

	// Inserted is documents written successfully.
	Inserted int64

	// Failed is documents dropped after a non-retryable rejection.
	Failed int64

	// Throttled counts rate-limit responses received.
	Throttled int64

	// AverageInsert is the mean latency of successful upserts.
	AverageInsert time.Duration

	// Elapsed is time since replay started.
	Elapsed time.Duration

	// Running is false once the pipeline has finished.
	Running bool
}

// CaptureStats is a point-in-time view of capture progress.
type CaptureStats struct {
	// SnapshotID identifies the snapshot being written.
	SnapshotID string

	// State is the capture lifecycle state.
	State ProcessorState

	// BulkCount is documents appended from the bulk scan.
	BulkCount int64

	// TailCount is documents appended from the change feed.
	TailCount int64

	// Throttled counts rate-limit responses from the source.
	Throttled int64

	// Elapsed is time since capture started.
	Elapsed time.Duration
}
