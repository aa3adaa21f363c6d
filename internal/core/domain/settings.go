package domain

import (
	"fmt"
	"time"
)

// SnapshotBackendType selects where snapshots are stored.
type SnapshotBackendType string

// Available snapshot backends.
const (
	// BackendFile stores bulk and tail segments as two JSONL files.
	BackendFile SnapshotBackendType = "file"

	// BackendFileSingle stores one JSONL file, bulk records then tail records.
	BackendFileSingle SnapshotBackendType = "file-single"

	// BackendSQLite stores records as rows in the local catalog database.
	BackendSQLite SnapshotBackendType = "sqlite"

	// BackendGCS stores chunk objects in a Google Cloud Storage bucket.
	BackendGCS SnapshotBackendType = "gcs"
)

// IsValid returns true if the backend is recognised.
func (b SnapshotBackendType) IsValid() bool {
	switch b {
	case BackendFile, BackendFileSingle, BackendSQLite, BackendGCS:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (b SnapshotBackendType) String() string {
	return string(b)
}

// Description returns a human-readable description of the backend.
func (b SnapshotBackendType) Description() string {
	switch b {
	case BackendFile:
		return "Local files (bulk.jsonl + tail.jsonl)"
	case BackendFileSingle:
		return "Local file (single sequential log)"
	case BackendSQLite:
		return "Local SQLite database"
	case BackendGCS:
		return "Google Cloud Storage bucket"
	default:
		return "Unknown"
	}
}

// Settings holds all user-configurable settings.
type Settings struct {
	Source      SourceSettings
	Destination DestinationSettings
	Snapshot    SnapshotSettings
	Pipeline    PipelineSettings
	Surreal     SurrealSettings
	Schedule    ScheduleSettings
}

// SourceSettings configures the container being captured.
type SourceSettings struct {
	// URL selects the database (memory://, sqlite://path, ws://host/rpc).
	URL string

	// Container is the source container name.
	Container string

	// Query is the bulk scan predicate; empty reads everything.
	Query string
}

// DestinationSettings configures the container being restored into.
type DestinationSettings struct {
	URL       string
	Container string

	// PartitionKeyPath of the new container; empty reuses the path
	// recorded with the snapshot.
	PartitionKeyPath string

	Throughput   int
	DropIfExists bool
}

// SnapshotSettings configures snapshot storage.
type SnapshotSettings struct {
	Backend     SnapshotBackendType
	Dir         string
	Bucket      string
	Prefix      string
	GCSEndpoint string
	GCSToken    string
}

// PipelineSettings holds channel capacities and retry tuning.
type PipelineSettings struct {
	// ReadCapacity bounds the capture queue feeding the sink.
	ReadCapacity int

	// WriteCapacity bounds the replay input and retry queues.
	WriteCapacity int

	// Parallelism is the number of concurrent upserts.
	Parallelism int

	// RetryDefault is used when a rate-limit response has no retry hint.
	RetryDefault time.Duration

	// PageSize is the number of documents requested per bulk page.
	PageSize int

	// MaxUpsertsPerSecond caps upserts proactively; 0 disables the cap.
	MaxUpsertsPerSecond float64
}

// SurrealSettings holds SurrealDB connection parameters.
type SurrealSettings struct {
	Namespace string
	Database  string
	Username  string
	Password  string
}

// ScheduleSettings configures repeated captures.
type ScheduleSettings struct {
	// Interval between captures; zero runs a single capture.
	Interval time.Duration

	// Keep is how many complete snapshots of the container to retain;
	// zero keeps all of them.
	Keep int
}

// DefaultSettings returns settings with sensible defaults.
func DefaultSettings() Settings {
	return Settings{
		Source: SourceSettings{
			URL: "memory://",
		},
		Destination: DestinationSettings{
			URL:        "memory://",
			Throughput: 400,
		},
		Snapshot: SnapshotSettings{
			Backend: BackendFile,
		},
		Pipeline: PipelineSettings{
			ReadCapacity:  100,
			WriteCapacity: 100,
			Parallelism:   3,
			RetryDefault:  DefaultRetryAfter,
			PageSize:      100,
		},
		Surreal: SurrealSettings{
			Namespace: "carbon",
			Database:  "carbon",
		},
		Schedule: ScheduleSettings{
			Keep: 5,
		},
	}
}

// Validate checks settings for values the pipeline cannot run with.
func (s Settings) Validate() error {
	if !s.Snapshot.Backend.IsValid() {
		return fmt.Errorf("%w: snapshot backend %q", ErrUnsupportedType, s.Snapshot.Backend)
	}
	if s.Snapshot.Backend == BackendGCS && s.Snapshot.Bucket == "" {
		return fmt.Errorf("%w: snapshot.bucket is required for the gcs backend", ErrInvalidInput)
	}
	if s.Pipeline.ReadCapacity <= 0 || s.Pipeline.WriteCapacity <= 0 {
		return fmt.Errorf("%w: channel capacities must be positive", ErrInvalidInput)
	}
	if s.Pipeline.Parallelism <= 0 {
		return fmt.Errorf("%w: parallelism must be positive", ErrInvalidInput)
	}
	if s.Schedule.Interval < 0 || s.Schedule.Keep < 0 {
		return fmt.Errorf("%w: schedule interval and keep must not be negative", ErrInvalidInput)
	}
	if s.Pipeline.PageSize <= 0 {
		return fmt.Errorf("%w: page size must be positive", ErrInvalidInput)
	}
	return nil
}

// ScheduleResult records one scheduled capture.
type ScheduleResult struct {
	SnapshotID string
	StartedAt  time.Time
	EndedAt    time.Time
	Pruned     int
	Err        error
}
