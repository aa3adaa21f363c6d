package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType indicates an unknown backend or database scheme.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrRateLimited indicates the backend asked the caller to retry later.
	ErrRateLimited = errors.New("rate limited")

	// ErrClosed indicates an operation on a closed sink, log or writer.
	ErrClosed = errors.New("closed")

	// Capture Errors.

	// ErrCaptureInProgress indicates a capture is already running.
	ErrCaptureInProgress = errors.New("capture in progress")

	// ErrCaptureCancelled indicates a capture was cancelled and its
	// partial snapshot discarded.
	ErrCaptureCancelled = errors.New("capture cancelled")

	// ErrWaitTimeout indicates a wait for capture completion timed out.
	// The capture itself keeps running.
	ErrWaitTimeout = errors.New("wait timed out")

	// Replay Errors.

	// ErrSnapshotIncomplete indicates a snapshot that did not finish capturing.
	// Incomplete snapshots are never replayed.
	ErrSnapshotIncomplete = errors.New("snapshot incomplete")

	// ErrNoPartitionKey indicates a document has no value at the
	// container's partition key path.
	ErrNoPartitionKey = errors.New("no partition key")
)
