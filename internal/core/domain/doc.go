// Package domain defines the core business entities for Carbon.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Document: A serialized JSON document with its identifier
//   - PartitionKeyPath: Where a container's partition key lives in a document
//   - Snapshot: Catalog record for a captured, append-only snapshot
//   - RetryDirective: A throttled write waiting to be resubmitted
//   - ProcessorState: Lifecycle of a snapshot capture
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
