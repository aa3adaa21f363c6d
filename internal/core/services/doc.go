// Package services implements the driving port interfaces.
// Services contain the core business logic and orchestrate
// calls to driven ports (adapters).
//
// Capture and replay are built from bounded stages connected by
// channels. Every stage takes a context and stops promptly when it is
// cancelled:
//
//   - BulkReader: paged scan that never advances past a throttled page
//   - ChangeFeedTailer: forwards change feed batches into the sink
//   - SnapshotSink: single-writer append pipeline in front of a log
//   - SnapshotProcessor: capture state machine over the three above
//   - ContainerWriter: throttle-aware replay into a destination
//
// Services are pure Go with no CGO.
package services
