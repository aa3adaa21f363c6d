// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - Database: Opens, creates and drops containers
//   - Container: Paged reads, change feed subscription and upserts
//   - SnapshotBackend: Creates and opens snapshot logs
//   - SnapshotLog: Append-only log of serialized documents
//   - SnapshotCatalog: Snapshot metadata persistence
//   - ConfigStore: Application configuration
//
// # Optional Interfaces
//
//   - ReplayObserver: Receives replay progress observations. A nil
//     observer is valid; the pipeline never waits on it.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter package
package driven
