// Package sqlite provides SQLite-based implementations of driven port interfaces.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO, enabling easy cross-compilation. One database file serves three roles:
//
//   - SnapshotCatalog: snapshot metadata and states
//   - SnapshotBackend: snapshot records stored as rows (the "sqlite" backend)
//   - Database: local document containers with a change feed (sqlite:// URLs)
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files.
//
// # Data Location
//
// By default, the database is stored at ~/.carbon/data/carbon.db
//
// # Thread Safety
//
// All operations are thread-safe. The store uses database-level locking provided
// by SQLite in WAL mode. A write that times out on the lock is reported to the
// replay pipeline as a rate-limited upsert.
package sqlite
