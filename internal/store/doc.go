// Package store persists resources, their history and queued emails.
//
// DataStore is the contract the engine depends on. Implementations:
//   - Store: SQLite (mattn/go-sqlite3), embedded schema.sql plus
//     PRAGMA user_version migrations
//   - Memory: in-process maps behind one mutex, used by tests and the harness
//   - RedisStore: hashes per resource, WATCH/MULTI for conditional updates
//   - CachedStore: ristretto read cache in front of any of the above
//
// # Critical Patterns
//
// Conditional updates
//   - Every record carries a revision, bumped by each write
//   - CompareAndUpdate reads and writes in one atomic unit
//   - A revision mismatch is reported as ErrConflict, never retried
//
// Deterministic ordering
//   - List returns records in creation order
//   - GetHistory returns events in write order (ORDER BY seq ASC, id ASC)
//
// Idempotent history
//   - HistoryEvent IDs are content hashes (internal/ir/hash.go)
//   - Writing an event twice stores it once
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
