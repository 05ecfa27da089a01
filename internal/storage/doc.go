// Package storage persists the job table and the delivery log.
//
// Drivers:
//   - "file": JSON snapshot (atomic rename) plus a JSON Lines delivery log
//   - "sqlite": one SQLite database (modernc.org/sqlite, WAL)
//   - "bolt": one bbolt database with a single writer goroutine
//   - "none": memory only; nothing survives a restart
package storage
