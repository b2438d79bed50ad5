// Package storage persists the run history of scheduled jobs and the
// transitions of the actuator so they survive restarts.
//
// Drivers:
//   - "none" (default): nothing is stored; Open returns a nil Store
//   - "file": JSON Lines, compacted in place
//   - "sqlite": a SQLite database (modernc.org/sqlite, no cgo)
package storage
