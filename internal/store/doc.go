// Package store provides SQLite-backed durable storage for the playbook engine.
//
// The store holds:
//   - Playbooks: definitions and the running flag (read-only to the engine)
//   - Stream events: the change-data-capture log, ordered by seq
//   - Stream checkpoints: last processed seq per consumer name
//   - Observations: per-step telemetry, an append-only log plus a
//     last-write-wins index keyed by (playbook_id, step_key)
//   - Leases: named mutual-exclusion leases with expiry
//   - Callbacks: branches suspended by non-internal components
//
// # Ordering
//
// Queries that return lists are ordered deterministically (seq or id ASC) so
// repeated reads of the same data produce identical results.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Timestamps are stored as unix nanoseconds in UTC.
package store
