// Package stream delivers the change-data-capture log as ordered batches.
//
// A Source opens a Cursor at a Position: Live skips everything already in the
// log, After(seq) replays from the event following seq. Cursors deliver
// non-empty batches in seq order with at-least-once semantics; consumers
// persist the last seq of each handled batch to resume after failover.
package stream
