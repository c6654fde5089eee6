// Package store provides SQLite-backed durable storage for simulations.
//
// Four tables make up a run:
//   - scenarios: scenario documents, keyed by a content hash
//   - executions: one row per simulation run and its final outcome
//   - external_events: the ordered input log of an execution
//   - activities: the activity ledger of an execution
//
// A run is reproducible from its scenario and external-event log alone;
// the stored ledger is the record a replay is checked against.
//
// # Ordering
//
// Reads order by seq, never by tick or rowid, so a stored ledger reads
// back in the order it was written.
//
// # Idempotency
//
// Writes use ON CONFLICT DO NOTHING. Saving the same scenario twice, or
// re-appending a ledger after a crash, is a no-op for existing rows.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package store
