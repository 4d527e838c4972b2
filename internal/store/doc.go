// Package store provides SQLite-backed durable storage for orders.
//
// The store is the single source of truth. It holds:
//   - Orders: the versioned order rows
//   - Media items: immutable attachments created with their order
//   - Applications: claim attempts, UNIQUE(order_id, applicant_id)
//   - Status history: append-only transition log
//   - Operators: runtime operator grants on top of the configured lists
//
// # Critical Patterns
//
// Conditional writes:
//   - Every lifecycle mutation goes through UpdateOrderConditional, which
//     runs UPDATE ... WHERE id = ? AND version = ? and bumps version by one
//   - PublishDraft is the same conditional write for the draft flag; it adds
//     no history entry because status does not change
//   - Zero affected rows on an existing order means a concurrent writer won:
//     the call fails with order.ErrConflict and nothing is written
//   - The order row, its history entry and (for approvals) the application
//     decision commit in one transaction
//
// Idempotent inserts:
//   - CreateApplication uses ON CONFLICT(order_id, applicant_id) DO NOTHING
//     and returns the existing row with order.ErrAlreadyExists
//
// Channel metadata (message_ref, rendered_hash, rendered_version,
// sync_failure_*) is written by SetMessageRef, SetRenderedHash and
// RecordSyncFailure. These writes never touch version. message_ref is set
// at most once and never cleared; rendered_version never moves backwards.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Every call is bounded by the store timeout (WithTimeout, default 5s).
// Timeouts surface as errors; the store never retries.
package store
