// Package order defines the work-order domain model shared by the store,
// the lifecycle engine and the channel synchronizer.
//
// The package is deliberately free of I/O. It holds:
//   - Entities: Order, MediaItem, Application, HistoryEntry
//   - The status transition table (CanTransition)
//   - The closed set of channel control actions (Action, ParseAction)
//   - The error taxonomy (Error, Code and the Err* sentinels)
//
// # Identity and versioning
//
// Order IDs are assigned by the store and never change. Version starts at 1
// and is incremented by exactly one on every committed lifecycle mutation;
// the store uses it for conditional (compare-and-swap) writes. Channel
// metadata (MessageRef, RenderedHash, SyncFailure) is written outside the
// versioned path and never bumps Version.
package order
