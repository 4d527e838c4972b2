// Package channel mirrors orders onto a broadcast channel.
//
// The store is authoritative; the channel post is a derived view. A
// Synchronizer reads an order, renders it into a Payload, and either
// publishes a new post (no message ref yet) or edits the existing one.
// Every successful send records the payload hash on the order so that an
// unchanged rendering is never re-sent.
//
// # Delivery
//
// Transport calls are bounded by a per-call timeout and retried on
// TransientError with backoff (0.5s, 1s, 2s by default). FatalError is not
// retried. When a sync gives up the order is flagged with a SyncFailure and
// the caller receives order.ErrTransientSyncFailure or
// order.ErrFatalSyncFailure. The lifecycle transition that triggered the
// sync is never unwound.
//
// Syncs of the same order are serialized and concurrent identical requests
// share one execution.
//
// # Dispatch
//
// Inline runs syncs in the caller's goroutine. Worker queues them for a
// single Run loop, mirroring a single-writer event loop.
package channel
