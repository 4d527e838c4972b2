// Package lifecycle implements the order state machine.
//
// Engine is the only component that changes order status. Every mutation
// follows the same shape:
//
//  1. run the guard chain (rate limit, static role, optional membership)
//  2. read the order and its version
//  3. validate the transition and the actor's dynamic permission
//     (claimant, creator)
//  4. write conditionally on the version read in step 2, together with the
//     history entry, in one store transaction
//  5. hand a sync job to the channel dispatcher
//
// A version mismatch in step 4 surfaces as order.ErrConflict. The engine
// never retries; the caller re-reads and decides. Channel failures after
// step 4 never unwind the committed transition.
//
// Applications are not transitions. Apply goes through the Deduplicator,
// which relies on the store's UNIQUE(order_id, applicant_id) constraint so
// repeated or concurrent applies by one actor yield one application.
package lifecycle
