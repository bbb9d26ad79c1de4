// Package engine implements the scan state machine.
//
// The engine is the single owner of scan state. Live frames and still-image
// results arrive from their own goroutines; both are marshalled through one
// FIFO queue into the Run loop, which is the only code that reads or writes
// state.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Run() dequeues one event at a time and applies it. This gives:
//   - a total order over competing producers (arrival order at the queue)
//   - first-accepted-wins once the lock is set
//   - no locking around state itself
//
// State Table:
//
//	scanning     --detect-->    processing   (one-shot: lock, stop capture, code callback)
//	scanning     --deny-->      unauthorized (stop capture, error callback)
//	scan/proc/nf --fail-->      not_found    (lock, stop capture, arm expiry timer)
//	not_found    --expire-->    scanning     (unlock, resume capture)
//	processing   --reset-->     scanning     (unlock, resume capture)
//	unauthorized --authorize--> scanning     (resume capture)
//
// Any detection while locked is discarded without a callback. Processing is
// never left automatically; only not_found heals on its own.
//
// Teardown:
// Stop() bumps the epoch and closes the queue. Events still queued are
// discarded, and image tickets issued before the bump no longer match, so
// nothing reaches state or callbacks after teardown.
package engine
