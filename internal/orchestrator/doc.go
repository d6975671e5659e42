// Package orchestrator owns the outbound batch lifecycle.
//
// States
//
//	Idle -> Sending -> {Paused <-> Sending} -> {Completed | Cancelled | Failed}
//
// The orchestrator submits a composed batch to the transport, then folds
// asynchronous per-message and per-batch events into a live progress
// aggregate and an append-only audit log. Folding is idempotent by message
// id and keeps sent + failed + pending == total after every event,
// including results that arrive after a cancel.
//
// Completion is decided exclusively by the local pending counter; the
// agent's BATCH_DONE signal alone is advisory. While a batch is active a
// watchdog re-probes agent presence so a lost channel fails the batch
// instead of stalling it.
package orchestrator
