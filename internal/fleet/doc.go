// Package fleet is the authoritative state store for the agent fleet.
//
// # Overview
//
// The Store owns four collections: running agent instances, the task
// queue, the alert log, and the derived metrics snapshot. Every mutation
// goes through one mutex, so concurrent callers never observe a partial
// update and DequeueTask hands each task to exactly one caller.
//
// # Instance Lifecycle
//
// Instances move through a fixed state machine:
//
//	spawning -> idle <-> working -> retiring (removed)
//
// Failures set error via an explicit operator-visible edge; error does not
// auto-recover and can only be retired. UpdateInstanceStatus rejects any
// undefined edge with ErrInvalidTransition. Retirement deletes the record:
// in-flight actions are not cancelled, the instance just stops resolving.
//
// # Task Queue
//
// Tasks dequeue in strict priority bucket order (critical, high, normal,
// low) and FIFO within a bucket. DequeueTask flips queued -> routed as part
// of the read, under the store lock, so delivery is exactly-once.
//
// # Accounting
//
// UpdateInstanceCost adds token/cost deltas to the instance record and to
// fleet-wide daily accumulators; both only grow. Metrics is recomputed on
// demand from the live collections rather than stored counters, so it can
// never drift from instance state.
package fleet
