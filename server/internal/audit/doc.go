// Package audit moves audit events from the control pipeline to the ledger
// without ever blocking the pipeline.
//
// Emit enqueues into a bounded queue; when the queue is full the oldest
// pending event is evicted so the newest is always kept. A single worker
// started by Run appends queued events to the ledger, each under its own
// timeout. Append failures are logged and counted, never returned.
//
// Successfully appended events, with their ledger IDs, are handed to every
// registered Subscriber.
package audit
