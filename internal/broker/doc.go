// Package broker implements the durable primitives every queue in ibrain is
// built on: a priority work queue with delayed delivery, leases, attempt
// tracking and a dead letter queue, plus an append-only event feed with
// durable per-group cursors. Both persist to a shared Pebble store.
//
// Ordering within a queue is by ascending priority value, then by enqueue
// sequence. Delayed and retried messages re-enter the priority index once
// their fire time passes. A message handed to a consumer is protected by a
// lease; leases that expire are swept back into availability.
package broker
