// Package queue defines the at-least-once queue contract the work item
// consumer is written against, plus an in-process implementation.
//
// A received message is hidden from other receivers for the visibility
// timeout passed to Receive. Delete acknowledges it and requires the pop
// receipt from the most recent Receive; a stale receipt is rejected with
// ErrReceiptMismatch. A message that is not deleted becomes visible again
// once its timeout lapses, with DequeueCount incremented on the next Receive.
//
// Implementations: Memory (this package), internal/workqueue (Pebble) and
// internal/redisqueue (Redis).
package queue
