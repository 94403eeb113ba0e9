// Package workqueue is the Pebble-backed queue transport.
//
// Each message is one CRC32C-framed record plus one entry in a visibility
// index ordered by the instant the message may next be received. Receive
// takes the first index entry at or before now, bumps the dequeue count,
// issues a fresh pop receipt and re-indexes the entry at now+timeout, so an
// unacknowledged message reappears on its own without a sweeper.
//
// # Keyspace
//
// All keys are prefixed with q/{name}/:
//
//	msg/{id}                  - record: header {dc, pr, ins, vis} + body
//	vis/{visible_at_ms}/{id}  - visibility index (empty value)
//
// Message ids are pkg/id values rendered as 32 hex characters.
package workqueue
