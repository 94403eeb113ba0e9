// Package deadletter archives poison messages in Pebble before the consumer
// deletes them, so an operator can inspect, requeue or discard them later.
//
// Entries are append-only per queue and ordered by a big-endian sequence:
//
//	s, _ := deadletter.Open(db, "pcs-workitems", deadletter.Options{})
//	entries, next, _ := s.List(deadletter.ListOptions{Limit: 50, Reverse: true})
//	_, _ = s.Requeue(ctx, entries[0].Seq, q)
//	_, _ = s.TrimOlderThan(ctx, time.Now().Add(-7*24*time.Hour), 0)
package deadletter
