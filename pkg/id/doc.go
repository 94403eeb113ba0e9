// Package id mints the message ids used by the Pebble and Redis queue
// transports.
//
// An ID is 16 bytes: a millisecond timestamp, a random per-generator node tag
// and a counter, all big-endian. Byte order therefore follows mint order
// within a process, which the Pebble visibility index relies on for FIFO
// ties, and ids from different processes do not collide.
//
//	g := id.NewGenerator(nil)
//	mid := g.Next().String()
//	back, err := id.Parse(mid)
package id
