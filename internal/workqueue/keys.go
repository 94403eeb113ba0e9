package workqueue

import (
	"encoding/binary"
)

// Key prefixes under q/{name}/.
const (
	prefixMsg = "msg/" // message record
	prefixVis = "vis/" // visibility index
)

// queuePrefix returns the base prefix for a queue.
// Format: q/{name}/
func queuePrefix(name string) string {
	return "q/" + name + "/"
}

// msgKey returns the record key for a message.
// Format: q/{name}/msg/{id}
func msgKey(name string, id [16]byte) []byte {
	prefix := queuePrefix(name) + prefixMsg
	key := make([]byte, len(prefix)+16)
	copy(key, prefix)
	copy(key[len(prefix):], id[:])
	return key
}

// msgPrefix returns the prefix for scanning message records.
func msgPrefix(name string) []byte {
	return []byte(queuePrefix(name) + prefixMsg)
}

// visKey returns the visibility index key. Big-endian millis keep the index
// ordered by the instant a message becomes receivable; the id breaks ties in
// insertion order.
// Format: q/{name}/vis/{visible_at_ms}/{id}
func visKey(name string, visibleAtMs int64, id [16]byte) []byte {
	prefix := queuePrefix(name) + prefixVis
	key := make([]byte, len(prefix)+8+16)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(visibleAtMs))
	copy(key[len(prefix)+8:], id[:])
	return key
}

// visPrefix returns the prefix for scanning the visibility index.
func visPrefix(name string) []byte {
	return []byte(queuePrefix(name) + prefixVis)
}

// parseVisKey extracts the visible-at millis and id from an index key.
func parseVisKey(prefix, key []byte) (int64, [16]byte, bool) {
	var id [16]byte
	if len(key) != len(prefix)+8+16 {
		return 0, id, false
	}
	ms := int64(binary.BigEndian.Uint64(key[len(prefix) : len(prefix)+8]))
	copy(id[:], key[len(prefix)+8:])
	return ms, id, true
}
