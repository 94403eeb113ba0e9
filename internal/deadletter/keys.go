package deadletter

import "encoding/binary"

// Keyspace (byte-wise sortable):
//   - dl/{queue}/m             last assigned seq
//   - dl/{queue}/e/{seq_be8}   entries

func queuePrefix(queue string) []byte {
	return []byte("dl/" + queue + "/")
}

func metaKey(queue string) []byte {
	return append(queuePrefix(queue), 'm')
}

func entryPrefix(queue string) []byte {
	return append(queuePrefix(queue), 'e', '/')
}

func entryKey(queue string, seq uint64) []byte {
	k := entryPrefix(queue)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return append(k, b[:]...)
}

// seqFromKey reads the trailing big-endian sequence of an entry key.
func seqFromKey(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key[len(key)-8:])
}
