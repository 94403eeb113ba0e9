package deadletter

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"
)

// Stored value: uvarint metaLen | meta (JSON) | body | crc32c(meta|body).
// The body is kept verbatim so a requeue sends exactly what was received.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

var errCorrupt = errors.New("deadletter: corrupt entry")

func encodeEntry(e Entry) ([]byte, error) {
	meta, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, binary.MaxVarintLen64+len(meta)+len(e.Body)+4)
	out = binary.AppendUvarint(out, uint64(len(meta)))
	out = append(out, meta...)
	out = append(out, e.Body...)
	crc := crc32.Update(0, castagnoli, meta)
	crc = crc32.Update(crc, castagnoli, e.Body)
	return binary.BigEndian.AppendUint32(out, crc), nil
}

func decodeEntry(b []byte) (Entry, error) {
	mlen, n := binary.Uvarint(b)
	if n <= 0 || n+int(mlen)+4 > len(b) {
		return Entry{}, errCorrupt
	}
	meta := b[n : n+int(mlen)]
	body := b[n+int(mlen) : len(b)-4]
	crc := crc32.Update(0, castagnoli, meta)
	crc = crc32.Update(crc, castagnoli, body)
	if crc != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return Entry{}, errCorrupt
	}
	var e Entry
	if err := json.Unmarshal(meta, &e); err != nil {
		return Entry{}, errCorrupt
	}
	e.Body = append([]byte(nil), body...)
	return e, nil
}
