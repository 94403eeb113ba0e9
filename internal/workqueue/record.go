package workqueue

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
)

// Stored record: headerLen(4B BE) | header | body | crc32c(header|body)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// recordHeader is the mutable delivery state kept next to the body.
type recordHeader struct {
	DequeueCount int64  `json:"dc"`
	PopReceipt   string `json:"pr,omitempty"`
	InsertedAtMs int64  `json:"ins"`
	VisibleAtMs  int64  `json:"vis"`
}

func encodeRecord(h recordHeader, body []byte) ([]byte, error) {
	header, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4, 4+len(header)+len(body)+4)
	binary.BigEndian.PutUint32(out, uint32(len(header)))
	out = append(out, header...)
	out = append(out, body...)
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, body)
	return binary.BigEndian.AppendUint32(out, crc), nil
}

// decodeRecord verifies the checksum and returns copies of header and body.
func decodeRecord(b []byte) (recordHeader, []byte, bool) {
	var h recordHeader
	if len(b) < 8 {
		return h, nil, false
	}
	hlen := int(binary.BigEndian.Uint32(b[:4]))
	if 4+hlen+4 > len(b) {
		return h, nil, false
	}
	header := b[4 : 4+hlen]
	body := b[4+hlen : len(b)-4]
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, body)
	if crc != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return h, nil, false
	}
	if err := json.Unmarshal(header, &h); err != nil {
		return h, nil, false
	}
	return h, append([]byte(nil), body...), true
}
