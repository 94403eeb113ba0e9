package workqueue

import "testing"

func TestRecordRoundTripAndCorruption(t *testing.T) {
	h := recordHeader{DequeueCount: 3, PopReceipt: "r", InsertedAtMs: 10, VisibleAtMs: 20}
	b, err := encodeRecord(h, []byte("body"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, body, ok := decodeRecord(b)
	if !ok || got != h || string(body) != "body" {
		t.Fatalf("decode: %+v %q %v", got, body, ok)
	}
	b[len(b)-5] ^= 0xff
	if _, _, ok := decodeRecord(b); ok {
		t.Fatalf("expected checksum failure")
	}
	if _, _, ok := decodeRecord([]byte{0, 0, 0}); ok {
		t.Fatalf("expected short record failure")
	}
}
