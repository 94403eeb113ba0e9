package id

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"sync"
	"time"
)

// ErrInvalidID is returned by Parse for strings that are not 32 hex digits.
var ErrInvalidID = errors.New("id: invalid id")

// ID is a queue message id: [8 ms][4 node][4 counter], big-endian.
type ID [16]byte

// String returns the 32-character lowercase hex form.
func (i ID) String() string { return hex.EncodeToString(i[:]) }

// Millis returns the embedded millisecond timestamp.
func (i ID) Millis() int64 { return int64(binary.BigEndian.Uint64(i[0:8])) }

// Node returns the generator tag of the process that minted i.
func (i ID) Node() uint32 { return binary.BigEndian.Uint32(i[8:12]) }

// Parse decodes the String form.
func Parse(s string) (ID, error) {
	var out ID
	if len(s) != 2*len(out) {
		return out, ErrInvalidID
	}
	if _, err := hex.Decode(out[:], []byte(s)); err != nil {
		return out, ErrInvalidID
	}
	return out, nil
}

// Generator mints ids that increase strictly within one process. The random
// node tag keeps ids from two workers sharing a Redis queue apart even when
// they are minted in the same millisecond.
type Generator struct {
	now  func() time.Time
	node uint32

	mu     sync.Mutex
	lastMs int64
	count  uint32
}

// NewGenerator returns a generator reading now, or the wall clock when nil.
func NewGenerator(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		binary.BigEndian.PutUint32(b[:], uint32(time.Now().UnixNano()))
	}
	return &Generator{now: now, node: binary.BigEndian.Uint32(b[:])}
}

// Next returns a new id. A clock that goes backwards is pinned to the last
// millisecond seen; a counter that runs out borrows the next millisecond.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	switch {
	case ms > g.lastMs:
		g.count = 0
	case g.count == math.MaxUint32:
		ms = g.lastMs + 1
		g.count = 0
	default:
		ms = g.lastMs
		g.count++
	}
	g.lastMs = ms

	var out ID
	binary.BigEndian.PutUint64(out[0:8], uint64(ms))
	binary.BigEndian.PutUint32(out[8:12], g.node)
	binary.BigEndian.PutUint32(out[12:16], g.count)
	return out
}
