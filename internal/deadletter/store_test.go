package deadletter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rzbill/pcs/internal/queue"
	pebblestore "github.com/rzbill/pcs/internal/storage/pebble"
)

func openDB(t *testing.T, dir string) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return db
}

func fill(t *testing.T, s *Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		msg := &queue.Message{ID: string(rune('a' + i)), DequeueCount: 5, Body: []byte(`{"type":"Ping"}`)}
		if err := s.Archive(context.Background(), msg, "Ping", "wi", errors.New("boom")); err != nil {
			t.Fatalf("archive: %v", err)
		}
	}
}

func TestArchiveAndList(t *testing.T) {
	db := openDB(t, t.TempDir())
	defer db.Close()
	s, err := Open(db, "q1", Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	fill(t, s, 5)

	page, next, err := s.List(ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].Seq != 1 || page[1].Seq != 2 || next != 2 {
		t.Fatalf("first page %+v next=%d", page, next)
	}
	if page[0].Type != "Ping" || page[0].Error != "boom" || page[0].DequeueCount != 5 || string(page[0].Body) != `{"type":"Ping"}` {
		t.Fatalf("entry %+v", page[0])
	}
	page, next, _ = s.List(ListOptions{After: next, Limit: 10})
	if len(page) != 3 || page[0].Seq != 3 || next != 0 {
		t.Fatalf("second page %+v next=%d", page, next)
	}
	rev, _, _ := s.List(ListOptions{Reverse: true, Limit: 2})
	if len(rev) != 2 || rev[0].Seq != 5 || rev[1].Seq != 4 {
		t.Fatalf("reverse %+v", rev)
	}
	if n, _ := s.Len(); n != 5 {
		t.Fatalf("len %d", n)
	}
}

func TestQueuesAreIsolated(t *testing.T) {
	db := openDB(t, t.TempDir())
	defer db.Close()
	a, _ := Open(db, "a", Options{})
	b, _ := Open(db, "ab", Options{})
	fill(t, a, 2)
	fill(t, b, 1)
	if n, _ := a.Len(); n != 2 {
		t.Fatalf("a len %d", n)
	}
	if n, _ := b.Len(); n != 1 {
		t.Fatalf("b len %d", n)
	}
}

func TestSequencesSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	db := openDB(t, dir)
	s, _ := Open(db, "q", Options{})
	fill(t, s, 2)
	_ = db.Close()

	db = openDB(t, dir)
	defer db.Close()
	s, err := Open(db, "q", Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	seq, err := s.Add(context.Background(), Entry{MessageID: "z"})
	if err != nil || seq != 3 {
		t.Fatalf("seq after reopen %d %v", seq, err)
	}
}

func TestRequeueAndRemove(t *testing.T) {
	db := openDB(t, t.TempDir())
	defer db.Close()
	s, _ := Open(db, "q", Options{})
	fill(t, s, 2)
	q := queue.NewMemory()
	ctx := context.Background()

	if _, err := s.Requeue(ctx, 1, q); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	msg, err := q.Receive(ctx, time.Minute)
	if err != nil || msg == nil || string(msg.Body) != `{"type":"Ping"}` || msg.DequeueCount != 1 {
		t.Fatalf("requeued message %+v %v", msg, err)
	}
	if _, err := s.Get(1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("entry still present: %v", err)
	}
	if err := s.Remove(2); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Remove(2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second remove: %v", err)
	}
	if _, err := s.Requeue(ctx, 42, q); !errors.Is(err, ErrNotFound) {
		t.Fatalf("requeue unknown: %v", err)
	}
}

func TestTrimOlderThan(t *testing.T) {
	db := openDB(t, t.TempDir())
	defer db.Close()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _ := Open(db, "q", Options{Now: func() time.Time { return now }})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := s.Add(ctx, Entry{MessageID: "m"}); err != nil {
			t.Fatalf("add: %v", err)
		}
		now = now.Add(time.Hour)
	}
	// entries at 00:00..04:00; keep 03:00 and later
	n, err := s.TrimOlderThan(ctx, time.Date(2025, 1, 1, 3, 0, 0, 0, time.UTC), 2)
	if err != nil || n != 3 {
		t.Fatalf("trimmed %d %v", n, err)
	}
	left, _, _ := s.List(ListOptions{})
	if len(left) != 2 || left[0].Seq != 4 {
		t.Fatalf("left %+v", left)
	}
}

func TestCorruptEntryDetected(t *testing.T) {
	val, err := encodeEntry(Entry{Seq: 1, MessageID: "m", Body: []byte("body")})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if e, err := decodeEntry(val); err != nil || string(e.Body) != "body" {
		t.Fatalf("decode: %+v %v", e, err)
	}
	val[len(val)-5] ^= 0xff
	if _, err := decodeEntry(val); !errors.Is(err, errCorrupt) {
		t.Fatalf("expected corrupt, got %v", err)
	}
	if _, err := decodeEntry([]byte{1}); !errors.Is(err, errCorrupt) {
		t.Fatalf("short value: %v", err)
	}
}
