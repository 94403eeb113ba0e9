package deadletter

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/pcs/internal/queue"
	pebblestore "github.com/rzbill/pcs/internal/storage/pebble"
	logpkg "github.com/rzbill/pcs/pkg/log"
)

// ErrNotFound is returned for an unknown sequence.
var ErrNotFound = errors.New("deadletter: entry not found")

// Entry is one poison message.
type Entry struct {
	Seq          uint64    `json:"seq"`
	MessageID    string    `json:"messageId"`
	Type         string    `json:"type,omitempty"`
	WorkItemID   string    `json:"workItemId,omitempty"`
	DequeueCount int64     `json:"dequeueCount"`
	Error        string    `json:"error,omitempty"`
	InsertedAt   time.Time `json:"insertedAt"`
	PoisonedAt   time.Time `json:"poisonedAt"`
	Body         []byte    `json:"-"`
}

// BodyJSON returns the body as raw JSON when it is valid JSON, else as a
// string.
func (e Entry) BodyJSON() any {
	if json.Valid(e.Body) {
		return json.RawMessage(e.Body)
	}
	return string(e.Body)
}

// Options configures a Store.
type Options struct {
	Now    func() time.Time
	Logger logpkg.Logger
}

// Store is the append-only dead-letter archive of one queue.
type Store struct {
	db     *pebblestore.DB
	queue  string
	now    func() time.Time
	logger logpkg.Logger

	mu      sync.Mutex
	lastSeq uint64
}

// Open loads the last sequence of queue's archive.
func Open(db *pebblestore.DB, queueName string, opts Options) (*Store, error) {
	if db == nil || queueName == "" {
		return nil, errors.New("deadletter: db and queue name are required")
	}
	s := &Store{db: db, queue: queueName, now: opts.Now, logger: opts.Logger}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = logpkg.NewLogger(logpkg.WithOutput(logpkg.NullOutput{}))
	}
	meta, err := db.Get(metaKey(queueName))
	switch {
	case err == nil && len(meta) >= 8:
		s.lastSeq = binary.BigEndian.Uint64(meta[:8])
	case err != nil && !errors.Is(err, pebblestore.ErrNotFound):
		return nil, err
	}
	return s, nil
}

// Add appends e and returns its sequence. PoisonedAt defaults to now.
func (s *Store) Add(ctx context.Context, e Entry) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.Seq = s.lastSeq + 1
	if e.PoisonedAt.IsZero() {
		e.PoisonedAt = s.now().UTC()
	}
	val, err := encodeEntry(e)
	if err != nil {
		return 0, err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(entryKey(s.queue, e.Seq), val, nil); err != nil {
		return 0, err
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], e.Seq)
	if err := b.Set(metaKey(s.queue), meta[:], nil); err != nil {
		return 0, err
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return 0, err
	}
	s.lastSeq = e.Seq
	return e.Seq, nil
}

// Archive records a poison message just before it is deleted from the queue.
func (s *Store) Archive(ctx context.Context, msg *queue.Message, typ, workItemID string, cause error) error {
	e := Entry{
		MessageID:    msg.ID,
		Type:         typ,
		WorkItemID:   workItemID,
		DequeueCount: msg.DequeueCount,
		InsertedAt:   msg.InsertedAt,
		Body:         msg.Body,
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	seq, err := s.Add(ctx, e)
	if err != nil {
		return err
	}
	s.logger.Debug("poison message archived", logpkg.Str("message_id", msg.ID), logpkg.Int64("seq", int64(seq)))
	return nil
}

// Get returns the entry at seq.
func (s *Store) Get(seq uint64) (Entry, error) {
	v, err := s.db.Get(entryKey(s.queue, seq))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	return decodeEntry(v)
}

// ListOptions pages through the archive. After is exclusive; zero starts at
// the oldest entry (newest with Reverse).
type ListOptions struct {
	After   uint64
	Limit   int
	Reverse bool
}

// List returns up to Limit entries and the cursor for the next page (zero
// when exhausted). Corrupt entries are skipped.
func (s *Store) List(opts ListOptions) ([]Entry, uint64, error) {
	prefix := entryPrefix(s.queue)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: pebblestore.PrefixUpperBound(prefix)})
	if err != nil {
		return nil, 0, err
	}
	defer iter.Close()

	var ok bool
	switch {
	case opts.Reverse && opts.After == 0:
		ok = iter.Last()
	case opts.Reverse:
		ok = iter.SeekLT(entryKey(s.queue, opts.After))
	case opts.After == 0:
		ok = iter.First()
	default:
		ok = iter.SeekGE(entryKey(s.queue, opts.After+1))
	}
	step := iter.Next
	if opts.Reverse {
		step = iter.Prev
	}

	out := []Entry{}
	for ; ok; ok = step() {
		if opts.Limit > 0 && len(out) == opts.Limit {
			return out, out[len(out)-1].Seq, nil
		}
		e, err := decodeEntry(iter.Value())
		if err != nil {
			s.logger.Warn("skipping corrupt dead-letter entry", logpkg.Int64("seq", int64(seqFromKey(iter.Key()))))
			continue
		}
		e.Seq = seqFromKey(iter.Key())
		out = append(out, e)
	}
	return out, 0, iter.Error()
}

// Len counts archived entries.
func (s *Store) Len() (int, error) {
	n := 0
	err := s.db.ScanPrefix(entryPrefix(s.queue), func(_, _ []byte) bool {
		n++
		return true
	})
	return n, err
}

// Remove deletes the entry at seq.
func (s *Store) Remove(seq uint64) error {
	if _, err := s.Get(seq); err != nil {
		return err
	}
	return s.db.Delete(entryKey(s.queue, seq))
}

// Requeue sends the archived body back to the queue as a new message and
// removes the entry. The new message starts with a zero dequeue count.
func (s *Store) Requeue(ctx context.Context, seq uint64, sender queue.Sender) (string, error) {
	e, err := s.Get(seq)
	if err != nil {
		return "", err
	}
	id, err := sender.Send(ctx, e.Body, 0)
	if err != nil {
		return "", fmt.Errorf("deadletter: requeue %d: %w", seq, err)
	}
	if err := s.db.Delete(entryKey(s.queue, seq)); err != nil {
		// the message is back on the queue; a leftover entry only risks a
		// second manual requeue
		s.logger.Warn("requeued entry not removed", logpkg.Int64("seq", int64(seq)), logpkg.Err(err))
	}
	return id, nil
}

// TrimOlderThan deletes entries poisoned before cutoff, oldest first, in
// batches of up to batchLimit keys. Entries are appended in time order, so
// the scan stops at the first newer entry. Corrupt entries are dropped.
func (s *Store) TrimOlderThan(ctx context.Context, cutoff time.Time, batchLimit int) (int, error) {
	if batchLimit <= 0 {
		batchLimit = 1024
	}
	prefix := entryPrefix(s.queue)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: pebblestore.PrefixUpperBound(prefix)})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	deleted := 0
	for ok := iter.First(); ok; {
		b := s.db.NewBatch()
		n := 0
		for ok && n < batchLimit {
			e, derr := decodeEntry(iter.Value())
			if derr == nil && !e.PoisonedAt.Before(cutoff) {
				ok = false
				break
			}
			if err := b.Delete(iter.Key(), nil); err != nil {
				b.Close()
				return deleted, err
			}
			n++
			ok = iter.Next()
		}
		if n > 0 {
			if err := s.db.CommitBatch(ctx, b); err != nil {
				b.Close()
				return deleted, err
			}
			deleted += n
		}
		b.Close()
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
	}
	return deleted, nil
}
