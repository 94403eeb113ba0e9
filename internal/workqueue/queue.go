package workqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/rzbill/pcs/internal/queue"
	pebblestore "github.com/rzbill/pcs/internal/storage/pebble"
	logpkg "github.com/rzbill/pcs/pkg/log"
	"github.com/rzbill/pcs/pkg/id"
)

// WorkQueue is a durable queue stored in Pebble. All state transitions for
// one queue are serialized by a process-local mutex, so a queue must be
// opened by a single process at a time.
type WorkQueue struct {
	db     *pebblestore.DB
	name   string
	ids    *id.Generator
	logger logpkg.Logger
	now    func() time.Time

	mu sync.Mutex

	// compaction hint after many deletes
	deletes      int
	compactEvery int
}

var (
	_ queue.Queue              = (*WorkQueue)(nil)
	_ queue.VisibilityExtender = (*WorkQueue)(nil)
)

// Options tunes a WorkQueue.
type Options struct {
	// Now overrides the time source (tests).
	Now func() time.Time
	// Logger is optional.
	Logger logpkg.Logger
	// CompactEvery requests a range compaction of the queue's keyspace after
	// this many deletes. Zero uses 4096; negative disables.
	CompactEvery int
}

// Open binds a queue name to db.
func Open(db *pebblestore.DB, name string, opts Options) (*WorkQueue, error) {
	if db == nil {
		return nil, errors.New("workqueue: nil db")
	}
	if name == "" {
		return nil, errors.New("workqueue: queue name is required")
	}
	// keys are q/{name}/..., so "a" and "a/msg" would share a keyspace
	if strings.Contains(name, "/") {
		return nil, fmt.Errorf("workqueue: queue name %q must not contain '/'", name)
	}
	q := &WorkQueue{db: db, name: name, now: opts.Now, logger: opts.Logger, compactEvery: opts.CompactEvery}
	if q.now == nil {
		q.now = time.Now
	}
	q.ids = id.NewGenerator(q.now)
	if q.logger == nil {
		q.logger = logpkg.NewLogger(logpkg.WithOutput(logpkg.NullOutput{}))
	}
	q.logger = q.logger.With(logpkg.Component("workqueue"), logpkg.Str("queue", name))
	if q.compactEvery == 0 {
		q.compactEvery = 4096
	}
	return q, nil
}

// Name returns the queue name.
func (q *WorkQueue) Name() string { return q.name }

// Send implements queue.Sender.
func (q *WorkQueue) Send(ctx context.Context, body []byte, delay time.Duration) (string, error) {
	if delay < 0 {
		delay = 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	nowMs := q.now().UnixMilli()
	mid := q.ids.Next()
	h := recordHeader{InsertedAtMs: nowMs, VisibleAtMs: nowMs + delay.Milliseconds()}
	val, err := encodeRecord(h, body)
	if err != nil {
		return "", err
	}
	b := q.db.NewBatch()
	defer b.Close()
	if err := b.Set(msgKey(q.name, mid), val, nil); err != nil {
		return "", err
	}
	if err := b.Set(visKey(q.name, h.VisibleAtMs, mid), nil, nil); err != nil {
		return "", err
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return "", fmt.Errorf("workqueue: send: %w", err)
	}
	return mid.String(), nil
}

// Receive implements queue.Receiver.
func (q *WorkQueue) Receive(ctx context.Context, visibilityTimeout time.Duration) (*queue.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	nowMs := q.now().UnixMilli()
	prefix := visPrefix(q.name)
	iter, err := q.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		// everything visible at or before now
		UpperBound: visKey(q.name, nowMs+1, [16]byte{}),
	})
	if err != nil {
		return nil, fmt.Errorf("workqueue: receive: %w", err)
	}
	defer iter.Close()

	b := q.db.NewBatch()
	defer b.Close()
	orphans := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		k := append([]byte(nil), iter.Key()...)
		_, mid, okKey := parseVisKey(prefix, k)
		if !okKey {
			_ = b.Delete(k, nil)
			orphans++
			continue
		}
		raw, err := q.db.Get(msgKey(q.name, mid))
		if err != nil {
			if errors.Is(err, pebblestore.ErrNotFound) {
				_ = b.Delete(k, nil)
				orphans++
				continue
			}
			return nil, fmt.Errorf("workqueue: load message: %w", err)
		}
		h, body, okRec := decodeRecord(raw)
		if !okRec {
			// corrupt record: drop it rather than wedge the queue
			q.logger.Error("dropping corrupt message record", logpkg.Str("message_id", id.ID(mid).String()))
			_ = b.Delete(k, nil)
			_ = b.Delete(msgKey(q.name, mid), nil)
			orphans++
			continue
		}

		h.DequeueCount++
		h.PopReceipt = uuid.NewString()
		h.VisibleAtMs = nowMs + visibilityTimeout.Milliseconds()
		val, err := encodeRecord(h, body)
		if err != nil {
			return nil, err
		}
		if err := b.Delete(k, nil); err != nil {
			return nil, err
		}
		if err := b.Set(visKey(q.name, h.VisibleAtMs, mid), nil, nil); err != nil {
			return nil, err
		}
		if err := b.Set(msgKey(q.name, mid), val, nil); err != nil {
			return nil, err
		}
		if err := q.db.CommitBatch(ctx, b); err != nil {
			return nil, fmt.Errorf("workqueue: receive commit: %w", err)
		}
		return &queue.Message{
			ID:            id.ID(mid).String(),
			PopReceipt:    h.PopReceipt,
			DequeueCount:  h.DequeueCount,
			Body:          body,
			InsertedAt:    time.UnixMilli(h.InsertedAtMs),
			NextVisibleAt: time.UnixMilli(h.VisibleAtMs),
		}, nil
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if orphans > 0 {
		if err := q.db.CommitBatch(ctx, b); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// load returns the current record for an externally supplied id, checking the
// receipt.
func (q *WorkQueue) load(msgID, popReceipt string) ([16]byte, recordHeader, []byte, error) {
	parsed, err := id.Parse(msgID)
	if err != nil {
		return [16]byte{}, recordHeader{}, nil, queue.ErrMessageNotFound
	}
	mid := [16]byte(parsed)
	raw, err := q.db.Get(msgKey(q.name, mid))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return mid, recordHeader{}, nil, queue.ErrMessageNotFound
		}
		return mid, recordHeader{}, nil, err
	}
	h, body, ok := decodeRecord(raw)
	if !ok {
		return mid, recordHeader{}, nil, queue.ErrMessageNotFound
	}
	// a record that was never received has an empty receipt
	if popReceipt == "" || h.PopReceipt != popReceipt {
		return mid, h, nil, queue.ErrReceiptMismatch
	}
	return mid, h, body, nil
}

// Delete implements queue.Receiver.
func (q *WorkQueue) Delete(ctx context.Context, msgID, popReceipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	mid, h, _, err := q.load(msgID, popReceipt)
	if err != nil {
		return err
	}
	b := q.db.NewBatch()
	defer b.Close()
	if err := b.Delete(msgKey(q.name, mid), nil); err != nil {
		return err
	}
	if err := b.Delete(visKey(q.name, h.VisibleAtMs, mid), nil); err != nil {
		return err
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return fmt.Errorf("workqueue: delete: %w", err)
	}
	q.deletes++
	if q.compactEvery > 0 && q.deletes >= q.compactEvery {
		q.deletes = 0
		p := []byte(queuePrefix(q.name))
		if err := q.db.CompactRange(p, pebblestore.PrefixUpperBound(p)); err != nil {
			q.logger.Warn("compaction hint failed", logpkg.Err(err))
		}
	}
	return nil
}

// ExtendVisibility implements queue.VisibilityExtender.
func (q *WorkQueue) ExtendVisibility(ctx context.Context, msgID, popReceipt string, visibilityTimeout time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	mid, h, body, err := q.load(msgID, popReceipt)
	if err != nil {
		return err
	}
	oldVis := h.VisibleAtMs
	h.VisibleAtMs = q.now().UnixMilli() + visibilityTimeout.Milliseconds()
	val, err := encodeRecord(h, body)
	if err != nil {
		return err
	}
	b := q.db.NewBatch()
	defer b.Close()
	if err := b.Delete(visKey(q.name, oldVis, mid), nil); err != nil {
		return err
	}
	if err := b.Set(visKey(q.name, h.VisibleAtMs, mid), nil, nil); err != nil {
		return err
	}
	if err := b.Set(msgKey(q.name, mid), val, nil); err != nil {
		return err
	}
	return q.db.CommitBatch(ctx, b)
}

// Len implements queue.Queue.
func (q *WorkQueue) Len(ctx context.Context) (int, error) {
	n := 0
	err := q.db.ScanPrefix(msgPrefix(q.name), func(_, _ []byte) bool {
		n++
		return ctx.Err() == nil
	})
	if err != nil {
		return 0, err
	}
	return n, ctx.Err()
}

// Peek returns up to limit messages in visibility order without changing
// their state. Pop receipts are omitted.
func (q *WorkQueue) Peek(ctx context.Context, limit int) ([]queue.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	prefix := visPrefix(q.name)
	var out []queue.Message
	var scanErr error
	err := q.db.ScanPrefix(prefix, func(k, _ []byte) bool {
		_, mid, ok := parseVisKey(prefix, k)
		if !ok {
			return true
		}
		raw, err := q.db.Get(msgKey(q.name, mid))
		if err != nil {
			return true
		}
		h, body, ok := decodeRecord(raw)
		if !ok {
			return true
		}
		out = append(out, queue.Message{
			ID:            id.ID(mid).String(),
			DequeueCount:  h.DequeueCount,
			Body:          body,
			InsertedAt:    time.UnixMilli(h.InsertedAtMs),
			NextVisibleAt: time.UnixMilli(h.VisibleAtMs),
		})
		if err := ctx.Err(); err != nil {
			scanErr = err
			return false
		}
		return len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	return out, scanErr
}
