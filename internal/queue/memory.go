package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/pcs/pkg/id"
)

type memEntry struct {
	seq uint64
	msg Message
}

// Memory is an in-process Queue. It keeps nothing across restarts and is
// meant for tests and single-process experiments.
type Memory struct {
	mu      sync.Mutex
	ids     *id.Generator
	seq     uint64
	entries map[string]*memEntry
	now     func() time.Time
}

var (
	_ Queue              = (*Memory)(nil)
	_ VisibilityExtender = (*Memory)(nil)
)

// NewMemory returns an empty in-memory queue.
func NewMemory() *Memory {
	m := &Memory{entries: make(map[string]*memEntry), now: time.Now}
	// ids are minted under m.mu, so the clock swap in SetClock is visible
	m.ids = id.NewGenerator(func() time.Time { return m.now() })
	return m
}

// SetClock overrides the time source.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Send implements Sender.
func (m *Memory) Send(ctx context.Context, body []byte, delay time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if delay < 0 {
		delay = 0
	}
	m.seq++
	mid := m.ids.Next().String()
	m.entries[mid] = &memEntry{seq: m.seq, msg: Message{
		ID:            mid,
		Body:          append([]byte(nil), body...),
		InsertedAt:    now,
		NextVisibleAt: now.Add(delay),
	}}
	return mid, nil
}

// Receive implements Receiver. The earliest-visible message wins; ties go to
// the oldest insertion.
func (m *Memory) Receive(ctx context.Context, visibilityTimeout time.Duration) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var pick *memEntry
	for _, e := range m.entries {
		if e.msg.NextVisibleAt.After(now) {
			continue
		}
		if pick == nil || e.msg.NextVisibleAt.Before(pick.msg.NextVisibleAt) ||
			(e.msg.NextVisibleAt.Equal(pick.msg.NextVisibleAt) && e.seq < pick.seq) {
			pick = e
		}
	}
	if pick == nil {
		return nil, nil
	}
	pick.msg.DequeueCount++
	pick.msg.PopReceipt = uuid.NewString()
	pick.msg.NextVisibleAt = now.Add(visibilityTimeout)
	out := pick.msg
	out.Body = append([]byte(nil), pick.msg.Body...)
	return &out, nil
}

// Delete implements Receiver.
func (m *Memory) Delete(ctx context.Context, mid, popReceipt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[mid]
	if !ok {
		return ErrMessageNotFound
	}
	if popReceipt == "" || e.msg.PopReceipt != popReceipt {
		return ErrReceiptMismatch
	}
	delete(m.entries, mid)
	return nil
}

// ExtendVisibility implements VisibilityExtender.
func (m *Memory) ExtendVisibility(ctx context.Context, mid, popReceipt string, visibilityTimeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[mid]
	if !ok {
		return ErrMessageNotFound
	}
	if popReceipt == "" || e.msg.PopReceipt != popReceipt {
		return ErrReceiptMismatch
	}
	e.msg.NextVisibleAt = m.now().Add(visibilityTimeout)
	return nil
}

// Len implements Queue.
func (m *Memory) Len(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}
