// Package queuetest holds behavior tests shared by every queue transport.
package queuetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rzbill/pcs/internal/queue"
)

// Clock is a settable time source handed to the transport under test.
type Clock struct{ t time.Time }

// NewClock starts at a fixed instant.
func NewClock() *Clock { return &Clock{t: time.UnixMilli(1_700_000_000_000)} }

// Now returns the current fake time.
func (c *Clock) Now() time.Time { return c.t }

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// Factory builds a fresh, empty queue driven by clock.
type Factory func(t *testing.T, clock *Clock) queue.Queue

// Run exercises the visibility, receipt and dequeue-count contract.
func Run(t *testing.T, newQueue Factory) {
	t.Run("EmptyReceiveReturnsNil", func(t *testing.T) {
		q := newQueue(t, NewClock())
		msg, err := q.Receive(context.Background(), time.Second)
		if err != nil || msg != nil {
			t.Fatalf("expected nil, nil; got %v, %v", msg, err)
		}
	})

	t.Run("ReceiveHidesUntilTimeout", func(t *testing.T) {
		clock := NewClock()
		q := newQueue(t, clock)
		ctx := context.Background()
		id, err := q.Send(ctx, []byte("a"), 0)
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		m1, err := q.Receive(ctx, 10*time.Second)
		if err != nil || m1 == nil {
			t.Fatalf("receive: %v %v", m1, err)
		}
		if m1.ID != id || string(m1.Body) != "a" || m1.DequeueCount != 1 {
			t.Fatalf("unexpected message: %+v", m1)
		}
		if again, _ := q.Receive(ctx, 10*time.Second); again != nil {
			t.Fatalf("message visible during timeout")
		}
		clock.Advance(11 * time.Second)
		m2, err := q.Receive(ctx, 10*time.Second)
		if err != nil || m2 == nil {
			t.Fatalf("redelivery: %v %v", m2, err)
		}
		if m2.DequeueCount != 2 {
			t.Fatalf("dequeue count: %d", m2.DequeueCount)
		}
		if m2.PopReceipt == m1.PopReceipt {
			t.Fatalf("receipt should change per receive")
		}
		if err := q.Delete(ctx, m1.ID, m1.PopReceipt); !errors.Is(err, queue.ErrReceiptMismatch) {
			t.Fatalf("stale receipt: %v", err)
		}
		if err := q.Delete(ctx, m2.ID, m2.PopReceipt); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := q.Delete(ctx, m2.ID, m2.PopReceipt); !errors.Is(err, queue.ErrMessageNotFound) {
			t.Fatalf("double delete: %v", err)
		}
		if n, _ := q.Len(ctx); n != 0 {
			t.Fatalf("len after delete: %d", n)
		}
	})

	t.Run("EmptyReceiptIsRejected", func(t *testing.T) {
		q := newQueue(t, NewClock())
		ctx := context.Background()
		id, err := q.Send(ctx, []byte("a"), 0)
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		if err := q.Delete(ctx, id, ""); !errors.Is(err, queue.ErrReceiptMismatch) {
			t.Fatalf("delete of an unreceived message: %v", err)
		}
		if ext, ok := q.(queue.VisibilityExtender); ok {
			if err := ext.ExtendVisibility(ctx, id, "", time.Minute); !errors.Is(err, queue.ErrReceiptMismatch) {
				t.Fatalf("extend of an unreceived message: %v", err)
			}
		}
		m, err := q.Receive(ctx, time.Second)
		if err != nil || m == nil || m.ID != id || m.DequeueCount != 1 {
			t.Fatalf("message lost: %v %v", m, err)
		}
	})

	t.Run("DelayedSend", func(t *testing.T) {
		clock := NewClock()
		q := newQueue(t, clock)
		ctx := context.Background()
		if _, err := q.Send(ctx, []byte("later"), 5*time.Second); err != nil {
			t.Fatalf("send: %v", err)
		}
		if m, _ := q.Receive(ctx, time.Second); m != nil {
			t.Fatalf("delayed message delivered early")
		}
		clock.Advance(5 * time.Second)
		m, err := q.Receive(ctx, time.Second)
		if err != nil || m == nil || string(m.Body) != "later" {
			t.Fatalf("delayed receive: %v %v", m, err)
		}
	})

	t.Run("FIFOAmongVisible", func(t *testing.T) {
		clock := NewClock()
		q := newQueue(t, clock)
		ctx := context.Background()
		for _, b := range []string{"1", "2", "3"} {
			if _, err := q.Send(ctx, []byte(b), 0); err != nil {
				t.Fatalf("send: %v", err)
			}
		}
		for _, want := range []string{"1", "2", "3"} {
			m, err := q.Receive(ctx, time.Minute)
			if err != nil || m == nil || string(m.Body) != want {
				t.Fatalf("want %s got %v %v", want, m, err)
			}
		}
	})

	if _, ok := newQueue(t, NewClock()).(queue.VisibilityExtender); !ok {
		return
	}
	t.Run("ExtendVisibility", func(t *testing.T) {
		clock := NewClock()
		q := newQueue(t, clock)
		ext := q.(queue.VisibilityExtender)
		ctx := context.Background()
		if _, err := q.Send(ctx, []byte("x"), 0); err != nil {
			t.Fatalf("send: %v", err)
		}
		m, _ := q.Receive(ctx, 10*time.Second)
		clock.Advance(8 * time.Second)
		if err := ext.ExtendVisibility(ctx, m.ID, m.PopReceipt, 10*time.Second); err != nil {
			t.Fatalf("extend: %v", err)
		}
		clock.Advance(8 * time.Second)
		if again, _ := q.Receive(ctx, time.Second); again != nil {
			t.Fatalf("extended message became visible")
		}
		if err := ext.ExtendVisibility(ctx, m.ID, "bogus", time.Second); !errors.Is(err, queue.ErrReceiptMismatch) {
			t.Fatalf("extend with bad receipt: %v", err)
		}
		if err := q.Delete(ctx, m.ID, m.PopReceipt); err != nil {
			t.Fatalf("receipt must survive extension: %v", err)
		}
	})
}
