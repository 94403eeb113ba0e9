package workitem

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestEnqueueAssignsIDAndTime(t *testing.T) {
	h := newHarness(t, nil, func(r *Registry) { _ = RegisterType[pingItem](r, nopFactory()) })
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	h.producer.now = func() time.Time { return fixed }

	res, err := h.producer.Enqueue(context.Background(), &pingItem{N: 9}, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if res.WorkItemID == "" || res.MessageID == "" || res.Type != "Ping" {
		t.Fatalf("result: %+v", res)
	}
	msg, _ := h.q.Receive(context.Background(), time.Minute)
	item, err := h.registry.Decode(msg.Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if item.ID() != res.WorkItemID || !item.EnqueuedAt().Equal(fixed) || item.(*pingItem).N != 9 {
		t.Fatalf("decoded %+v", item)
	}
}

func TestEnqueueKeepsCallerID(t *testing.T) {
	h := newHarness(t, nil, func(r *Registry) { _ = RegisterType[pingItem](r, nopFactory()) })
	item := &pingItem{}
	item.id = "caller-chosen"
	res, err := h.producer.Enqueue(context.Background(), item, 0)
	if err != nil || res.WorkItemID != "caller-chosen" {
		t.Fatalf("enqueue: %+v %v", res, err)
	}
}

func TestEnqueueDelay(t *testing.T) {
	h := newHarness(t, nil, func(r *Registry) { _ = RegisterType[pingItem](r, nopFactory()) })
	now := time.Unix(1_700_000_000, 0)
	h.q.SetClock(func() time.Time { return now })
	if _, err := h.producer.Enqueue(context.Background(), &pingItem{}, time.Minute); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if m, _ := h.q.Receive(context.Background(), time.Second); m != nil {
		t.Fatalf("delayed item visible early")
	}
	now = now.Add(time.Minute)
	if m, _ := h.q.Receive(context.Background(), time.Second); m == nil {
		t.Fatalf("delayed item never became visible")
	}
}

func TestEnqueueRaw(t *testing.T) {
	h := newHarness(t, nil, func(r *Registry) { _ = RegisterType[pingItem](r, nopFactory()) })
	ctx := context.Background()
	if _, err := h.producer.EnqueueRaw(ctx, "Ping", json.RawMessage(`{"n":3}`), 0); err != nil {
		t.Fatalf("enqueue raw: %v", err)
	}
	if _, err := h.producer.EnqueueRaw(ctx, "Nope", nil, 0); !errors.Is(err, ErrUnknownWorkItemType) {
		t.Fatalf("unknown type: %v", err)
	}
	if _, err := h.producer.EnqueueRaw(ctx, "Ping", json.RawMessage(`{"n":"x"}`), 0); !errors.Is(err, ErrMalformedWorkItem) {
		t.Fatalf("bad payload: %v", err)
	}
	if n, _ := h.q.Len(ctx); n != 1 {
		t.Fatalf("len %d", n)
	}
}
