package workitem

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/pcs/internal/queue"
)

// Enqueued identifies an enqueued work item.
type Enqueued struct {
	WorkItemID string `json:"workItemId"`
	MessageID  string `json:"messageId"`
	Type       string `json:"type"`
}

// Producer serializes work items onto a queue.
type Producer struct {
	sender   queue.Sender
	registry *Registry
	now      func() time.Time
}

// NewProducer returns a producer writing to sender.
func NewProducer(sender queue.Sender, registry *Registry) *Producer {
	return &Producer{sender: sender, registry: registry, now: time.Now}
}

// Enqueue assigns an id (when empty) and enqueue time, then sends item. A
// positive delay keeps it invisible until the delay elapses.
func (p *Producer) Enqueue(ctx context.Context, item WorkItem, delay time.Duration) (Enqueued, error) {
	b := item.base()
	if b.id == "" {
		b.id = uuid.NewString()
	}
	b.enqueuedAt = p.now().UTC()
	body, err := p.registry.Encode(item)
	if err != nil {
		return Enqueued{}, err
	}
	mid, err := p.sender.Send(ctx, body, delay)
	if err != nil {
		return Enqueued{}, fmt.Errorf("workitem: enqueue %s: %w", item.Type(), err)
	}
	return Enqueued{WorkItemID: b.id, MessageID: mid, Type: item.Type()}, nil
}

// EnqueueRaw decodes payload into the registered type and enqueues it. It
// serves callers that only hold JSON, such as the HTTP API.
func (p *Producer) EnqueueRaw(ctx context.Context, typ string, payload json.RawMessage, delay time.Duration) (Enqueued, error) {
	env, err := json.Marshal(envelope{Type: typ, Payload: payload})
	if err != nil {
		return Enqueued{}, err
	}
	item, err := p.registry.Decode(env)
	if err != nil {
		return Enqueued{}, err
	}
	return p.Enqueue(ctx, item, delay)
}
