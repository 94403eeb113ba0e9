package workitem

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrUnknownWorkItemType is returned when no processor is registered for
	// a type tag.
	ErrUnknownWorkItemType = errors.New("workitem: unknown work item type")
	// ErrMalformedWorkItem is returned for bodies that are not a valid
	// envelope or whose payload does not decode into the registered type.
	ErrMalformedWorkItem = errors.New("workitem: malformed work item")
	// ErrProcessingFailed is returned by Scope.Run when a processor reports
	// failure without an error.
	ErrProcessingFailed = errors.New("workitem: processor reported failure")
	// ErrScopeNotInitialized is returned by Scope.Run before Initialize.
	ErrScopeNotInitialized = errors.New("workitem: scope not initialized")
)

// WorkItem is one unit of work. Concrete types embed Base and return a
// constant from Type:
//
//	type SubscriptionTrigger struct {
//	    workitem.Base
//	    SubscriptionID string `json:"subscriptionId"`
//	}
//
//	func (*SubscriptionTrigger) Type() string { return "SubscriptionTrigger" }
type WorkItem interface {
	Type() string
	ID() string
	EnqueuedAt() time.Time
	base() *Base
}

// Base carries the envelope identity of a work item. It is not part of the
// JSON payload.
type Base struct {
	id         string
	enqueuedAt time.Time
}

// ID returns the work item id assigned at enqueue.
func (b *Base) ID() string { return b.id }

// EnqueuedAt returns when the producer enqueued the item.
func (b *Base) EnqueuedAt() time.Time { return b.enqueuedAt }

func (b *Base) base() *Base { return b }

// envelope is the queue message body.
type envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}
