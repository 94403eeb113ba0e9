package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMessageNotFound is returned when the message no longer exists.
	ErrMessageNotFound = errors.New("queue: message not found")
	// ErrReceiptMismatch is returned when the pop receipt is not the one
	// issued by the most recent Receive.
	ErrReceiptMismatch = errors.New("queue: pop receipt mismatch")
)

// Message is one received queue message.
type Message struct {
	ID            string
	PopReceipt    string
	DequeueCount  int64
	Body          []byte
	InsertedAt    time.Time
	NextVisibleAt time.Time
}

// Receiver is the consuming half of a queue.
type Receiver interface {
	// Receive returns at most one visible message and hides it for
	// visibilityTimeout. It returns (nil, nil) when nothing is visible.
	Receive(ctx context.Context, visibilityTimeout time.Duration) (*Message, error)
	// Delete acknowledges a message.
	Delete(ctx context.Context, id, popReceipt string) error
}

// Sender is the producing half of a queue.
type Sender interface {
	// Send appends body and returns the message id. A positive delay keeps
	// the message invisible until it elapses.
	Send(ctx context.Context, body []byte, delay time.Duration) (string, error)
}

// VisibilityExtender is implemented by transports that can push a received
// message's visibility deadline forward. The pop receipt stays valid.
type VisibilityExtender interface {
	ExtendVisibility(ctx context.Context, id, popReceipt string, visibilityTimeout time.Duration) error
}

// Queue is a full transport.
type Queue interface {
	Sender
	Receiver
	// Len returns the number of messages, visible or not.
	Len(ctx context.Context) (int, error)
}
