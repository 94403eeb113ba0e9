package transports

import (
	"context"
	"time"

	"github.com/rzbill/pcs/internal/workitem"
)

// Status is a replica's lifecycle as seen by the CLI. QueueDepth is nil when
// the transport cannot see the queue.
type Status struct {
	Replica    string         `json:"replica,omitempty"`
	State      workitem.State `json:"state"`
	InFlight   bool           `json:"inFlight"`
	QueueDepth *int           `json:"queueDepth,omitempty"`
}

// StatusTransport drives a worker's lifecycle (HTTP or Redis).
type StatusTransport interface {
	Get(ctx context.Context) (Status, error)
	Start(ctx context.Context) (Status, error)
	// Stop requests a drain. A positive wait blocks until the replica reports
	// Stopped or the wait elapses; the returned status says which.
	Stop(ctx context.Context, wait time.Duration) (Status, error)
}
