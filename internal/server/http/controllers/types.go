package controllers

import (
	"encoding/json"

	"github.com/rzbill/pcs/internal/workitem"
)

// statusResp describes the lifecycle of this worker.
type statusResp struct {
	Replica    string         `json:"replica,omitempty"`
	State      workitem.State `json:"state"`
	InFlight   bool           `json:"inFlight"`
	QueueDepth *int           `json:"queueDepth,omitempty"`
}

// enqueueReq enqueues one work item from JSON.
type enqueueReq struct {
	Type    string          `json:"type" binding:"required"`
	Payload json.RawMessage `json:"payload"`
	// Delay is a Go duration ("90s") keeping the item invisible initially.
	Delay string `json:"delay"`
}
