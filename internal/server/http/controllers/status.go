package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rzbill/pcs/internal/queue"
	"github.com/rzbill/pcs/internal/workitem"
)

// StatusController exposes and drives the worker lifecycle. A deployment
// stops every replica, waits for Stopped, deploys and starts them again.
type StatusController struct {
	state   *workitem.ProcessorState
	q       queue.Queue
	replica string
}

// NewStatusController creates a status controller.
func NewStatusController(state *workitem.ProcessorState, q queue.Queue, replica string) *StatusController {
	return &StatusController{state: state, q: q, replica: replica}
}

// RegisterRoutes registers the status endpoints:
// - GET /status
// - PUT /status/start
// - PUT /status/stop[?wait=30s]
func (c *StatusController) RegisterRoutes(r gin.IRouter) {
	r.GET("/status", c.handleGet)
	r.PUT("/status/start", c.handleStart)
	r.PUT("/status/stop", c.handleStop)
}

func (c *StatusController) snapshot(ctx context.Context) statusResp {
	out := statusResp{Replica: c.replica, State: c.state.State(), InFlight: c.state.InFlight()}
	if c.q != nil {
		if n, err := c.q.Len(ctx); err == nil {
			out.QueueDepth = &n
		}
	}
	return out
}

func (c *StatusController) handleGet(ctx *gin.Context) {
	if c.state == nil {
		writeError(ctx, http.StatusNotFound, "no processor")
		return
	}
	writeJSON(ctx, c.snapshot(ctx.Request.Context()))
}

func (c *StatusController) handleStart(ctx *gin.Context) {
	if c.state == nil {
		writeError(ctx, http.StatusNotFound, "no processor")
		return
	}
	if c.state.State() == workitem.Initializing {
		writeError(ctx, http.StatusConflict, "worker is still initializing")
		return
	}
	c.state.Start()
	writeJSON(ctx, c.snapshot(ctx.Request.Context()))
}

// handleStop requests a drain. With ?wait the response is delayed until the
// worker reaches Stopped or the wait elapses (then 202).
func (c *StatusController) handleStop(ctx *gin.Context) {
	if c.state == nil {
		writeError(ctx, http.StatusNotFound, "no processor")
		return
	}
	wait, err := parseDuration(ctx.Query("wait"))
	if err != nil {
		writeError(ctx, http.StatusBadRequest, "invalid wait duration")
		return
	}
	c.state.RequestDrainAndStop()
	if wait > 0 {
		wctx, cancel := context.WithTimeout(ctx.Request.Context(), wait)
		defer cancel()
		_ = c.state.WaitForState(wctx, workitem.Stopped)
	}
	snap := c.snapshot(ctx.Request.Context())
	if snap.State != workitem.Stopped {
		writeAccepted(ctx, snap)
		return
	}
	writeJSON(ctx, snap)
}
