package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rzbill/pcs/internal/dependencyflow"
	"github.com/rzbill/pcs/internal/workitem"
)

// WorkItemsController enqueues work items and lists what the worker can
// process.
type WorkItemsController struct {
	registry *workitem.Registry
	producer *workitem.Producer
	flow     *dependencyflow.Ledger
}

// NewWorkItemsController creates a work items controller.
func NewWorkItemsController(registry *workitem.Registry, producer *workitem.Producer, flow *dependencyflow.Ledger) *WorkItemsController {
	return &WorkItemsController{registry: registry, producer: producer, flow: flow}
}

// RegisterRoutes registers:
// - POST /workitems
// - GET  /workitems/types
// - GET  /pullrequests
func (c *WorkItemsController) RegisterRoutes(r gin.IRouter) {
	r.POST("/workitems", c.handleEnqueue)
	r.GET("/workitems/types", c.handleTypes)
	r.GET("/pullrequests", c.handlePullRequests)
}

func (c *WorkItemsController) handleEnqueue(ctx *gin.Context) {
	if c.producer == nil {
		writeError(ctx, http.StatusNotFound, "enqueue disabled")
		return
	}
	var req enqueueReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		writeError(ctx, http.StatusBadRequest, "Invalid request body")
		return
	}
	delay, err := parseDuration(req.Delay)
	if err != nil || delay < 0 {
		writeError(ctx, http.StatusBadRequest, "invalid delay")
		return
	}
	res, err := c.producer.EnqueueRaw(ctx.Request.Context(), req.Type, req.Payload, delay)
	switch {
	case errors.Is(err, workitem.ErrUnknownWorkItemType), errors.Is(err, workitem.ErrMalformedWorkItem):
		writeError(ctx, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(ctx, http.StatusInternalServerError, "Failed to enqueue")
		return
	}
	writeAccepted(ctx, res)
}

func (c *WorkItemsController) handleTypes(ctx *gin.Context) {
	if c.registry == nil {
		writeJSON(ctx, gin.H{"types": []string{}})
		return
	}
	writeJSON(ctx, gin.H{"types": c.registry.Types()})
}

func (c *WorkItemsController) handlePullRequests(ctx *gin.Context) {
	if c.flow == nil {
		writeError(ctx, http.StatusNotFound, "dependency flow disabled")
		return
	}
	prs, err := c.flow.OpenPullRequests()
	if err != nil {
		writeError(ctx, http.StatusInternalServerError, "Failed to list pull requests")
		return
	}
	if prs == nil {
		prs = []dependencyflow.PullRequest{}
	}
	writeJSON(ctx, gin.H{"pullRequests": prs})
}
