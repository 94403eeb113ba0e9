package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rzbill/pcs/internal/deadletter"
	"github.com/rzbill/pcs/internal/queue"
)

// DeadLettersController exposes the poison message archive.
type DeadLettersController struct {
	store *deadletter.Store
	q     queue.Sender
}

// NewDeadLettersController creates a dead letters controller.
func NewDeadLettersController(store *deadletter.Store, q queue.Sender) *DeadLettersController {
	return &DeadLettersController{store: store, q: q}
}

// RegisterRoutes registers:
// - GET    /deadletters?after=&limit=&reverse=
// - POST   /deadletters/:seq/requeue
// - DELETE /deadletters/:seq
func (c *DeadLettersController) RegisterRoutes(r gin.IRouter) {
	r.GET("/deadletters", c.handleList)
	r.POST("/deadletters/:seq/requeue", c.handleRequeue)
	r.DELETE("/deadletters/:seq", c.handleDelete)
}

type deadLetterView struct {
	deadletter.Entry
	Body any `json:"body"`
}

func (c *DeadLettersController) handleList(ctx *gin.Context) {
	if c.store == nil {
		writeError(ctx, http.StatusNotFound, "dead letters disabled")
		return
	}
	after, _ := strconv.ParseUint(ctx.Query("after"), 10, 64)
	entries, next, err := c.store.List(deadletter.ListOptions{
		After:   after,
		Limit:   parseLimit(ctx.Query("limit")),
		Reverse: ctx.Query("reverse") == "true",
	})
	if err != nil {
		writeError(ctx, http.StatusInternalServerError, "Failed to list dead letters")
		return
	}
	out := make([]deadLetterView, 0, len(entries))
	for _, e := range entries {
		out = append(out, deadLetterView{Entry: e, Body: e.BodyJSON()})
	}
	resp := gin.H{"entries": out}
	if next != 0 {
		resp["next"] = next
	}
	writeJSON(ctx, resp)
}

func (c *DeadLettersController) handleRequeue(ctx *gin.Context) {
	if c.store == nil || c.q == nil {
		writeError(ctx, http.StatusNotFound, "dead letters disabled")
		return
	}
	seq, ok := parseSeq(ctx)
	if !ok {
		return
	}
	id, err := c.store.Requeue(ctx.Request.Context(), seq, c.q)
	if errors.Is(err, deadletter.ErrNotFound) {
		writeError(ctx, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(ctx, http.StatusInternalServerError, "Failed to requeue")
		return
	}
	writeAccepted(ctx, gin.H{"seq": seq, "messageId": id})
}

func (c *DeadLettersController) handleDelete(ctx *gin.Context) {
	if c.store == nil {
		writeError(ctx, http.StatusNotFound, "dead letters disabled")
		return
	}
	seq, ok := parseSeq(ctx)
	if !ok {
		return
	}
	if err := c.store.Remove(seq); errors.Is(err, deadletter.ErrNotFound) {
		writeError(ctx, http.StatusNotFound, err.Error())
		return
	} else if err != nil {
		writeError(ctx, http.StatusInternalServerError, "Failed to delete")
		return
	}
	ctx.Status(http.StatusNoContent)
}

func parseSeq(ctx *gin.Context) (uint64, bool) {
	seq, err := strconv.ParseUint(ctx.Param("seq"), 10, 64)
	if err != nil || seq == 0 {
		writeError(ctx, http.StatusBadRequest, "invalid seq")
		return 0, false
	}
	return seq, true
}
