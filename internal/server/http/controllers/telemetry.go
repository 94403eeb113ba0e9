package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rzbill/pcs/internal/telemetry"
	"github.com/rzbill/pcs/internal/workitem"
)

// TelemetryController serves counters, the event ledger and the live event
// stream.
type TelemetryController struct {
	stats  *telemetry.Stats
	ledger *telemetry.Ledger
	hub    *telemetry.Hub
}

// NewTelemetryController creates a telemetry controller.
func NewTelemetryController(stats *telemetry.Stats, ledger *telemetry.Ledger, hub *telemetry.Hub) *TelemetryController {
	return &TelemetryController{stats: stats, ledger: ledger, hub: hub}
}

// RegisterRoutes registers:
// - GET /telemetry/stats
// - GET /telemetry/events?type=&kind=&limit=
// - GET /events (websocket)
func (c *TelemetryController) RegisterRoutes(r gin.IRouter) {
	r.GET("/telemetry/stats", c.handleStats)
	r.GET("/telemetry/events", c.handleEvents)
	r.GET("/events", c.handleStream)
}

func (c *TelemetryController) handleStats(ctx *gin.Context) {
	if c.stats == nil {
		writeError(ctx, http.StatusNotFound, "stats disabled")
		return
	}
	writeJSON(ctx, gin.H{"types": c.stats.Snapshot()})
}

func (c *TelemetryController) handleEvents(ctx *gin.Context) {
	if c.ledger == nil {
		writeError(ctx, http.StatusNotFound, "telemetry ledger disabled")
		return
	}
	evs, err := c.ledger.ListEvents(ctx.Request.Context(), telemetry.EventQuery{
		Type:  ctx.Query("type"),
		Kind:  workitem.EventKind(ctx.Query("kind")),
		Limit: parseLimit(ctx.Query("limit")),
	})
	if err != nil {
		writeError(ctx, http.StatusInternalServerError, "Failed to list events")
		return
	}
	if evs == nil {
		evs = []workitem.Event{}
	}
	writeJSON(ctx, gin.H{"events": evs})
}

func (c *TelemetryController) handleStream(ctx *gin.Context) {
	if c.hub == nil {
		writeError(ctx, http.StatusNotFound, "event stream disabled")
		return
	}
	c.hub.ServeHTTP(ctx.Writer, ctx.Request)
}
