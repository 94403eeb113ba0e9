package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rzbill/pcs/internal/runtime"
)

// GeneralController serves the health endpoint.
type GeneralController struct {
	rt *runtime.Runtime
}

// NewGeneralController creates a new general controller.
func NewGeneralController(rt *runtime.Runtime) *GeneralController {
	return &GeneralController{rt: rt}
}

// RegisterRoutes registers /healthz.
func (c *GeneralController) RegisterRoutes(r gin.IRouter) {
	r.GET("/healthz", c.handleHealth)
}

// handleHealth returns 200 OK with {"status": "ok"} if healthy, 503 Service
// Unavailable otherwise.
func (c *GeneralController) handleHealth(ctx *gin.Context) {
	if c.rt == nil {
		writeJSON(ctx, gin.H{"status": "ok"})
		return
	}
	if err := c.rt.CheckHealth(ctx.Request.Context()); err != nil {
		writeError(ctx, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeJSON(ctx, gin.H{"status": "ok"})
}
