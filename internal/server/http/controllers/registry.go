package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/rzbill/pcs/internal/deadletter"
	"github.com/rzbill/pcs/internal/dependencyflow"
	"github.com/rzbill/pcs/internal/queue"
	"github.com/rzbill/pcs/internal/runtime"
	"github.com/rzbill/pcs/internal/telemetry"
	"github.com/rzbill/pcs/internal/workitem"
)

// Deps are the worker components exposed over HTTP. Optional fields may be
// nil; their routes then answer 404.
type Deps struct {
	Runtime  *runtime.Runtime
	State    *workitem.ProcessorState
	Registry *workitem.Registry
	Producer *workitem.Producer
	Queue    queue.Queue
	Replica  string

	Stats       *telemetry.Stats
	Ledger      *telemetry.Ledger
	Hub         *telemetry.Hub
	Flow        *dependencyflow.Ledger
	DeadLetters *deadletter.Store
}

// ControllerRegistry manages all HTTP controllers.
//
// It provides a centralized way to register all controller routes
// and manages the lifecycle of individual controllers.
type ControllerRegistry struct {
	general   *GeneralController
	status    *StatusController
	workitems *WorkItemsController
	telemetry *TelemetryController
	dead      *DeadLettersController
}

// NewControllerRegistry creates a new controller registry.
func NewControllerRegistry(d Deps) *ControllerRegistry {
	return &ControllerRegistry{
		general:   NewGeneralController(d.Runtime),
		status:    NewStatusController(d.State, d.Queue, d.Replica),
		workitems: NewWorkItemsController(d.Registry, d.Producer, d.Flow),
		telemetry: NewTelemetryController(d.Stats, d.Ledger, d.Hub),
		dead:      NewDeadLettersController(d.DeadLetters, d.Queue),
	}
}

// RegisterAllRoutes registers all controller routes under /v1.
func (r *ControllerRegistry) RegisterAllRoutes(router gin.IRouter) {
	v1 := router.Group("/v1")
	r.general.RegisterRoutes(v1)
	r.status.RegisterRoutes(v1)
	r.workitems.RegisterRoutes(v1)
	r.telemetry.RegisterRoutes(v1)
	r.dead.RegisterRoutes(v1)
}
