package grpcserver

import (
	"context"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rzbill/pcs/internal/runtime"
	"github.com/rzbill/pcs/internal/workitem"
)

// ProcessorService is SERVING only while the worker is Working.
const ProcessorService = "pcs.WorkItemProcessor"

// healthSvc answers the overall ("") service from a live storage probe and
// everything else from the registered statuses.
type healthSvc struct {
	*health.Server
	rt *runtime.Runtime
}

func newHealthSvc(rt *runtime.Runtime, state *workitem.ProcessorState) *healthSvc {
	h := &healthSvc{Server: health.NewServer(), rt: rt}
	if state != nil {
		h.SetServingStatus(ProcessorService, servingFor(state.State()))
		state.OnStateChange(func(_, to workitem.State) {
			h.SetServingStatus(ProcessorService, servingFor(to))
		})
	}
	return h
}

func servingFor(s workitem.State) healthpb.HealthCheckResponse_ServingStatus {
	if s == workitem.Working {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

func (h *healthSvc) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if req.GetService() != "" || h.rt == nil {
		return h.Server.Check(ctx, req)
	}
	if err := h.rt.CheckHealth(ctx); err != nil {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}
