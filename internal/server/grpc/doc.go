// Package grpcserver hosts the worker's gRPC endpoint: the standard
// grpc.health.v1 service plus server reflection. The overall service probes
// storage on every check; ProcessorService tracks the worker lifecycle so a
// load balancer or deployment script can tell a drained replica apart.
//
// Example:
//
//	s := grpcserver.New(rt, state, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":50051")
package grpcserver
