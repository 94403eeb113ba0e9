// Package httpserver is the worker's REST API, built on gin: health, the
// lifecycle status endpoints used during deployments, work item enqueue,
// telemetry queries and a websocket stream of processing events.
//
// Example:
//
//	s := httpserver.New(controllers.Deps{Runtime: rt, State: state, Registry: reg, Producer: prod}, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
