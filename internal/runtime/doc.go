// Package runtime wires storage and configuration into a single worker
// process. It owns the Pebble database and, when any component is configured
// for Redis, the shared Redis client, and opens the queue, locker, state
// cache and dependency-flow ledger over them.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: cfg})
//	defer rt.Close()
//	_ = rt.CheckHealth(context.Background())
//	q, _ := rt.OpenQueue()
//	_, _ = q.Send(context.Background(), body, 0)
package runtime
