// Package workerrun wires and runs one work item processor: storage, queue,
// registry, locking, telemetry, the HTTP and gRPC listeners and the optional
// Redis state watcher. The CLI's worker command is a thin wrapper over Run.
//
// Example:
//
//	cfg, _ := config.Load("pcs.yaml")
//	config.FromEnv(&cfg)
//	_ = workerrun.Run(ctx, workerrun.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: cfg})
package workerrun
