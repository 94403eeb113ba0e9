package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/pcs/internal/cmd/client"
	workerrun "github.com/rzbill/pcs/internal/cmd/worker"
	cfgpkg "github.com/rzbill/pcs/internal/config"
	"github.com/rzbill/pcs/internal/dependencyflow"
	pebblestore "github.com/rzbill/pcs/internal/storage/pebble"
)

func main() {
	rootCmd := clientcmd.NewRoot(clientcmd.APIURLFromEnv)
	rootCmd.Long = "pcs runs queue-driven work item processors and manages them during deployments."

	workerCmd := &cobra.Command{Use: "worker", Short: "Worker commands"}
	workerStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start a worker (consumer, HTTP and gRPC)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			fsyncMode, _ := cmd.Flags().GetString("fsync")

			mode := pebblestore.FsyncModeAlways
			switch fsyncMode {
			case "never":
				mode = pebblestore.FsyncModeNever
			case "interval":
				mode = pebblestore.FsyncModeInterval
			case "always":
				mode = pebblestore.FsyncModeAlways
			default:
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return err
			}
			cfgpkg.FromEnv(&cfg)
			applyFlags(cmd, &cfg)

			if err := workerrun.Run(context.Background(), workerrun.Options{
				DataDir: dataDir,
				Fsync:   mode,
				Config:  cfg,
				Remote:  dependencyflow.OfflineRemote{},
			}); err != nil {
				return fmt.Errorf("worker error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	f := workerStartCmd.Flags()
	f.String("config", os.Getenv("PCS_CONFIG"), "Config file (.yaml or .json)")
	f.String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	f.String("fsync", "always", "Fsync mode: always|interval|never")
	f.String("replica", "", "Replica name")
	f.String("queue", "", "Queue name")
	f.String("queue-backend", "", "Queue backend: pebble|redis|memory")
	f.String("lock-backend", "", "Lock backend: local|redis|none")
	f.String("redis", "", "Redis address")
	f.Bool("start", false, "Start processing as soon as warm-up finishes")
	f.Bool("state-sync", false, "Publish state to Redis and accept remote start/stop")
	f.String("skip", "", "CEL expression; matching items are acknowledged unprocessed")
	f.String("telemetry-db", "", "SQLite telemetry ledger path")
	f.String("http", "", "HTTP listen address")
	f.String("grpc", "", "gRPC listen address")
	f.String("log-level", "", "Log level: debug|info|warn|error")
	f.String("log-format", "", "Log format: text|json")
	workerCmd.AddCommand(workerStartCmd)
	rootCmd.AddCommand(workerCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// applyFlags overlays explicitly set flags; they win over file and env.
func applyFlags(cmd *cobra.Command, cfg *cfgpkg.Config) {
	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	boolean := func(name string, dst *bool) {
		if f.Changed(name) {
			*dst, _ = f.GetBool(name)
		}
	}
	str("replica", &cfg.Replica)
	str("queue", &cfg.Queue.Name)
	str("queue-backend", &cfg.Queue.Backend)
	str("lock-backend", &cfg.Lock.Backend)
	str("redis", &cfg.Redis.Addr)
	boolean("start", &cfg.Processor.StartOnReady)
	boolean("state-sync", &cfg.StateSync.Enabled)
	str("skip", &cfg.Processor.Skip)
	str("telemetry-db", &cfg.Telemetry.SQLitePath)
	str("http", &cfg.Server.HTTPAddr)
	str("grpc", &cfg.Server.GRPCAddr)
	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)
}
