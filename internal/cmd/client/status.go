package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	transports "github.com/rzbill/pcs/internal/cmd/client/transports"
	"github.com/rzbill/pcs/internal/statecache"
	"github.com/rzbill/pcs/internal/workitem"
)

// NewStatusCommand constructs the `status` command group. Without --replica
// it talks to one worker over HTTP; with --replica it goes through the Redis
// state cache, which is how a deployment drives replicas it cannot reach.
func NewStatusCommand(baseURL BaseURLFunc) *cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Worker lifecycle operations",
		Long: `Worker lifecycle operations.

Lifecycle:
  Initializing → [warm-up] → Stopped ⇄ Working
                              ↑          ↓ (stop)
                              └──── Stopping (in-flight item finishes)

A deployment stops every replica, waits for Stopped, deploys, then starts them.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStatusTransport(cmd, baseURL, func(t transports.StatusTransport) error {
				st, err := t.Get(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
	statusCmd.PersistentFlags().String("replica", "", "Replica name (uses the Redis state cache)")
	statusCmd.PersistentFlags().String("redis", redisAddrFromEnv(), "Redis address for --replica")
	statusCmd.PersistentFlags().String("key-prefix", redisPrefixFromEnv(), "Redis key prefix for --replica")

	statusCmd.AddCommand(
		newStatusStartCommand(baseURL),
		newStatusStopCommand(baseURL),
		newStatusWaitCommand(baseURL),
		newStatusReplicasCommand(),
	)
	return statusCmd
}

// withStatusTransport picks the transport from --replica.
func withStatusTransport(cmd *cobra.Command, baseURL BaseURLFunc, fn func(transports.StatusTransport) error) error {
	replica, _ := cmd.Flags().GetString("replica")
	if replica == "" {
		return fn(transports.NewHTTPTransport(baseURL(), http.DefaultClient))
	}
	addr, _ := cmd.Flags().GetString("redis")
	prefix, _ := cmd.Flags().GetString("key-prefix")
	rdb := newRedisClient(addr)
	defer func() { _ = rdb.Close() }()
	return fn(transports.NewRedisTransport(statecache.New(rdb, prefix), replica, 0))
}

// newStatusStartCommand constructs the `status start` subcommand.
func newStatusStartCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start processing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStatusTransport(cmd, baseURL, func(t transports.StatusTransport) error {
				st, err := t.Start(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}

// newStatusStopCommand constructs the `status stop` subcommand.
func newStatusStopCommand(baseURL BaseURLFunc) *cobra.Command {
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Drain the in-flight item and stop processing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			wait, _ := cmd.Flags().GetDuration("wait")
			return withStatusTransport(cmd, baseURL, func(t transports.StatusTransport) error {
				st, err := t.Stop(cmd.Context(), wait)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), st); err != nil {
					return err
				}
				if wait > 0 && st.State != workitem.Stopped {
					return fmt.Errorf("replica still %s after %s", st.State, wait)
				}
				return nil
			})
		},
	}
	stopCmd.Flags().Duration("wait", 0, "Wait up to this long for Stopped")
	return stopCmd
}

// newStatusWaitCommand constructs the `status wait` subcommand.
func newStatusWaitCommand(baseURL BaseURLFunc) *cobra.Command {
	waitCmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait until the worker reaches a state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("state")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			poll, _ := cmd.Flags().GetDuration("poll")
			want, err := workitem.ParseState(name)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return withStatusTransport(cmd, baseURL, func(t transports.StatusTransport) error {
				tick := time.NewTicker(poll)
				defer tick.Stop()
				for {
					st, err := t.Get(ctx)
					if err == nil && st.State == want {
						return printJSON(cmd.OutOrStdout(), st)
					}
					select {
					case <-ctx.Done():
						return fmt.Errorf("timed out waiting for %s", want)
					case <-tick.C:
					}
				}
			})
		},
	}
	waitCmd.Flags().String("state", "Stopped", "State to wait for")
	waitCmd.Flags().Duration("timeout", 5*time.Minute, "Give up after")
	waitCmd.Flags().Duration("poll", 500*time.Millisecond, "Poll interval")
	return waitCmd
}

// newStatusReplicasCommand constructs the `status replicas` subcommand.
func newStatusReplicasCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "replicas",
		Short: "List replicas registered in the Redis state cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("redis")
			prefix, _ := cmd.Flags().GetString("key-prefix")
			rdb := newRedisClient(addr)
			defer func() { _ = rdb.Close() }()
			cache := statecache.New(rdb, prefix)
			names, err := cache.Replicas(cmd.Context())
			if err != nil {
				return err
			}
			out := make([]transports.Status, 0, len(names))
			for _, n := range names {
				st, err := cache.GetState(cmd.Context(), n)
				if err != nil {
					continue
				}
				out = append(out, transports.Status{Replica: n, State: st})
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}
