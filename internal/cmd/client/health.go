package client

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	grpcserver "github.com/rzbill/pcs/internal/server/grpc"
)

// NewHealthCommand constructs the `health` command, a grpc.health.v1 probe.
func NewHealthCommand() *cobra.Command {
	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check worker health over gRPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			service, _ := cmd.Flags().GetString("service")
			processor, _ := cmd.Flags().GetBool("processor")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			if processor {
				service = grpcserver.ProcessorService
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			conn, err := dialGRPCContext(ctx, addr)
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()
			res, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
			if err != nil {
				return err
			}
			b, err := protojson.MarshalOptions{Multiline: true}.Marshal(res)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			if res.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("not serving")
			}
			return nil
		},
	}
	healthCmd.Flags().String("addr", grpcAddrFromEnv(), "gRPC address")
	healthCmd.Flags().String("service", "", "Health service name (empty = overall)")
	healthCmd.Flags().Bool("processor", false, "Check the processor service (SERVING only while Working)")
	healthCmd.Flags().Duration("timeout", 5*time.Second, "Request timeout")
	return healthCmd
}
