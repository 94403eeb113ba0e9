package client

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

// APIURLFromEnv returns PCS_HTTP or the local default.
func APIURLFromEnv() string {
	if v := os.Getenv("PCS_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}

// grpcAddrFromEnv returns the gRPC server address from PCS_GRPC or a default.
func grpcAddrFromEnv() string {
	if addr := os.Getenv("PCS_GRPC"); addr != "" {
		return addr
	}
	return "127.0.0.1:50051"
}

func redisAddrFromEnv() string {
	if addr := os.Getenv("PCS_REDIS_ADDR"); addr != "" {
		return addr
	}
	return "127.0.0.1:6379"
}

func redisPrefixFromEnv() string {
	if p := os.Getenv("PCS_REDIS_KEY_PREFIX"); p != "" {
		return p
	}
	return "pcs:"
}

// dialGRPCContext dials the worker's gRPC endpoint with insecure transport for local/dev.
func dialGRPCContext(ctx context.Context, addr string) (*grpc.ClientConn, error) {
	return grpc.DialContext(ctx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func newRedisClient(addr string) redis.UniversalClient {
	return redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("PCS_REDIS_PASSWORD")})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
