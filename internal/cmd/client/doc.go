// Package client provides the `pcs` command-line client.
//
// The CLI drives worker lifecycle during deployments, enqueues work items and
// inspects processing telemetry. It is primarily intended for operators and
// deployment scripts.
//
// # Address configuration
//
// The HTTP base URL comes from a BaseURLFunc; the standalone binary reads
// PCS_HTTP (default http://127.0.0.1:8080). The gRPC address is read from
// PCS_GRPC (default 127.0.0.1:50051). Commands taking --replica use Redis at
// PCS_REDIS_ADDR with key prefix PCS_REDIS_KEY_PREFIX.
//
// Usage
//
//	pcs status
//	pcs status stop --wait 5m
//	pcs status start
//
//	# drive a replica through the Redis state cache
//	pcs status stop --replica worker-1 --wait 5m
//	pcs status replicas
//
//	pcs workitem enqueue --type BuildCoherencyInfo --data '{"buildId":7}'
//	pcs workitem enqueue --type PullRequestCheck --file check.json --delay 5m
//	pcs workitem types
//	pcs workitem prs
//
//	pcs events tail --kind poison
//	pcs events list --type SubscriptionUpdate --limit 20
//	pcs events stats
//
//	pcs deadletter list --newest
//	pcs deadletter requeue 12
//
//	pcs health --processor
package client
