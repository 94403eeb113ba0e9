package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv overlays PCS_* environment variables onto cfg. Malformed values are
// ignored and the previous setting kept.
func FromEnv(cfg *Config) {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	boolean := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	duration := func(name string, dst *Duration) {
		if v := os.Getenv(name); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = Duration(d)
			}
		}
	}

	str("PCS_REPLICA", &cfg.Replica)
	str("PCS_QUEUE_NAME", &cfg.Queue.Name)
	str("PCS_QUEUE_BACKEND", &cfg.Queue.Backend)

	duration("PCS_POLL_INTERVAL", &cfg.Processor.PollInterval)
	duration("PCS_VISIBILITY_TIMEOUT", &cfg.Processor.VisibilityTimeout)
	duration("PCS_VISIBILITY_RENEW_INTERVAL", &cfg.Processor.VisibilityRenewInterval)
	integer("PCS_MAX_RETRIES", &cfg.Processor.MaxRetries)
	boolean("PCS_START_ON_READY", &cfg.Processor.StartOnReady)
	duration("PCS_DRAIN_TIMEOUT", &cfg.Processor.DrainTimeout)
	str("PCS_SKIP", &cfg.Processor.Skip)

	str("PCS_LOCK_BACKEND", &cfg.Lock.Backend)
	duration("PCS_LOCK_ACQUIRE_TIMEOUT", &cfg.Lock.AcquireTimeout)
	duration("PCS_LOCK_LEASE", &cfg.Lock.Lease)

	str("PCS_REDIS_ADDR", &cfg.Redis.Addr)
	integer("PCS_REDIS_DB", &cfg.Redis.DB)
	str("PCS_REDIS_PASSWORD", &cfg.Redis.Password)
	str("PCS_REDIS_KEY_PREFIX", &cfg.Redis.KeyPrefix)

	boolean("PCS_STATE_SYNC", &cfg.StateSync.Enabled)
	duration("PCS_STATE_SYNC_POLL_INTERVAL", &cfg.StateSync.PollInterval)

	str("PCS_TELEMETRY_SQLITE", &cfg.Telemetry.SQLitePath)

	boolean("PCS_DEAD_LETTER", &cfg.DeadLetter.Enabled)
	duration("PCS_DEAD_LETTER_RETENTION", &cfg.DeadLetter.Retention)

	str("PCS_HTTP_ADDR", &cfg.Server.HTTPAddr)
	str("PCS_GRPC_ADDR", &cfg.Server.GRPCAddr)

	str("PCS_LOG_LEVEL", &cfg.Log.Level)
	str("PCS_LOG_FORMAT", &cfg.Log.Format)
}
