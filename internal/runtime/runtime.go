package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	cfgpkg "github.com/rzbill/pcs/internal/config"
	"github.com/rzbill/pcs/internal/dependencyflow"
	"github.com/rzbill/pcs/internal/lock"
	"github.com/rzbill/pcs/internal/queue"
	"github.com/rzbill/pcs/internal/redisqueue"
	"github.com/rzbill/pcs/internal/statecache"
	pebblestore "github.com/rzbill/pcs/internal/storage/pebble"
	"github.com/rzbill/pcs/internal/workitem"
	"github.com/rzbill/pcs/internal/workqueue"
	logpkg "github.com/rzbill/pcs/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	DataDir string
	Fsync   pebblestore.FsyncMode
	Config  cfgpkg.Config
	Logger  logpkg.Logger
	// Redis overrides the client built from Config.Redis (tests).
	Redis redis.UniversalClient
}

// Runtime owns the storage handles of one worker process.
type Runtime struct {
	db     *pebblestore.DB
	redis  redis.UniversalClient
	config cfgpkg.Config
	logger logpkg.Logger

	ownsRedis bool
}

// Open initializes Pebble and, when the configuration needs one, a Redis
// client.
func Open(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithOutput(logpkg.NullOutput{}))
	}
	db, err := pebblestore.Open(pebblestore.Options{DataDir: opts.DataDir, Fsync: opts.Fsync, Logger: logger})
	if err != nil {
		return nil, err
	}
	rt := &Runtime{db: db, config: opts.Config, logger: logger.With(logpkg.Component("runtime"))}
	switch {
	case opts.Redis != nil:
		rt.redis = opts.Redis
	case opts.Config.UsesRedis():
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     opts.Config.Redis.Addr,
			DB:       opts.Config.Redis.DB,
			Password: opts.Config.Redis.Password,
		})
		rt.ownsRedis = true
	}
	return rt, nil
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	var errs []error
	if r.redis != nil && r.ownsRedis {
		errs = append(errs, r.redis.Close())
	}
	if r.db != nil {
		errs = append(errs, r.db.Close())
	}
	return errors.Join(errs...)
}

// CheckHealth probes Pebble and, when configured, pings Redis.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	if err := r.db.Probe(ctx); err != nil {
		return fmt.Errorf("pebble: %w", err)
	}
	if r.redis != nil {
		if err := r.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// OpenQueue opens the configured work-item queue.
func (r *Runtime) OpenQueue() (queue.Queue, error) {
	name := r.config.Queue.Name
	switch r.config.Queue.Backend {
	case cfgpkg.BackendPebble, "":
		return workqueue.Open(r.db, name, workqueue.Options{Logger: r.logger})
	case cfgpkg.BackendRedis:
		if r.redis == nil {
			return nil, errors.New("runtime: redis queue without a redis client")
		}
		return redisqueue.New(r.redis, name, redisqueue.Options{KeyPrefix: r.config.Redis.KeyPrefix})
	case cfgpkg.BackendMemory:
		return queue.NewMemory(), nil
	}
	return nil, fmt.Errorf("runtime: unknown queue backend %q", r.config.Queue.Backend)
}

// Locker returns the configured synchronization-key locker.
func (r *Runtime) Locker() (workitem.Locker, error) {
	opts := lock.Options{
		Lease:          r.config.Lock.Lease.D(),
		AcquireTimeout: r.config.Lock.AcquireTimeout.D(),
		Logger:         r.logger,
	}
	switch r.config.Lock.Backend {
	case cfgpkg.LockRedis:
		if r.redis == nil {
			return nil, errors.New("runtime: redis lock without a redis client")
		}
		return lock.New(lock.NewRedisBackend(r.redis, r.config.Redis.KeyPrefix+"lock:"), opts), nil
	case cfgpkg.LockLocal, "":
		return lock.New(lock.NewPebbleBackend(r.db), opts), nil
	case cfgpkg.LockNone:
		return lock.None{}, nil
	}
	return nil, fmt.Errorf("runtime: unknown lock backend %q", r.config.Lock.Backend)
}

// StateCache returns the replica state cache, or nil without Redis.
func (r *Runtime) StateCache() *statecache.Cache {
	if r.redis == nil {
		return nil
	}
	return statecache.New(r.redis, r.config.Redis.KeyPrefix)
}

// Ledger returns the dependency-flow ledger stored in Pebble.
func (r *Runtime) Ledger() *dependencyflow.Ledger { return dependencyflow.NewLedger(r.db) }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Redis returns the shared client, or nil.
func (r *Runtime) Redis() redis.UniversalClient { return r.redis }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
