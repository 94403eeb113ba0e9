package workerrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	cfgpkg "github.com/rzbill/pcs/internal/config"
	"github.com/rzbill/pcs/internal/deadletter"
	"github.com/rzbill/pcs/internal/dependencyflow"
	"github.com/rzbill/pcs/internal/filter"
	"github.com/rzbill/pcs/internal/queue"
	"github.com/rzbill/pcs/internal/runtime"
	grpcserver "github.com/rzbill/pcs/internal/server/grpc"
	httpserver "github.com/rzbill/pcs/internal/server/http"
	"github.com/rzbill/pcs/internal/server/http/controllers"
	"github.com/rzbill/pcs/internal/statecache"
	pebblestore "github.com/rzbill/pcs/internal/storage/pebble"
	"github.com/rzbill/pcs/internal/telemetry"
	"github.com/rzbill/pcs/internal/workitem"
	logpkg "github.com/rzbill/pcs/pkg/log"
)

// Options configures one worker process.
type Options struct {
	DataDir string
	Fsync   pebblestore.FsyncMode
	Config  cfgpkg.Config
	// Logger overrides the logger built from Config.Log.
	Logger logpkg.Logger
	// Redis overrides the client built from Config.Redis (tests).
	Redis redis.UniversalClient
	// Remote answers pull request and commit queries for dependency flow.
	Remote dependencyflow.Remote
	// CheckInterval overrides the pull request re-check delay.
	CheckInterval time.Duration
}

// Worker is a fully wired worker process.
type Worker struct {
	cfg    cfgpkg.Config
	logger logpkg.Logger

	rt       *runtime.Runtime
	queue    queue.Queue
	state    *workitem.ProcessorState
	registry *workitem.Registry
	producer *workitem.Producer
	consumer *workitem.Consumer
	stats    *telemetry.Stats
	ledger   *telemetry.Ledger
	hub      *telemetry.Hub
	dead     *deadletter.Store
	watcher  *statecache.Watcher

	http *httpserver.Server
	grpc *grpcserver.Server
}

// Run builds a worker, serves until ctx is cancelled or SIGINT/SIGTERM
// arrives, drains it and closes everything.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	w, err := Build(opts)
	if err != nil {
		return err
	}
	defer w.Close()
	return w.Run(sctx)
}

// Build wires storage, the queue, the registry, telemetry and servers. Nothing
// is started.
func Build(opts Options) (*Worker, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		l, err := logpkg.ApplyConfig(&logpkg.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
		if err != nil {
			return nil, err
		}
		logger = l
		logpkg.RedirectStdLog(logger)
	}
	if opts.DataDir == "" {
		opts.DataDir = filepath.Join(cfgpkg.DefaultDataDir(), "store")
	}

	rt, err := runtime.Open(runtime.Options{DataDir: opts.DataDir, Fsync: opts.Fsync, Config: cfg, Logger: logger, Redis: opts.Redis})
	if err != nil {
		return nil, err
	}
	w := &Worker{cfg: cfg, logger: logger, rt: rt, state: workitem.NewProcessorState(), registry: workitem.NewRegistry()}
	if err := w.wire(opts); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

func (w *Worker) wire(opts Options) error {
	cfg := w.cfg
	q, err := w.rt.OpenQueue()
	if err != nil {
		return err
	}
	w.queue = q
	w.producer = workitem.NewProducer(q, w.registry)

	if err := dependencyflow.Register(w.registry, dependencyflow.Deps{
		Ledger:        w.rt.Ledger(),
		Producer:      w.producer,
		Remote:        opts.Remote,
		CheckInterval: opts.CheckInterval,
	}); err != nil {
		return err
	}
	w.registry.Seal()

	locker, err := w.rt.Locker()
	if err != nil {
		return err
	}

	w.stats = telemetry.NewStats()
	w.hub = telemetry.NewHub(w.logger)
	recs := []workitem.Recorder{telemetry.NewLogRecorder(w.logger), w.stats, w.hub}
	if cfg.Telemetry.SQLitePath != "" {
		if w.ledger, err = telemetry.OpenLedger(cfg.Telemetry.SQLitePath, w.logger); err != nil {
			return err
		}
		recs = append(recs, w.ledger)
	}
	recorder := telemetry.Multi(recs...)

	scopes, err := workitem.NewScopeManager(workitem.ScopeManagerOptions{
		State:    w.state,
		Registry: w.registry,
		Locker:   locker,
		Recorder: recorder,
		Logger:   w.logger,
	})
	if err != nil {
		return err
	}

	copts := workitem.ConsumerOptions{
		Queue:                   q,
		Scopes:                  scopes,
		Registry:                w.registry,
		Recorder:                recorder,
		Logger:                  w.logger,
		PollInterval:            cfg.Processor.PollInterval.D(),
		VisibilityTimeout:       cfg.Processor.VisibilityTimeout.D(),
		VisibilityRenewInterval: cfg.Processor.VisibilityRenewInterval.D(),
		MaxRetries:              cfg.Processor.MaxRetries,
	}
	skip, err := filter.Compile(cfg.Processor.Skip)
	if err != nil {
		return err
	}
	if skip != nil {
		copts.Skip = skip
	}
	if cfg.DeadLetter.Enabled {
		if w.dead, err = deadletter.Open(w.rt.DB(), cfg.Queue.Name, deadletter.Options{Logger: w.logger}); err != nil {
			return err
		}
		copts.DeadLetter = w.dead
	}
	if w.consumer, err = workitem.NewConsumer(copts); err != nil {
		return err
	}

	if cfg.StateSync.Enabled {
		if cache := w.rt.StateCache(); cache != nil {
			w.watcher = statecache.NewWatcher(cache, cfg.Replica, w.state, cfg.StateSync.PollInterval.D(), w.logger)
		}
	}

	deps := controllers.Deps{
		Runtime:  w.rt,
		State:    w.state,
		Registry: w.registry,
		Producer: w.producer,
		Queue:    q,
		Replica:  cfg.Replica,
		Stats:    w.stats,
		Hub:      w.hub,
		Flow:     w.rt.Ledger(),
	}
	if w.ledger != nil {
		deps.Ledger = w.ledger
	}
	if w.dead != nil {
		deps.DeadLetters = w.dead
	}
	if cfg.Server.HTTPAddr != "" {
		w.http = httpserver.New(deps, w.logger)
	}
	if cfg.Server.GRPCAddr != "" {
		w.grpc = grpcserver.New(w.rt, w.state, w.logger)
	}
	return nil
}

// State returns the lifecycle controller.
func (w *Worker) State() *workitem.ProcessorState { return w.state }

// Producer enqueues work items on the worker's queue.
func (w *Worker) Producer() *workitem.Producer { return w.producer }

// Queue returns the worker's queue.
func (w *Worker) Queue() queue.Queue { return w.queue }

// Stats returns the per-type counters.
func (w *Worker) Stats() *telemetry.Stats { return w.stats }

// DeadLetters returns the poison message archive, or nil when disabled.
func (w *Worker) DeadLetters() *deadletter.Store { return w.dead }

// Runtime returns the storage runtime.
func (w *Worker) Runtime() *runtime.Runtime { return w.rt }

// Run warms up, serves and consumes until ctx is done, then drains: the
// in-flight item is given DrainTimeout to finish before the consumer is
// cancelled. Listeners keep serving during the drain so status stays
// observable.
func (w *Worker) Run(ctx context.Context) error {
	procCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.logger.Info("starting worker",
		logpkg.Str("replica", w.cfg.Replica),
		logpkg.Str("queue", w.cfg.Queue.Name),
		logpkg.Str("queue_backend", w.cfg.Queue.Backend),
		logpkg.Str("lock_backend", w.cfg.Lock.Backend),
		logpkg.Str("http", w.cfg.Server.HTTPAddr),
		logpkg.Str("grpc", w.cfg.Server.GRPCAddr),
		logpkg.Bool("state_sync", w.watcher != nil))

	var wg sync.WaitGroup
	serve := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(procCtx); err != nil && procCtx.Err() == nil {
				w.logger.Error(name+" stopped", logpkg.Err(err))
			}
		}()
	}
	if w.http != nil {
		serve("http", func(ctx context.Context) error { return w.http.ListenAndServe(ctx, w.cfg.Server.HTTPAddr) })
	}
	if w.grpc != nil {
		serve("grpc", func(ctx context.Context) error { return w.grpc.ListenAndServe(ctx, w.cfg.Server.GRPCAddr) })
	}
	if w.watcher != nil {
		if err := w.watcher.Publish(ctx); err != nil {
			w.logger.Warn("publish state failed", logpkg.Err(err))
		}
		serve("state watcher", w.watcher.Run)
	}
	if w.dead != nil && w.cfg.DeadLetter.Retention > 0 {
		serve("dead-letter trim", w.trimDeadLetters)
	}

	consumerErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		consumerErr <- w.consumer.Run(procCtx)
	}()

	err := w.warmUp(ctx)
	if err == nil {
		select {
		case <-ctx.Done():
		case err = <-consumerErr:
			if err != nil {
				err = fmt.Errorf("consumer: %w", err)
			}
		}
	}

	w.drain()
	cancel()
	wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// warmUp verifies storage before telling the lifecycle controller the worker
// is ready.
func (w *Worker) warmUp(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := w.rt.CheckHealth(hctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("warm-up health check: %w", err)
	}
	w.state.InitializationFinished()
	// a start or stop issued while the replica was down wins over StartOnReady
	remote := false
	if w.watcher != nil {
		if _, err := w.watcher.Poll(ctx); err != nil {
			w.logger.Warn("reading pending command failed", logpkg.Err(err))
		}
		// the watcher loop may have applied it first
		remote = w.watcher.Commanded()
	}
	if w.cfg.Processor.StartOnReady && !remote {
		w.state.Start()
	}
	w.logger.Info("worker initialized", logpkg.Str("state", w.state.State().String()))
	return nil
}

// trimDeadLetters enforces DeadLetter.Retention until ctx is done.
func (w *Worker) trimDeadLetters(ctx context.Context) error {
	interval := w.cfg.DeadLetter.TrimInterval.D()
	if interval <= 0 {
		interval = time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		cutoff := time.Now().Add(-w.cfg.DeadLetter.Retention.D())
		if n, err := w.dead.TrimOlderThan(ctx, cutoff, 0); err != nil && ctx.Err() == nil {
			w.logger.Warn("dead-letter trim failed", logpkg.Err(err))
		} else if n > 0 {
			w.logger.Info("dead-letter entries trimmed", logpkg.Int("count", n))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (w *Worker) drain() {
	w.state.RequestDrainAndStop()
	if st := w.state.State(); st != workitem.Stopping {
		return
	}
	timeout := w.cfg.Processor.DrainTimeout.D()
	w.logger.Info("draining in-flight work item", logpkg.Duration("timeout", timeout))
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := w.state.WaitForState(ctx, workitem.Stopped); err != nil {
		w.logger.Warn("drain timed out; in-flight message will be redelivered")
	}
}

// Close releases servers, telemetry and storage.
func (w *Worker) Close() {
	if w.http != nil {
		w.http.Close()
	}
	if w.grpc != nil {
		w.grpc.Close()
	}
	if w.hub != nil {
		w.hub.Close()
	}
	if w.ledger != nil {
		_ = w.ledger.Close()
	}
	if w.rt != nil {
		_ = w.rt.Close()
	}
}
