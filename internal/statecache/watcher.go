package statecache

import (
	"context"
	"sync"
	"time"

	"github.com/rzbill/pcs/internal/workitem"
	logpkg "github.com/rzbill/pcs/pkg/log"
)

// Watcher binds a local ProcessorState to its replica entry: transitions are
// published and remote start/stop commands are applied.
type Watcher struct {
	cache    *Cache
	replica  string
	state    *workitem.ProcessorState
	interval time.Duration
	logger   logpkg.Logger

	mu      sync.Mutex // serializes polls from Run and the worker warm-up
	applied int64
}

// NewWatcher returns a watcher polling every interval.
func NewWatcher(cache *Cache, replica string, state *workitem.ProcessorState, interval time.Duration, logger logpkg.Logger) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithOutput(logpkg.NullOutput{}))
	}
	return &Watcher{
		cache:    cache,
		replica:  replica,
		state:    state,
		interval: interval,
		logger:   logger.With(logpkg.Component("statecache"), logpkg.Str("replica", replica)),
	}
}

// Publish writes the current state and registers a listener that publishes
// every later transition.
func (w *Watcher) Publish(ctx context.Context) error {
	w.state.OnStateChange(func(_, to workitem.State) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := w.cache.SetState(pctx, w.replica, to); err != nil {
			w.logger.Warn("publish state failed", logpkg.Str("state", to.String()), logpkg.Err(err))
		}
	})
	return w.cache.SetState(ctx, w.replica, w.state.State())
}

// Run polls for commands until ctx is done. Poll errors are logged and
// retried on the next tick.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		if _, err := w.Poll(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("poll for commands failed", logpkg.Err(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Poll applies the latest command once and reports whether it applied one.
// Commands issued before the first poll are applied too. While the worker
// is still Initializing the command is left pending: a start must not skip
// warm-up, and a stop would be a no-op and get lost.
func (w *Watcher) Poll(ctx context.Context) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cmd, ok, err := w.cache.LastCommand(ctx, w.replica)
	if err != nil || !ok {
		return false, err
	}
	if cmd.Seq == w.applied {
		return false, nil
	}
	if w.state.State() == workitem.Initializing {
		w.logger.Debug("command deferred until initialized", logpkg.Int64("seq", cmd.Seq), logpkg.Str("desired", cmd.Desired.String()))
		return false, nil
	}
	w.applied = cmd.Seq
	switch cmd.Desired {
	case workitem.Working:
		w.logger.Info("remote start requested", logpkg.Int64("seq", cmd.Seq))
		w.state.Start()
	case workitem.Stopped, workitem.Stopping:
		w.logger.Info("remote stop requested", logpkg.Int64("seq", cmd.Seq))
		w.state.RequestDrainAndStop()
	}
	return true, nil
}

// Commanded reports whether any remote command has been applied.
func (w *Watcher) Commanded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.applied != 0
}
