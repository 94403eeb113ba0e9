package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	logpkg "github.com/rzbill/pcs/pkg/log"
)

var (
	// ErrLockTimeout is returned when the key could not be acquired within
	// AcquireTimeout.
	ErrLockTimeout = errors.New("lock: acquisition timed out")
	// ErrLeaseLost is returned when renewal discovers another owner.
	ErrLeaseLost = errors.New("lock: lease lost")
)

// Backend performs the atomic primitives for one storage system.
type Backend interface {
	// TryAcquire sets key to token if it is free or expired.
	TryAcquire(ctx context.Context, key, token string, lease time.Duration) (bool, error)
	// Renew extends the lease if token still owns key.
	Renew(ctx context.Context, key, token string, lease time.Duration) (bool, error)
	// Release deletes key if token still owns it.
	Release(ctx context.Context, key, token string) error
}

// Options configures a Locker.
type Options struct {
	// Lease is the time-to-live of a held key. Renewed every Lease/3.
	Lease time.Duration
	// AcquireTimeout bounds how long ExecuteWithLock waits for the key.
	AcquireTimeout time.Duration
	// RetryInterval is the pause between acquisition attempts.
	RetryInterval time.Duration
	Logger        logpkg.Logger
}

// Locker runs functions while holding a named lock.
type Locker struct {
	backend Backend
	opts    Options
	logger  logpkg.Logger
}

// New wraps backend with the acquire/renew/release protocol.
func New(backend Backend, opts Options) *Locker {
	if opts.Lease <= 0 {
		opts.Lease = 30 * time.Second
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 30 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 100 * time.Millisecond
	}
	l := opts.Logger
	if l == nil {
		l = logpkg.NewLogger(logpkg.WithOutput(logpkg.NullOutput{}))
	}
	return &Locker{backend: backend, opts: opts, logger: l.With(logpkg.Component("lock"))}
}

// ExecuteWithLock runs fn while holding key. fn's context is cancelled if the
// lease is lost. Acquisition observes ctx.
func (l *Locker) ExecuteWithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if key == "" {
		return errors.New("lock: empty key")
	}
	token := uuid.NewString()
	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		l.renew(runCtx, key, token, cancel)
	}()

	defer func() {
		cancel(nil)
		<-renewDone
		// release even when ctx is already cancelled
		relCtx, relCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer relCancel()
		if err := l.backend.Release(relCtx, key, token); err != nil {
			l.logger.Warn("lock release failed", logpkg.Str("key", key), logpkg.Err(err))
		}
	}()

	err := fn(runCtx)
	if cause := context.Cause(runCtx); errors.Is(cause, ErrLeaseLost) && err != nil {
		return fmt.Errorf("%w: %v", ErrLeaseLost, err)
	}
	return err
}

func (l *Locker) acquire(ctx context.Context, key, token string) error {
	deadline := time.NewTimer(l.opts.AcquireTimeout)
	defer deadline.Stop()
	for {
		ok, err := l.backend.TryAcquire(ctx, key, token, l.opts.Lease)
		if err != nil {
			return fmt.Errorf("lock: acquire %q: %w", key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %q after %s", ErrLockTimeout, key, l.opts.AcquireTimeout)
		case <-time.After(l.opts.RetryInterval):
		}
	}
}

func (l *Locker) renew(ctx context.Context, key, token string, cancel context.CancelCauseFunc) {
	t := time.NewTicker(l.opts.Lease / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			ok, err := l.backend.Renew(ctx, key, token, l.opts.Lease)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// transient; the next tick retries before the lease lapses
				l.logger.Warn("lock renew failed", logpkg.Str("key", key), logpkg.Err(err))
				continue
			}
			if !ok {
				l.logger.Error("lock lease lost", logpkg.Str("key", key))
				cancel(ErrLeaseLost)
				return
			}
		}
	}
}

// None executes fn without any exclusion.
type None struct{}

// ExecuteWithLock implements the locker contract with no locking.
func (None) ExecuteWithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
