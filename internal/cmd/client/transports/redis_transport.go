package transports

import (
	"context"
	"errors"
	"time"

	"github.com/rzbill/pcs/internal/statecache"
	"github.com/rzbill/pcs/internal/workitem"
)

// RedisTransport drives a replica through the shared state cache, so the CLI
// needs no network path to the worker itself.
type RedisTransport struct {
	cache   *statecache.Cache
	replica string
	poll    time.Duration
}

// NewRedisTransport targets replica through cache.
func NewRedisTransport(cache *statecache.Cache, replica string, poll time.Duration) *RedisTransport {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &RedisTransport{cache: cache, replica: replica, poll: poll}
}

func (t *RedisTransport) Get(ctx context.Context) (Status, error) {
	st, err := t.cache.GetState(ctx, t.replica)
	if err != nil {
		return Status{}, err
	}
	return Status{Replica: t.replica, State: st}, nil
}

// Start records the command; the replica applies it on its next poll.
func (t *RedisTransport) Start(ctx context.Context) (Status, error) {
	if err := t.cache.RequestStart(ctx, t.replica); err != nil {
		return Status{}, err
	}
	return t.Get(ctx)
}

func (t *RedisTransport) Stop(ctx context.Context, wait time.Duration) (Status, error) {
	if err := t.cache.RequestStop(ctx, t.replica); err != nil {
		return Status{}, err
	}
	if wait > 0 {
		wctx, cancel := context.WithTimeout(ctx, wait)
		err := t.cache.WaitForState(wctx, t.replica, workitem.Stopped, t.poll)
		cancel()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return Status{}, err
		}
	}
	return t.Get(ctx)
}
