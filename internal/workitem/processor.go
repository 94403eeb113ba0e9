package workitem

import (
	"context"
	"errors"

	logpkg "github.com/rzbill/pcs/pkg/log"
)

// Processor handles work items of the types it was registered for. A false
// result with a nil error is treated as a failure.
type Processor interface {
	Process(ctx context.Context, item WorkItem) (bool, error)
}

// Synchronizer is implemented by processors whose items must not run
// concurrently with other items mapping to the same key. An empty key
// disables locking for that item.
type Synchronizer interface {
	SynchronizationKey(item WorkItem) string
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, item WorkItem) (bool, error)

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, item WorkItem) (bool, error) {
	return f(ctx, item)
}

// ProcessorFactory builds the processor for one scope. It runs once per work
// item so processors may hold per-item state; cleanups registered on res run
// when the scope closes.
type ProcessorFactory func(res *Resources) (Processor, error)

// Static returns a factory that always hands out p.
func Static(p Processor) ProcessorFactory {
	return func(*Resources) (Processor, error) { return p, nil }
}

// Locker runs fn while holding a named lock shared by every worker.
type Locker interface {
	ExecuteWithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type noLock struct{}

func (noLock) ExecuteWithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Resources is the child resource scope of one execution.
type Resources struct {
	// Logger is tagged with the work item's type and id.
	Logger logpkg.Logger
	// ScopeID identifies the execution for log correlation.
	ScopeID string

	cleanups []func() error
}

// OnClose registers fn to run when the scope closes. Cleanups run in reverse
// registration order.
func (r *Resources) OnClose(fn func() error) {
	r.cleanups = append(r.cleanups, fn)
}

func (r *Resources) close() error {
	var errs []error
	for i := len(r.cleanups) - 1; i >= 0; i-- {
		if err := r.cleanups[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.cleanups = nil
	return errors.Join(errs...)
}
