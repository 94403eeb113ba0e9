package workitem

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	logpkg "github.com/rzbill/pcs/pkg/log"
)

// ScopeManagerOptions wires a ScopeManager.
type ScopeManagerOptions struct {
	State    *ProcessorState
	Registry *Registry
	// Locker guards items whose processor returns a synchronization key.
	// Nil runs them unguarded.
	Locker   Locker
	Recorder Recorder
	Logger   logpkg.Logger
	// Now overrides the clock used for durations (tests).
	Now func() time.Time
}

// ScopeManager hands out execution scopes, one at a time, as the lifecycle
// controller allows.
type ScopeManager struct {
	state    *ProcessorState
	registry *Registry
	locker   Locker
	recorder Recorder
	logger   logpkg.Logger
	now      func() time.Time
}

// NewScopeManager validates opts and fills defaults.
func NewScopeManager(opts ScopeManagerOptions) (*ScopeManager, error) {
	if opts.State == nil || opts.Registry == nil {
		return nil, errors.New("workitem: ScopeManager requires State and Registry")
	}
	m := &ScopeManager{
		state:    opts.State,
		registry: opts.Registry,
		locker:   opts.Locker,
		recorder: opts.Recorder,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if m.locker == nil {
		m.locker = noLock{}
	}
	if m.recorder == nil {
		m.recorder = NopRecorder{}
	}
	if m.logger == nil {
		m.logger = logpkg.NewLogger(logpkg.WithOutput(logpkg.NullOutput{}))
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// State returns the lifecycle controller.
func (m *ScopeManager) State() *ProcessorState { return m.state }

// BeginScopeWhenReady blocks until the worker is Working and no other scope
// is open, then returns a new scope. The caller must Close it.
func (m *ScopeManager) BeginScopeWhenReady(ctx context.Context) (*Scope, error) {
	if err := m.state.acquire(ctx); err != nil {
		return nil, err
	}
	sid := uuid.NewString()
	return &Scope{
		m:   m,
		res: &Resources{ScopeID: sid, Logger: m.logger.With(logpkg.Str("scope", sid))},
	}, nil
}

// Scope is the execution context of a single work item.
type Scope struct {
	m    *ScopeManager
	res  *Resources
	item WorkItem

	closeOnce sync.Once
	closeErr  error
}

// Initialize binds the work item. It may be called once.
func (s *Scope) Initialize(item WorkItem) error {
	if item == nil {
		return errors.New("workitem: nil work item")
	}
	if s.item != nil {
		return errors.New("workitem: scope already initialized")
	}
	s.item = item
	s.res.Logger = s.res.Logger.With(logpkg.Str("type", item.Type()), logpkg.Str("work_item_id", item.ID()))
	return nil
}

// Item returns the bound work item, or nil.
func (s *Scope) Item() WorkItem { return s.item }

// Resources returns the scope's child resources.
func (s *Scope) Resources() *Resources { return s.res }

// Run resolves the processor for the bound item and executes it, inside the
// synchronization lock when the processor supplies a key. A completion event
// with the duration is recorded whatever the outcome.
func (s *Scope) Run(ctx context.Context) error {
	if s.item == nil {
		return ErrScopeNotInitialized
	}
	item := s.item
	typ := item.Type()
	start := s.m.now()

	proc, err := s.processor(typ)
	if err != nil {
		return s.complete(typ, start, err)
	}
	key := ""
	if sp, ok := proc.(Synchronizer); ok {
		key = sp.SynchronizationKey(item)
	}

	s.m.recorder.Record(Event{Kind: EventStarted, At: s.m.now(), Type: typ, WorkItemID: item.ID(), SyncKey: key})
	s.res.Logger.Debug("processing work item", logpkg.Str("sync_key", key))

	exec := func(ctx context.Context) error {
		ok, err := safeProcess(ctx, proc, item)
		if err != nil {
			return err
		}
		if !ok {
			return ErrProcessingFailed
		}
		return nil
	}

	if key != "" {
		lockStart := s.m.now()
		err = s.m.locker.ExecuteWithLock(ctx, key, exec)
		s.m.recorder.Record(Event{
			Kind:       EventSynchronized,
			At:         s.m.now(),
			Type:       typ,
			WorkItemID: item.ID(),
			SyncKey:    key,
			Duration:   s.m.now().Sub(lockStart),
			Success:    err == nil,
			Error:      errString(err),
		})
	} else {
		err = exec(ctx)
	}
	return s.complete(typ, start, err)
}

func (s *Scope) processor(typ string) (Processor, error) {
	factory, err := s.m.registry.factory(typ)
	if err != nil {
		return nil, err
	}
	proc, err := factory(s.res)
	if err != nil {
		return nil, fmt.Errorf("workitem: build processor for %s: %w", typ, err)
	}
	return proc, nil
}

// complete records the completion sample for the bound item and returns err.
func (s *Scope) complete(typ string, start time.Time, err error) error {
	elapsed := s.m.now().Sub(start)
	s.m.recorder.Record(Event{
		Kind:       EventCompleted,
		At:         s.m.now(),
		Type:       typ,
		WorkItemID: s.item.ID(),
		Duration:   elapsed,
		Success:    err == nil,
		Error:      errString(err),
	})
	if err != nil {
		s.res.Logger.Debug("work item failed", logpkg.Duration("elapsed", elapsed), logpkg.Err(err))
		return err
	}
	s.res.Logger.Debug("work item completed", logpkg.Duration("elapsed", elapsed))
	return nil
}

// safeProcess converts a processor panic into an error.
func safeProcess(ctx context.Context, p Processor, item WorkItem) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("workitem: processor panic: %v\n%s", r, debug.Stack())
		}
	}()
	return p.Process(ctx, item)
}

// Close releases the child resources and fires the lifecycle completion
// callback. Only the first call has any effect.
func (s *Scope) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.res.close()
		if s.closeErr != nil {
			s.res.Logger.Warn("scope cleanup failed", logpkg.Err(s.closeErr))
		}
		s.m.state.complete()
	})
	return s.closeErr
}
