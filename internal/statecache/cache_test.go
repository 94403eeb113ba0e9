package statecache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rzbill/pcs/internal/workitem"
)

func newCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, "pcs:")
}

func TestStateRoundTrip(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	if _, err := c.GetState(ctx, "r1"); !errors.Is(err, ErrUnknownReplica) {
		t.Fatalf("expected unknown replica, got %v", err)
	}
	if err := c.SetState(ctx, "r1", workitem.Stopping); err != nil {
		t.Fatalf("set: %v", err)
	}
	_ = c.SetState(ctx, "r0", workitem.Working)
	if s, err := c.GetState(ctx, "r1"); err != nil || s != workitem.Stopping {
		t.Fatalf("get: %v %v", s, err)
	}
	got, _ := c.Replicas(ctx)
	if len(got) != 2 || got[0] != "r0" || got[1] != "r1" {
		t.Fatalf("replicas: %v", got)
	}
	if err := c.Forget(ctx, "r0"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if got, _ := c.Replicas(ctx); len(got) != 1 {
		t.Fatalf("replicas after forget: %v", got)
	}
}

func TestWatcherPublishesTransitions(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	st := workitem.NewProcessorState()
	w := NewWatcher(c, "r1", st, time.Millisecond, nil)
	if err := w.Publish(ctx); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if s, _ := c.GetState(ctx, "r1"); s != workitem.Initializing {
		t.Fatalf("initial state %v", s)
	}
	st.InitializationFinished()
	st.Start()
	if s, _ := c.GetState(ctx, "r1"); s != workitem.Working {
		t.Fatalf("state after start %v", s)
	}
}

func TestWatcherAppliesCommands(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	st := workitem.NewProcessorState()
	st.InitializationFinished()
	w := NewWatcher(c, "r1", st, time.Millisecond, nil)
	_ = w.Publish(ctx)

	if applied, err := w.Poll(ctx); err != nil || applied {
		t.Fatalf("poll without command: %v %v", applied, err)
	}
	if st.State() != workitem.Stopped {
		t.Fatalf("state changed without a command: %v", st.State())
	}

	_ = c.RequestStart(ctx, "r1")
	_, _ = w.Poll(ctx)
	if st.State() != workitem.Working {
		t.Fatalf("after start: %v", st.State())
	}

	// a local stop is not undone by re-reading the same command
	st.RequestDrainAndStop()
	_, _ = w.Poll(ctx)
	if st.State() != workitem.Stopped {
		t.Fatalf("stale command re-applied: %v", st.State())
	}

	_ = c.RequestStop(ctx, "r1")
	_ = c.RequestStart(ctx, "r1")
	_, _ = w.Poll(ctx)
	if st.State() != workitem.Working {
		t.Fatalf("restart after stop: %v", st.State())
	}
}

func TestRemoteDrainAndWait(t *testing.T) {
	c := newCache(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st := workitem.NewProcessorState()
	st.InitializationFinished()
	st.Start()
	w := NewWatcher(c, "r1", st, 2*time.Millisecond, nil)
	_ = w.Publish(ctx)
	runCtx, stopRun := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(runCtx) }()

	if err := c.RequestStop(ctx, "r1"); err != nil {
		t.Fatalf("request stop: %v", err)
	}
	if err := c.WaitForState(ctx, "r1", workitem.Stopped, 2*time.Millisecond); err != nil {
		t.Fatalf("wait: %v", err)
	}
	stopRun()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestStartIssuedBeforeRestartWaitsForInitialization(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	_ = c.RequestStart(ctx, "r1")

	st := workitem.NewProcessorState()
	w := NewWatcher(c, "r1", st, time.Millisecond, nil)
	if applied, err := w.Poll(ctx); err != nil || applied {
		t.Fatalf("poll while initializing: %v %v", applied, err)
	}
	if st.State() != workitem.Initializing {
		t.Fatalf("start skipped warm-up: %v", st.State())
	}

	st.InitializationFinished()
	if applied, err := w.Poll(ctx); err != nil || !applied {
		t.Fatalf("pending start not applied: %v %v", applied, err)
	}
	if st.State() != workitem.Working {
		t.Fatalf("after initialization: %v", st.State())
	}
}

func TestStopIssuedBeforeRestartIsKept(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	_ = c.RequestStop(ctx, "r1")

	st := workitem.NewProcessorState()
	w := NewWatcher(c, "r1", st, time.Millisecond, nil)
	_, _ = w.Poll(ctx)

	st.InitializationFinished()
	if applied, _ := w.Poll(ctx); !applied {
		t.Fatalf("pending stop not applied")
	}
	st.Start()
	_, _ = w.Poll(ctx)
	if st.State() != workitem.Working {
		t.Fatalf("an applied stop was re-applied: %v", st.State())
	}
}
