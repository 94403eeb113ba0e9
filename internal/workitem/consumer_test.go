package workitem

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rzbill/pcs/internal/lock"
	"github.com/rzbill/pcs/internal/queue"
)

func TestAlwaysFailingItemRunsMaxRetriesThenPoison(t *testing.T) {
	var runs int32
	h := newHarness(t, nil, func(r *Registry) {
		_ = RegisterType[pingItem](r, Static(ProcessorFunc(func(context.Context, WorkItem) (bool, error) {
			atomic.AddInt32(&runs, 1)
			return false, nil
		})))
	})
	if _, err := h.producer.Enqueue(context.Background(), &pingItem{N: 1}, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	h.state.Start()
	stop := start(t, h.consumer(t, 3, nil))

	h.events.waitFor(t, EventPoison, 1)
	if err := stop(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := atomic.LoadInt32(&runs); got != 3 {
		t.Fatalf("processor ran %d times, want 3", got)
	}
	if got := h.events.count(EventTransientFailure); got != 2 {
		t.Fatalf("transient failures: %d", got)
	}
	if n, _ := h.q.Len(context.Background()); n != 0 {
		t.Fatalf("poison message still queued (%d)", n)
	}
}

func TestSucceedsOnThirdAttempt(t *testing.T) {
	var runs int32
	h := newHarness(t, nil, func(r *Registry) {
		_ = RegisterType[pingItem](r, Static(ProcessorFunc(func(context.Context, WorkItem) (bool, error) {
			if atomic.AddInt32(&runs, 1) < 3 {
				return false, errors.New("upstream unavailable")
			}
			return true, nil
		})))
	})
	_, _ = h.producer.Enqueue(context.Background(), &pingItem{}, 0)
	h.state.Start()
	stop := start(t, h.consumer(t, 3, nil))

	h.events.waitFor(t, EventCompleted, 3)
	waitLen(t, h.q, 0)
	_ = stop()
	if h.events.count(EventTransientFailure) != 2 || h.events.count(EventPoison) != 0 {
		t.Fatalf("transient=%d poison=%d", h.events.count(EventTransientFailure), h.events.count(EventPoison))
	}
}

func TestUnknownTypeIsPoisonedWithoutBlocking(t *testing.T) {
	var handled int32
	h := newHarness(t, nil, func(r *Registry) {
		_ = RegisterType[pingItem](r, Static(ProcessorFunc(func(context.Context, WorkItem) (bool, error) {
			atomic.AddInt32(&handled, 1)
			return true, nil
		})))
	})
	ctx := context.Background()
	if _, err := h.q.Send(ctx, []byte(`{"type":"Retired","payload":{}}`), 0); err != nil {
		t.Fatalf("send: %v", err)
	}
	_, _ = h.producer.Enqueue(ctx, &pingItem{N: 2}, 0)
	h.state.Start()
	stop := start(t, h.consumer(t, 2, nil))

	h.events.waitFor(t, EventPoison, 1)
	waitLen(t, h.q, 0)
	_ = stop()
	if atomic.LoadInt32(&handled) != 1 {
		t.Fatalf("known item handled %d times", handled)
	}
	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	for _, ev := range h.events.events {
		if ev.Kind == EventPoison && (ev.Type != "Retired" || !strings.Contains(ev.Error, "unknown work item type")) {
			t.Fatalf("poison event: %+v", ev)
		}
	}
}

// receiptSpy records the receipt of every Receive and Delete.
type receiptSpy struct {
	queue.Queue
	mu       sync.Mutex
	received []string
	deleted  []string
}

func (s *receiptSpy) Receive(ctx context.Context, vt time.Duration) (*queue.Message, error) {
	m, err := s.Queue.Receive(ctx, vt)
	if m != nil {
		s.mu.Lock()
		s.received = append(s.received, m.PopReceipt)
		s.mu.Unlock()
	}
	return m, err
}

func (s *receiptSpy) Delete(ctx context.Context, id, receipt string) error {
	s.mu.Lock()
	s.deleted = append(s.deleted, receipt)
	s.mu.Unlock()
	return s.Queue.Delete(ctx, id, receipt)
}

func TestAcknowledgeUsesLatestReceipt(t *testing.T) {
	var runs int32
	h := newHarness(t, nil, func(r *Registry) {
		_ = RegisterType[pingItem](r, Static(ProcessorFunc(func(context.Context, WorkItem) (bool, error) {
			return atomic.AddInt32(&runs, 1) > 1, nil
		})))
	})
	spy := &receiptSpy{Queue: h.q}
	_, _ = h.producer.Enqueue(context.Background(), &pingItem{}, 0)
	h.state.Start()
	stop := start(t, h.consumer(t, 5, func(o *ConsumerOptions) { o.Queue = spy }))

	waitLen(t, h.q, 0)
	_ = stop()
	spy.mu.Lock()
	defer spy.mu.Unlock()
	if len(spy.received) != 2 || len(spy.deleted) != 1 {
		t.Fatalf("received %d deleted %d", len(spy.received), len(spy.deleted))
	}
	if spy.deleted[0] != spy.received[1] {
		t.Fatalf("deleted with %s, latest receipt %s", spy.deleted[0], spy.received[1])
	}
}

func TestCancellationLeavesMessageQueued(t *testing.T) {
	entered := make(chan struct{})
	h := newHarness(t, nil, func(r *Registry) {
		_ = RegisterType[pingItem](r, Static(ProcessorFunc(func(ctx context.Context, _ WorkItem) (bool, error) {
			close(entered)
			<-ctx.Done()
			return false, ctx.Err()
		})))
	})
	_, _ = h.producer.Enqueue(context.Background(), &pingItem{}, 0)
	h.state.Start()
	stop := start(t, h.consumer(t, 1, func(o *ConsumerOptions) { o.VisibilityTimeout = time.Minute }))

	<-entered
	if err := stop(); err != nil {
		t.Fatalf("run returned %v on cancellation", err)
	}
	if n, _ := h.q.Len(context.Background()); n != 1 {
		t.Fatalf("cancelled message removed (len %d)", n)
	}
	if h.events.count(EventPoison) != 0 || h.events.count(EventTransientFailure) != 0 {
		t.Fatalf("cancellation must not count as a failure")
	}
	if h.state.InFlight() {
		t.Fatalf("scope left open")
	}
}

func TestSuccessAfterCancellationStillDeletes(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, nil, func(r *Registry) {
		_ = RegisterType[pingItem](r, Static(ProcessorFunc(func(context.Context, WorkItem) (bool, error) {
			close(entered)
			<-release
			return true, nil
		})))
	})
	_, _ = h.producer.Enqueue(context.Background(), &pingItem{}, 0)
	h.state.Start()
	c := h.consumer(t, 1, func(o *ConsumerOptions) { o.VisibilityTimeout = time.Minute })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	<-entered
	cancel()
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if n, _ := h.q.Len(context.Background()); n != 0 {
		t.Fatalf("completed message not deleted (len %d)", n)
	}
}

type skipOdd struct{}

func (skipOdd) Skip(item WorkItem, _ *queue.Message) (bool, error) {
	p, ok := item.(*pingItem)
	return ok && p.N%2 == 1, nil
}

func TestSkipFilterAcknowledgesWithoutProcessing(t *testing.T) {
	var seen sync.Map
	h := newHarness(t, nil, func(r *Registry) {
		_ = RegisterType[pingItem](r, Static(ProcessorFunc(func(_ context.Context, item WorkItem) (bool, error) {
			seen.Store(item.(*pingItem).N, true)
			return true, nil
		})))
	})
	for i := 1; i <= 4; i++ {
		_, _ = h.producer.Enqueue(context.Background(), &pingItem{N: i}, 0)
	}
	h.state.Start()
	stop := start(t, h.consumer(t, 1, func(o *ConsumerOptions) { o.Skip = skipOdd{} }))

	waitLen(t, h.q, 0)
	_ = stop()
	for i := 1; i <= 4; i++ {
		_, ok := seen.Load(i)
		if ok != (i%2 == 0) {
			t.Fatalf("item %d processed=%v", i, ok)
		}
	}
	if h.events.count(EventSkipped) != 2 {
		t.Fatalf("skipped events: %d", h.events.count(EventSkipped))
	}
}

type brokenQueue struct{ queue.Queue }

func (brokenQueue) Receive(context.Context, time.Duration) (*queue.Message, error) {
	return nil, errors.New("connection reset")
}

func TestReceiveErrorStopsLoop(t *testing.T) {
	h := newHarness(t, nil, func(r *Registry) {
		_ = RegisterType[pingItem](r, Static(ProcessorFunc(func(context.Context, WorkItem) (bool, error) { return true, nil })))
	})
	h.state.Start()
	c := h.consumer(t, 1, func(o *ConsumerOptions) { o.Queue = brokenQueue{h.q} })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Run(ctx)
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected receive error, got %v", err)
	}
	if h.state.InFlight() {
		t.Fatalf("scope left open after receive failure")
	}
}

func TestConsumerWaitsForStart(t *testing.T) {
	var runs int32
	h := newHarness(t, nil, func(r *Registry) {
		_ = RegisterType[pingItem](r, Static(ProcessorFunc(func(context.Context, WorkItem) (bool, error) {
			atomic.AddInt32(&runs, 1)
			return true, nil
		})))
	})
	_, _ = h.producer.Enqueue(context.Background(), &pingItem{}, 0)
	h.state.InitializationFinished()
	stop := start(t, h.consumer(t, 1, nil))

	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&runs) != 0 {
		t.Fatalf("processed while Stopped")
	}
	h.state.Start()
	waitLen(t, h.q, 0)
	_ = stop()
}

func TestSynchronizationKeyAcrossWorkers(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	backend := lock.NewRedisBackend(client, "pcs:lock:")
	newLocker := func() Locker {
		return lock.New(backend, lock.Options{Lease: 5 * time.Second, AcquireTimeout: 5 * time.Second, RetryInterval: 2 * time.Millisecond})
	}

	var inside, maxInside int32
	proc := syncProcessor{ProcessorFunc(func(ctx context.Context, _ WorkItem) (bool, error) {
		n := atomic.AddInt32(&inside, 1)
		for {
			m := atomic.LoadInt32(&maxInside)
			if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inside, -1)
		return true, nil
	})}
	register := func(r *Registry) { _ = RegisterType[keyedItem](r, Static(proc)) }

	h := newHarness(t, newLocker(), register)
	visible := func(o *ConsumerOptions) { o.VisibilityTimeout = time.Minute }

	// a second worker instance sharing the queue and the lock backend
	state2 := NewProcessorState()
	scopes2, err := NewScopeManager(ScopeManagerOptions{State: state2, Registry: h.registry, Locker: newLocker(), Recorder: h.events})
	if err != nil {
		t.Fatalf("scope manager: %v", err)
	}
	c2, err := NewConsumer(ConsumerOptions{Queue: h.q, Scopes: scopes2, Registry: h.registry, Recorder: h.events,
		PollInterval: 5 * time.Millisecond, VisibilityTimeout: time.Minute, MaxRetries: 1})
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}

	for i := 0; i < 6; i++ {
		_, _ = h.producer.Enqueue(context.Background(), &keyedItem{Key: "7"}, 0)
	}
	h.state.Start()
	state2.Start()
	stop1 := start(t, h.consumer(t, 1, visible))
	stop2 := start(t, c2)

	h.events.waitFor(t, EventSynchronized, 6)
	waitLen(t, h.q, 0)
	_ = stop1()
	_ = stop2()
	if maxInside != 1 {
		t.Fatalf("observed %d concurrent executions for one key", maxInside)
	}
	if holder, _ := backend.Holder(context.Background(), "PullRequestUpdater_7"); holder != "" {
		t.Fatalf("lock not released: %s", holder)
	}
}

func waitLen(t *testing.T, q queue.Queue, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		n, err := q.Len(context.Background())
		if err == nil && n == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue length %d, want %d", n, want)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type sinkSpy struct {
	mu      sync.Mutex
	bodies  []string
	types   []string
	reasons []string
}

func (s *sinkSpy) Archive(_ context.Context, msg *queue.Message, typ, _ string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies = append(s.bodies, string(msg.Body))
	s.types = append(s.types, typ)
	s.reasons = append(s.reasons, cause.Error())
	return nil
}

func TestPoisonMessageIsArchivedBeforeDelete(t *testing.T) {
	h := newHarness(t, nil, func(r *Registry) {
		_ = RegisterType[pingItem](r, Static(ProcessorFunc(func(context.Context, WorkItem) (bool, error) {
			return false, errors.New("boom")
		})))
	})
	if _, err := h.producer.Enqueue(context.Background(), &pingItem{N: 9}, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	sink := &sinkSpy{}
	h.state.Start()
	stop := start(t, h.consumer(t, 2, func(o *ConsumerOptions) { o.DeadLetter = sink }))
	h.events.waitFor(t, EventPoison, 1)
	_ = stop()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.bodies) != 1 || sink.types[0] != "Ping" || !strings.Contains(sink.bodies[0], `"n":9`) {
		t.Fatalf("archived %+v", sink)
	}
	if !strings.Contains(sink.reasons[0], "boom") {
		t.Fatalf("reason %q", sink.reasons[0])
	}
}
