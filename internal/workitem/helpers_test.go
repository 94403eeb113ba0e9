package workitem

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rzbill/pcs/internal/queue"
)

type pingItem struct {
	Base
	N int `json:"n"`
}

func (*pingItem) Type() string { return "Ping" }

type keyedItem struct {
	Base
	Key string `json:"key"`
}

func (*keyedItem) Type() string { return "Keyed" }

// eventLog collects recorder events and lets tests wait for one.
type eventLog struct {
	mu     sync.Mutex
	events []Event
	signal chan struct{}
}

func newEventLog() *eventLog { return &eventLog{signal: make(chan struct{}, 1024)} }

func (l *eventLog) Record(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (l *eventLog) count(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (l *eventLog) waitFor(t *testing.T, kind EventKind, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for l.count(kind) < n {
		select {
		case <-l.signal:
		case <-deadline:
			t.Fatalf("timed out waiting for %d %s events (have %d)", n, kind, l.count(kind))
		}
	}
}

type harness struct {
	q        *queue.Memory
	registry *Registry
	state    *ProcessorState
	scopes   *ScopeManager
	events   *eventLog
	producer *Producer
}

func newHarness(t *testing.T, locker Locker, register func(r *Registry)) *harness {
	t.Helper()
	h := &harness{q: queue.NewMemory(), registry: NewRegistry(), state: NewProcessorState(), events: newEventLog()}
	register(h.registry)
	h.registry.Seal()
	var err error
	h.scopes, err = NewScopeManager(ScopeManagerOptions{State: h.state, Registry: h.registry, Locker: locker, Recorder: h.events})
	if err != nil {
		t.Fatalf("scope manager: %v", err)
	}
	h.producer = NewProducer(h.q, h.registry)
	return h
}

func (h *harness) consumer(t *testing.T, maxRetries int, mutate func(*ConsumerOptions)) *Consumer {
	t.Helper()
	opts := ConsumerOptions{
		Queue:        h.q,
		Scopes:       h.scopes,
		Registry:     h.registry,
		Recorder:     h.events,
		PollInterval: 5 * time.Millisecond,
		// zero visibility makes failed messages immediately receivable again
		VisibilityTimeout: 0,
		MaxRetries:        maxRetries,
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := NewConsumer(opts)
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	return c
}

// start runs c until the test ends and returns a func that stops it and
// reports Run's error.
func start(t *testing.T, c *Consumer) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()
	var once sync.Once
	var runErr error
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case runErr = <-errc:
			case <-time.After(5 * time.Second):
				t.Errorf("consumer did not stop")
			}
		})
		return runErr
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}
