package workitem

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// State is the worker lifecycle state.
type State int

const (
	Initializing State = iota
	Working
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "Initializing"
	case Working:
		return "Working"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ParseState is the inverse of String (case-insensitive).
func ParseState(s string) (State, error) {
	for _, st := range []State{Initializing, Working, Stopping, Stopped} {
		if strings.EqualFold(s, st.String()) {
			return st, nil
		}
	}
	return 0, fmt.Errorf("workitem: unknown state %q", s)
}

// MarshalJSON renders the state name.
func (s State) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// UnmarshalJSON parses the state name.
func (s *State) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	v, err := ParseState(name)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// StateListener observes transitions. Listeners run synchronously, in
// transition order, and must not call back into ProcessorState mutators.
type StateListener func(from, to State)

// ProcessorState is the lifecycle controller of one worker process.
type ProcessorState struct {
	// notifyMu serializes mutators with listener delivery so listeners see
	// transitions in order.
	notifyMu sync.Mutex

	mu        sync.Mutex
	state     State
	inFlight  bool
	gate      chan struct{}
	changed   chan struct{}
	listeners []StateListener
}

// NewProcessorState returns a controller in Initializing.
func NewProcessorState() *ProcessorState {
	return &ProcessorState{
		state:   Initializing,
		gate:    make(chan struct{}, 1),
		changed: make(chan struct{}),
	}
}

// OnStateChange registers a listener.
func (p *ProcessorState) OnStateChange(fn StateListener) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// State returns the current state.
func (p *ProcessorState) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// InFlight reports whether a scope is open.
func (p *ProcessorState) InFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

type transition struct{ from, to State }

// setLocked records a transition; p.mu must be held.
func (p *ProcessorState) setLocked(to State, out *[]transition) {
	if p.state == to {
		return
	}
	*out = append(*out, transition{p.state, to})
	p.state = to
	close(p.changed)
	p.changed = make(chan struct{})
}

// signalLocked arms the gate. The buffer holds one permit, so a second
// signal before the permit is taken is a no-op.
func (p *ProcessorState) signalLocked() {
	select {
	case p.gate <- struct{}{}:
	default:
	}
}

func (p *ProcessorState) drainLocked() {
	select {
	case <-p.gate:
	default:
	}
}

// mutate runs fn under the state lock and then delivers resulting
// transitions to listeners.
func (p *ProcessorState) mutate(fn func(out *[]transition)) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	var ts []transition
	p.mu.Lock()
	fn(&ts)
	listeners := append([]StateListener(nil), p.listeners...)
	p.mu.Unlock()

	for _, t := range ts {
		for _, l := range listeners {
			l(t.from, t.to)
		}
	}
}

// Start moves Initializing or Stopped to Working and releases the gate.
// Start during Stopping cancels the pending stop; the in-flight scope's
// completion re-arms the gate.
func (p *ProcessorState) Start() {
	p.mutate(func(out *[]transition) {
		switch p.state {
		case Initializing, Stopped:
			p.setLocked(Working, out)
			if !p.inFlight {
				p.signalLocked()
			}
		case Stopping:
			p.setLocked(Working, out)
		}
	})
}

// RequestDrainAndStop moves Working to Stopping. With nothing in flight the
// worker reaches Stopped immediately; otherwise the in-flight scope finishes
// first and no new scope is granted.
func (p *ProcessorState) RequestDrainAndStop() {
	p.mutate(func(out *[]transition) {
		if p.state != Working {
			return
		}
		p.setLocked(Stopping, out)
		if !p.inFlight {
			p.drainLocked()
			p.setLocked(Stopped, out)
		}
	})
}

// InitializationFinished is the warm-up signal: Initializing moves to
// Stopped. Processing still waits for Start.
func (p *ProcessorState) InitializationFinished() {
	p.mutate(func(out *[]transition) {
		if p.state == Initializing {
			p.setLocked(Stopped, out)
		}
	})
}

// acquire blocks until the gate grants a permit while Working. It returns
// ctx.Err() if cancelled first.
func (p *ProcessorState) acquire(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.gate:
		}
		p.mu.Lock()
		if p.state == Working && !p.inFlight {
			p.inFlight = true
			p.mu.Unlock()
			return nil
		}
		// a stop raced the permit; wait for the next Start
		p.mu.Unlock()
	}
}

// complete is the scope completion callback.
func (p *ProcessorState) complete() {
	p.mutate(func(out *[]transition) {
		p.inFlight = false
		switch p.state {
		case Working:
			p.signalLocked()
		case Stopping:
			p.setLocked(Stopped, out)
		}
	})
}

// WaitForState blocks until the state equals want or ctx is done.
func (p *ProcessorState) WaitForState(ctx context.Context, want State) error {
	for {
		p.mu.Lock()
		if p.state == want {
			p.mu.Unlock()
			return nil
		}
		ch := p.changed
		p.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}
