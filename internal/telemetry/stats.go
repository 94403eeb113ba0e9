package telemetry

import (
	"sort"
	"sync"
	"time"

	"github.com/rzbill/pcs/internal/workitem"
)

// TypeStats are the counters for one work item type.
type TypeStats struct {
	Type              string        `json:"type"`
	Started           int64         `json:"started"`
	Succeeded         int64         `json:"succeeded"`
	Failed            int64         `json:"failed"`
	TransientFailures int64         `json:"transientFailures"`
	Poisoned          int64         `json:"poisoned"`
	Skipped           int64         `json:"skipped"`
	TotalDuration     time.Duration `json:"totalDuration"`
	LastError         string        `json:"lastError,omitempty"`
}

// Stats keeps running counters per work item type.
type Stats struct {
	mu     sync.Mutex
	byType map[string]*TypeStats
}

// NewStats returns empty counters.
func NewStats() *Stats { return &Stats{byType: make(map[string]*TypeStats)} }

// Record implements workitem.Recorder.
func (s *Stats) Record(ev workitem.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.byType[ev.Type]
	if !ok {
		ts = &TypeStats{Type: ev.Type}
		s.byType[ev.Type] = ts
	}
	switch ev.Kind {
	case workitem.EventStarted:
		ts.Started++
	case workitem.EventCompleted:
		ts.TotalDuration += ev.Duration
		if ev.Success {
			ts.Succeeded++
		} else {
			ts.Failed++
			ts.LastError = ev.Error
		}
	case workitem.EventTransientFailure:
		ts.TransientFailures++
		ts.LastError = ev.Error
	case workitem.EventPoison:
		ts.Poisoned++
		ts.LastError = ev.Error
	case workitem.EventSkipped:
		ts.Skipped++
	}
}

// Snapshot returns a copy of the counters sorted by type.
func (s *Stats) Snapshot() []TypeStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TypeStats, 0, len(s.byType))
	for _, ts := range s.byType {
		out = append(out, *ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
