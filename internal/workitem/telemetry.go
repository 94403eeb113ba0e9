package workitem

import "time"

// EventKind classifies telemetry events.
type EventKind string

const (
	// EventStarted is emitted right before a processor runs.
	EventStarted EventKind = "started"
	// EventCompleted carries the duration sample for every executed item,
	// successful or not.
	EventCompleted EventKind = "completed"
	// EventTransientFailure is emitted when a failed message is left for
	// redelivery.
	EventTransientFailure EventKind = "transient_failure"
	// EventPoison is emitted when a message is deleted after exhausting its
	// retries.
	EventPoison EventKind = "poison"
	// EventSynchronized is emitted once per lock-guarded execution.
	EventSynchronized EventKind = "synchronized"
	// EventSkipped is emitted when the skip filter acknowledges a message
	// without processing it.
	EventSkipped EventKind = "skipped"
)

// Event is one telemetry record. Fields irrelevant to a kind are zero.
type Event struct {
	Kind         EventKind     `json:"kind"`
	At           time.Time     `json:"at"`
	Type         string        `json:"type,omitempty"`
	WorkItemID   string        `json:"workItemId,omitempty"`
	MessageID    string        `json:"messageId,omitempty"`
	DequeueCount int64         `json:"dequeueCount,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	Success      bool          `json:"success"`
	SyncKey      string        `json:"syncKey,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// Recorder is the telemetry sink. Record must not block for long; it runs on
// the consumer goroutine.
type Recorder interface {
	Record(ev Event)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ev Event)

// Record implements Recorder.
func (f RecorderFunc) Record(ev Event) { f(ev) }

// NopRecorder discards events.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(Event) {}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
