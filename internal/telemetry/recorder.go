package telemetry

import (
	"github.com/rzbill/pcs/internal/workitem"
	logpkg "github.com/rzbill/pcs/pkg/log"
)

type multi []workitem.Recorder

func (m multi) Record(ev workitem.Event) {
	for _, r := range m {
		r.Record(ev)
	}
}

// Multi fans events out to every non-nil recorder in order.
func Multi(recs ...workitem.Recorder) workitem.Recorder {
	var out multi
	for _, r := range recs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// LogRecorder writes each event to logger.
type LogRecorder struct {
	logger logpkg.Logger
}

// NewLogRecorder returns a recorder logging under the telemetry component.
func NewLogRecorder(logger logpkg.Logger) *LogRecorder {
	return &LogRecorder{logger: logger.With(logpkg.Component("telemetry"))}
}

// Record implements workitem.Recorder.
func (r *LogRecorder) Record(ev workitem.Event) {
	fields := []logpkg.Field{
		logpkg.Str("event", string(ev.Kind)),
		logpkg.Str("type", ev.Type),
	}
	if ev.WorkItemID != "" {
		fields = append(fields, logpkg.Str("work_item_id", ev.WorkItemID))
	}
	if ev.MessageID != "" {
		fields = append(fields, logpkg.Str("message_id", ev.MessageID), logpkg.Int64("dequeue_count", ev.DequeueCount))
	}
	if ev.SyncKey != "" {
		fields = append(fields, logpkg.Str("sync_key", ev.SyncKey))
	}
	if ev.Duration > 0 {
		fields = append(fields, logpkg.Duration("duration", ev.Duration))
	}
	if ev.Error != "" {
		fields = append(fields, logpkg.Str("error", ev.Error))
	}
	switch ev.Kind {
	case workitem.EventPoison:
		r.logger.Error("work item poisoned", fields...)
	case workitem.EventTransientFailure:
		r.logger.Warn("work item attempt failed", fields...)
	case workitem.EventCompleted:
		fields = append(fields, logpkg.Bool("success", ev.Success))
		r.logger.Info("work item executed", fields...)
	default:
		r.logger.Debug("work item event", fields...)
	}
}
