package log

import (
	"context"
	"log/slog"
	"runtime"
	"strconv"
	"sync/atomic"
)

// sink is the formatter and outputs shared by a logger tree.
type sink struct {
	formatter Formatter
	outputs   []Output
	redact    map[string]struct{}
}

func (s *sink) write(e *Entry) error {
	b, err := s.formatter.Format(e)
	if err != nil {
		return err
	}
	for _, out := range s.outputs {
		_ = out.Write(e, b)
	}
	return nil
}

// handler is the slog.Handler behind BaseLogger. Attributes added through
// With are kept flat; groups are accepted and ignored.
type handler struct {
	sink  *sink
	level *atomic.Int32
	attrs []slog.Attr
}

func (h *handler) Enabled(_ context.Context, lvl slog.Level) bool {
	return levelFromSlog(lvl) >= Level(h.level.Load())
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	fields := make(Fields, len(h.attrs)+r.NumAttrs())
	put := func(a slog.Attr) bool {
		if _, hidden := h.sink.redact[a.Key]; hidden {
			fields[a.Key] = "[REDACTED]"
		} else {
			fields[a.Key] = a.Value.Any()
		}
		return true
	}
	for _, a := range h.attrs {
		put(a)
	}
	r.Attrs(put)

	e := &Entry{
		Level:     levelFromSlog(r.Level),
		Message:   r.Message,
		Fields:    fields,
		Timestamp: r.Time,
	}
	if r.PC != 0 {
		fr, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		e.Caller = fr.File + ":" + strconv.Itoa(fr.Line)
	}
	return h.sink.write(e)
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &nh
}

func (h *handler) WithGroup(string) slog.Handler { return h }

func slogLevel(l Level) slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel, FatalLevel:
		return slog.LevelError
	}
	return slog.LevelInfo
}

func levelFromSlog(l slog.Level) Level {
	switch {
	case l < slog.LevelInfo:
		return DebugLevel
	case l < slog.LevelWarn:
		return InfoLevel
	case l < slog.LevelError:
		return WarnLevel
	}
	return ErrorLevel
}

func fieldAttrs(fields []Field) []slog.Attr {
	if len(fields) == 0 {
		return nil
	}
	out := make([]slog.Attr, len(fields))
	for i, f := range fields {
		out[i] = slog.Any(f.Key, f.Value)
	}
	return out
}
