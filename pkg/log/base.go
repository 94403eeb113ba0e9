package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

// exit is swapped by tests that exercise Fatal.
var exit = os.Exit

func (l *BaseLogger) emit(level Level, msg string, fields []Field) {
	if level < l.GetLevel() {
		return
	}
	// skip Callers, emit and the level method
	var pc [1]uintptr
	runtime.Callers(3, pc[:])
	r := slog.NewRecord(time.Now(), slogLevel(level), msg, pc[0])
	r.AddAttrs(fieldAttrs(fields)...)
	_ = l.slog.Handler().Handle(context.Background(), r)
}

func (l *BaseLogger) Debug(msg string, fields ...Field) { l.emit(DebugLevel, msg, fields) }
func (l *BaseLogger) Info(msg string, fields ...Field)  { l.emit(InfoLevel, msg, fields) }
func (l *BaseLogger) Warn(msg string, fields ...Field)  { l.emit(WarnLevel, msg, fields) }
func (l *BaseLogger) Error(msg string, fields ...Field) { l.emit(ErrorLevel, msg, fields) }

func (l *BaseLogger) Fatal(msg string, fields ...Field) {
	// slog has no fatal level; the record is written as ERROR
	l.emit(FatalLevel, msg, fields)
	_ = l.Close()
	exit(1)
}

// With returns a child sharing level and outputs.
func (l *BaseLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	args := make([]any, 0, len(fields))
	for _, a := range fieldAttrs(fields) {
		args = append(args, a)
	}
	return &BaseLogger{level: l.level, sink: l.sink, slog: l.slog.With(args...)}
}

func (l *BaseLogger) WithError(err error) Logger { return l.With(Err(err)) }

func (l *BaseLogger) WithComponent(component string) Logger { return l.With(Component(component)) }

func (l *BaseLogger) SetLevel(level Level) { l.level.Store(int32(level)) }

func (l *BaseLogger) GetLevel() Level { return Level(l.level.Load()) }

// Close closes every output. Children share outputs with their parent, so
// only the root should be closed.
func (l *BaseLogger) Close() error {
	var first error
	for _, out := range l.sink.outputs {
		if err := out.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ParseLevel maps a case-insensitive level name to a Level. Empty is info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	}
	return InfoLevel, fmt.Errorf("log: unknown level %q", s)
}
