package log

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// Level is a record severity.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l Level) String() string {
	if l < DebugLevel || l > FatalLevel {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// Fields holds the structured context of one record.
type Fields map[string]interface{}

// ComponentKey is the field set by Component and WithComponent.
const ComponentKey = "component"

// Entry is a record on its way to the formatter.
type Entry struct {
	Level     Level
	Message   string
	Fields    Fields
	Timestamp time.Time
	Caller    string
}

// Logger is the logging interface every pcs component receives.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// Fatal logs, closes the outputs and exits the process.
	Fatal(msg string, fields ...Field)

	// With returns a child logger carrying fields on every record.
	With(fields ...Field) Logger
	WithError(err error) Logger
	WithComponent(component string) Logger

	// SetLevel is shared by a logger and all of its children.
	SetLevel(level Level)
	GetLevel() Level
}

// Formatter turns an entry into bytes.
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

// Output receives formatted entries.
type Output interface {
	Write(entry *Entry, formatted []byte) error
	Close() error
}

// LoggerOption configures NewLogger.
type LoggerOption func(*BaseLogger)

// WithLevel sets the minimum level.
func WithLevel(level Level) LoggerOption {
	return func(l *BaseLogger) { l.level.Store(int32(level)) }
}

// WithFormatter replaces the default JSON formatter.
func WithFormatter(f Formatter) LoggerOption {
	return func(l *BaseLogger) { l.sink.formatter = f }
}

// WithOutput adds an output. Without any, records go to stderr.
func WithOutput(o Output) LoggerOption {
	return func(l *BaseLogger) { l.sink.outputs = append(l.sink.outputs, o) }
}

// BaseLogger is the Logger implementation. Records flow through a slog
// handler into the shared sink, so the level and outputs of a parent and its
// children never diverge.
type BaseLogger struct {
	level *atomic.Int32
	sink  *sink
	slog  *slog.Logger
}

// NewLogger builds a logger. There is no package-level default; construct
// one at process start and pass it down.
func NewLogger(options ...LoggerOption) Logger {
	l := &BaseLogger{
		level: new(atomic.Int32),
		sink:  &sink{formatter: &JSONFormatter{}},
	}
	l.level.Store(int32(InfoLevel))
	for _, opt := range options {
		opt(l)
	}
	if len(l.sink.outputs) == 0 {
		l.sink.outputs = []Output{NewConsoleOutput()}
	}
	l.slog = slog.New(&handler{sink: l.sink, level: l.level})
	return l
}
