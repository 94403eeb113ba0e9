package log

import (
	"fmt"
	"io"
	stdlog "log"
	"strings"
)

// Config describes a logger declaratively.
type Config struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // text|json

	// Outputs lists "console", "null" or "file:<path>". Empty means console.
	Outputs []string `json:"outputs,omitempty" yaml:"outputs,omitempty"`

	// RedactKeys replaces the value of these field keys with [REDACTED].
	RedactKeys []string `json:"redactKeys,omitempty" yaml:"redactKeys,omitempty"`
}

// ApplyConfig builds a Logger from cfg.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := []LoggerOption{WithLevel(level)}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		opts = append(opts, WithFormatter(&TextFormatter{}))
	case "json":
		opts = append(opts, WithFormatter(&JSONFormatter{}))
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}
	outs := cfg.Outputs
	if len(outs) == 0 {
		outs = []string{"console"}
	}
	for _, o := range outs {
		switch {
		case o == "console":
			opts = append(opts, WithOutput(NewConsoleOutput()))
		case o == "null":
			opts = append(opts, WithOutput(NullOutput{}))
		case strings.HasPrefix(o, "file:"):
			fo, err := NewFileOutput(strings.TrimPrefix(o, "file:"))
			if err != nil {
				return nil, fmt.Errorf("log: open output: %w", err)
			}
			opts = append(opts, WithOutput(fo))
		default:
			return nil, fmt.Errorf("log: unknown output %q", o)
		}
	}
	if len(cfg.RedactKeys) > 0 {
		keys := make(map[string]struct{}, len(cfg.RedactKeys))
		for _, k := range cfg.RedactKeys {
			keys[k] = struct{}{}
		}
		opts = append(opts, func(l *BaseLogger) { l.sink.redact = keys })
	}
	return NewLogger(opts...), nil
}

// stdWriter adapts a Logger to io.Writer for the standard library logger.
type stdWriter struct{ l Logger }

func (w stdWriter) Write(p []byte) (int, error) {
	w.l.Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// RedirectStdLog sends output of the standard library's default logger to l
// at InfoLevel.
func RedirectStdLog(l Logger) {
	stdlog.SetFlags(0)
	stdlog.SetPrefix("")
	stdlog.SetOutput(io.Writer(stdWriter{l: l.With(Component("stdlog"))}))
}
