// Package log is the structured logging facade used across pcs.
//
// A Logger has leveled methods taking Fields and derives children with With.
// Records pass through a log/slog handler into one formatter (text or JSON)
// and any number of outputs shared by the whole logger tree.
//
//	l := log.NewLogger(log.WithFormatter(&log.TextFormatter{}))
//	l = l.With(log.Component("consumer"), log.Str("queue", "pcs-workitems"))
//	l.Info("consumer started", log.Duration("poll", time.Second))
//
// ApplyConfig builds a logger from a Config (level, format, outputs, redacted
// keys). RedirectStdLog routes the standard library logger, which Pebble and
// net/http write to, through a Logger.
package log
