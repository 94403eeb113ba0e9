// Package config loads worker configuration for pcs.
//
// Configuration is layered: Default() baseline, then an optional JSON or
// YAML file (Load), then PCS_* environment variables (FromEnv). Durations are
// written as Go duration strings ("30s") or integer milliseconds.
//
//	cfg, err := config.Load("/etc/pcs/worker.yaml")
//	if err != nil { ... }
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil { ... }
package config
