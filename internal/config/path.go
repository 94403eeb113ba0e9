package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultDataDir is where a worker keeps its Pebble store when no data
// directory is given: $PCS_DATA_DIR, then $XDG_DATA_HOME/pcs, then the
// per-user application data directory of the host OS.
func DefaultDataDir() string {
	if dir := os.Getenv("PCS_DATA_DIR"); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "pcs")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".", "pcs-data")
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "pcs")
	case "windows":
		return filepath.Join(home, "AppData", "Local", "pcs")
	}
	return filepath.Join(home, ".local", "share", "pcs")
}
