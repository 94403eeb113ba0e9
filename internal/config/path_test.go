package config

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestDefaultDataDirPrefersExplicitEnv(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/xdg")
	t.Setenv("PCS_DATA_DIR", "/srv/pcs")
	if got := DefaultDataDir(); got != "/srv/pcs" {
		t.Fatalf("got %q", got)
	}
}

func TestDefaultDataDirXDG(t *testing.T) {
	t.Setenv("PCS_DATA_DIR", "")
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got := DefaultDataDir(); got != filepath.Join("/custom/data", "pcs") {
		t.Fatalf("got %q", got)
	}
}

func TestDefaultDataDirUnderHome(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "plan9" {
		t.Skip("HOME is not consulted on this platform")
	}
	t.Setenv("PCS_DATA_DIR", "")
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("HOME", "/home/worker")
	got := DefaultDataDir()
	if !strings.HasPrefix(got, "/home/worker") || filepath.Base(got) != "pcs" {
		t.Fatalf("got %q", got)
	}
}

func TestDefaultDataDirWithoutHome(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "plan9" {
		t.Skip("HOME is not consulted on this platform")
	}
	t.Setenv("PCS_DATA_DIR", "")
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("HOME", "")
	if got := DefaultDataDir(); got != filepath.Join(".", "pcs-data") {
		t.Fatalf("got %q", got)
	}
}
