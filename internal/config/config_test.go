package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	v := New()
	v.Set(KeyDataDir, dir)

	cfg, err := Load(v, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.File != "" {
		t.Errorf("File = %q, want none", cfg.File)
	}
	want := Default(dir)
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
	if cfg.Sync.Debounce != 500*time.Millisecond {
		t.Errorf("Debounce = %s, want 500ms", cfg.Sync.Debounce)
	}
	if cfg.Storage.DSN != filepath.Join(dir, "tripsync.db") {
		t.Errorf("Storage.DSN = %q", cfg.Storage.DSN)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := `
[remote]
url = "ws://file:7420/ws"

[sync]
debounce = "250ms"
notify_window = "10s"

[log]
max_backups = 7
`
	if err := os.WriteFile(filepath.Join(dir, "tripsync.toml"), []byte(file), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TRIPSYNC_SYNC_DEBOUNCE", "1s")

	v := New()
	v.Set(KeyDataDir, dir)
	v.Set(KeyLogMaxBackups, 9) // stands in for a bound flag

	cfg, err := Load(v, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"file value", cfg.Remote.URL, "ws://file:7420/ws"},
		{"env beats file", cfg.Sync.Debounce, time.Second},
		{"file beats default", cfg.Sync.NotifyWindow, 10 * time.Second},
		{"override beats file", cfg.Log.MaxBackups, 9},
		{"default", cfg.Log.MaxSizeMB, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
	if cfg.File != filepath.Join(dir, "tripsync.toml") {
		t.Errorf("File = %q", cfg.File)
	}
}

func TestLoadExplicitFileMissing(t *testing.T) {
	v := New()
	v.Set(KeyDataDir, t.TempDir())
	if _, err := Load(v, filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestLoadRejectsBadDurations(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{KeyDebounce, "0s"},
		{KeyNotifyWindow, "-1s"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			v := New()
			v.Set(KeyDataDir, t.TempDir())
			v.Set(tt.key, tt.value)
			if _, err := Load(v, ""); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestWriteTOMLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Default(dir)
	cfg.Remote.URL = "redis://localhost:6379/0"
	cfg.Sync.Debounce = 750 * time.Millisecond
	cfg.Log.File = filepath.Join(dir, "tripsync.log")

	path := Path(dir)
	if err := WriteTOML(path, cfg, false); err != nil {
		t.Fatalf("WriteTOML failed: %v", err)
	}
	if err := WriteTOML(path, cfg, false); err == nil {
		t.Error("expected WriteTOML to refuse an existing file")
	}

	v := New()
	loaded, err := Load(v, path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg.File = path
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
