package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "hashkv.yaml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestNewManagerFromFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "log:\n  level: debug\n")

	mgr, err := NewManagerFromFile(path)
	if err != nil {
		t.Fatalf("NewManagerFromFile: %v", err)
	}
	if got := mgr.GetConfig().Log.Level; got != "debug" {
		t.Errorf("expected log level 'debug', got %q", got)
	}
	if mgr.GetConfigFile() != path {
		t.Errorf("expected config file %q, got %q", path, mgr.GetConfigFile())
	}
}

func TestNewManagerFromFileMissing(t *testing.T) {
	if _, err := NewManagerFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestNewManagerFromFileInvalid(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "log:\n  level: verbose\n")

	if _, err := NewManagerFromFile(path); err == nil {
		t.Error("expected validation to reject an unknown log level")
	}
}

func TestManagerWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "log:\n  level: info\n")

	mgr, err := NewManagerFromFile(path)
	if err != nil {
		t.Fatalf("NewManagerFromFile: %v", err)
	}

	updated := make(chan *Config, 1)
	mgr.SetOnUpdate(func(old, next *Config) {
		updated <- next
	})
	if err := mgr.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeConfigFile(t, dir, "log:\n  level: debug\n")

	select {
	case next := <-updated:
		if next.Log.Level != "debug" {
			t.Errorf("expected reloaded level 'debug', got %q", next.Log.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}

	if got := mgr.GetConfig().Log.Level; got != "debug" {
		t.Errorf("expected GetConfig to reflect reload, got %q", got)
	}
}

func TestManagerWatchIgnoresInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "log:\n  level: info\n")

	mgr, err := NewManagerFromFile(path)
	if err != nil {
		t.Fatalf("NewManagerFromFile: %v", err)
	}
	if err := mgr.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeConfigFile(t, dir, "cleaner:\n  shards: -1\n")
	time.Sleep(200 * time.Millisecond)

	if got := mgr.GetConfig().Log.Level; got != "info" {
		t.Errorf("expected invalid reload to leave prior config active, got level %q", got)
	}
}

func TestManagerWatchNoOpWithoutFile(t *testing.T) {
	mgr := NewManager(DefaultConfig(), "", nil)
	if err := mgr.Watch(); err != nil {
		t.Errorf("expected Watch with no config file to be a no-op, got %v", err)
	}
}

func TestConfigWatcherNotifiesOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "log:\n  level: info\n")

	changed := make(chan *Config, 1)
	w, err := NewConfigWatcher(&WatcherConfig{
		FilePath: path,
		OnChange: func(old, next *Config) { changed <- next },
	})
	if err != nil {
		t.Fatalf("NewConfigWatcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	writeConfigFile(t, dir, "log:\n  level: warn\n")

	select {
	case next := <-changed:
		if next.Log.Level != "warn" {
			t.Errorf("expected reloaded level 'warn', got %q", next.Log.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config watcher notification")
	}
	if w.Config().Log.Level != "warn" {
		t.Errorf("expected Config() to reflect reload, got %q", w.Config().Log.Level)
	}
}

func TestNewConfigWatcherRequiresFilePathAndOnChange(t *testing.T) {
	if _, err := NewConfigWatcher(&WatcherConfig{OnChange: func(*Config, *Config) {}}); err != ErrMissingConfigFile {
		t.Errorf("expected ErrMissingConfigFile, got %v", err)
	}
	if _, err := NewConfigWatcher(&WatcherConfig{FilePath: "x.yaml"}); err != ErrMissingOnChange {
		t.Errorf("expected ErrMissingOnChange, got %v", err)
	}
}
