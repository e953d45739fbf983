package main

import (
	"bytes"
	"strings"
	"testing"
)

// execCmd runs rootCmd with args against dataDir, resetting the package-level
// engine/logger state PersistentPreRunE/PersistentPostRun mutate so tests
// don't leak an *engine.Engine across runs.
func execCmd(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()

	eng = nil
	log = nil
	cfgFile = ""
	arenaSize = 0
	collection = "default"

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--data-dir", dataDir}, args...))

	err := rootCmd.Execute()
	return out.String(), err
}

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if _, err := execCmd(t, dir, "put", "greeting", "hello"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if out, err := execCmd(t, dir, "get", "greeting"); err != nil {
		t.Fatalf("get: %v", err)
	} else if !strings.Contains(out, "hello") {
		t.Errorf("expected output to contain 'hello', got %q", out)
	}
}

func TestGetMissingKey(t *testing.T) {
	dir := t.TempDir()
	if _, err := execCmd(t, dir, "get", "nope"); err == nil {
		t.Error("expected an error for a missing key")
	}
}

func TestDeleteThenGet(t *testing.T) {
	dir := t.TempDir()
	if _, err := execCmd(t, dir, "put", "k", "v"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := execCmd(t, dir, "delete", "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := execCmd(t, dir, "get", "k"); err == nil {
		t.Error("expected get after delete to fail")
	}
}

func TestCreateCollection(t *testing.T) {
	dir := t.TempDir()
	out, err := execCmd(t, dir, "create-collection", "sessions")
	if err != nil {
		t.Fatalf("create-collection: %v", err)
	}
	if !strings.Contains(out, "sessions") {
		t.Errorf("expected output to name the new collection, got %q", out)
	}
	if _, err := execCmd(t, dir, "--collection", "sessions", "put", "a", "b"); err != nil {
		t.Errorf("put into new collection: %v", err)
	}
}

func TestStats(t *testing.T) {
	dir := t.TempDir()
	if _, err := execCmd(t, dir, "put", "k", "v"); err != nil {
		t.Fatalf("put: %v", err)
	}
	out, err := execCmd(t, dir, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "referred records:") {
		t.Errorf("expected stats output, got %q", out)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execCmd(t, t.TempDir(), "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "hashkvctl v") {
		t.Errorf("expected version output, got %q", out)
	}
}

func TestLogsListDisabledByDefault(t *testing.T) {
	if _, err := execCmd(t, t.TempDir(), "logs", "list"); err == nil {
		t.Error("expected logs list to fail when log.archive.enabled is unset")
	}
}

func TestPutWrongArgCount(t *testing.T) {
	if _, err := execCmd(t, t.TempDir(), "put", "onlyonearg"); err == nil {
		t.Error("expected put with one argument to fail argument validation")
	}
}
