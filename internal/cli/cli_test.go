package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lazypower/recall/internal/store"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommandsAgainstDatabase(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "recall.db")
	cfgPath := filepath.Join(dir, "missing.toml")

	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := db.Store(context.Background(), store.StoreParams{
		Content:  "the nightly backup job writes to the cold storage bucket",
		Category: "decision",
	})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := db.AddFacts(context.Background(), store.Fact{
		Subject: "backup", Predicate: "writes_to", Object: "cold storage", SourceID: id,
	}); err != nil {
		t.Fatalf("AddFacts: %v", err)
	}
	db.Close()

	base := []string{"--config", cfgPath, "--db", dbPath}

	out, err := run(t, append(base, "stats")...)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "memories:  1") {
		t.Errorf("stats output:\n%s", out)
	}

	out, err = run(t, append(base, "list")...)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, id) || !strings.Contains(out, "decision") {
		t.Errorf("list output:\n%s", out)
	}

	out, err = run(t, append(base, "search", "nightly", "backup")...)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !strings.Contains(out, "1. [") || !strings.Contains(out, "cold storage") {
		t.Errorf("search output:\n%s", out)
	}

	out, err = run(t, append(base, "facts", "--source", id)...)
	if err != nil {
		t.Fatalf("facts: %v", err)
	}
	if !strings.Contains(out, "backup  writes_to  cold storage") {
		t.Errorf("facts output:\n%s", out)
	}

	if _, err := run(t, append(base, "forget", id)...); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if _, err := run(t, append(base, "forget", id)...); err == nil {
		t.Error("forgetting an unknown id should fail")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.toml"), "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "recall dev\n") || !strings.Contains(out, "commit: ") {
		t.Errorf("version output = %q", out)
	}
}

func TestVersionJSON(t *testing.T) {
	t.Cleanup(func() { versionJSON = false })
	out, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.toml"), "version", "--json")
	if err != nil {
		t.Fatalf("version --json: %v", err)
	}
	var info BuildInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if info.Name != "recall" || info.Version != "dev" || info.Commit == "" || info.GoVersion == "" {
		t.Errorf("build info = %+v", info)
	}
}
