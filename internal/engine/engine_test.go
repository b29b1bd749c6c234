package engine

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/pipeline"
	"github.com/lazypower/recall/internal/registry"
	"github.com/lazypower/recall/internal/store"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	eng, err := New(config.Default(), db, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(eng.Close)
	return eng
}

func TestCapabilitiesRegistered(t *testing.T) {
	eng := testEngine(t)
	for _, name := range []string{
		registry.Store, registry.Memorability, registry.Boundaries, registry.Consolidation,
		registry.Compression, registry.Temporal, registry.Capture, registry.Injector,
	} {
		if _, ok := eng.Registry.Lookup(name); !ok {
			t.Errorf("capability %s not registered", name)
		}
	}

	got := eng.Pipeline.Handlers(pipeline.SessionEnd)
	want := []string{"capture", "boundary", "consolidate", "compress"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("session:end handlers = %v, want %v", got, want)
	}
}

func TestSessionLifecycle(t *testing.T) {
	eng := testEngine(t)
	ctx := context.Background()

	start := eng.Dispatch(ctx, pipeline.Event{Name: pipeline.SessionStart, Project: "recall"})
	if start.SessionID == "" {
		t.Fatal("session:start without an id should be assigned one")
	}
	sid := start.SessionID

	input, _ := json.Marshal(map[string]string{"command": "go test ./internal/store/..."})
	result, _ := json.Marshal(map[string]any{
		"stdout": "--- FAIL: TestSearchFallback\n" +
			"search_test.go:212: the fallback scan must skip expired rows before ranking\n" +
			"The expired rows were ranked because the scan ignored expires_at entirely.\n" +
			"FAIL github.com/lazypower/recall/internal/store",
		"exit_code": 1,
	})
	res := eng.Dispatch(ctx, pipeline.Event{
		Name: pipeline.ToolPost, SessionID: sid, ToolName: "Bash", ToolInput: input, Result: result,
	})
	if res.Action != pipeline.ActionContinue {
		t.Errorf("tool:post action = %q, want continue", res.Action)
	}

	n, err := eng.DB.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("Count after tool:post = %d, want 1", n)
	}

	inj := eng.Dispatch(ctx, pipeline.Event{
		Name: pipeline.PromptSubmit, SessionID: sid,
		Prompt: "why did the fallback scan rank expired rows",
	})
	if inj.Action != pipeline.ActionInject {
		t.Fatalf("prompt:submit action = %q, want inject_context", inj.Action)
	}
	if !inj.Ephemeral {
		t.Error("injected context should be ephemeral")
	}
	if !strings.Contains(inj.Context, "expired rows") {
		t.Errorf("context missing captured observation:\n%s", inj.Context)
	}

	eng.Dispatch(ctx, pipeline.Event{Name: pipeline.SessionEnd, SessionID: sid})
	if _, ok := eng.Capture.Session(sid); ok {
		t.Error("capture session not evicted on session:end")
	}

	n, _ = eng.DB.Count(ctx)
	if n != 2 {
		t.Errorf("Count after session:end = %d, want observation + final summary", n)
	}
}

func TestMaintain(t *testing.T) {
	eng := testEngine(t)
	ctx := context.Background()
	if _, err := eng.DB.Store(ctx, store.StoreParams{Content: "an unremarkable note"}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	cs, ps, err := eng.Maintain(ctx)
	if err != nil {
		t.Fatalf("Maintain: %v", err)
	}
	if cs.TotalProcessed != 1 {
		t.Errorf("processed = %d, want 1", cs.TotalProcessed)
	}
	if ps.Candidates != 0 {
		t.Errorf("compression candidates = %d, want 0 for a fresh store", ps.Candidates)
	}
}
