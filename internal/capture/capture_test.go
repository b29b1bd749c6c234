package capture

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/memorability"
	"github.com/lazypower/recall/internal/pipeline"
	"github.com/lazypower/recall/internal/registry"
	"github.com/lazypower/recall/internal/store"
)

func newCapture(t *testing.T, mutate func(*config.Config)) (*Capture, *store.DB) {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := registry.New()
	reg.Register(registry.Store, db)
	reg.Register(registry.Memorability, memorability.New(cfg.Memorability, reg, nil))

	c, err := New(cfg.Capture, cfg.Memorability.TypeWeights, reg, nil)
	require.NoError(t, err)
	return c, db
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

const editOutput = `The file internal/server/handler.go has been updated.
Fixed the nil pointer dereference in the request handler.
The handler now checks the session before reading its fields.
    if s == nil { return errNoSession }`

func TestLearnable(t *testing.T) {
	c, _ := newCapture(t, nil)

	for _, tool := range []string{"Bash", "Edit", "Read", "mcp__github__create_issue"} {
		assert.True(t, c.Learnable(tool), tool)
	}
	for _, tool := range []string{"TodoWrite", "Task", "Thinking", "SomethingElse"} {
		assert.False(t, c.Learnable(tool), tool)
	}
}

func TestIgnoreBeatsAllow(t *testing.T) {
	c, _ := newCapture(t, func(cfg *config.Config) {
		cfg.Capture.Tools = []string{"*"}
		cfg.Capture.IgnoreTools = []string{"Todo*"}
	})
	assert.True(t, c.Learnable("Anything"))
	assert.False(t, c.Learnable("TodoRead"))
}

func TestBadToolPattern(t *testing.T) {
	cfg := config.Default()
	cfg.Capture.Tools = []string{"[unclosed"}
	_, err := New(cfg.Capture, cfg.Memorability.TypeWeights, registry.New(), nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestToolPostStoresObservation(t *testing.T) {
	c, db := newCapture(t, nil)
	ctx := context.Background()
	c.StartSession("s1", "recall", "/src/recall", "fix the crash")

	out, err := c.ToolPost(ctx, pipeline.Event{
		Name:      pipeline.ToolPost,
		SessionID: "s1",
		ToolName:  "Edit",
		ToolInput: raw(t, map[string]any{"file_path": "internal/server/handler.go", "old_string": "a", "new_string": "b"}),
		Result:    raw(t, map[string]any{"content": editOutput}),
	})
	require.NoError(t, err)
	require.True(t, out.Stored, "skipped: %s", out.Skipped)
	assert.Equal(t, TypeBugfix, out.Type)
	assert.Greater(t, out.Score, 0.3)

	recs, err := db.Get(ctx, out.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	r := recs[0]
	assert.Equal(t, TypeBugfix, r.Category)
	assert.True(t, strings.HasPrefix(r.Content, "Edit internal/server/handler.go"))
	assert.Contains(t, r.Content, "nil pointer dereference")
	assert.Equal(t, []string{"edit", "session:s1"}, r.Tags)
	assert.Equal(t, []string{"internal/server/handler.go"}, r.FilesModified)
	assert.InDelta(t, 0.7, r.Trust, 1e-9)
	assert.GreaterOrEqual(t, r.Importance, 0.85)

	facts, err := db.FactsBySource(ctx, out.ID)
	require.NoError(t, err)
	require.Len(t, facts, 3, "indented code line is not a fact")
	assert.Equal(t, "internal/server/handler.go", facts[0].Subject)
	assert.Equal(t, TypeBugfix, facts[0].Predicate)
	assert.Equal(t, out.Facts, len(facts))

	s, ok := c.Session("s1")
	require.True(t, ok)
	assert.Equal(t, 1, s.ToolCalls)
	assert.Equal(t, 1, s.Observations)
	assert.Equal(t, 1, s.FilesModified["internal/server/handler.go"])
}

func TestToolPostSkips(t *testing.T) {
	c, db := newCapture(t, nil)
	ctx := context.Background()

	out, err := c.ToolPost(ctx, pipeline.Event{
		SessionID: "s1",
		ToolName:  "TodoWrite",
		Result:    raw(t, editOutput),
	})
	require.NoError(t, err)
	assert.False(t, out.Stored)
	assert.Equal(t, "tool not learnable", out.Skipped)

	out, err = c.ToolPost(ctx, pipeline.Event{
		SessionID: "s1",
		ToolName:  "Bash",
		ToolInput: raw(t, map[string]any{"command": "cat go.mod"}),
		Result:    raw(t, map[string]any{"stdout": "module x"}),
	})
	require.NoError(t, err)
	assert.Equal(t, "content too short", out.Skipped)

	// Unknown sessions are created lazily and still count calls and files.
	s, ok := c.Session("s1")
	require.True(t, ok)
	assert.Equal(t, 2, s.ToolCalls)
	assert.Equal(t, 0, s.Observations)
	assert.Equal(t, 1, s.FilesRead["go.mod"])

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemorabilityGate(t *testing.T) {
	c, _ := newCapture(t, func(cfg *config.Config) {
		cfg.Memorability.Threshold = 0.99
	})
	out, err := c.ToolPost(context.Background(), pipeline.Event{
		SessionID: "s1",
		ToolName:  "Read",
		ToolInput: raw(t, map[string]any{"file_path": "README.md"}),
		Result:    raw(t, strings.Repeat("plain prose about nothing much. ", 4)),
	})
	require.NoError(t, err)
	assert.False(t, out.Stored)
	assert.Equal(t, "below memorability threshold", out.Skipped)
}

func TestInterimAndFinalSummaries(t *testing.T) {
	c, db := newCapture(t, func(cfg *config.Config) {
		cfg.Capture.AutoSummarizeInterval = 2
	})
	ctx := context.Background()
	c.StartSession("s2", "recall", "/src/recall", "")

	post := func(path, body string) Outcome {
		out, err := c.ToolPost(ctx, pipeline.Event{
			SessionID: "s2",
			ToolName:  "Read",
			ToolInput: raw(t, map[string]any{"file_path": path}),
			Result:    raw(t, map[string]any{"file": map[string]any{"content": body}}),
		})
		require.NoError(t, err)
		require.True(t, out.Stored, out.Skipped)
		return out
	}
	first := post("a.go", "Discovered that the cache is keyed on the raw path.\nSo two spellings of a path miss each other.")
	assert.Empty(t, first.Summary)
	second := post("b.go", "Found the retry loop sleeps before the first attempt.\nThat explains the slow start on every request.")
	require.NotEmpty(t, second.Summary)

	interim, err := db.Get(ctx, second.Summary)
	require.NoError(t, err)
	require.Len(t, interim, 1)
	assert.Equal(t, "session_summary", interim[0].Category)
	assert.Contains(t, interim[0].Tags, "interim")
	assert.InDelta(t, 0.4, interim[0].Importance, 1e-9)
	assert.ElementsMatch(t, []string{"a.go", "b.go"}, interim[0].FilesRead)

	id, err := c.EndSession(ctx, "s2")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	final, err := db.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, final, 1)
	assert.Contains(t, final[0].Tags, "final")
	assert.InDelta(t, 0.6, final[0].Importance, 1e-9)
	assert.Contains(t, final[0].Content, "Project: recall")
	assert.Contains(t, final[0].Content, "Observations: 2 stored of 2 tool calls")

	_, ok := c.Session("s2")
	assert.False(t, ok, "session context is evicted on end")
	assert.Zero(t, c.ActiveSessions())
}

func TestEndSessionWithoutCalls(t *testing.T) {
	c, db := newCapture(t, nil)
	ctx := context.Background()

	c.StartSession("quiet", "", "", "")
	id, err := c.EndSession(ctx, "quiet")
	require.NoError(t, err)
	assert.Empty(t, id)

	id, err = c.EndSession(ctx, "never-started")
	require.NoError(t, err)
	assert.Empty(t, id)

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandleThroughPipeline(t *testing.T) {
	c, db := newCapture(t, nil)
	ctx := context.Background()

	p := pipeline.New(nil)
	p.Register(c)

	res := p.Dispatch(ctx, pipeline.Event{Name: pipeline.SessionStart, SessionID: "s3", Project: "recall"})
	assert.Equal(t, pipeline.ActionContinue, res.Action)

	p.Dispatch(ctx, pipeline.Event{
		Name:      pipeline.ToolPost,
		SessionID: "s3",
		ToolName:  "Edit",
		ToolInput: raw(t, map[string]any{"file_path": "main.go"}),
		Result:    raw(t, editOutput),
	})
	p.Dispatch(ctx, pipeline.Event{Name: pipeline.SessionEnd, SessionID: "s3"})

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "observation plus final summary")
	assert.Zero(t, c.ActiveSessions())

	journal, err := db.GetSession(ctx, "s3")
	require.NoError(t, err)
	assert.Equal(t, "recall", journal.Project)
	assert.Equal(t, 1, journal.ToolCalls)
	assert.Equal(t, 1, journal.Observations)
	assert.NotEmpty(t, journal.SummaryID)
	require.NotNil(t, journal.EndedAt)
}
