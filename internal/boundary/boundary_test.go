package boundary

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/pipeline"
	"github.com/lazypower/recall/internal/registry"
	"github.com/lazypower/recall/internal/store"
)

func newDetector(t *testing.T) (*Detector, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := registry.New()
	reg.Register(registry.Store, db)
	d, err := New(config.Default().Boundary, reg, nil)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d, db
}

const (
	schemaText   = "database migration schema sqlite index table column"
	frontendText = "frontend button styling colors layout typography spacing"
)

func TestTopicShiftOpensOneSegment(t *testing.T) {
	d, db := newDetector(t)
	ctx := context.Background()

	first, err := d.Observe(ctx, "s1", schemaText)
	require.NoError(t, err)
	require.NotNil(t, first, "the first output has no window to match")
	assert.Equal(t, 0, first.SegmentIndex)

	for i := 1; i < 5; i++ {
		b, err := d.Observe(ctx, "s1", schemaText)
		require.NoError(t, err)
		assert.Nil(t, b, "output %d shares the topic", i)
	}
	assert.Equal(t, 0, d.GetCurrentSegmentIndex("s1"))

	b, err := d.Observe(ctx, "s1", frontendText)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, 1, b.SegmentIndex)
	assert.Equal(t, 0.0, b.Similarity)
	assert.Contains(t, b.Keywords, "frontend")

	got := d.GetBoundaries("s1")
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].SegmentIndex)
	assert.Equal(t, 1, got[1].SegmentIndex)
	assert.Equal(t, 1, d.GetCurrentSegmentIndex("s1"))

	facts, err := db.FactsBySubject(ctx, "session:s1", 10)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	var objects []string
	for _, f := range facts {
		assert.Equal(t, "boundary", f.Predicate)
		assert.Empty(t, f.SourceID)
		objects = append(objects, f.Object)
	}
	assert.Contains(t, strings.Join(objects, "\n"), "segment=1 similarity=0.000 keywords=")
}

func TestWindowEvictsOldest(t *testing.T) {
	d, _ := newDetector(t)
	ctx := context.Background()

	_, err := d.Observe(ctx, "s1", schemaText)
	require.NoError(t, err)
	b, err := d.Observe(ctx, "s1", frontendText)
	require.NoError(t, err)
	require.NotNil(t, b)

	// Five frontend outputs push the schema set out of the window, so a
	// return to the schema topic is a second shift.
	for i := 0; i < 5; i++ {
		_, err := d.Observe(ctx, "s1", frontendText)
		require.NoError(t, err)
	}
	b, err = d.Observe(ctx, "s1", schemaText)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, 2, b.SegmentIndex)
	assert.Len(t, d.GetBoundaries("s1"), 3)
}

func TestEmptyKeywordSetIgnored(t *testing.T) {
	d, _ := newDetector(t)
	ctx := context.Background()

	b, err := d.Observe(ctx, "s1", "the and of to 42")
	require.NoError(t, err)
	assert.Nil(t, b)
	assert.Nil(t, d.GetBoundaries("s1"), "an empty set does not start a window")

	_, err = d.Observe(ctx, "s1", schemaText)
	require.NoError(t, err)
	b, err = d.Observe(ctx, "s1", "the and of to 42")
	require.NoError(t, err)
	assert.Nil(t, b)
	assert.Len(t, d.GetBoundaries("s1"), 1)
}

func TestSessionsAreIndependent(t *testing.T) {
	d, _ := newDetector(t)
	ctx := context.Background()

	_, _ = d.Observe(ctx, "a", schemaText)
	_, _ = d.Observe(ctx, "a", schemaText)
	b, err := d.Observe(ctx, "b", schemaText)
	require.NoError(t, err)
	require.NotNil(t, b, "session b has its own empty window")
	assert.Equal(t, 0, b.SegmentIndex)
	assert.Len(t, d.GetBoundaries("a"), 1)
	assert.Nil(t, d.GetBoundaries("unknown"))
}

func TestHandleEvictsOnSessionEnd(t *testing.T) {
	d, _ := newDetector(t)
	ctx := context.Background()

	post := func(text string) {
		raw, err := json.Marshal(map[string]any{"stdout": text})
		require.NoError(t, err)
		_, err = d.Handle(ctx, pipeline.Event{Name: pipeline.ToolPost, SessionID: "s1", ToolName: "Bash", Result: raw})
		require.NoError(t, err)
	}
	post(schemaText)
	post(frontendText)
	assert.Equal(t, 1, d.GetCurrentSegmentIndex("s1"))

	_, err := d.Handle(ctx, pipeline.Event{Name: pipeline.SessionEnd, SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, 0, d.GetCurrentSegmentIndex("s1"))
	assert.Nil(t, d.GetBoundaries("s1"))
}
