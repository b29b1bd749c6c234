package memorability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/registry"
	"github.com/lazypower/recall/internal/store"
)

func newScorer(t *testing.T) (*Scorer, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := registry.New()
	reg.Register(registry.Store, db)
	return New(config.Default().Memorability, reg, nil), db
}

const leakReport = `Found the goroutine leak: the watcher never closed its done channel.
func (w *Watcher) Stop() { close(w.done) }
Root cause was a missing Stop call in the shutdown path.`

func TestDistinctivenessAgainstStore(t *testing.T) {
	s, db := newScorer(t)
	ctx := context.Background()

	empty := s.Score(ctx, Input{Content: leakReport, ObservationType: "bugfix"})
	assert.Equal(t, 1.0, empty.Distinctiveness, "nothing stored yet")

	_, err := db.Store(ctx, store.StoreParams{Content: leakReport, Importance: 0.5, Trust: 0.5})
	require.NoError(t, err)

	dup := s.Score(ctx, Input{Content: leakReport, ObservationType: "bugfix"})
	assert.InDelta(t, 0.0, dup.Distinctiveness, 1e-9, "exact duplicate is not distinct")
	assert.Less(t, dup.Total, empty.Total)
}

func TestDistinctivenessWithoutStore(t *testing.T) {
	s := New(config.Default().Memorability, registry.New(), nil)
	b := s.Score(context.Background(), Input{Content: "anything at all"})
	assert.Equal(t, 0.5, b.Distinctiveness)
}

func TestSalience(t *testing.T) {
	s, _ := newScorer(t)
	ctx := context.Background()

	assert.Equal(t, 1.0, s.Score(ctx, Input{Content: "quiet output", HasError: true}).Salience)
	assert.Equal(t, 0.0, s.Score(ctx, Input{Content: "quiet output"}).Salience)

	b := s.Score(ctx, Input{Content: "security regression caused a crash"})
	assert.Equal(t, 1.0, b.Salience)
}

func TestSubstance(t *testing.T) {
	assert.Less(t, substance("ok", 0), substance(leakReport, 0))
	assert.Less(t, substance(leakReport, 0), substance(leakReport, 3))
	// Multi-file bonus saturates.
	assert.LessOrEqual(t, substance(leakReport, 100), 1.0)
	assert.InDelta(t, substance(leakReport, 20), substance(leakReport, 40), 1e-5)
}

func TestTypeWeightAndGate(t *testing.T) {
	s, _ := newScorer(t)
	ctx := context.Background()

	discovery := s.Score(ctx, Input{Content: leakReport, ObservationType: "discovery"})
	change := s.Score(ctx, Input{Content: leakReport, ObservationType: "change"})
	assert.Equal(t, 0.90, discovery.Type)
	assert.Equal(t, 0.35, change.Type)
	assert.Greater(t, discovery.Total, change.Total)

	assert.True(t, s.ShouldStore(0.30))
	assert.False(t, s.ShouldStore(0.29))
	assert.Equal(t, 0.30, s.Threshold())
	assert.True(t, s.ShouldStore(discovery.Total))
}
