// Package consolidate boosts accessed memories, decays idle ones and removes
// what has faded.
package consolidate

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/logging"
	"github.com/lazypower/recall/internal/pipeline"
	"github.com/lazypower/recall/internal/registry"
	"github.com/lazypower/recall/internal/store"
)

const day = 24 * time.Hour

// Store is the slice of the store a consolidation pass needs.
type Store interface {
	Now() time.Time
	ListBatch(ctx context.Context, afterID string, limit int) ([]store.Record, error)
	SetImportance(ctx context.Context, id string, importance float64) error
	Delete(ctx context.Context, id string) (bool, error)
	PurgeExpired(ctx context.Context) (int, error)
}

// Stats summarizes one pass.
type Stats struct {
	Boosted        int `json:"boosted"`
	Decayed        int `json:"decayed"`
	Removed        int `json:"removed"`
	Expired        int `json:"expired"`
	TotalProcessed int `json:"total_processed"`
}

// Consolidator runs consolidation passes.
type Consolidator struct {
	cfg       config.ConsolidationConfig
	reg       *registry.Registry
	log       *slog.Logger
	protected map[string]bool
}

// New creates a Consolidator.
func New(cfg config.ConsolidationConfig, reg *registry.Registry, log *slog.Logger) *Consolidator {
	protected := make(map[string]bool, len(cfg.ProtectedTypes))
	for _, t := range cfg.ProtectedTypes {
		protected[t] = true
	}
	return &Consolidator{cfg: cfg, reg: reg, log: logging.OrNop(log), protected: protected}
}

// Consolidate pages through every record once, then purges expired rows.
func (c *Consolidator) Consolidate(ctx context.Context) (Stats, error) {
	var stats Stats
	st, ok := registry.Resolve[Store](c.reg, registry.Store)
	if !ok {
		return stats, errors.New("consolidate: store unavailable")
	}
	now := st.Now()
	batch := c.cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}

	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		recs, err := st.ListBatch(ctx, after, batch)
		if err != nil {
			return stats, err
		}
		if len(recs) == 0 {
			break
		}
		for _, r := range recs {
			stats.TotalProcessed++
			if r.Expired(now) {
				continue
			}
			if err := c.apply(ctx, st, r, now, &stats); err != nil {
				return stats, err
			}
		}
		after = recs[len(recs)-1].ID
		if len(recs) < batch {
			break
		}
	}

	n, err := st.PurgeExpired(ctx)
	if err != nil {
		return stats, err
	}
	stats.Expired = n

	c.log.Debug("consolidate: pass complete",
		"processed", stats.TotalProcessed, "boosted", stats.Boosted,
		"decayed", stats.Decayed, "removed", stats.Removed, "expired", stats.Expired)
	return stats, nil
}

func (c *Consolidator) apply(ctx context.Context, st Store, r store.Record, now time.Time, stats *Stats) error {
	if r.AccessedCount > 0 {
		next := math.Min(1, r.Importance+c.cfg.BoostFactor*math.Log(1+float64(r.AccessedCount)))
		if next == r.Importance {
			return nil
		}
		stats.Boosted++
		return ignoreMissing(st.SetImportance(ctx, r.ID, next))
	}

	rate := c.cfg.DecayRate
	if c.protected[r.Category] {
		rate *= 0.5
	}
	idle := now.Sub(r.UpdatedAt).Hours() / 24
	if idle <= 0 {
		return nil
	}
	next := r.Importance - rate*idle
	age := now.Sub(r.CreatedAt)

	if next < c.cfg.MinImportance && age > time.Duration(c.cfg.MaxUnaccessedAgeDays*float64(day)) {
		if _, err := st.Delete(ctx, r.ID); err != nil {
			return err
		}
		stats.Removed++
		return nil
	}
	next = math.Max(0, next)
	if next == r.Importance {
		return nil
	}
	stats.Decayed++
	return ignoreMissing(st.SetImportance(ctx, r.ID, next))
}

// A row deleted since the page was read is not an error for a batch pass.
func ignoreMissing(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func (c *Consolidator) Name() string { return "consolidate" }

func (c *Consolidator) Priority() int { return 50 }

func (c *Consolidator) Events() []string { return []string{pipeline.SessionEnd} }

// Handle runs a pass at the end of every session.
func (c *Consolidator) Handle(ctx context.Context, _ pipeline.Event) (pipeline.Result, error) {
	_, err := c.Consolidate(ctx)
	return pipeline.Continue(), err
}
