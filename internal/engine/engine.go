// Package engine assembles the memory engine: it registers every component
// as a capability and mounts the event handlers on one pipeline.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lazypower/recall/internal/boundary"
	"github.com/lazypower/recall/internal/capture"
	"github.com/lazypower/recall/internal/compress"
	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/consolidate"
	"github.com/lazypower/recall/internal/inject"
	"github.com/lazypower/recall/internal/logging"
	"github.com/lazypower/recall/internal/memorability"
	"github.com/lazypower/recall/internal/pipeline"
	"github.com/lazypower/recall/internal/registry"
	"github.com/lazypower/recall/internal/store"
	"github.com/lazypower/recall/internal/temporal"
)

// Engine owns the wired components.
type Engine struct {
	Config   config.Config
	DB       *store.DB
	Registry *registry.Registry
	Pipeline *pipeline.Pipeline

	Scorer       *memorability.Scorer
	Capture      *capture.Capture
	Boundaries   *boundary.Detector
	Consolidator *consolidate.Consolidator
	Compressor   *compress.Compressor
	Temporal     *temporal.Scaffold
	Injector     *inject.Injector

	log      *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New wires every component around db.
func New(cfg config.Config, db *store.DB, log *slog.Logger) (*Engine, error) {
	log = logging.OrNop(log)
	reg := registry.New()
	reg.Register(registry.Store, db)

	e := &Engine{
		Config:   cfg,
		DB:       db,
		Registry: reg,
		Pipeline: pipeline.New(log),
		log:      log,
		stopCh:   make(chan struct{}),
	}

	e.Scorer = memorability.New(cfg.Memorability, reg, log)
	reg.Register(registry.Memorability, e.Scorer)

	var err error
	e.Capture, err = capture.New(cfg.Capture, cfg.Memorability.TypeWeights, reg, log, capture.WithClock(db.Now))
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	reg.Register(registry.Capture, e.Capture)

	e.Boundaries, err = boundary.New(cfg.Boundary, reg, log, boundary.WithClock(db.Now))
	if err != nil {
		return nil, fmt.Errorf("boundary: %w", err)
	}
	reg.Register(registry.Boundaries, e.Boundaries)

	e.Consolidator = consolidate.New(cfg.Consolidation, reg, log)
	reg.Register(registry.Consolidation, e.Consolidator)

	e.Compressor, err = compress.New(cfg.Compression, reg, log)
	if err != nil {
		e.Boundaries.Close()
		return nil, fmt.Errorf("compress: %w", err)
	}
	reg.Register(registry.Compression, e.Compressor)

	e.Temporal = temporal.New(cfg.Temporal, reg, log)
	reg.Register(registry.Temporal, e.Temporal)

	e.Injector = inject.New(cfg.Injector, cfg.Scoring, cfg.Gating, reg, log)
	reg.Register(registry.Injector, e.Injector)

	e.Pipeline.Register(e.Capture, e.Boundaries, e.Consolidator, e.Compressor, e.Injector)
	return e, nil
}

// Dispatch delivers a host event to the pipeline.
func (e *Engine) Dispatch(ctx context.Context, ev pipeline.Event) pipeline.Result {
	return e.Pipeline.Dispatch(ctx, ev)
}

// Maintain runs one consolidation and compression pass outside a session.
func (e *Engine) Maintain(ctx context.Context) (consolidate.Stats, compress.Stats, error) {
	cs, err := e.Consolidator.Consolidate(ctx)
	if err != nil {
		return cs, compress.Stats{}, err
	}
	ps, err := e.Compressor.Compress(ctx)
	return cs, ps, err
}

// StartMaintenance runs Maintain once now and then on every tick until Close.
func (e *Engine) StartMaintenance(every time.Duration) {
	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		cs, ps, err := e.Maintain(ctx)
		if err != nil {
			e.log.Warn("maintenance failed", "err", err)
			return
		}
		e.log.Info("maintenance complete",
			"processed", cs.TotalProcessed, "removed", cs.Removed, "expired", cs.Expired,
			"clusters_merged", ps.ClustersMerged)
	}
	run()

	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				run()
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Close stops background work and releases component caches. It does not
// close the database.
func (e *Engine) Close() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		e.Boundaries.Close()
		e.Compressor.Close()
	})
}
