// Package boundary detects topic shifts within a session from the keyword
// overlap of consecutive tool outputs.
package boundary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lazypower/recall/internal/capture"
	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/keywords"
	"github.com/lazypower/recall/internal/logging"
	"github.com/lazypower/recall/internal/pipeline"
	"github.com/lazypower/recall/internal/registry"
	"github.com/lazypower/recall/internal/store"
)

const (
	factPredicate = "boundary"
	maxTextLength = 4000
)

// Boundary marks the start of a new segment.
type Boundary struct {
	SessionID    string    `json:"session_id"`
	SegmentIndex int       `json:"segment_index"`
	Similarity   float64   `json:"similarity"`
	Keywords     []string  `json:"keywords"`
	At           time.Time `json:"at"`
}

// FactWriter persists boundary facts.
type FactWriter interface {
	AddFacts(ctx context.Context, facts ...store.Fact) error
}

type session struct {
	window     []keywords.Set
	boundaries []Boundary
}

// Detector keeps a sliding keyword window per session.
type Detector struct {
	cfg       config.BoundaryConfig
	reg       *registry.Registry
	log       *slog.Logger
	now       func() time.Time
	extractor *keywords.Extractor

	mu       sync.Mutex
	sessions map[string]*session
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock overrides the time source for boundary timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// New creates a Detector. Close releases its keyword cache.
func New(cfg config.BoundaryConfig, reg *registry.Registry, log *slog.Logger, opts ...Option) (*Detector, error) {
	ex, err := keywords.NewExtractor(cfg.KeywordLimit, 0)
	if err != nil {
		return nil, err
	}
	d := &Detector{
		cfg:       cfg,
		reg:       reg,
		log:       logging.OrNop(log),
		now:       time.Now,
		extractor: ex,
		sessions:  map[string]*session{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Close releases resources.
func (d *Detector) Close() {
	d.extractor.Close()
}

// Observe feeds one output into the session window. It returns the boundary
// it opened, or nil.
func (d *Detector) Observe(ctx context.Context, sessionID, text string) (*Boundary, error) {
	set := d.extractor.Set(text)
	if len(set) == 0 {
		return nil, nil
	}

	d.mu.Lock()
	s, ok := d.sessions[sessionID]
	if !ok {
		s = &session{}
		d.sessions[sessionID] = s
	}
	var opened *Boundary
	sim := keywords.Jaccard(set, keywords.Union(s.window...))
	if sim < d.cfg.Threshold {
		b := Boundary{
			SessionID:    sessionID,
			SegmentIndex: len(s.boundaries),
			Similarity:   sim,
			Keywords:     set.Sorted(),
			At:           d.now(),
		}
		s.boundaries = append(s.boundaries, b)
		opened = &b
	}
	s.window = append(s.window, set)
	if size := d.cfg.WindowSize; size > 0 && len(s.window) > size {
		s.window = s.window[len(s.window)-size:]
	}
	d.mu.Unlock()

	if opened == nil {
		return nil, nil
	}
	d.log.Debug("boundary: topic shift", "session", sessionID, "segment", opened.SegmentIndex, "similarity", opened.Similarity)

	if fw, ok := registry.Resolve[FactWriter](d.reg, registry.Store); ok {
		err := fw.AddFacts(ctx, store.Fact{
			Subject:   "session:" + sessionID,
			Predicate: factPredicate,
			Object: fmt.Sprintf("segment=%d similarity=%.3f keywords=%s",
				opened.SegmentIndex, opened.Similarity, strings.Join(opened.Keywords, ",")),
		})
		if err != nil {
			return opened, fmt.Errorf("boundary: persist: %w", err)
		}
	}
	return opened, nil
}

// GetBoundaries returns the boundaries seen in a session, oldest first.
func (d *Detector) GetBoundaries(sessionID string) []Boundary {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]Boundary, len(s.boundaries))
	copy(out, s.boundaries)
	return out
}

// GetCurrentSegmentIndex returns the index of the session's latest
// boundary, or 0 before any was seen.
func (d *Detector) GetCurrentSegmentIndex(sessionID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sessions[sessionID]; ok && len(s.boundaries) > 0 {
		return s.boundaries[len(s.boundaries)-1].SegmentIndex
	}
	return 0
}

// Forget drops a session's window and boundaries.
func (d *Detector) Forget(sessionID string) {
	d.mu.Lock()
	delete(d.sessions, sessionID)
	d.mu.Unlock()
}

func (d *Detector) Name() string  { return "boundary" }
func (d *Detector) Priority() int { return 90 }
func (d *Detector) Events() []string {
	return []string{pipeline.ToolPost, pipeline.SessionEnd}
}

// Handle observes tool output and evicts finished sessions.
func (d *Detector) Handle(ctx context.Context, ev pipeline.Event) (pipeline.Result, error) {
	id := ev.SessionID
	if id == "" {
		id = "default"
	}
	switch ev.Name {
	case pipeline.ToolPost:
		text := capture.InputText(ev.ToolInput) + "\n" + capture.ResultText(ev.Result, maxTextLength)
		if _, err := d.Observe(ctx, id, text); err != nil {
			return pipeline.Continue(), err
		}
	case pipeline.SessionEnd:
		d.Forget(id)
	}
	return pipeline.Continue(), nil
}
