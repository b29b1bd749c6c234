// Package temporal balances retrieval across recency bands so that a fresh
// burst of activity does not crowd out older project knowledge.
package temporal

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/logging"
	"github.com/lazypower/recall/internal/registry"
	"github.com/lazypower/recall/internal/store"
)

// Scales, finest first.
const (
	Immediate = "immediate"
	Task      = "task"
	Session   = "session"
	Project   = "project"
)

// Scales lists every scale in allocation order.
var Scales = []string{Immediate, Task, Session, Project}

const oversample = 5

// ClassifyScale places a record by its age at ref against the configured
// scale limits.
func (s *Scaffold) ClassifyScale(r store.Record, ref time.Time) string {
	immediate, task, session := s.alloc.ScaleLimits()
	age := ref.Sub(r.CreatedAt)
	switch {
	case age < immediate:
		return Immediate
	case age < task:
		return Task
	case age < session:
		return Session
	default:
		return Project
	}
}

// Searcher is the slice of the store retrieval needs.
type Searcher interface {
	Now() time.Time
	SearchV2(ctx context.Context, p store.SearchParams) ([]store.Ranked, error)
}

// Scaffold runs balanced retrieval.
type Scaffold struct {
	alloc config.TemporalConfig
	reg   *registry.Registry
	log   *slog.Logger
}

// New creates a Scaffold with the given per-scale allocation.
func New(alloc config.TemporalConfig, reg *registry.Registry, log *slog.Logger) *Scaffold {
	return &Scaffold{alloc: alloc, reg: reg, log: logging.OrNop(log)}
}

// Allocation returns the configured slots per scale.
func (s *Scaffold) Allocation() map[string]int {
	return map[string]int{
		Immediate: s.alloc.Immediate,
		Task:      s.alloc.Task,
		Session:   s.alloc.Session,
		Project:   s.alloc.Project,
	}
}

// BalancedRetrieve searches with an oversampled limit, fills each scale's
// allocation from its own band, then backfills empty slots with the best
// remaining candidates regardless of scale. Results are sorted by score and
// annotated with their scale.
func (s *Scaffold) BalancedRetrieve(ctx context.Context, prompt string, scoring config.ScoringConfig, gating config.GatingConfig) ([]store.Ranked, error) {
	searcher, ok := registry.Resolve[Searcher](s.reg, registry.Store)
	if !ok {
		return nil, errors.New("temporal: store unavailable")
	}
	total := s.alloc.Total()
	if total <= 0 {
		return nil, nil
	}
	ranked, err := searcher.SearchV2(ctx, store.SearchParams{
		Query:   prompt,
		Limit:   oversample * total,
		Scoring: scoring,
		Gating:  gating,
	})
	if err != nil {
		return nil, err
	}

	now := searcher.Now()
	for i := range ranked {
		ranked[i].TemporalScale = s.ClassifyScale(ranked[i].Record, now)
	}

	want := s.Allocation()
	chosen := make(map[string]bool, total)
	var out []store.Ranked
	for _, scale := range Scales {
		n := want[scale]
		for _, r := range ranked {
			if n == 0 {
				break
			}
			if r.TemporalScale == scale {
				out = append(out, r)
				chosen[r.ID] = true
				n--
			}
		}
	}
	for _, r := range ranked {
		if len(out) >= total {
			break
		}
		if !chosen[r.ID] {
			out = append(out, r)
			chosen[r.ID] = true
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	s.log.Debug("temporal: balanced retrieve", "candidates", len(ranked), "returned", len(out))
	return out, nil
}
