// Package memorability decides whether an observation is worth keeping.
package memorability

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/logging"
	"github.com/lazypower/recall/internal/registry"
	"github.com/lazypower/recall/internal/store"
)

// Searcher is the slice of the store the scorer needs for novelty checks.
type Searcher interface {
	SearchV2(ctx context.Context, p store.SearchParams) ([]store.Ranked, error)
}

// Input describes one candidate observation.
type Input struct {
	Content         string
	ToolName        string
	ObservationType string
	HasError        bool
	FileCount       int
}

// Breakdown is a score and its components, each in [0,1].
type Breakdown struct {
	Substance       float64 `json:"substance"`
	Salience        float64 `json:"salience"`
	Distinctiveness float64 `json:"distinctiveness"`
	Type            float64 `json:"type"`
	Total           float64 `json:"total"`
}

// Scorer computes memorability. The store is resolved from the registry on
// every call; without one, distinctiveness is neutral.
type Scorer struct {
	cfg config.MemorabilityConfig
	reg *registry.Registry
	log *slog.Logger
}

// New creates a Scorer.
func New(cfg config.MemorabilityConfig, reg *registry.Registry, log *slog.Logger) *Scorer {
	return &Scorer{cfg: cfg, reg: reg, log: logging.OrNop(log)}
}

// Score rates in.
func (s *Scorer) Score(ctx context.Context, in Input) Breakdown {
	b := Breakdown{
		Substance:       substance(in.Content, in.FileCount),
		Salience:        s.salience(in.Content, in.HasError),
		Distinctiveness: s.distinctiveness(ctx, in.Content),
		Type:            s.cfg.TypeWeights.Weight(in.ObservationType),
	}
	b.Total = store.Clamp01(s.cfg.WSubstance*b.Substance +
		s.cfg.WSalience*b.Salience +
		s.cfg.WDistinctiveness*b.Distinctiveness +
		s.cfg.WType*b.Type)
	return b
}

// ShouldStore reports whether score clears the threshold.
func (s *Scorer) ShouldStore(score float64) bool {
	return score >= s.cfg.Threshold
}

// Threshold returns the configured cut.
func (s *Scorer) Threshold() float64 {
	return s.cfg.Threshold
}

func substance(content string, fileCount int) float64 {
	length := 0.6 * math.Min(float64(len(content))/800, 1)
	structure := 0.0
	if looksStructured(content) {
		structure = 0.2
	}
	files := 0.0
	if fileCount > 0 {
		files = 0.2 * (1 - math.Pow(0.5, float64(fileCount)))
	}
	return store.Clamp01(length + structure + files)
}

var codeMarkers = []string{"{", "}", "()", "=>", ":=", "```", "func ", "def ", "SELECT ", "#include"}

func looksStructured(content string) bool {
	if strings.Count(content, "\n") >= 2 {
		return true
	}
	for _, m := range codeMarkers {
		if strings.Contains(content, m) {
			return true
		}
	}
	return false
}

func (s *Scorer) salience(content string, hasError bool) float64 {
	if hasError {
		return 1
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, kw := range s.cfg.SalienceKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	return math.Min(float64(hits)/3, 1)
}

func (s *Scorer) distinctiveness(ctx context.Context, content string) float64 {
	searcher, ok := registry.Resolve[Searcher](s.reg, registry.Store)
	if !ok {
		return 0.5
	}
	sc := config.DefaultScoring()
	sc.MinScore = 0
	top, err := searcher.SearchV2(ctx, store.SearchParams{Query: content, Limit: 1, Scoring: sc})
	if err != nil {
		s.log.Debug("memorability: novelty search failed", "err", err)
		return 0.5
	}
	if len(top) == 0 {
		return 1
	}
	return store.Clamp01(1 - top[0].Match)
}
