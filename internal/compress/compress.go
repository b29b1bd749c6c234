// Package compress merges clusters of aged, similar memories into summaries.
package compress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/keywords"
	"github.com/lazypower/recall/internal/logging"
	"github.com/lazypower/recall/internal/pipeline"
	"github.com/lazypower/recall/internal/registry"
	"github.com/lazypower/recall/internal/store"
)

const (
	// Category marks summaries written by the compressor.
	Category = "compressed_summary"

	maxExcerpts      = 5
	excerptLength    = 160
	headerKeywords   = 8
	compressedTag    = "compressed"
	defaultBatchSize = 200
)

// Store is the slice of the store compression needs.
type Store interface {
	Now() time.Time
	CompressionCandidates(ctx context.Context, olderThan time.Time, exclude []string, limit int) ([]store.Record, error)
	ReplaceWithSummary(ctx context.Context, summary store.StoreParams, originals []string) (string, error)
}

// Stats summarizes one pass.
type Stats struct {
	Candidates       int `json:"candidates"`
	ClustersFound    int `json:"clusters_found"`
	ClustersMerged   int `json:"clusters_merged"`
	MemoriesRemoved  int `json:"memories_removed"`
	SummariesCreated int `json:"summaries_created"`
}

// Compressor runs compression passes.
type Compressor struct {
	cfg       config.CompressionConfig
	reg       *registry.Registry
	log       *slog.Logger
	extractor *keywords.Extractor
}

// New creates a Compressor. Close releases its keyword cache.
func New(cfg config.CompressionConfig, reg *registry.Registry, log *slog.Logger) (*Compressor, error) {
	ex, err := keywords.NewExtractor(cfg.KeywordLimit, 0)
	if err != nil {
		return nil, err
	}
	return &Compressor{cfg: cfg, reg: reg, log: logging.OrNop(log), extractor: ex}, nil
}

// Close releases resources.
func (c *Compressor) Close() {
	c.extractor.Close()
}

type member struct {
	rec store.Record
	set keywords.Set
}

// Compress clusters old candidates and replaces each large enough cluster
// with one summary record.
func (c *Compressor) Compress(ctx context.Context) (Stats, error) {
	var stats Stats
	st, ok := registry.Resolve[Store](c.reg, registry.Store)
	if !ok {
		return stats, errors.New("compress: store unavailable")
	}
	limit := c.cfg.MaxBatchSize
	if limit <= 0 {
		limit = defaultBatchSize
	}
	cutoff := st.Now().Add(-time.Duration(c.cfg.MinAgeDays * float64(24*time.Hour)))

	recs, err := st.CompressionCandidates(ctx, cutoff, c.cfg.ExcludeCategories, limit)
	if err != nil {
		return stats, err
	}
	stats.Candidates = len(recs)

	members := make([]member, len(recs))
	for i, r := range recs {
		members[i] = member{rec: r, set: c.extractor.Set(r.Content)}
	}

	for _, cluster := range c.cluster(members) {
		if len(cluster) < 2 {
			continue
		}
		stats.ClustersFound++
		if len(cluster) < c.cfg.MinClusterSize {
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		summary := merge(cluster)
		originals := make([]string, len(cluster))
		for i, m := range cluster {
			originals[i] = m.rec.ID
		}
		id, err := st.ReplaceWithSummary(ctx, summary, originals)
		if err != nil {
			return stats, fmt.Errorf("compress: merge cluster: %w", err)
		}
		stats.ClustersMerged++
		stats.SummariesCreated++
		for _, o := range originals {
			if o != id {
				stats.MemoriesRemoved++
			}
		}
		c.log.Debug("compress: merged cluster", "summary", id, "size", len(cluster))
	}
	return stats, nil
}

// cluster groups members greedily: each unassigned member seeds a cluster
// and pulls in every unassigned member similar enough to the seed.
func (c *Compressor) cluster(members []member) [][]member {
	assigned := make([]bool, len(members))
	var out [][]member
	for i := range members {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		group := []member{members[i]}
		for j := i + 1; j < len(members); j++ {
			if assigned[j] {
				continue
			}
			if keywords.Jaccard(members[i].set, members[j].set) > c.cfg.SimilarityThreshold {
				assigned[j] = true
				group = append(group, members[j])
			}
		}
		out = append(out, group)
	}
	return out
}

var sensitivityRank = map[string]int{store.Public: 0, store.Private: 1, store.Secret: 2}

func merge(cluster []member) store.StoreParams {
	p := store.StoreParams{
		Category:    Category,
		Trust:       1,
		Sensitivity: store.Public,
	}
	var tags, concepts, read, modified []string
	sets := make([]keywords.Set, len(cluster))
	for i, m := range cluster {
		r := m.rec
		p.Importance = math.Max(p.Importance, r.Importance)
		p.Trust = math.Min(p.Trust, r.Trust)
		if sensitivityRank[r.Sensitivity] > sensitivityRank[p.Sensitivity] {
			p.Sensitivity = r.Sensitivity
		}
		tags = append(tags, r.Tags...)
		concepts = append(concepts, r.Concepts...)
		read = append(read, r.FilesRead...)
		modified = append(modified, r.FilesModified...)
		sets[i] = m.set
	}
	p.Tags = append(tags, compressedTag)
	p.Concepts = concepts
	p.FilesRead = read
	p.FilesModified = modified
	p.Content = condense(cluster, shared(sets))
	return p
}

// shared returns the keywords present in at least half of the sets, most
// common first.
func shared(sets []keywords.Set) []string {
	counts := map[string]int{}
	for _, s := range sets {
		for w := range s {
			counts[w]++
		}
	}
	var words []string
	for w, n := range counts {
		if 2*n >= len(sets) {
			words = append(words, w)
		}
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > headerKeywords {
		words = words[:headerKeywords]
	}
	return words
}

func condense(cluster []member, common []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Compressed summary of %d related memories", len(cluster))
	if len(common) > 0 {
		fmt.Fprintf(&b, " (keywords: %s)", strings.Join(common, ", "))
	}
	b.WriteString("\n")
	for i, m := range cluster {
		if i == maxExcerpts {
			fmt.Fprintf(&b, "(+%d more)\n", len(cluster)-maxExcerpts)
			break
		}
		fmt.Fprintf(&b, "- [%s] %s\n", m.rec.Category, excerpt(m.rec.Content))
	}
	return strings.TrimRight(b.String(), "\n")
}

func excerpt(content string) string {
	flat := strings.Join(strings.Fields(content), " ")
	r := []rune(flat)
	if len(r) <= excerptLength {
		return flat
	}
	return string(r[:excerptLength-1]) + "…"
}

func (c *Compressor) Name() string { return "compress" }

func (c *Compressor) Priority() int { return 40 }

func (c *Compressor) Events() []string { return []string{pipeline.SessionEnd} }

// Handle runs a pass at the end of every session, after consolidation.
func (c *Compressor) Handle(ctx context.Context, _ pipeline.Event) (pipeline.Result, error) {
	_, err := c.Compress(ctx)
	return pipeline.Continue(), err
}
