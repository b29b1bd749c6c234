package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/keywords"
)

// Match score blend: how many query keywords a candidate contains, and how
// strong its raw match is relative to the best candidate.
const (
	coverageWeight = 0.7
	strengthWeight = 0.3
)

// SearchParams configures SearchV2. Zero Limit and CandidateLimit take the
// store defaults; a zero Scoring takes config.DefaultScoring.
type SearchParams struct {
	Query          string
	Limit          int
	CandidateLimit int
	Scoring        config.ScoringConfig
	Gating         config.GatingConfig
}

// Ranked is a search hit with its score breakdown attached.
type Ranked struct {
	Record
	Score         float64 `json:"_score"`
	Match         float64 `json:"_match"`
	TemporalScale string  `json:"_temporal_scale,omitempty"`
}

type candidate struct {
	rec      Record
	raw      float64
	coverage float64
}

// SearchV2 returns live records relevant to the query, ranked by a weighted
// blend of match quality, recency, importance and trust, after sensitivity
// gating and the min_score cut.
func (db *DB) SearchV2(ctx context.Context, p SearchParams) ([]Ranked, error) {
	if p.Scoring == (config.ScoringConfig{}) {
		p.Scoring = config.DefaultScoring()
	}
	if err := p.Scoring.Validate(); err != nil {
		return nil, err
	}
	if p.Limit <= 0 {
		p.Limit = 10
	}
	if p.CandidateLimit <= 0 {
		p.CandidateLimit = db.candidateLimit
	}
	if p.CandidateLimit < p.Limit {
		p.CandidateLimit = p.Limit
	}

	kws := keywords.Extract(p.Query, db.keywordLimit)
	if len(kws) == 0 {
		return nil, nil
	}

	now := db.now()
	cands, err := db.candidates(ctx, kws, p.CandidateLimit, now)
	if err != nil {
		return nil, err
	}

	best := 0.0
	for _, c := range cands {
		best = math.Max(best, c.raw)
	}

	results := make([]Ranked, 0, len(cands))
	for _, c := range cands {
		if !Permitted(c.rec.Sensitivity, p.Gating) {
			continue
		}
		match := coverageWeight * c.coverage
		if best > 0 {
			match += strengthWeight * (c.raw / best)
		}
		match = Clamp01(match)
		score := Score(p.Scoring, match, c.rec, now)
		if score < p.Scoring.MinScore {
			continue
		}
		results = append(results, Ranked{Record: c.rec, Score: score, Match: match})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].UpdatedAt.Equal(results[j].UpdatedAt) {
			return results[i].UpdatedAt.After(results[j].UpdatedAt)
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > p.Limit {
		results = results[:p.Limit]
	}
	return results, nil
}

// SearchIDs is SearchV2 returning only ids, in rank order.
func (db *DB) SearchIDs(ctx context.Context, p SearchParams) ([]string, error) {
	results, err := db.SearchV2(ctx, p)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids, nil
}

// Score combines the components of a ranked result.
func Score(sc config.ScoringConfig, match float64, r Record, now time.Time) float64 {
	ageDays := now.Sub(r.UpdatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	recency := math.Pow(0.5, ageDays/sc.HalfLifeDays)
	return sc.WMatch*match +
		sc.WRecency*recency +
		sc.WImportance*r.Importance +
		sc.WTrust*r.Trust
}

// Permitted reports whether a record of the given sensitivity may be
// returned. Unknown levels never pass.
func Permitted(sensitivity string, g config.GatingConfig) bool {
	switch sensitivity {
	case Public:
		return true
	case Private:
		return g.AllowPrivate
	case Secret:
		return g.AllowSecret
	}
	return false
}

func (db *DB) candidates(ctx context.Context, kws []string, limit int, now time.Time) ([]candidate, error) {
	if db.FullTextReady() {
		cands, err := db.ftsCandidates(ctx, kws, limit, now)
		if err == nil {
			return cands, nil
		}
		db.log.Debug("store: falling back to scan", "err", err)
	}
	return db.scanCandidates(ctx, kws, limit, now)
}

func (db *DB) ftsCandidates(ctx context.Context, kws []string, limit int, now time.Time) ([]candidate, error) {
	terms := make([]string, len(kws))
	for i, k := range kws {
		terms[i] = `"` + k + `"`
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+memoryCols+`, bm25(memories_fts) AS bm
		FROM memories_fts
		JOIN memories m ON m.seq = memories_fts.rowid
		WHERE memories_fts MATCH ? AND `+liveClause+`
		ORDER BY bm
		LIMIT ?`,
		strings.Join(terms, " OR "), now.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var rank float64
		r, err := scanRecord(rows, &rank)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
		}
		// bm25 is negative; more negative is better.
		out = append(out, candidate{
			rec:      r,
			raw:      math.Max(0, -rank),
			coverage: coverage(haystack(r), kws),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	return out, nil
}

// scanCandidates finds records containing any keyword as a substring and
// ranks them by total keyword hits.
func (db *DB) scanCandidates(ctx context.Context, kws []string, limit int, now time.Time) ([]candidate, error) {
	conds := make([]string, len(kws))
	args := []any{now.UnixMilli()}
	for i, k := range kws {
		conds[i] = "instr(lower(m.content || ' ' || m.category || ' ' || m.tags), ?) > 0"
		args = append(args, k)
	}
	scanCap := limit * 20
	if scanCap < 500 {
		scanCap = 500
	}
	args = append(args, scanCap)

	rows, err := db.QueryContext(ctx,
		"SELECT "+memoryCols+" FROM memories m WHERE "+liveClause+
			" AND ("+strings.Join(conds, " OR ")+") ORDER BY m.updated_at DESC LIMIT ?",
		args...)
	if err != nil {
		return nil, storageErr("scan", err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, storageErr("scan", err)
	}

	out := make([]candidate, 0, len(recs))
	for _, r := range recs {
		h := haystack(r)
		hits := 0
		for _, k := range kws {
			hits += strings.Count(h, k)
		}
		out = append(out, candidate{rec: r, raw: float64(hits), coverage: coverage(h, kws)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].raw > out[j].raw })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func haystack(r Record) string {
	return strings.ToLower(r.Content + " " + r.Category + " " + strings.Join(r.Tags, " "))
}

func coverage(h string, kws []string) float64 {
	if len(kws) == 0 {
		return 0
	}
	n := 0
	for _, k := range kws {
		if strings.Contains(h, k) {
			n++
		}
	}
	return float64(n) / float64(len(kws))
}
