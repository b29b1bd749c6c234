package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrInvalidConfig is returned for malformed or out-of-range configuration.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all recall configuration.
type Config struct {
	Server        ServerConfig        `toml:"server"`
	Database      DatabaseConfig      `toml:"database"`
	Log           LogConfig           `toml:"log"`
	Store         StoreConfig         `toml:"store"`
	Scoring       ScoringConfig       `toml:"scoring"`
	Gating        GatingConfig        `toml:"gating"`
	Memorability  MemorabilityConfig  `toml:"memorability"`
	Capture       CaptureConfig       `toml:"capture"`
	Boundary      BoundaryConfig      `toml:"boundary"`
	Consolidation ConsolidationConfig `toml:"consolidation"`
	Compression   CompressionConfig   `toml:"compression"`
	Temporal      TemporalConfig      `toml:"temporal"`
	Injector      InjectorConfig      `toml:"injector"`
}

type ServerConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text, json, pretty
}

type StoreConfig struct {
	// FullText selects the FTS5 candidate path. When false, or when the
	// index cannot be built, search falls back to a substring scan.
	FullText       bool `toml:"full_text"`
	CandidateLimit int  `toml:"candidate_limit"`
	KeywordLimit   int  `toml:"keyword_limit"`
}

// ScoringConfig weights the components of a ranked search score.
type ScoringConfig struct {
	WMatch       float64 `toml:"w_match"`
	WRecency     float64 `toml:"w_recency"`
	WImportance  float64 `toml:"w_importance"`
	WTrust       float64 `toml:"w_trust"`
	HalfLifeDays float64 `toml:"half_life_days"`
	MinScore     float64 `toml:"min_score"`
}

// GatingConfig controls which sensitivity levels a search may return.
type GatingConfig struct {
	AllowPrivate bool `toml:"allow_private"`
	AllowSecret  bool `toml:"allow_secret"`
}

type MemorabilityConfig struct {
	Threshold        float64     `toml:"threshold"`
	WSubstance       float64     `toml:"w_substance"`
	WSalience        float64     `toml:"w_salience"`
	WDistinctiveness float64     `toml:"w_distinctiveness"`
	WType            float64     `toml:"w_type"`
	TypeWeights      TypeWeights `toml:"type_weights"`
	SalienceKeywords []string    `toml:"salience_keywords"`
}

// TypeWeights maps observation types to their base weight.
type TypeWeights struct {
	Discovery float64 `toml:"discovery"`
	Bugfix    float64 `toml:"bugfix"`
	Decision  float64 `toml:"decision"`
	Feature   float64 `toml:"feature"`
	Refactor  float64 `toml:"refactor"`
	Change    float64 `toml:"change"`
	Unknown   float64 `toml:"unknown"`
}

// Weight returns the weight for an observation type.
func (tw TypeWeights) Weight(observationType string) float64 {
	switch observationType {
	case "discovery":
		return tw.Discovery
	case "bugfix":
		return tw.Bugfix
	case "decision":
		return tw.Decision
	case "feature":
		return tw.Feature
	case "refactor":
		return tw.Refactor
	case "change":
		return tw.Change
	}
	return tw.Unknown
}

type CaptureConfig struct {
	Tools                 []string `toml:"tools"`        // glob patterns of learnable tools
	IgnoreTools           []string `toml:"ignore_tools"` // glob patterns that always win
	MinContentLength      int      `toml:"min_content_length"`
	MaxContentLength      int      `toml:"max_content_length"`
	AutoSummarizeInterval int      `toml:"auto_summarize_interval"`
	Trust                 float64  `toml:"trust"`
	TTLDays               float64  `toml:"ttl_days"`
	MaxFacts              int      `toml:"max_facts"`
}

type BoundaryConfig struct {
	WindowSize   int     `toml:"window_size"`
	Threshold    float64 `toml:"threshold"`
	KeywordLimit int     `toml:"keyword_limit"`
}

type ConsolidationConfig struct {
	BatchSize            int      `toml:"batch_size"`
	BoostFactor          float64  `toml:"boost_factor"`
	DecayRate            float64  `toml:"decay_rate"`
	MinImportance        float64  `toml:"min_importance"`
	MaxUnaccessedAgeDays float64  `toml:"max_unaccessed_age_days"`
	ProtectedTypes       []string `toml:"protected_types"`
}

type CompressionConfig struct {
	MinAgeDays          float64  `toml:"min_age_days"`
	SimilarityThreshold float64  `toml:"similarity_threshold"`
	MinClusterSize      int      `toml:"min_cluster_size"`
	MaxBatchSize        int      `toml:"max_batch_size"`
	KeywordLimit        int      `toml:"keyword_limit"`
	ExcludeCategories   []string `toml:"exclude_categories"`
}

// TemporalConfig is the per-scale allocation for balanced retrieval and the
// age limits that separate the scales. A record younger than
// ImmediateMaxMinutes is immediate, then task, then session; anything older
// than SessionMaxMinutes is project.
type TemporalConfig struct {
	Immediate int `toml:"immediate"`
	Task      int `toml:"task"`
	Session   int `toml:"session"`
	Project   int `toml:"project"`

	ImmediateMaxMinutes float64 `toml:"immediate_max_minutes"`
	TaskMaxMinutes      float64 `toml:"task_max_minutes"`
	SessionMaxMinutes   float64 `toml:"session_max_minutes"`
}

// ScaleLimits returns the immediate, task and session upper age bounds.
func (t TemporalConfig) ScaleLimits() (immediate, task, session time.Duration) {
	return minutes(t.ImmediateMaxMinutes), minutes(t.TaskMaxMinutes), minutes(t.SessionMaxMinutes)
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

// Total returns the sum of all allocations.
func (t TemporalConfig) Total() int {
	return t.Immediate + t.Task + t.Session + t.Project
}

type InjectorConfig struct {
	Enabled        bool `toml:"enabled"`
	Limit          int  `toml:"limit"`
	CandidateLimit int  `toml:"candidate_limit"`
	TokenBudget    int  `toml:"token_budget"`
	PreviewChars   int  `toml:"preview_chars"`
	UseTemporal    bool `toml:"use_temporal"`
}

// DefaultScoring returns the default search weights.
func DefaultScoring() ScoringConfig {
	return ScoringConfig{
		WMatch:       0.5,
		WRecency:     0.2,
		WImportance:  0.2,
		WTrust:       0.1,
		HalfLifeDays: 14,
		MinScore:     0.1,
	}
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			FullText:       true,
			CandidateLimit: 50,
			KeywordLimit:   10,
		},
		Scoring: DefaultScoring(),
		Memorability: MemorabilityConfig{
			Threshold:        0.30,
			WSubstance:       0.25,
			WSalience:        0.25,
			WDistinctiveness: 0.25,
			WType:            0.25,
			TypeWeights: TypeWeights{
				Discovery: 0.90,
				Bugfix:    0.85,
				Decision:  0.80,
				Feature:   0.60,
				Refactor:  0.45,
				Change:    0.35,
				Unknown:   0.50,
			},
			SalienceKeywords: []string{
				"error", "fail", "failed", "failure", "exception", "crash", "panic",
				"security", "vulnerability", "breakthrough", "root cause", "regression",
				"deadlock", "leak", "critical", "important", "discovered", "finally",
			},
		},
		Capture: CaptureConfig{
			Tools: []string{
				"Bash", "Edit", "MultiEdit", "Write", "Read", "Grep", "Glob",
				"NotebookEdit", "WebFetch", "WebSearch", "mcp__*",
			},
			IgnoreTools:           []string{"Todo*", "Task*", "Thinking"},
			MinContentLength:      50,
			MaxContentLength:      4000,
			AutoSummarizeInterval: 10,
			Trust:                 0.7,
			MaxFacts:              5,
		},
		Boundary: BoundaryConfig{
			WindowSize:   5,
			Threshold:    0.25,
			KeywordLimit: 10,
		},
		Consolidation: ConsolidationConfig{
			BatchSize:            100,
			BoostFactor:          0.1,
			DecayRate:            0.01,
			MinImportance:        0.1,
			MaxUnaccessedAgeDays: 30,
			ProtectedTypes:       []string{"decision", "discovery"},
		},
		Compression: CompressionConfig{
			MinAgeDays:          7,
			SimilarityThreshold: 0.3,
			MinClusterSize:      3,
			MaxBatchSize:        200,
			KeywordLimit:        15,
			ExcludeCategories:   []string{"session_summary", "compressed_summary"},
		},
		Temporal: TemporalConfig{
			Immediate: 1,
			Task:      2,
			Session:   1,
			Project:   1,

			ImmediateMaxMinutes: 5,
			TaskMaxMinutes:      30,
			SessionMaxMinutes:   120,
		},
		Injector: InjectorConfig{
			Enabled:        true,
			Limit:          5,
			CandidateLimit: 50,
			TokenBudget:    600,
			PreviewChars:   200,
			UseTemporal:    true,
		},
	}
}

// DefaultPath returns the default config path: ~/.recall/config.toml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".recall", "config.toml"), nil
}

// Load reads a TOML config file over the defaults. A missing file
// yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: decode %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes cfg as TOML to path, creating parent directories.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return invalid("server.port %d out of range", c.Server.Port)
	}
	switch c.Log.Format {
	case "", "text", "json", "pretty":
	default:
		return invalid("log.format %q", c.Log.Format)
	}
	if c.Store.CandidateLimit < 0 || c.Store.KeywordLimit < 0 {
		return invalid("store limits must be non-negative")
	}
	if err := c.Scoring.Validate(); err != nil {
		return err
	}
	m := c.Memorability
	for _, w := range []float64{m.Threshold, m.WSubstance, m.WSalience, m.WDistinctiveness, m.WType} {
		if !finiteNonNeg(w) {
			return invalid("memorability weights must be finite and non-negative")
		}
	}
	if c.Capture.MinContentLength < 0 || c.Capture.AutoSummarizeInterval < 0 || c.Capture.MaxFacts < 0 {
		return invalid("capture limits must be non-negative")
	}
	if !unit(c.Capture.Trust) {
		return invalid("capture.trust %v outside [0,1]", c.Capture.Trust)
	}
	if c.Boundary.WindowSize < 1 {
		return invalid("boundary.window_size must be at least 1")
	}
	if !unit(c.Boundary.Threshold) {
		return invalid("boundary.threshold %v outside [0,1]", c.Boundary.Threshold)
	}
	cs := c.Consolidation
	if cs.BatchSize < 1 {
		return invalid("consolidation.batch_size must be at least 1")
	}
	if !finiteNonNeg(cs.BoostFactor) || !finiteNonNeg(cs.DecayRate) || !unit(cs.MinImportance) || !finiteNonNeg(cs.MaxUnaccessedAgeDays) {
		return invalid("consolidation parameters out of range")
	}
	cp := c.Compression
	if cp.MinClusterSize < 2 || cp.MaxBatchSize < 1 || !unit(cp.SimilarityThreshold) || !finiteNonNeg(cp.MinAgeDays) {
		return invalid("compression parameters out of range")
	}
	t := c.Temporal
	if t.Immediate < 0 || t.Task < 0 || t.Session < 0 || t.Project < 0 {
		return invalid("temporal allocations must be non-negative")
	}
	if !finiteNonNeg(t.ImmediateMaxMinutes) || !finiteNonNeg(t.SessionMaxMinutes) ||
		t.ImmediateMaxMinutes <= 0 || t.TaskMaxMinutes <= t.ImmediateMaxMinutes || t.SessionMaxMinutes <= t.TaskMaxMinutes {
		return invalid("temporal scale limits must be positive and increasing")
	}
	if c.Injector.Limit < 0 || c.Injector.TokenBudget < 0 || c.Injector.PreviewChars < 0 {
		return invalid("injector limits must be non-negative")
	}
	return nil
}

// Validate rejects weights that are negative, non-finite or all zero.
func (s ScoringConfig) Validate() error {
	ws := []float64{s.WMatch, s.WRecency, s.WImportance, s.WTrust}
	sum := 0.0
	for _, w := range ws {
		if !finiteNonNeg(w) {
			return invalid("scoring weights must be finite and non-negative")
		}
		sum += w
	}
	if sum == 0 {
		return invalid("scoring weights are all zero")
	}
	if math.IsNaN(s.HalfLifeDays) || s.HalfLifeDays <= 0 {
		return invalid("scoring.half_life_days must be positive")
	}
	if !unit(s.MinScore) {
		return invalid("scoring.min_score %v outside [0,1]", s.MinScore)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func finiteNonNeg(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

func unit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
