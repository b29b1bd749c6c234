// Package capture turns tool activity into classified memory records.
//
// Each session gets an explicit context in a registry keyed by session id:
// created on session start (or the first tool call of an unknown session),
// dropped on session end.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/logging"
	"github.com/lazypower/recall/internal/memorability"
	"github.com/lazypower/recall/internal/pipeline"
	"github.com/lazypower/recall/internal/registry"
	"github.com/lazypower/recall/internal/store"
)

const (
	categorySummary = "session_summary"
	signalHead      = 500
	defaultSession  = "default"
)

// Storer is the slice of the store capture writes through.
type Storer interface {
	Store(ctx context.Context, p store.StoreParams) (string, error)
	AddFacts(ctx context.Context, facts ...store.Fact) error
}

// SessionLog journals session lifecycle. The store implements it; capture
// writes to it when the registered store does.
type SessionLog interface {
	StartSession(ctx context.Context, id, project string, at time.Time) error
	EndSession(ctx context.Context, s store.Session) error
}

// Scorer gates observations on memorability.
type Scorer interface {
	Score(ctx context.Context, in memorability.Input) memorability.Breakdown
	ShouldStore(score float64) bool
}

// Session is the per-session capture context.
type Session struct {
	ID            string
	Project       string
	CWD           string
	Prompt        string
	StartedAt     time.Time
	FilesRead     map[string]int
	FilesModified map[string]int
	ToolCounts    map[string]int
	ToolCalls     int
	Observations  int
}

func newSession(id string, at time.Time) *Session {
	return &Session{
		ID:            id,
		StartedAt:     at,
		FilesRead:     map[string]int{},
		FilesModified: map[string]int{},
		ToolCounts:    map[string]int{},
	}
}

func (s *Session) clone() Session {
	c := *s
	c.FilesRead = copyCounts(s.FilesRead)
	c.FilesModified = copyCounts(s.FilesModified)
	c.ToolCounts = copyCounts(s.ToolCounts)
	return c
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Outcome reports what a tool:post did.
type Outcome struct {
	Stored  bool    `json:"stored"`
	ID      string  `json:"id,omitempty"`
	Type    string  `json:"type,omitempty"`
	Score   float64 `json:"score,omitempty"`
	Skipped string  `json:"skipped,omitempty"`
	Facts   int     `json:"facts,omitempty"`
	Summary string  `json:"summary_id,omitempty"`
}

// Capture records observations.
type Capture struct {
	cfg     config.CaptureConfig
	weights config.TypeWeights
	reg     *registry.Registry
	log     *slog.Logger
	now     func() time.Time

	allow []glob.Glob
	deny  []glob.Glob

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a Capture.
type Option func(*Capture)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Capture) { c.now = now }
}

// New compiles the tool patterns and returns a Capture.
func New(cfg config.CaptureConfig, weights config.TypeWeights, reg *registry.Registry, log *slog.Logger, opts ...Option) (*Capture, error) {
	c := &Capture{
		cfg:      cfg,
		weights:  weights,
		reg:      reg,
		log:      logging.OrNop(log),
		now:      time.Now,
		sessions: map[string]*Session{},
	}
	for _, opt := range opts {
		opt(c)
	}
	var err error
	if c.allow, err = compileAll(cfg.Tools); err != nil {
		return nil, err
	}
	if c.deny, err = compileAll(cfg.IgnoreTools); err != nil {
		return nil, err
	}
	return c, nil
}

func compileAll(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: tool pattern %q: %v", config.ErrInvalidConfig, p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Learnable reports whether observations from tool are recorded.
func (c *Capture) Learnable(tool string) bool {
	for _, g := range c.deny {
		if g.Match(tool) {
			return false
		}
	}
	for _, g := range c.allow {
		if g.Match(tool) {
			return true
		}
	}
	return false
}

func (c *Capture) Name() string  { return "capture" }
func (c *Capture) Priority() int { return 100 }
func (c *Capture) Events() []string {
	return []string{pipeline.SessionStart, pipeline.ToolPost, pipeline.SessionEnd}
}

// Handle routes pipeline events.
func (c *Capture) Handle(ctx context.Context, ev pipeline.Event) (pipeline.Result, error) {
	switch ev.Name {
	case pipeline.SessionStart:
		s := c.StartSession(ev.SessionID, ev.Project, ev.CWD, ev.Prompt)
		if j, ok := registry.Resolve[SessionLog](c.reg, registry.Store); ok {
			if err := j.StartSession(ctx, s.ID, s.Project, s.StartedAt); err != nil {
				return pipeline.Continue(), err
			}
		}
	case pipeline.ToolPost:
		if _, err := c.ToolPost(ctx, ev); err != nil {
			return pipeline.Continue(), err
		}
	case pipeline.SessionEnd:
		if _, err := c.EndSession(ctx, ev.SessionID); err != nil {
			return pipeline.Continue(), err
		}
	}
	return pipeline.Continue(), nil
}

// StartSession registers a session context, replacing any stale one.
func (c *Capture) StartSession(id, project, cwd, prompt string) Session {
	if id == "" {
		id = defaultSession
	}
	s := newSession(id, c.now())
	s.Project, s.CWD, s.Prompt = project, cwd, prompt

	c.mu.Lock()
	c.sessions[id] = s
	c.mu.Unlock()
	c.log.Debug("capture: session started", "session", id, "project", project)
	return s.clone()
}

// Session returns a snapshot of a live session context.
func (c *Capture) Session(id string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// ActiveSessions returns the number of live session contexts.
func (c *Capture) ActiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// ToolPost processes one tool result.
func (c *Capture) ToolPost(ctx context.Context, ev pipeline.Event) (Outcome, error) {
	id := ev.SessionID
	if id == "" {
		id = defaultSession
	}
	read, modified := FileOps(ev.ToolName, ev.ToolInput)

	c.mu.Lock()
	s, ok := c.sessions[id]
	if !ok {
		s = newSession(id, c.now())
		s.CWD = ev.CWD
		c.sessions[id] = s
	}
	for _, p := range read {
		s.FilesRead[p]++
	}
	for _, p := range modified {
		s.FilesModified[p]++
	}
	s.ToolCalls++
	s.ToolCounts[ev.ToolName]++
	c.mu.Unlock()

	if !c.Learnable(ev.ToolName) {
		return Outcome{Skipped: "tool not learnable"}, nil
	}

	content := strings.TrimSpace(ResultText(ev.Result, c.cfg.MaxContentLength))
	if len(content) < c.cfg.MinContentLength {
		return Outcome{Skipped: "content too short"}, nil
	}

	signal := InputText(ev.ToolInput) + "\n" + clipBytes(content, signalHead)
	obsType := Classify(ev.ToolName, signal)
	title := Title(ev.ToolName, ev.ToolInput)
	subtitle := firstLine(content, 100)
	importance := store.Clamp01(c.weights.Weight(obsType) + 0.1*math.Min(float64(len(content))/2000, 1))
	concepts := Concepts(content)
	hasError := ResultFailed(ev.Result) || LooksLikeError(clipBytes(content, signalHead))

	out := Outcome{Type: obsType}
	if scorer, ok := registry.Resolve[Scorer](c.reg, registry.Memorability); ok {
		b := scorer.Score(ctx, memorability.Input{
			Content:         content,
			ToolName:        ev.ToolName,
			ObservationType: obsType,
			HasError:        hasError,
			FileCount:       len(read) + len(modified),
		})
		out.Score = b.Total
		if !scorer.ShouldStore(b.Total) {
			out.Skipped = "below memorability threshold"
			return out, nil
		}
		importance = math.Max(importance, b.Total)
	}

	st, ok := registry.Resolve[Storer](c.reg, registry.Store)
	if !ok {
		return out, errors.New("capture: store unavailable")
	}

	body := title
	if subtitle != "" && subtitle != title {
		body += "\n" + subtitle
	}
	body += "\n\n" + content

	memID, err := st.Store(ctx, store.StoreParams{
		Content:       body,
		Category:      obsType,
		Importance:    importance,
		Trust:         c.cfg.Trust,
		Sensitivity:   store.Public,
		Tags:          []string{strings.ToLower(ev.ToolName), "session:" + id},
		Concepts:      concepts,
		FilesRead:     read,
		FilesModified: modified,
		TTLDays:       c.cfg.TTLDays,
	})
	if err != nil {
		return out, fmt.Errorf("capture: store observation: %w", err)
	}
	out.Stored, out.ID = true, memID

	subject := ev.ToolName
	if len(modified) > 0 {
		subject = modified[0]
	} else if len(read) > 0 {
		subject = read[0]
	}
	var facts []store.Fact
	for _, line := range FactLines(content, c.cfg.MaxFacts) {
		facts = append(facts, store.Fact{Subject: subject, Predicate: obsType, Object: line, SourceID: memID})
	}
	if err := st.AddFacts(ctx, facts...); err != nil {
		c.log.Debug("capture: facts not saved", "id", memID, "err", err)
	} else {
		out.Facts = len(facts)
	}

	c.mu.Lock()
	s.Observations++
	interim := c.cfg.AutoSummarizeInterval > 0 && s.Observations%c.cfg.AutoSummarizeInterval == 0
	var snap Session
	if interim {
		snap = s.clone()
	}
	c.mu.Unlock()

	if interim {
		sid, err := c.writeSummary(ctx, st, snap, false)
		if err != nil {
			c.log.Debug("capture: interim summary failed", "session", id, "err", err)
		}
		out.Summary = sid
	}

	c.log.Debug("capture: stored observation", "session", id, "tool", ev.ToolName, "type", obsType, "id", memID)
	return out, nil
}

// EndSession writes the final summary and discards the session context.
// It returns the summary id, or "" when the session saw no tool calls.
func (c *Capture) EndSession(ctx context.Context, id string) (string, error) {
	if id == "" {
		id = defaultSession
	}
	c.mu.Lock()
	s, ok := c.sessions[id]
	delete(c.sessions, id)
	var snap Session
	if ok {
		snap = s.clone()
	}
	c.mu.Unlock()

	if !ok {
		return "", nil
	}

	var summaryID string
	if snap.ToolCalls > 0 {
		st, ok := registry.Resolve[Storer](c.reg, registry.Store)
		if !ok {
			return "", errors.New("capture: store unavailable")
		}
		var err error
		if summaryID, err = c.writeSummary(ctx, st, snap, true); err != nil {
			return "", err
		}
	}

	if j, ok := registry.Resolve[SessionLog](c.reg, registry.Store); ok {
		ended := c.now()
		err := j.EndSession(ctx, store.Session{
			ID:           snap.ID,
			Project:      snap.Project,
			StartedAt:    snap.StartedAt,
			EndedAt:      &ended,
			ToolCalls:    snap.ToolCalls,
			Observations: snap.Observations,
			SummaryID:    summaryID,
		})
		if err != nil {
			return summaryID, err
		}
	}
	return summaryID, nil
}

func (c *Capture) writeSummary(ctx context.Context, st Storer, s Session, final bool) (string, error) {
	kind, importance := "interim", 0.4
	if final {
		kind, importance = "final", 0.6
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session summary (%s): %s\n", kind, s.ID)
	if s.Project != "" {
		fmt.Fprintf(&b, "Project: %s\n", s.Project)
	}
	if s.Prompt != "" {
		fmt.Fprintf(&b, "Prompt: %s\n", clip(strings.TrimSpace(s.Prompt), 200))
	}
	fmt.Fprintf(&b, "Duration: %s\n", c.now().Sub(s.StartedAt).Round(time.Second))
	fmt.Fprintf(&b, "Observations: %d stored of %d tool calls\n", s.Observations, s.ToolCalls)
	if len(s.ToolCounts) > 0 {
		fmt.Fprintf(&b, "Tools: %s\n", formatCounts(s.ToolCounts, 0))
	}
	if len(s.FilesRead) > 0 {
		fmt.Fprintf(&b, "Files read (%d): %s\n", len(s.FilesRead), formatCounts(s.FilesRead, 10))
	}
	if len(s.FilesModified) > 0 {
		fmt.Fprintf(&b, "Files modified (%d): %s\n", len(s.FilesModified), formatCounts(s.FilesModified, 10))
	}

	id, err := st.Store(ctx, store.StoreParams{
		Content:       strings.TrimRight(b.String(), "\n"),
		Category:      categorySummary,
		Importance:    importance,
		Trust:         c.cfg.Trust,
		Sensitivity:   store.Public,
		Tags:          []string{"summary", kind, "session:" + s.ID},
		FilesRead:     keys(s.FilesRead),
		FilesModified: keys(s.FilesModified),
	})
	if err != nil {
		return "", fmt.Errorf("capture: store %s summary: %w", kind, err)
	}
	return id, nil
}

// formatCounts renders name=count pairs, most-touched first. limit <= 0
// means all.
func formatCounts(m map[string]int, limit int) string {
	names := keys(m)
	sort.SliceStable(names, func(i, j int) bool {
		if m[names[i]] != m[names[j]] {
			return m[names[i]] > m[names[j]]
		}
		return names[i] < names[j]
	})
	extra := 0
	if limit > 0 && len(names) > limit {
		extra = len(names) - limit
		names = names[:limit]
	}
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s=%d", n, m[n])
	}
	s := strings.Join(parts, ", ")
	if extra > 0 {
		s += fmt.Sprintf(" (+%d more)", extra)
	}
	return s
}

func keys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
