// Package pipeline carries host events to the memory components. Handlers
// run in descending priority; a handler that fails or panics is logged and
// skipped so the host always gets an answer.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/lazypower/recall/internal/logging"
)

// Event names.
const (
	SessionStart = "session:start"
	SessionEnd   = "session:end"
	ToolPost     = "tool:post"
	PromptSubmit = "prompt:submit"
)

// Known reports whether name is a recognized event.
func Known(name string) bool {
	switch name {
	case SessionStart, SessionEnd, ToolPost, PromptSubmit:
		return true
	}
	return false
}

// Event is one host lifecycle notification.
type Event struct {
	Name      string          `json:"event"`
	SessionID string          `json:"session_id,omitempty"`
	Project   string          `json:"project,omitempty"`
	CWD       string          `json:"cwd,omitempty"`
	Prompt    string          `json:"prompt,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// Action is the signal a handler returns to the host.
type Action string

const (
	ActionContinue Action = "continue"
	ActionInject   Action = "inject_context"
)

// Result is the uniform handler outcome.
type Result struct {
	Action    Action `json:"action"`
	Context   string `json:"context,omitempty"`
	Ephemeral bool   `json:"ephemeral,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Continue is the no-op result.
func Continue() Result {
	return Result{Action: ActionContinue}
}

// Inject asks the host to add ephemeral context to the next model turn.
func Inject(context string) Result {
	return Result{Action: ActionInject, Context: context, Ephemeral: true}
}

// Handler reacts to events.
type Handler interface {
	Name() string
	Events() []string
	Priority() int
	Handle(ctx context.Context, ev Event) (Result, error)
}

// Pipeline dispatches events to registered handlers.
type Pipeline struct {
	mu       sync.RWMutex
	handlers []Handler
	log      *slog.Logger
}

// New creates an empty pipeline.
func New(log *slog.Logger) *Pipeline {
	return &Pipeline{log: logging.OrNop(log)}
}

// Register adds handlers.
func (p *Pipeline) Register(hs ...Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, hs...)
	sort.SliceStable(p.handlers, func(i, j int) bool {
		return p.handlers[i].Priority() > p.handlers[j].Priority()
	})
}

// Handlers returns the names of handlers subscribed to event, in run order.
func (p *Pipeline) Handlers(event string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []string
	for _, h := range p.handlers {
		if subscribes(h, event) {
			out = append(out, h.Name())
		}
	}
	return out
}

// Dispatch delivers ev to every subscribed handler. Inject results are
// merged; everything else collapses to continue.
func (p *Pipeline) Dispatch(ctx context.Context, ev Event) Result {
	if ev.SessionID == "" && ev.Name == SessionStart {
		ev.SessionID = uuid.NewString()
	}

	p.mu.RLock()
	handlers := make([]Handler, 0, len(p.handlers))
	for _, h := range p.handlers {
		if subscribes(h, ev.Name) {
			handlers = append(handlers, h)
		}
	}
	p.mu.RUnlock()

	out := Continue()
	out.SessionID = ev.SessionID
	var contexts []string
	for _, h := range handlers {
		res, err := p.run(ctx, h, ev)
		if err != nil {
			p.log.Debug("pipeline: handler failed", "handler", h.Name(), "event", ev.Name, "err", err)
			continue
		}
		if res.Action == ActionInject && res.Context != "" {
			contexts = append(contexts, res.Context)
			out.Ephemeral = out.Ephemeral || res.Ephemeral
		}
	}
	if len(contexts) > 0 {
		out.Action = ActionInject
		out.Context = strings.Join(contexts, "\n\n")
	}
	return out
}

func (p *Pipeline) run(ctx context.Context, h Handler, ev Event) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Handle(ctx, ev)
}

func subscribes(h Handler, event string) bool {
	for _, e := range h.Events() {
		if e == event {
			return true
		}
	}
	return false
}
