package hooks

import (
	"encoding/json"
	"path/filepath"

	"github.com/lazypower/recall/internal/pipeline"
)

// HookInput represents the JSON the host agent sends on stdin to hook handlers.
// All fields are optional; different events populate different subsets.
type HookInput struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	CWD            string `json:"cwd"`
	HookEventName  string `json:"hook_event_name"`

	// SessionStart
	Source string `json:"source,omitempty"`

	// UserPromptSubmit
	Prompt string `json:"prompt,omitempty"`

	// PostToolUse
	ToolName     string          `json:"tool_name,omitempty"`
	ToolUseID    string          `json:"tool_use_id,omitempty"`
	ToolInput    json.RawMessage `json:"tool_input,omitempty"`
	ToolResponse json.RawMessage `json:"tool_response,omitempty"`

	// SessionEnd
	Reason string `json:"reason,omitempty"`
}

// Event converts the hook input into a pipeline event.
func (h *HookInput) Event(name string) pipeline.Event {
	ev := pipeline.Event{
		Name:      name,
		SessionID: h.SessionID,
		CWD:       h.CWD,
		Prompt:    h.Prompt,
		ToolName:  h.ToolName,
		ToolInput: h.ToolInput,
		Result:    h.ToolResponse,
	}
	if h.CWD != "" {
		ev.Project = filepath.Base(h.CWD)
	}
	return ev
}
