package hooks

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// HookOutput is the JSON structure the host expects on stdout from the
// SessionStart and UserPromptSubmit hooks.
type HookOutput struct {
	HookSpecificOutput struct {
		HookEventName     string `json:"hookEventName"`
		AdditionalContext string `json:"additionalContext"`
	} `json:"hookSpecificOutput"`
}

func writeOutput(w io.Writer, event, context string) error {
	out := HookOutput{}
	out.HookSpecificOutput.HookEventName = event
	out.HookSpecificOutput.AdditionalContext = context
	return json.NewEncoder(w).Encode(out)
}

// WriteSessionStartOutput writes the SessionStart response.
func WriteSessionStartOutput(w io.Writer, context string) error {
	return writeOutput(w, "SessionStart", context)
}

// WritePromptOutput writes the UserPromptSubmit response.
func WritePromptOutput(w io.Writer, context string) error {
	return writeOutput(w, "UserPromptSubmit", context)
}

// ExitError logs to stderr and exits 0 (hooks must never crash the host).
func ExitError(err error) {
	fmt.Fprintf(os.Stderr, "recall hook: %v\n", err)
	os.Exit(0)
}
