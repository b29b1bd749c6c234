package hooks

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Handle reads HookInput from stdin, forwards it to the server as a pipeline
// event, and writes any hook output to stdout. It never fails the host.
func Handle(event string, stdin io.Reader) {
	if err := Run(NewClient(), event, stdin, os.Stdout); err != nil {
		ExitError(err)
	}
}

// Run is Handle with an explicit client and output.
func Run(client *Client, event string, stdin io.Reader, stdout io.Writer) error {
	var input HookInput
	if err := json.NewDecoder(stdin).Decode(&input); err != nil {
		// Stdin may be empty for some events
		if event == "start" {
			return WriteSessionStartOutput(stdout, "")
		}
		return fmt.Errorf("decode stdin: %w", err)
	}

	// Degrade gracefully if the server is down
	if !client.Healthy() {
		if event == "start" {
			return WriteSessionStartOutput(stdout, "")
		}
		return nil
	}

	switch event {
	case "start":
		return handleStart(client, &input, stdout)
	case "submit":
		return handleSubmit(client, &input, stdout)
	case "tool":
		return handleTool(client, &input)
	case "end":
		return handleEnd(client, &input)
	default:
		return fmt.Errorf("unknown hook event: %s", event)
	}
}
