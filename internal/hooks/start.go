package hooks

import (
	"io"

	"github.com/lazypower/recall/internal/pipeline"
)

func handleStart(client *Client, input *HookInput, stdout io.Writer) error {
	res, err := client.Event(input.Event(pipeline.SessionStart))
	if err != nil {
		// Degrade gracefully, return empty context
		return WriteSessionStartOutput(stdout, "")
	}
	var context string
	if res.Action == pipeline.ActionInject {
		context = res.Context
	}
	return WriteSessionStartOutput(stdout, context)
}
