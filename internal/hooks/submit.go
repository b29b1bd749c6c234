package hooks

import (
	"io"
	"strings"

	"github.com/lazypower/recall/internal/pipeline"
)

func handleSubmit(client *Client, input *HookInput, stdout io.Writer) error {
	if strings.TrimSpace(input.Prompt) == "" {
		return nil
	}
	res, err := client.Event(input.Event(pipeline.PromptSubmit))
	if err != nil {
		return err
	}
	if res.Action != pipeline.ActionInject || res.Context == "" {
		return nil
	}
	return WritePromptOutput(stdout, res.Context)
}
