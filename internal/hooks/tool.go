package hooks

import "github.com/lazypower/recall/internal/pipeline"

func handleTool(client *Client, input *HookInput) error {
	if input.ToolName == "" {
		return nil
	}
	_, err := client.Event(input.Event(pipeline.ToolPost))
	return err
}
