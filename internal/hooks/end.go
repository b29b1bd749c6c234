package hooks

import "github.com/lazypower/recall/internal/pipeline"

func handleEnd(client *Client, input *HookInput) error {
	if input.SessionID == "" {
		return nil
	}
	_, err := client.Event(input.Event(pipeline.SessionEnd))
	return err
}
