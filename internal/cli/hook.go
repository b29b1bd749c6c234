package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/lazypower/recall/internal/hooks"
)

// hookCmd skips config loading: hooks only talk to the sidecar and must
// never fail the host on a bad config file.
var hookCmd = &cobra.Command{
	Use:              "hook",
	Short:            "Handle agent hook events",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {},
}

func hookRun(event string) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		hooks.Handle(event, os.Stdin)
	}
}

var hookStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Handle SessionStart hook",
	Run:   hookRun("start"),
}

var hookSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Handle UserPromptSubmit hook",
	Run:   hookRun("submit"),
}

var hookToolCmd = &cobra.Command{
	Use:   "tool",
	Short: "Handle PostToolUse hook",
	Run:   hookRun("tool"),
}

var hookEndCmd = &cobra.Command{
	Use:   "end",
	Short: "Handle SessionEnd hook",
	Run:   hookRun("end"),
}

func init() {
	hookCmd.AddCommand(hookStartCmd)
	hookCmd.AddCommand(hookSubmitCmd)
	hookCmd.AddCommand(hookToolCmd)
	hookCmd.AddCommand(hookEndCmd)
}
