package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Set via -ldflags at build time.
var (
	Version   = "dev"
	Commit    = ""
	BuildDate = ""
)

// BuildInfo identifies a recall binary.
type BuildInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// Build returns the binary's identity. Commit and build date fall back to
// the VCS stamp the Go toolchain embeds when ldflags did not set them.
func Build() BuildInfo {
	info := BuildInfo{
		Name:      "recall",
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && info.Commit == "":
				info.Commit = s.Value
			case s.Key == "vcs.time" && info.BuildDate == "":
				info.BuildDate = s.Value
			}
		}
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	if info.BuildDate == "" {
		info.BuildDate = "unknown"
	}
	if len(info.Commit) > 12 {
		info.Commit = info.Commit[:12]
	}
	return info
}

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the recall build identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := Build()
		if versionJSON {
			return printJSON(cmd.OutOrStdout(), info)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n  commit: %s\n  built:  %s\n  go:     %s\n",
			info.Name, info.Version, info.Commit, info.BuildDate, info.GoVersion)
		return nil
	},
}

// VersionString is the short form reported by the sidecar health check.
func VersionString() string {
	info := Build()
	return fmt.Sprintf("%s (%s)", info.Version, info.Commit)
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print build identity as JSON")
}
