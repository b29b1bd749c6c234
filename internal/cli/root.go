package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/logging"
)

var (
	cfgFile string
	cfg     = config.Default()
	logger  = logging.Nop()
	vp      = config.NewViper()
)

var rootCmd = &cobra.Command{
	Use:               "recall",
	Short:             "Persistent memory for AI coding agents",
	Long:              "Recall captures what an agent learns during a session and feeds the relevant parts back into later prompts. Single Go binary, one SQLite file.",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig resolves the config file, overlays RECALL_* env vars and bound
// flags, and builds the logger.
func loadConfig(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = os.Getenv("RECALL_CONFIG")
	}
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}

	c, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := config.Overlay(&c, vp); err != nil {
		return err
	}
	cfg = c
	logger = logging.FromConfig(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	return nil
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default ~/.recall/config.toml)")
	pf.String("db", "", "Database path (default ~/.recall/recall.db)")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("log-format", "", "Log format: text, json, pretty")
	vp.BindPFlag("database.path", pf.Lookup("db"))
	vp.BindPFlag("log.level", pf.Lookup("log-level"))
	vp.BindPFlag("log.format", pf.Lookup("log-format"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(factsCmd)
	rootCmd.AddCommand(sessionsCmd)
}
