package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/recall/internal/engine"
	"github.com/lazypower/recall/internal/store"
)

const commandTimeout = 30 * time.Second

// openDB opens the configured database for CLI commands.
func openDB() (*store.DB, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	return store.Open(dbPath,
		store.WithLogger(logger),
		store.WithFullText(cfg.Store.FullText),
		store.WithCandidateLimit(cfg.Store.CandidateLimit),
		store.WithKeywordLimit(cfg.Store.KeywordLimit),
	)
}

// withDB opens the database, runs fn under a timeout, and closes it.
func withDB(fn func(ctx context.Context, db *store.DB) error) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	return fn(ctx, db)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}

// --- search command ---

var (
	searchLimit        int
	searchAllowPrivate bool
	searchAllowSecret  bool
	searchJSON         bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search memories",
	Long:  "Rank live memories against the query by match, recency, importance and trust.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	out := cmd.OutOrStdout()

	return withDB(func(ctx context.Context, db *store.DB) error {
		gating := cfg.Gating
		gating.AllowPrivate = gating.AllowPrivate || searchAllowPrivate
		gating.AllowSecret = gating.AllowSecret || searchAllowSecret

		results, err := db.SearchV2(ctx, store.SearchParams{
			Query:   query,
			Limit:   searchLimit,
			Scoring: cfg.Scoring,
			Gating:  gating,
		})
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		if searchJSON {
			return printJSON(out, results)
		}
		if len(results) == 0 {
			fmt.Fprintln(out, "No results found.")
			return nil
		}
		for i, r := range results {
			fmt.Fprintf(out, "%d. [%.3f] %s [%s]\n", i+1, r.Score, r.ID, r.Category)
			fmt.Fprintf(out, "   %s\n\n", oneLine(r.Content, 200))
		}
		return nil
	})
}

// --- list command ---

var (
	listLimit  int
	listOffset int
	listJSON   bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List live memories, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		return withDB(func(ctx context.Context, db *store.DB) error {
			previews, err := db.ListAll(ctx, listLimit, listOffset)
			if err != nil {
				return err
			}
			if listJSON {
				return printJSON(out, previews)
			}
			if len(previews) == 0 {
				fmt.Fprintln(out, "No memories stored.")
				return nil
			}
			for _, p := range previews {
				fmt.Fprintf(out, "%s  %-18s imp=%.2f  %s\n", p.ID, p.Category, p.Importance, oneLine(p.Preview, 80))
			}
			return nil
		})
	},
}

// --- get command ---

var getCmd = &cobra.Command{
	Use:   "get <id>...",
	Short: "Print full memory records as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(ctx context.Context, db *store.DB) error {
			recs, err := db.Get(ctx, args...)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				return fmt.Errorf("no live memory matches %s", strings.Join(args, ", "))
			}
			return printJSON(cmd.OutOrStdout(), recs)
		})
	},
}

// --- forget command ---

var forgetCmd = &cobra.Command{
	Use:   "forget <id>",
	Short: "Delete a memory and its facts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(ctx context.Context, db *store.DB) error {
			ok, err := db.Delete(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("memory %s: %w", args[0], store.ErrNotFound)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		})
	},
}

// --- stats command ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		return withDB(func(ctx context.Context, db *store.DB) error {
			n, err := db.Count(ctx)
			if err != nil {
				return err
			}
			version, err := db.SchemaVersion()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "db:        %s\n", db.Path)
			fmt.Fprintf(out, "schema:    %d\n", version)
			fmt.Fprintf(out, "full text: %t\n", db.FullTextReady())
			fmt.Fprintf(out, "memories:  %d\n", n)
			return nil
		})
	},
}

// --- purge command ---

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired memories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(ctx context.Context, db *store.DB) error {
			n, err := db.PurgeExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired memories\n", n)
			return nil
		})
	},
}

// --- consolidate / compress commands ---

// withEngine wires an engine over the database for batch commands.
func withEngine(fn func(ctx context.Context, eng *engine.Engine) error) error {
	return withDB(func(ctx context.Context, db *store.DB) error {
		eng, err := engine.New(cfg, db, logger)
		if err != nil {
			return err
		}
		defer eng.Close()
		return fn(ctx, eng)
	})
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Boost accessed memories, decay idle ones, remove stale ones",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine.Engine) error {
			stats, err := eng.Consolidator.Consolidate(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		})
	},
}

var compressCmd = &cobra.Command{
	Use:   "compress",
	Short: "Merge clusters of old, similar memories into summaries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine.Engine) error {
			stats, err := eng.Compressor.Compress(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		})
	},
}

// --- sessions command ---

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		return withDB(func(ctx context.Context, db *store.DB) error {
			sessions, err := db.RecentSessions(ctx, sessionsLimit)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions recorded.")
				return nil
			}
			for _, s := range sessions {
				status := "active"
				if s.EndedAt != nil {
					status = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
				}
				fmt.Fprintf(out, "%s  %-16s %s  tools=%d observations=%d  %s\n",
					s.StartedAt.Format(time.DateTime), s.Project, s.ID, s.ToolCalls, s.Observations, status)
			}
			return nil
		})
	},
}

// --- facts command ---

var (
	factsSubject string
	factsSource  string
	factsLimit   int
)

var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "List facts by subject or source memory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (factsSubject == "") == (factsSource == "") {
			return fmt.Errorf("exactly one of --subject or --source is required")
		}
		out := cmd.OutOrStdout()
		return withDB(func(ctx context.Context, db *store.DB) error {
			var (
				facts []store.Fact
				err   error
			)
			if factsSubject != "" {
				facts, err = db.FactsBySubject(ctx, factsSubject, factsLimit)
			} else {
				facts, err = db.FactsBySource(ctx, factsSource)
			}
			if err != nil {
				return err
			}
			if len(facts) == 0 {
				fmt.Fprintln(out, "No facts found.")
				return nil
			}
			for _, f := range facts {
				fmt.Fprintf(out, "%s  %s  %s\n", f.Subject, f.Predicate, f.Object)
			}
			return nil
		})
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum number of results")
	searchCmd.Flags().BoolVar(&searchAllowPrivate, "allow-private", false, "Include private memories")
	searchCmd.Flags().BoolVar(&searchAllowSecret, "allow-secret", false, "Include secret memories")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Print results as JSON")

	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 50, "Maximum number of memories")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Skip this many memories")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print previews as JSON")

	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "Maximum number of sessions")

	factsCmd.Flags().StringVar(&factsSubject, "subject", "", "Facts about this subject")
	factsCmd.Flags().StringVar(&factsSource, "source", "", "Facts extracted from this memory id")
	factsCmd.Flags().IntVarP(&factsLimit, "limit", "n", 100, "Maximum number of facts")
}
