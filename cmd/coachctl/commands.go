package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/writecoach/internal/domain"
	"github.com/ashureev/writecoach/internal/memory"
	"github.com/ashureev/writecoach/internal/prompt"
	"github.com/ashureev/writecoach/internal/store"
)

const defaultDBPath = "./data/writecoach.db"

func rootCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "coachctl",
		Short: "Administer the writing coach database",
		Long: `Inspect and maintain writing coach data without running the server.

Examples:
  coachctl instructions --prefs "Use British spelling."
  coachctl prefs set anon_0123... "Keep paragraphs short."
  coachctl essays list anon_0123... --json
  coachctl sessions prune --ttl 2h
`,
		SilenceUsage: true,
	}

	fallback := defaultDBPath
	if env := os.Getenv("DB_PATH"); env != "" {
		fallback = env
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", fallback, "SQLite database path")

	openStore := func() (*store.SQLiteStore, error) {
		return store.NewSQLite(dbPath)
	}

	cmd.AddCommand(instructionsCmd(openStore))
	cmd.AddCommand(prefsCmd(openStore))
	cmd.AddCommand(essaysCmd(openStore))
	cmd.AddCommand(sessionsCmd(openStore))
	return cmd
}

type storeOpener func() (*store.SQLiteStore, error)

func withStore(open storeOpener, fn func(ctx context.Context, repo *store.SQLiteStore) error) error {
	repo, err := open()
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, repo)
}

func instructionsCmd(open storeOpener) *cobra.Command {
	var (
		prefs     string
		user      string
		prefsFile string
	)

	cmd := &cobra.Command{
		Use:   "instructions",
		Short: "Print the instruction document a new session would use",
		Long: `Print the instruction document. Preferences come from --prefs, from the
stored preferences of --user, or from a YAML --prefs-file (looked up by
--user, falling back to its default entry). Without any of these the
document has no preferences section.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap := domain.NoMemory()
			switch {
			case cmd.Flags().Changed("prefs"):
				snap = domain.MemoryOf(prefs)
			case prefsFile != "":
				fp, err := memory.LoadFile(prefsFile)
				if err != nil {
					return err
				}
				if snap, err = fp.Get(cmd.Context(), user); err != nil {
					return err
				}
			case user != "":
				err := withStore(open, func(ctx context.Context, repo *store.SQLiteStore) error {
					var err error
					snap, err = memory.NewStoreProvider(repo).Get(ctx, user)
					return err
				})
				if err != nil {
					return err
				}
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), prompt.Assemble(snap).String())
			return err
		},
	}

	cmd.Flags().StringVar(&prefs, "prefs", "", "Preference text to include")
	cmd.Flags().StringVar(&user, "user", "", "User whose stored preferences to include")
	cmd.Flags().StringVar(&prefsFile, "prefs-file", "", "YAML preference file")
	return cmd
}

func prefsCmd(open storeOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Manage stored user preferences",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <user>",
		Short: "Print a user's preferences",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(open, func(ctx context.Context, repo *store.SQLiteStore) error {
				text, ok, err := repo.GetPreference(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no preferences stored for %s", args[0])
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <user> <text>",
		Short: "Store a user's preferences",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
			return withStore(open, func(ctx context.Context, repo *store.SQLiteStore) error {
				return repo.PutPreference(ctx, args[0], text)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <user>",
		Short: "Forget a user's preferences",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(open, func(ctx context.Context, repo *store.SQLiteStore) error {
				return repo.DeletePreference(ctx, args[0])
			})
		},
	})

	return cmd
}

func essaysCmd(open storeOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "essays",
		Short: "Inspect delivered essays",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list <user>",
		Short: "List a user's essays, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(open, func(ctx context.Context, repo *store.SQLiteStore) error {
				essays, err := repo.ListEssays(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					if essays == nil {
						essays = []*domain.Essay{}
					}
					return enc.Encode(essays)
				}
				if len(essays) == 0 {
					_, err := fmt.Fprintln(out, "no essays")
					return err
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tCREATED\tPARAGRAPHS\tTOPIC")
				for _, e := range essays {
					fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", e.ID, e.CreatedAt.Format(time.RFC3339), len(e.Paragraphs), truncate(e.Topic, 60))
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "Output essays as JSON")
	cmd.AddCommand(list)
	return cmd
}

func sessionsCmd(open storeOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Maintain persisted session snapshots",
	}

	var ttl time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete session snapshots idle for longer than --ttl",
		Long: `Delete abandoned session snapshots. A running server also sweeps these;
use this when the server is stopped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl <= 0 {
				return errors.New("--ttl must be positive")
			}
			return withStore(open, func(ctx context.Context, repo *store.SQLiteStore) error {
				n, err := repo.CleanupExpiredSessions(ctx, ttl)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "pruned %d session(s)\n", n)
				return err
			})
		},
	}
	prune.Flags().DurationVar(&ttl, "ttl", time.Hour, "Idle time after which a session is pruned")
	cmd.AddCommand(prune)
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
