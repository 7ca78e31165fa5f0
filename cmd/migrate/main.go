package main

import (
	"MangoCache/internal/config"
	"MangoCache/internal/observability"
	"MangoCache/internal/persistence"
	"context"
	"database/sql"
	"fmt"
	"os"
	"text/tabwriter"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	dsn        string
	dir        string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the cache_log and cache_state schemas",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("CACHE_CONFIG"), "path to YAML config file")
	root.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "Postgres DSN (overrides config)")
	root.PersistentFlags().StringVar(&opts.dir, "dir", "", "migrations directory (overrides config)")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd.Context(), opts, func(ctx context.Context, m *persistence.Migrator, logger zerolog.Logger) error {
					if err := m.Up(ctx); err != nil {
						return fmt.Errorf("migrate up: %w", err)
					}
					logger.Info().Msg("all migrations applied")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last applied migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd.Context(), opts, func(ctx context.Context, m *persistence.Migrator, logger zerolog.Logger) error {
					if err := m.Down(ctx); err != nil {
						return fmt.Errorf("migrate down: %w", err)
					}
					logger.Info().Msg("last migration rolled back")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd.Context(), opts, func(ctx context.Context, m *persistence.Migrator, _ zerolog.Logger) error {
					statuses, err := m.Status(ctx)
					if err != nil {
						return fmt.Errorf("migrate status: %w", err)
					}
					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "VERSION\tFILE\tAPPLIED")
					for _, s := range statuses {
						fmt.Fprintf(w, "%s\t%s\t%t\n", s.Version, s.Filename, s.Applied)
					}
					return w.Flush()
				})
			},
		},
	)
	return root
}

func withMigrator(ctx context.Context, opts *options, fn func(context.Context, *persistence.Migrator, zerolog.Logger) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.dsn != "" {
		cfg.Postgres.DSN = opts.dsn
	}
	if opts.dir != "" {
		cfg.MigrationsDir = opts.dir
	}

	observability.SetDefaultLevel(observability.ParseLogLevel(cfg.Logging.Level))
	logger := observability.NewLogger("migrate")

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	return fn(ctx, persistence.NewMigrator(db, cfg.MigrationsDir, logger), logger)
}
