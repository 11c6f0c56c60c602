package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/starpig1129/pigpig-core/internal/config"
	"github.com/starpig1129/pigpig-core/internal/store"
	"github.com/starpig1129/pigpig-core/internal/telemetry"
)

// migrateCmd runs the storage layer's schema migration (including the
// legacy messages.vectorized backfill, §4.F) without starting the rest of
// the process, for use in deploy scripts ahead of a rolling restart.
func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run pending storage schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			reporter := telemetry.NewMailbox(8, slog.Default())
			defer reporter.Stop()

			cfg, err := config.Load(cfgRoot, reporter)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			st, err := store.Open(cfg.Database.Path, reporter)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			fmt.Printf("storage at %s is up to date\n", cfg.Database.Path)
			return nil
		},
	}
}
