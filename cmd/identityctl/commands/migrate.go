package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fastygo/identity/internal/config"
	pgInfra "github.com/fastygo/identity/internal/infrastructure/postgres"
)

func migrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.cfg.Store.Driver == config.DriverPostgres {
				migrations := e.cfg.Migrations
				migrations.Enabled = true
				if err := pgInfra.RunMigrations(e.cfg.Database, migrations, e.logger); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "postgres schema is up to date")
				return nil
			}

			// The embedded stores create their schema when opened.
			ctx, cancel := e.context(cmd)
			defer cancel()
			if _, err := e.openStore(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", e.cfg.Store.Driver)
			return nil
		},
	}
}
