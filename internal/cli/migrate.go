package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudretail/saga/internal/database"
)

func newMigrateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withDB(cmd, func(db *database.DB) error {
					if err := db.Migrate(); err != nil {
						return err
					}
					return printVersion(cmd, db)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withDB(cmd, func(db *database.DB) error {
					if err := db.MigrateDown(); err != nil {
						return err
					}
					_, err := fmt.Fprintln(cmd.OutOrStdout(), "schema removed")
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withDB(cmd, func(db *database.DB) error {
					return printVersion(cmd, db)
				})
			},
		},
	)

	return cmd
}

// withDB opens the database without migrating it.
func (a *app) withDB(cmd *cobra.Command, fn func(db *database.DB) error) error {
	db, err := database.Open(cmd.Context(), a.cfg.Database.Driver, a.cfg.Database.ConnString(), a.cfg.Database.MaxOpenConns)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(db)
}

func printVersion(cmd *cobra.Command, db *database.DB) error {
	version, dirty, err := db.MigrationVersion()
	if err != nil {
		return err
	}

	out := fmt.Sprintf("schema version %d", version)
	if dirty {
		out += " (dirty)"
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
	return err
}
