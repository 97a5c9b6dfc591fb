package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudretail/saga/internal/orders"
)

func newSeedCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the demo product catalog into an empty database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := orders.Seed(cmd.Context(), orders.NewRepository(db), orders.DefaultCatalog, a.logger)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "seeded %d products\n", n)
			return err
		},
	}
}
