package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudretail/saga"
	"github.com/cloudretail/saga/internal/orders"
)

func newSagaCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "saga",
		Short: "Inspect and roll back saga runs",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List saga runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, _ := cmd.Flags().GetString("status")
			return a.withService(cmd.Context(), func(svc *orders.Service) error {
				states, err := svc.ListSagas(cmd.Context())
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				for _, st := range states {
					if status != "" && string(st.Status) != status {
						continue
					}
					line := fmt.Sprintf("%s\t%s\t%s\tsteps=%d/%d",
						st.SagaID, st.Status, st.CreatedAt.Format(time.RFC3339),
						len(st.CompletedSteps), len(svc.Saga().Steps()))
					if st.FailedStep != "" {
						line += "\tfailed_step=" + string(st.FailedStep)
					}
					if _, err := fmt.Fprintln(w, line); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	listCmd.Flags().StringP("status", "s", "", "Only runs in this status (e.g. FAILED)")

	showCmd := &cobra.Command{
		Use:   "show SAGA_ID",
		Short: "Show the persisted state of a saga run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *orders.Service) error {
				state, err := svc.GetSaga(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, state)
			})
		},
	}

	rollbackCmd := &cobra.Command{
		Use:   "rollback SAGA_ID",
		Short: "Compensate every step of a run that is not compensated yet",
		Long: `Compensate, in reverse order, every step of a run that succeeded and is not
compensated yet. Use it to cancel a completed run or to retry compensations that
failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *orders.Service) error {
				res := svc.RollbackSaga(cmd.Context(), args[0])
				if errors.Is(res.Err, saga.ErrNotRollbackable) {
					return fmt.Errorf("nothing to roll back: %w", res.Err)
				}

				w := cmd.OutOrStdout()
				for _, step := range res.Compensated() {
					_, _ = fmt.Fprintln(w, "compensated", step)
				}
				if res.Err != nil {
					return res.Err
				}
				_, err := fmt.Fprintf(w, "saga %s is %s\n", res.SagaID, res.Status)
				return err
			})
		},
	}

	graphCmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the saga graph in Graphviz DOT format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			orchestrator, err := orders.NewSaga(nil, nil, nil)
			if err != nil {
				return err
			}
			dot, err := orchestrator.Dag().ExportToDot()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), dot)
			return err
		},
	}

	cmd.AddCommand(listCmd, showCmd, rollbackCmd, graphCmd)
	return cmd
}
