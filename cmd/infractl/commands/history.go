package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/infractl/pkg/engine"
	"github.com/openfroyo/infractl/pkg/stores"
)

func newHistoryCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded runs",
		Long: `Show runs recorded in the project's history database, most recent first.

History is kept in SQLite at history.path from infra.cue and is never read
back by a run.`,
		Example: `  # Last 20 runs
  infractl history

  # Details of one run
  infractl history show 0b7c9a52-...

  # Keep only the 100 most recent runs
  infractl history prune --keep 100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			store, err := a.requireHistory(cmd.Context())
			if err != nil {
				return err
			}

			runs, err := store.ListRuns(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.opts.jsonOutput {
				return printJSON(out, runs)
			}

			table := newTable(out, "Run", "Environment", "Status", "Started", "Duration", "Operations")
			for _, r := range runs {
				table.Append([]string{
					r.ID,
					r.Environment,
					string(r.Status),
					formatTime(&r.StartedAt),
					formatDuration(r.Duration()),
					joinOrDash(r.Requested),
				})
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show (0 for all)")

	cmd.AddCommand(newHistoryShowCommand(a))
	cmd.AddCommand(newHistoryPruneCommand(a))

	return cmd
}

type runDetail struct {
	Run        *stores.Run               `json:"run"`
	Operations []*stores.OperationResult `json:"operations"`
	Events     []*stores.Event           `json:"events,omitempty"`
}

func newHistoryShowCommand(a *app) *cobra.Command {
	var events bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := a.requireHistory(ctx)
			if err != nil {
				return err
			}

			run, err := store.GetRun(ctx, args[0])
			if errors.Is(err, stores.ErrNotFound) {
				return engine.NewConfigurationError(fmt.Sprintf("no recorded run %s", args[0]), err).
					WithCode(engine.ErrCodeNotFound)
			}
			if err != nil {
				return err
			}

			detail := runDetail{Run: run}
			if detail.Operations, err = store.ListOperationResults(ctx, run.ID); err != nil {
				return err
			}
			if events {
				if detail.Events, err = store.ListEvents(ctx, run.ID); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if a.opts.jsonOutput {
				return printJSON(out, detail)
			}

			fmt.Fprintf(out, "Run:         %s\n", run.ID)
			fmt.Fprintf(out, "Environment: %s\n", run.Environment)
			fmt.Fprintf(out, "Status:      %s\n", run.Status)
			fmt.Fprintf(out, "Started:     %s\n", formatTime(&run.StartedAt))
			fmt.Fprintf(out, "Duration:    %s\n", formatDuration(run.Duration()))
			fmt.Fprintf(out, "Requested:   %s\n", joinOrDash(run.Requested))
			if run.Error != nil {
				fmt.Fprintf(out, "Error:       %s\n", *run.Error)
			}
			fmt.Fprintln(out)

			table := newTable(out, "#", "Operation", "Status", "Duration", "Error")
			for _, op := range detail.Operations {
				errMsg := ""
				if op.Error != nil {
					errMsg = *op.Error
				}
				table.Append([]string{fmt.Sprint(op.Position + 1), op.Name, string(op.Status), formatDuration(op.Duration), errMsg})
			}
			table.Render()

			if events {
				fmt.Fprintln(out)
				et := newTable(out, "Time", "Type", "Operation", "Message")
				for _, e := range detail.Events {
					op := ""
					if e.Operation != nil {
						op = *e.Operation
					}
					et.Append([]string{formatTime(&e.Timestamp), string(e.Type), op, e.Message})
				}
				et.Render()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&events, "events", false, "include the run's execution events")

	return cmd
}

func newHistoryPruneCommand(a *app) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the most recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			store, err := a.requireHistory(cmd.Context())
			if err != nil {
				return err
			}

			removed, err := store.PruneRuns(cmd.Context(), keep)
			if err != nil {
				return engine.NewConfigurationError("failed to prune history", err).WithCode(engine.ErrCodeValidation)
			}

			a.logger.Info().Int64("removed", removed).Int("kept", keep).Msg("History pruned")
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 50, "number of runs to keep")

	return cmd
}
