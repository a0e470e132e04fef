package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/infractl/pkg/engine"
)

func newPlanCommand(a *app) *cobra.Command {
	var (
		dotFile      string
		skipPolicies bool
	)

	cmd := &cobra.Command{
		Use:   "plan [operations...]",
		Short: "Show the resolved execution order",
		Long: `Resolve the named operations, or every registered operation, for an
environment and print the order a run would reach them in, marking each as run
or skip.

No handler is invoked and no environment context is loaded. Unknown operations
and dependency cycles are reported exactly as a run would report them, and the
project's policies are evaluated against the plan.`,
		Example: `  # Show what a prod run would do
  infractl plan -e prod

  # Write a Graphviz rendering of the plan
  infractl plan -e stage deploy-api --dot plan.dot`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			env, err := a.environment()
			if err != nil {
				return err
			}

			reg, _, err := a.discover(cmd.Context())
			if err != nil {
				return err
			}

			plan, err := engine.NewPlanner(reg).Plan(env, args)
			if err != nil {
				return err
			}

			if dotFile != "" {
				if err := os.WriteFile(dotFile, []byte(plan.ToDOT()), 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", dotFile, err)
				}
				a.logger.Info().Str("file", dotFile).Msg("Plan graph written")
			}

			if err := a.printPlan(cmd.OutOrStdout(), plan); err != nil {
				return err
			}

			if skipPolicies {
				return nil
			}
			return a.admit(cmd.Context(), plan)
		},
	}

	cmd.Flags().StringP("env", "e", "", "target environment (local, stage, prod)")
	cmd.Flags().StringVar(&dotFile, "dot", "", "write a DOT graph of the plan to this file")
	cmd.Flags().BoolVar(&skipPolicies, "skip-policies", false, "do not evaluate admission policies")

	return cmd
}

func (a *app) printPlan(out io.Writer, plan *engine.Plan) error {
	if a.opts.jsonOutput {
		return printJSON(out, plan)
	}

	table := newTable(out, "#", "Operation", "Action", "Targets", "Depends On", "Handler")
	for _, step := range plan.Steps {
		table.Append([]string{
			fmt.Sprint(step.Order + 1),
			step.Name,
			string(step.Action),
			joinOrDash(step.TargetEnvs.Strings()),
			joinOrDash(step.DependsOn),
			step.Handler,
		})
	}
	table.Render()

	fmt.Fprintf(out, "\nPlan for %s: %d to run, %d to skip\n",
		plan.Environment, plan.Count(engine.StepRun), plan.Count(engine.StepSkip))
	return nil
}
