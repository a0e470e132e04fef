package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/infractl/pkg/engine"
	"github.com/openfroyo/infractl/pkg/policy"
	"github.com/openfroyo/infractl/pkg/telemetry"
)

func newRunCommand(a *app) *cobra.Command {
	var (
		vars         []string
		dryRun       bool
		skipPolicies bool
	)

	cmd := &cobra.Command{
		Use:   "run [operations...]",
		Short: "Run operations against an environment",
		Long: `Run the named operations, or every registered operation when none are named.

Each operation's dependencies run first, depth-first and in declaration order.
Operations that do not target the environment are skipped, and count as
completed for their dependents. The first failure stops the run.

Exit codes:
  1  an operation failed
  2  configuration error or duplicate operation name
  3  unknown operation or undispatchable handler
  4  dependency cycle
  5  denied by policy`,
		Example: `  # Run everything that targets stage
  infractl run -e stage

  # Run one operation and its dependencies
  infractl run -e prod deploy-api

  # Override a context variable
  infractl run -e local seed-db --var DB_NAME=scratch

  # Show what would run without running it
  infractl run -e prod --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			env, err := a.environment()
			if err != nil {
				return err
			}
			overrides, err := parseVars(vars)
			if err != nil {
				return err
			}

			return a.run(cmd.Context(), cmd.OutOrStdout(), runRequest{
				env:          env,
				operations:   args,
				overrides:    overrides,
				dryRun:       dryRun,
				skipPolicies: skipPolicies,
			})
		},
	}

	cmd.Flags().StringP("env", "e", "", "target environment (local, stage, prod)")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "context variable override KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "resolve and check the run without invoking handlers")
	cmd.Flags().BoolVar(&skipPolicies, "skip-policies", false, "do not evaluate admission policies")

	return cmd
}

type runRequest struct {
	env          engine.Environment
	operations   []string
	overrides    map[string]string
	dryRun       bool
	skipPolicies bool
}

func (a *app) run(ctx context.Context, out io.Writer, req runRequest) (err error) {
	ctx, span := a.tel.Tracer.StartCommandSpan(ctx, "run", string(req.env))
	defer func() {
		if err != nil {
			telemetry.RecordError(span, err)
			a.tel.Metrics.RecordError(err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
	}()

	reg, _, err := a.discover(ctx)
	if err != nil {
		return err
	}
	if reg.Len() == 0 {
		a.logger.Warn().
			Str("dir", a.project.OperationsPath(a.root)).
			Msg("No operations registered, nothing to run")
		return nil
	}

	plan, err := engine.NewPlanner(reg).Plan(req.env, req.operations)
	if err != nil {
		return err
	}

	if !req.skipPolicies {
		if err := a.admit(ctx, plan); err != nil {
			return err
		}
	}

	if req.dryRun {
		return a.printPlan(out, plan)
	}

	envCtx, err := a.loadContext(ctx, req.env, req.overrides)
	if err != nil {
		return err
	}

	history, err := a.openHistory(ctx)
	if err != nil {
		return err
	}
	if history != nil {
		a.tel.Events.SubscribePublisher(history, nil)
	}

	result, runErr := engine.NewExecutor(reg, a.tel.ExecutorOptions()...).Run(ctx, envCtx, req.operations)

	if history != nil {
		if err := history.SaveRun(context.WithoutCancel(ctx), result); err != nil {
			a.logger.Error().Err(err).Str("run_id", result.ID).Msg("Failed to record run history")
		}
	}

	if a.opts.jsonOutput {
		if err := printJSON(out, result); err != nil {
			return err
		}
	} else {
		printRunResult(out, result)
	}

	return runErr
}

// admit evaluates the project's policies against plan. Non-blocking
// violations are logged as warnings.
func (a *app) admit(ctx context.Context, plan *engine.Plan) error {
	eng, err := a.policies(ctx)
	if err != nil {
		return err
	}

	result, err := eng.Admit(ctx, plan)
	if result != nil {
		logViolations(a, result)
	}
	return err
}

func logViolations(a *app, result *policy.Result) {
	for _, v := range result.Violations {
		event := a.logger.Warn()
		switch v.Severity {
		case policy.SeverityInfo:
			event = a.logger.Info()
		case policy.SeverityError, policy.SeverityCritical:
			event = a.logger.Error()
		}
		event.
			Str("policy", v.Policy).
			Str("operation", v.Operation).
			Str("severity", string(v.Severity)).
			Msg(v.Message)
	}
	for _, w := range result.Warnings {
		a.logger.Warn().Msg(w)
	}
}

func printRunResult(out io.Writer, result *engine.RunResult) {
	table := newTable(out, "Operation", "Status", "Duration", "Error")
	for _, op := range result.Operations {
		table.Append([]string{op.Name, string(op.Status), formatDuration(op.Duration), op.Error})
	}
	table.Render()

	fmt.Fprintf(out, "\nRun %s %s in %s: %d succeeded, %d skipped, %d failed\n",
		result.ID,
		result.Status,
		formatDuration(result.Duration()),
		result.Count(engine.OperationSucceeded),
		result.Count(engine.OperationSkipped),
		result.Count(engine.OperationFailed),
	)
}

// parseVars parses KEY=VALUE overrides. Later values win.
func parseVars(vars []string) (map[string]string, error) {
	overrides := make(map[string]string, len(vars))
	for _, kv := range vars {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, engine.NewConfigurationError(fmt.Sprintf("invalid --var %q, expected KEY=VALUE", kv), nil).
				WithCode(engine.ErrCodeValidation)
		}
		overrides[key] = value
	}
	return overrides, nil
}
