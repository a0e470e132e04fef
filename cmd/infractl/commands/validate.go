package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/infractl/pkg/engine"
	"github.com/openfroyo/infractl/pkg/envctx"
)

type checkResult struct {
	Check  string `json:"check"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`

	err error
}

func newValidateCommand(a *app) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the project without running anything",
		Long: `Validate the infrastructure project.

This command checks:
  - infra.cue against its schema
  - every operation module loads and registers cleanly
  - every dependency is registered and there are no cycles
  - policies compile
  - each environment's context.yaml, when present, matches its schema`,
		Example: `  # Validate the default project
  infractl validate

  # Also require a context file for every environment
  infractl validate --strict -p ./infra`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			ctx := cmd.Context()

			checks := []checkResult{{Check: "project settings", OK: true, Detail: a.project.Name}}

			reg, report, err := a.discover(ctx)
			switch {
			case err != nil:
				checks = append(checks, failed("operation modules", err))
			case report.Err() != nil:
				checks = append(checks, failed("operation modules", engine.NewConfigurationError(
					fmt.Sprintf("%d operation module(s) failed to load", len(report.Failed())), report.Err()).
					WithCode(engine.ErrCodeValidation)))
			default:
				checks = append(checks, checkResult{
					Check:  "operation modules",
					OK:     true,
					Detail: fmt.Sprintf("%d file(s), %d operation(s)", len(report.Files), reg.Len()),
				})
			}

			if reg != nil {
				if err := engine.NewPlanner(reg).Validate(); err != nil {
					checks = append(checks, failed("dependency graph", err))
				} else {
					checks = append(checks, checkResult{Check: "dependency graph", OK: true})
				}
			}

			if eng, err := a.policies(ctx); err != nil {
				checks = append(checks, failed("policies", err))
			} else {
				checks = append(checks, checkResult{
					Check:  "policies",
					OK:     true,
					Detail: fmt.Sprintf("%d loaded", len(eng.ListPolicies())),
				})
			}

			checks = append(checks, a.checkContexts(strict)...)

			return a.printChecks(cmd, checks)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "require a context file for every environment")

	return cmd
}

func (a *app) checkContexts(strict bool) []checkResult {
	loader, err := envctx.NewLoader(a.root, envctx.WithEnvironmentsDir(a.project.EnvironmentsPath(a.root)))
	if err != nil {
		return []checkResult{failed("context schema", err)}
	}

	var checks []checkResult
	for _, env := range engine.Environments() {
		name := fmt.Sprintf("context %s", env)
		file, err := loader.ReadFile(env)
		var ee *engine.EngineError
		switch {
		case err == nil:
			checks = append(checks, checkResult{Check: name, OK: true, Detail: "kind " + file.Kind})
		case errors.As(err, &ee) && ee.Code == engine.ErrCodeNotFound && !strict:
			checks = append(checks, checkResult{Check: name, OK: true, Detail: "no context file"})
		default:
			checks = append(checks, failed(name, err))
		}
	}
	return checks
}

func failed(check string, err error) checkResult {
	return checkResult{Check: check, OK: false, Detail: err.Error(), err: err}
}

func (a *app) printChecks(cmd *cobra.Command, checks []checkResult) error {
	var errs []error
	for _, c := range checks {
		if c.err != nil {
			errs = append(errs, c.err)
		}
	}

	out := cmd.OutOrStdout()
	if a.opts.jsonOutput {
		if err := printJSON(out, checks); err != nil {
			return err
		}
	} else {
		table := newTable(out, "Check", "Result", "Detail")
		for _, c := range checks {
			result := "ok"
			if !c.OK {
				result = "FAILED"
			}
			table.Append([]string{c.Check, result, c.Detail})
		}
		table.Render()
	}

	return errors.Join(errs...)
}
