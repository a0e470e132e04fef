package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openfroyo/infractl/pkg/engine"
)

// envPrefix is the prefix of environment variables that set flags,
// e.g. INFRACTL_PROJECT_ROOT for --project-root.
const envPrefix = "INFRACTL"

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// Execute runs the root command. Operations contributed by plugins are
// registered before the project's scripts are discovered.
func Execute(ctx context.Context, info BuildInfo, plugins ...engine.Plugin) error {
	rootCmd, a := newRootCommand(info, plugins...)
	err := rootCmd.ExecuteContext(ctx)
	return errors.Join(err, a.close(context.WithoutCancel(ctx)))
}

// NewRootCommand builds the command tree. It is exported for tests and for
// host programs that embed infractl with their own plugins.
func NewRootCommand(info BuildInfo, plugins ...engine.Plugin) *cobra.Command {
	cmd, _ := newRootCommand(info, plugins...)
	return cmd
}

func newRootCommand(info BuildInfo, plugins ...engine.Plugin) (*cobra.Command, *app) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	a := &app{info: info, viper: v, plugins: plugins}

	rootCmd := &cobra.Command{
		Use:   "infractl",
		Short: "infractl - environment-aware infrastructure operations runner",
		Long: `infractl runs named infrastructure operations against a local, stage or prod
environment.

Operations are declared in Starlark files under the project's operations
directory. Each names the environments it applies to and the operations it
depends on; a run resolves the dependency graph depth-first, skips operations
that do not target the environment and stops at the first failure.

Flags may also be set through INFRACTL_* environment variables, for example
INFRACTL_PROJECT_ROOT or INFRACTL_ENV.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", info.Version, info.Commit, info.BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.bindFlags(cmd)
		},
	}

	// Persistent flags available to all commands
	flags := rootCmd.PersistentFlags()
	flags.StringP("project-root", "p", "./infra", "infrastructure project root")
	flags.BoolP("verbose", "v", false, "enable debug logging")
	flags.Bool("json", false, "output in JSON format")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error), overrides the project setting")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return engine.NewConfigurationError("invalid flags", err).WithCode(engine.ErrCodeValidation)
	})

	rootCmd.AddCommand(newRunCommand(a))
	rootCmd.AddCommand(newPlanCommand(a))
	rootCmd.AddCommand(newListCommand(a))
	rootCmd.AddCommand(newValidateCommand(a))
	rootCmd.AddCommand(newHistoryCommand(a))
	rootCmd.AddCommand(newDevCommand(a))

	return rootCmd, a
}

// bindFlags binds the command's flags to viper so INFRACTL_* variables fill
// in whatever was not given on the command line.
func (a *app) bindFlags(cmd *cobra.Command) error {
	if err := a.viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	a.opts = globalOptions{
		projectRoot: a.viper.GetString("project-root"),
		verbose:     a.viper.GetBool("verbose"),
		jsonOutput:  a.viper.GetBool("json"),
		logLevel:    a.viper.GetString("log-level"),
	}
	return nil
}
