package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/openfroyo/infractl/pkg/config"
	"github.com/openfroyo/infractl/pkg/engine"
	"github.com/openfroyo/infractl/pkg/envctx"
	"github.com/openfroyo/infractl/pkg/policy"
	"github.com/openfroyo/infractl/pkg/scripts"
	"github.com/openfroyo/infractl/pkg/stores"
	"github.com/openfroyo/infractl/pkg/telemetry"
)

type globalOptions struct {
	projectRoot string
	verbose     bool
	jsonOutput  bool
	logLevel    string
}

// app carries what every command shares: flags, project settings and
// telemetry for one invocation.
type app struct {
	info    BuildInfo
	viper   *viper.Viper
	plugins []engine.Plugin
	opts    globalOptions

	root    string
	project *config.Project
	tel     *telemetry.Telemetry
	logger  zerolog.Logger
	history *stores.SQLiteStore
}

// setup loads the project settings and starts telemetry. It is idempotent.
func (a *app) setup() error {
	if a.project != nil {
		return nil
	}

	root, err := filepath.Abs(a.opts.projectRoot)
	if err != nil {
		return engine.NewConfigurationError("invalid project root", err).WithCode(engine.ErrCodeValidation)
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return engine.NewConfigurationError(fmt.Sprintf("project root %s is not a directory", root), err).
			WithCode(engine.ErrCodeNotFound)
	}

	project, err := config.NewCUEParser().WithLogger(log.Logger).Load(root)
	if err != nil {
		return err
	}
	if err := project.CheckRequires(a.info.Version); err != nil {
		return err
	}

	cfg := project.TelemetryConfig(root, a.info.Version)
	if a.opts.verbose {
		cfg.Logging.Level = "debug"
	}
	if a.opts.logLevel != "" {
		cfg.Logging.Level = a.opts.logLevel
	}

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return engine.NewConfigurationError("invalid telemetry settings", err).WithCode(engine.ErrCodeValidation)
	}

	a.root = root
	a.project = project
	a.tel = tel
	a.logger = tel.Logger.Zerolog()
	log.Logger = a.logger

	a.logger.Debug().
		Str("project", project.Name).
		Str("root", root).
		Msg("Project loaded")
	return nil
}

// close flushes telemetry and closes the history database.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.history != nil {
		errs = append(errs, a.history.Close())
		a.history = nil
	}
	if a.tel != nil {
		errs = append(errs, a.tel.Shutdown(ctx))
		a.tel = nil
	}
	return errors.Join(errs...)
}

// discover builds a registry from the plugins and the project's operation
// scripts. A duplicate operation name is fatal; other broken modules are
// returned in the report and logged.
func (a *app) discover(ctx context.Context) (*engine.Registry, *scripts.DiscoveryReport, error) {
	reg := engine.NewRegistry(engine.WithRegistryLogger(a.component("registry")))
	if err := engine.ApplyPlugins(reg, a.plugins...); err != nil {
		return nil, nil, err
	}

	report, err := scripts.Discover(ctx, reg, a.project.OperationsPath(a.root),
		scripts.WithLogger(a.component("discovery")))
	if err != nil {
		return nil, nil, err
	}
	if dup := report.Duplicate(); dup != nil {
		return nil, report, dup
	}
	return reg, report, nil
}

// loadContext loads the environment context for env.
func (a *app) loadContext(ctx context.Context, env engine.Environment, overrides map[string]string) (envctx.Context, error) {
	loader, err := envctx.NewLoader(a.root,
		envctx.WithEnvironmentsDir(a.project.EnvironmentsPath(a.root)),
		envctx.WithLoaderLogger(a.component("envctx")),
	)
	if err != nil {
		return nil, err
	}
	return loader.Load(ctx, env, overrides)
}

// policies returns a policy engine with the project's policies loaded.
func (a *app) policies(ctx context.Context) (*policy.Engine, error) {
	eng, err := policy.NewEngine(a.component("policy"))
	if err != nil {
		return nil, err
	}
	if _, err := eng.LoadPolicies(ctx, a.project.PoliciesPath(a.root)); err != nil {
		return nil, err
	}
	return eng, nil
}

// openHistory opens the run history database, or returns nil when history is
// disabled.
func (a *app) openHistory(ctx context.Context) (*stores.SQLiteStore, error) {
	if a.history != nil {
		return a.history, nil
	}
	path := a.project.HistoryPath(a.root)
	if path == "" {
		return nil, nil
	}

	store, err := stores.Open(ctx, path)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to open run history %s", path), err).
			WithCode(engine.ErrCodeInternal)
	}
	a.history = store
	return store, nil
}

// requireHistory is openHistory for commands that cannot work without it.
func (a *app) requireHistory(ctx context.Context) (*stores.SQLiteStore, error) {
	store, err := a.openHistory(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, engine.NewConfigurationError("run history is disabled for this project", fs.ErrNotExist).
			WithCode(engine.ErrCodeNotFound)
	}
	return store, nil
}

// environment resolves the --env flag, falling back to INFRACTL_ENV.
func (a *app) environment() (engine.Environment, error) {
	raw := a.viper.GetString("env")
	if raw == "" {
		return "", engine.NewConfigurationError("an environment is required (--env or INFRACTL_ENV)", nil).
			WithCode(engine.ErrCodeValidation)
	}
	return engine.ParseEnvironment(raw)
}

func (a *app) component(name string) zerolog.Logger {
	return a.logger.With().Str("component", name).Logger()
}
