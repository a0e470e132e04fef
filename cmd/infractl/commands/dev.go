package commands

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/infractl/pkg/engine"
	"github.com/openfroyo/infractl/pkg/scripts"
)

func newDevCommand(a *app) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Watch the project and re-plan on every change",
		Long: `Watch the operations, environments and policies directories and print a
fresh plan for the environment whenever a file changes.

Each pass rediscovers every operation module, so broken modules, duplicate
names, unknown dependencies, cycles and policy denials show up as soon as
the file is saved. Nothing is executed. Stop with Ctrl+C.`,
		Example: `  # Watch and re-plan for stage
  infractl dev -e stage

  # Also expose Prometheus metrics while watching
  infractl dev -e stage --metrics-addr :9102`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			env, err := a.environment()
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				stop := a.serveMetrics(metricsAddr)
				defer stop()
			}
			return a.watch(cmd.Context(), cmd.OutOrStdout(), env, args)
		},
	}

	cmd.Flags().StringP("env", "e", "", "target environment (local, stage, prod)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func (a *app) watch(ctx context.Context, out io.Writer, env engine.Environment, names []string) error {
	var mu sync.Mutex
	replan := func(changed []string) {
		mu.Lock()
		defer mu.Unlock()

		if len(changed) > 0 {
			a.logger.Info().Strs("files", changed).Msg("Change detected, re-planning")
		}
		if err := a.replan(ctx, out, env, names); err != nil {
			a.tel.Metrics.RecordError(err)
			a.logger.Error().Err(err).Str("kind", string(engine.KindOf(err))).Msg("Plan failed")
		}
	}

	replan(nil)

	watcher := scripts.NewWatcher(scripts.WithWatcherLogger(a.component("watcher")))
	paths := []string{
		a.project.OperationsPath(a.root),
		a.project.EnvironmentsPath(a.root),
		a.project.PoliciesPath(a.root),
	}
	if err := watcher.Watch(ctx, paths, replan); err != nil {
		return err
	}
	defer watcher.Close()

	a.logger.Info().Strs("paths", paths).Msg("Watching for changes")
	<-ctx.Done()
	return nil
}

func (a *app) replan(ctx context.Context, out io.Writer, env engine.Environment, names []string) error {
	reg, _, err := a.discover(ctx)
	if err != nil {
		return err
	}
	plan, err := engine.NewPlanner(reg).Plan(env, names)
	if err != nil {
		return err
	}
	if err := a.printPlan(out, plan); err != nil {
		return err
	}
	return a.admit(ctx, plan)
}

// serveMetrics exposes the metrics registry over HTTP until the returned
// function is called.
func (a *app) serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.tel.Metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.logger.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
