package scripts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/infractl/pkg/engine"
)

// Extension is the suffix of operation modules.
const Extension = ".star"

// registerFunc is the entry point every operation module must define.
const registerFunc = "register"

// FileResult records what one module contributed.
type FileResult struct {
	Path       string
	Operations []string
	Err        error
}

// DiscoveryReport summarizes a Discover call. A failing module never stops
// discovery; its error is recorded here instead.
type DiscoveryReport struct {
	Dir     string
	Files   []FileResult
	Ignored []string
}

// Operations returns every operation registered by discovery, in load order.
func (r *DiscoveryReport) Operations() []string {
	var names []string
	for _, f := range r.Files {
		names = append(names, f.Operations...)
	}
	return names
}

// Failed returns the modules that did not load cleanly.
func (r *DiscoveryReport) Failed() []FileResult {
	var failed []FileResult
	for _, f := range r.Files {
		if f.Err != nil {
			failed = append(failed, f)
		}
	}
	return failed
}

// Err joins the per-module errors, or returns nil.
func (r *DiscoveryReport) Err() error {
	var errs []error
	for _, f := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", f.Path, f.Err))
	}
	return errors.Join(errs...)
}

// Duplicate returns the first duplicate-name error, if any module hit one.
func (r *DiscoveryReport) Duplicate() error {
	for _, f := range r.Failed() {
		if engine.IsDuplicateError(f.Err) {
			return f.Err
		}
	}
	return nil
}

// Discoverer loads Starlark operation modules into a registry.
type Discoverer struct {
	registry *engine.Registry
	logger   zerolog.Logger
}

// DiscoverOption configures a Discoverer.
type DiscoverOption func(*Discoverer)

// WithLogger sets the logger used for discovery and for print() in scripts.
func WithLogger(logger zerolog.Logger) DiscoverOption {
	return func(d *Discoverer) {
		d.logger = logger
	}
}

// NewDiscoverer creates a discoverer that registers into registry.
func NewDiscoverer(registry *engine.Registry, opts ...DiscoverOption) *Discoverer {
	d := &Discoverer{
		registry: registry,
		logger:   log.Logger.With().Str("component", "scripts").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Discover is shorthand for NewDiscoverer(registry, opts...).Discover(ctx, dir).
func Discover(ctx context.Context, registry *engine.Registry, dir string, opts ...DiscoverOption) (*DiscoveryReport, error) {
	return NewDiscoverer(registry, opts...).Discover(ctx, dir)
}

// Discover walks dir in lexical order and loads every *.star module whose file
// name does not start with "_". A missing directory logs a warning and
// registers nothing. The returned error is reserved for walk failures and
// cancellation; module failures are in the report.
func (d *Discoverer) Discover(ctx context.Context, dir string) (*DiscoveryReport, error) {
	report := &DiscoveryReport{Dir: dir}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		d.logger.Warn().Str("dir", dir).Msg("Operations directory not found")
		return report, nil
	}

	loader := newModuleLoader(dir, d.logger)

	err = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || filepath.Ext(path) != Extension {
			return nil
		}
		if strings.HasPrefix(entry.Name(), "_") {
			report.Ignored = append(report.Ignored, path)
			return nil
		}

		result := d.loadFile(ctx, loader, path)
		if result.Err != nil {
			d.logger.Error().Err(result.Err).Str("path", path).Msg("Could not load operation file")
		} else {
			d.logger.Debug().Str("path", path).Strs("operations", result.Operations).Msg("Loaded operation file")
		}
		report.Files = append(report.Files, result)
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	d.logger.Info().
		Int("files", len(report.Files)).
		Int("failed", len(report.Failed())).
		Int("operations", len(report.Operations())).
		Msg("Operation discovery finished")

	return report, nil
}

// loadFile executes one module and calls its register(ops).
func (d *Discoverer) loadFile(ctx context.Context, loader *moduleLoader, path string) FileResult {
	result := FileResult{Path: path}

	thread := loader.thread(path)
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
	defer stop()

	globals, err := loader.exec(thread, path)
	if err != nil {
		result.Err = err
		return result
	}

	register, ok := globals[registerFunc].(starlark.Callable)
	if !ok {
		result.Err = engine.NewConfigurationError(
			fmt.Sprintf("module must define %s(ops)", registerFunc), nil).
			WithCode(engine.ErrCodeValidation)
		return result
	}

	binding := newOpsBinding(d.registry, path, d.logger)
	_, err = starlark.Call(thread, register, starlark.Tuple{binding.value()}, nil)
	result.Operations = binding.registered
	result.Err = err
	return result
}

// moduleLoader executes modules and serves load() for helper files under the
// operations directory. Helpers are usually "_"-prefixed so discovery skips them.
type moduleLoader struct {
	root   string
	logger zerolog.Logger
	cache  map[string]*loadEntry
}

type loadEntry struct {
	globals starlark.StringDict
	err     error
}

func newModuleLoader(root string, logger zerolog.Logger) *moduleLoader {
	return &moduleLoader{root: root, logger: logger, cache: make(map[string]*loadEntry)}
}

func (l *moduleLoader) predeclared() starlark.StringDict {
	return starlark.StringDict{
		"struct": starlarkstruct.Default,
	}
}

func (l *moduleLoader) thread(path string) *starlark.Thread {
	logger := l.logger.With().Str("script", path).Logger()
	return &starlark.Thread{
		Name: path,
		Print: func(_ *starlark.Thread, msg string) {
			logger.Info().Msg(msg)
		},
		Load: l.load,
	}
}

func (l *moduleLoader) exec(thread *starlark.Thread, path string) (starlark.StringDict, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module: %w", err)
	}
	return starlark.ExecFile(thread, path, src, l.predeclared())
}

// load resolves module relative to the operations directory. A leading "//"
// is accepted. Cycles are reported rather than deadlocking.
func (l *moduleLoader) load(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	rel := filepath.FromSlash(strings.TrimPrefix(module, "//"))
	path := filepath.Join(l.root, rel)
	if r, err := filepath.Rel(l.root, path); err != nil || strings.HasPrefix(r, "..") {
		return nil, fmt.Errorf("load %q: outside of the operations directory", module)
	}

	entry, ok := l.cache[path]
	if ok {
		if entry == nil {
			return nil, fmt.Errorf("load %q: cycle in load graph", module)
		}
		return entry.globals, entry.err
	}

	l.cache[path] = nil
	child := l.thread(path)
	globals, err := l.exec(child, path)
	l.cache[path] = &loadEntry{globals: globals, err: err}
	return globals, err
}
