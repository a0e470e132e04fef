package envctx

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/infractl/pkg/engine"
)

// TargetEnvVar is set to the loaded environment's name unless an override sets it.
const TargetEnvVar = "TARGET_ENV"

// Context is an environment context that can be loaded once.
type Context interface {
	engine.EnvContext

	// Load populates the context. It may be called only once.
	Load(ctx context.Context, overrides map[string]string) error

	// EnvironmentDir returns environments/<env> under the project root.
	EnvironmentDir() string

	// Kind returns the context kind from context.yaml.
	Kind() string
}

// Base is the generic environment context: variables from the process
// environment, the context file, the environment's .env file and explicit
// overrides, in increasing precedence. The process environment is never modified.
type Base struct {
	env         engine.Environment
	kind        string
	projectRoot string
	envDir      string

	// defaults are the vars declared in context.yaml
	defaults map[string]string

	// preLoad runs before any variable is read
	preLoad func(ctx context.Context) error

	// environ supplies the process environment
	environ func() []string

	logger zerolog.Logger

	mu     sync.RWMutex
	vars   map[string]string
	loaded bool
}

var _ Context = (*Base)(nil)

// Option configures a Base.
type Option func(*Base)

// WithPreLoad registers a hook that runs at the start of Load, for example to
// fetch secrets or authenticate. A hook error aborts the load.
func WithPreLoad(fn func(ctx context.Context) error) Option {
	return func(b *Base) {
		b.preLoad = fn
	}
}

// WithEnviron replaces os.Environ as the source of process variables.
func WithEnviron(fn func() []string) Option {
	return func(b *Base) {
		b.environ = fn
	}
}

// WithDefaults sets variables that rank below the .env file.
func WithDefaults(vars map[string]string) Option {
	return func(b *Base) {
		b.defaults = maps.Clone(vars)
	}
}

// WithEnvironmentDir overrides <projectRoot>/environments/<env>.
func WithEnvironmentDir(dir string) Option {
	return func(b *Base) {
		b.envDir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Base) {
		b.logger = logger
	}
}

// NewBase creates an unloaded generic context for env rooted at projectRoot.
// The environment directory defaults to <projectRoot>/environments/<env>.
func NewBase(env engine.Environment, projectRoot string, opts ...Option) *Base {
	b := &Base{
		env:         env,
		kind:        KindGeneric,
		projectRoot: projectRoot,
		envDir:      filepath.Join(projectRoot, "environments", string(env)),
		environ:     os.Environ,
		logger:      log.Logger.With().Str("component", "envctx").Logger(),
		vars:        map[string]string{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Env returns the environment the context was created for.
func (b *Base) Env() engine.Environment { return b.env }

// Kind returns the context kind.
func (b *Base) Kind() string { return b.kind }

// ProjectRoot returns the project root directory.
func (b *Base) ProjectRoot() string { return b.projectRoot }

// EnvironmentDir returns the per-environment directory.
func (b *Base) EnvironmentDir() string { return b.envDir }

// DotenvPath returns the path of the environment's .env file.
func (b *Base) DotenvPath() string {
	return filepath.Join(b.envDir, ".env")
}

// Get returns a loaded variable.
func (b *Base) Get(key string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.vars[key]
	return v, ok
}

// GetOr returns a loaded variable or def when it is not set.
func (b *Base) GetOr(key, def string) string {
	if v, ok := b.Get(key); ok {
		return v
	}
	return def
}

// Vars returns a copy of the loaded variables.
func (b *Base) Vars() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.vars)
}

// Loaded reports whether Load has completed successfully.
func (b *Base) Loaded() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loaded
}

// Load runs the pre-load hook and merges the variable sources.
// TARGET_ENV is set to the context's environment before overrides apply.
func (b *Base) Load(ctx context.Context, overrides map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.loaded {
		return engine.NewConfigurationError(
			fmt.Sprintf("context for %s is already loaded", b.env), nil).
			WithCode(engine.ErrCodeContextLoad)
	}

	if b.preLoad != nil {
		if err := b.preLoad(ctx); err != nil {
			return engine.NewConfigurationError("pre-load hook failed", err).
				WithCode(engine.ErrCodeContextLoad)
		}
	}

	vars := make(map[string]string)
	for _, kv := range b.environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			vars[k] = v
		}
	}

	maps.Copy(vars, b.defaults)

	dotenv, err := godotenv.Read(b.DotenvPath())
	switch {
	case err == nil:
		b.logger.Debug().Str("path", b.DotenvPath()).Int("vars", len(dotenv)).Msg("Loaded dotenv file")
		maps.Copy(vars, dotenv)
	case errors.Is(err, fs.ErrNotExist):
		b.logger.Debug().Str("path", b.DotenvPath()).Msg("No dotenv file")
	default:
		return engine.NewConfigurationError(
			fmt.Sprintf("failed to read %s", b.DotenvPath()), err).
			WithCode(engine.ErrCodeContextLoad)
	}

	vars[TargetEnvVar] = string(b.env)
	maps.Copy(vars, overrides)

	b.vars = vars
	b.loaded = true
	return nil
}
