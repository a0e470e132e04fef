package envctx

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/infractl/pkg/engine"
)

// Built-in context kinds.
const (
	KindGeneric = "generic"
	KindAWS     = "aws"
)

// ContextFileName is the context definition inside each environment directory.
const ContextFileName = "context.yaml"

//go:embed schema/context.schema.json
var contextSchemaJSON string

// File is the parsed form of context.yaml.
type File struct {
	// Kind selects the context factory.
	Kind string `yaml:"kind"`

	// Description is free text.
	Description string `yaml:"description"`

	// Settings are kind-specific and decoded by the factory.
	Settings yaml.Node `yaml:"settings"`

	// Vars are defaults that rank below the .env file.
	Vars map[string]string `yaml:"vars"`
}

// Factory builds a context of one kind from an unloaded Base and the file's settings.
type Factory func(base *Base, settings *yaml.Node) (Context, error)

// Loader finds, validates and loads the context for an environment.
type Loader struct {
	projectRoot string
	envsDir     string
	baseOpts    []Option
	logger      zerolog.Logger

	schema   *jsonschema.Schema
	validate *validator.Validate

	mu        sync.RWMutex
	factories map[string]Factory
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithBaseOptions passes options to every Base the loader creates.
func WithBaseOptions(opts ...Option) LoaderOption {
	return func(l *Loader) {
		l.baseOpts = append(l.baseOpts, opts...)
	}
}

// WithEnvironmentsDir sets the directory holding one subdirectory per
// environment. Relative paths are resolved against the project root.
func WithEnvironmentsDir(dir string) LoaderOption {
	return func(l *Loader) {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(l.projectRoot, dir)
		}
		l.envsDir = dir
	}
}

// WithLoaderLogger sets the loader's logger.
func WithLoaderLogger(logger zerolog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a loader for the project at projectRoot with the generic
// and aws kinds registered.
func NewLoader(projectRoot string, opts ...LoaderOption) (*Loader, error) {
	schema, err := jsonschema.CompileString("context.schema.json", contextSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to compile context schema: %w", err)
	}

	l := &Loader{
		projectRoot: projectRoot,
		envsDir:     filepath.Join(projectRoot, "environments"),
		logger:      log.Logger.With().Str("component", "envctx").Logger(),
		schema:      schema,
		validate:    validator.New(),
		factories:   make(map[string]Factory),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.factories[KindGeneric] = func(base *Base, _ *yaml.Node) (Context, error) {
		return base, nil
	}
	l.factories[KindAWS] = l.newAWS

	return l, nil
}

// RegisterKind adds a context kind. Registering an existing kind is an error.
func (l *Loader) RegisterKind(kind string, factory Factory) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.factories[kind]; exists {
		return engine.NewConfigurationError(fmt.Sprintf("context kind %q is already registered", kind), nil).
			WithCode(engine.ErrCodeAlreadyExists)
	}
	l.factories[kind] = factory
	return nil
}

// Kinds returns the registered kinds, sorted.
func (l *Loader) Kinds() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	kinds := make([]string, 0, len(l.factories))
	for k := range l.factories {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// ContextPath returns the context file path for env.
func (l *Loader) ContextPath(env engine.Environment) string {
	return filepath.Join(l.envsDir, string(env), ContextFileName)
}

// ReadFile parses and validates the context file for env without loading it.
func (l *Loader) ReadFile(env engine.Environment) (*File, error) {
	path := l.ContextPath(env)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, engine.NewConfigurationError(fmt.Sprintf("context file not found: %s", path), err).
				WithCode(engine.ErrCodeNotFound)
		}
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to read %s", path), err).
			WithCode(engine.ErrCodeContextLoad)
	}

	if err := l.validateSchema(data); err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("invalid context file %s", path), err).
			WithCode(engine.ErrCodeValidation)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to parse %s", path), err).
			WithCode(engine.ErrCodeValidation)
	}
	return &file, nil
}

// Load reads the context file for env, builds the context of its kind and
// loads it with overrides.
func (l *Loader) Load(ctx context.Context, env engine.Environment, overrides map[string]string) (Context, error) {
	if err := env.Validate(); err != nil {
		return nil, engine.NewConfigurationError("invalid environment", err).WithCode(engine.ErrCodeValidation)
	}

	l.logger.Info().Str("path", l.ContextPath(env)).Msg("Loading environment context")

	file, err := l.ReadFile(env)
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	factory, ok := l.factories[file.Kind]
	l.mu.RUnlock()
	if !ok {
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("unknown context kind %q (known: %v)", file.Kind, l.Kinds()), nil).
			WithCode(engine.ErrCodeNotFound).
			WithDetail("kind", file.Kind)
	}

	opts := append([]Option{
		WithDefaults(file.Vars),
		WithLogger(l.logger),
		WithEnvironmentDir(filepath.Join(l.envsDir, string(env))),
	}, l.baseOpts...)
	base := NewBase(env, l.projectRoot, opts...)
	base.kind = file.Kind

	ec, err := factory(base, &file.Settings)
	if err != nil {
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("failed to build %q context for %s", file.Kind, env), err).
			WithCode(engine.ErrCodeInstantiation)
	}

	if err := ec.Load(ctx, overrides); err != nil {
		var ee *engine.EngineError
		if errors.As(err, &ee) {
			return nil, err
		}
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to load context for %s", env), err).
			WithCode(engine.ErrCodeContextLoad)
	}

	l.logger.Info().Str("environment", string(env)).Str("kind", ec.Kind()).Msg("Context loaded")
	return ec, nil
}

func (l *Loader) newAWS(base *Base, settings *yaml.Node) (Context, error) {
	var s AWSSettings
	if settings != nil && !settings.IsZero() {
		if err := settings.Decode(&s); err != nil {
			return nil, fmt.Errorf("invalid aws settings: %w", err)
		}
	}
	if err := l.validate.Struct(s); err != nil {
		return nil, fmt.Errorf("invalid aws settings: %w", err)
	}
	return NewAWS(base, s), nil
}

// validateSchema checks raw YAML against the context JSON Schema.
func (l *Loader) validateSchema(data []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("context file is empty")
	}

	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("context file is not representable as JSON: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(jsonData))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return l.schema.Validate(v)
}
