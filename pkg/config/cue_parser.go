package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/infractl/pkg/engine"
)

// CUEParser reads infra.cue and produces a validated Project.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
	validator      *validator.Validate
	logger         zerolog.Logger
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	ctx := cuecontext.New()
	return &CUEParser{
		ctx:            ctx,
		schemaRegistry: NewSchemaRegistry(ctx),
		validator:      validator.New(),
		logger:         log.Logger.With().Str("component", "config").Logger(),
	}
}

// WithLogger returns the parser with logger set.
func (cp *CUEParser) WithLogger(logger zerolog.Logger) *CUEParser {
	cp.logger = logger
	return cp
}

// Load reads <root>/infra.cue. A missing file yields the schema defaults.
func (cp *CUEParser) Load(root string) (*Project, error) {
	path := filepath.Join(root, FileName)

	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		cp.logger.Debug().Str("path", path).Msg("Loading project settings")
	case errors.Is(err, fs.ErrNotExist):
		cp.logger.Debug().Str("path", path).Msg("No project settings file, using defaults")
		content = nil
	default:
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to read %s", path), err).
			WithCode(engine.ErrCodeValidation)
	}

	return cp.Parse(content, path)
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(content string) (*Project, error) {
	return cp.Parse([]byte(content), "inline")
}

// Parse compiles content, applies the project schema and decodes the result.
// Every CUE error is reported with its position.
func (cp *CUEParser) Parse(content []byte, filename string) (*Project, error) {
	val := cp.ctx.CompileBytes(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, cp.invalid(filename, cp.convertCUEErrors(err))
	}

	unified, err := cp.schemaRegistry.Apply(ProjectSchema, val)
	if err != nil {
		return nil, cp.invalid(filename, cp.convertCUEErrors(err))
	}

	var project Project
	if err := unified.Decode(&project); err != nil {
		return nil, cp.invalid(filename, ValidationErrors{{
			File:    filename,
			Message: fmt.Sprintf("failed to decode project: %v", err),
		}})
	}

	if err := cp.validator.Struct(project); err != nil {
		return nil, cp.invalid(filename, ValidationErrors{{
			File:    filename,
			Message: err.Error(),
		}})
	}

	return &project, nil
}

func (cp *CUEParser) invalid(filename string, errs ValidationErrors) error {
	return engine.NewConfigurationError(fmt.Sprintf("invalid project settings in %s", filename), errs).
		WithCode(engine.ErrCodeValidation)
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func (cp *CUEParser) convertCUEErrors(err error) ValidationErrors {
	var validationErrors ValidationErrors

	for _, e := range cueerrors.Errors(err) {
		pos := cueerrors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		format, args := e.Msg()
		validationErrors = append(validationErrors, ValidationError{
			File:    file,
			Line:    line,
			Column:  column,
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		})
	}

	return validationErrors
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}
