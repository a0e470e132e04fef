package engine

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Registry holds registered operations by unique name, in registration order.
// A registry is built explicitly per run or per test; nothing is global.
type Registry struct {
	mu sync.RWMutex

	// ops maps operation names to operations.
	ops map[string]Operation

	// order lists names in the order they were registered.
	order []string

	// logger receives registration warnings.
	logger zerolog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used for registration warnings.
func WithRegistryLogger(logger zerolog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		ops:    make(map[string]Operation),
		order:  []string{},
		logger: log.Logger.With().Str("component", "registry").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds op. A second operation with an existing name is rejected with a
// duplicate error and the registry keeps the first. Dependencies are not checked here.
func (r *Registry) Register(op Operation) error {
	if err := validateOperation(op); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ops[op.name]; exists {
		return NewDuplicateError(op.name)
	}

	r.ops[op.name] = op
	r.order = append(r.order, op.name)

	if op.targetEnvs.IsUnset() {
		r.logger.Warn().
			Str("operation", op.name).
			Msg("Operation has no target environments and will be skipped in every environment")
	}

	return nil
}

// Lookup returns the operation registered under name.
func (r *Registry) Lookup(name string) (Operation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op, ok := r.ops[name]
	if !ok {
		return Operation{}, NewOperationError(fmt.Sprintf("operation %q not found in registry", name), nil).
			WithOperation(name).
			WithCode(ErrCodeNotFound)
	}
	return op, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ops[name]
	return ok
}

// Names returns every registered name in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Operations returns every registered operation in registration order.
func (r *Registry) Operations() []Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ops := make([]Operation, 0, len(r.order))
	for _, name := range r.order {
		ops = append(ops, r.ops[name])
	}
	return ops
}

// Len returns the number of registered operations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// DefineOption customizes an operation built by Define.
type DefineOption func(*definition)

type definition struct {
	name       string
	naming     func(derived string) string
	targetEnvs TargetEnvs
	dependsOn  []string
}

// WithName sets the operation name explicitly.
func WithName(name string) DefineOption {
	return func(d *definition) {
		d.name = name
	}
}

// WithNaming computes the operation name from the derived default.
func WithNaming(fn func(derived string) string) DefineOption {
	return func(d *definition) {
		d.naming = fn
	}
}

// ForEnvironments restricts the operation to the given environments.
func ForEnvironments(envs ...Environment) DefineOption {
	return func(d *definition) {
		d.targetEnvs = OnlyEnvironments(envs...)
	}
}

// ForAllEnvironments makes the operation eligible in every environment.
func ForAllEnvironments() DefineOption {
	return func(d *definition) {
		d.targetEnvs = AllEnvironments()
	}
}

// WithTargets sets the target environments from a prepared value.
func WithTargets(t TargetEnvs) DefineOption {
	return func(d *definition) {
		d.targetEnvs = t.clone()
	}
}

// DependsOn lists the operations that must complete first, in order.
func DependsOn(names ...string) DefineOption {
	return func(d *definition) {
		d.dependsOn = append(d.dependsOn, names...)
	}
}

// Define builds an operation from handler and registers it. Without WithName
// the name is the handler's identifier in kebab-case; anonymous functions need
// WithName. The handler itself is not wrapped and stays callable on its own.
func (r *Registry) Define(description string, handler Handler, opts ...DefineOption) (Operation, error) {
	d := &definition{}
	for _, opt := range opts {
		opt(d)
	}

	name := d.name
	if name == "" {
		if handler == nil {
			return Operation{}, NewConfigurationError("operation handler is required", nil).
				WithCode(ErrCodeValidation)
		}
		ident, err := handler.Identifier()
		if err != nil {
			return Operation{}, NewConfigurationError("cannot derive operation name", err).
				WithCode(ErrCodeValidation)
		}
		name = KebabCase(ident)
		if d.naming != nil {
			name = d.naming(name)
		}
	}

	op, err := NewOperation(name, description, handler, d.targetEnvs, d.dependsOn...)
	if err != nil {
		return Operation{}, err
	}
	if err := r.Register(op); err != nil {
		return Operation{}, err
	}
	return op, nil
}

// NewOperation builds a validated operation. Slices are copied.
func NewOperation(name, description string, handler Handler, targets TargetEnvs, dependsOn ...string) (Operation, error) {
	op := Operation{
		name:        name,
		description: description,
		handler:     handler,
		targetEnvs:  targets.clone(),
		dependsOn:   slices.Clone(dependsOn),
	}
	if op.dependsOn == nil {
		op.dependsOn = []string{}
	}
	if err := validateOperation(op); err != nil {
		return Operation{}, err
	}
	return op, nil
}

type operationFields struct {
	Name         string        `validate:"required,opname"`
	Description  string        `validate:"required"`
	Handler      Handler       `validate:"required"`
	Environments []Environment `validate:"dive,oneof=local stage prod"`
	DependsOn    []string      `validate:"dive,required,opname"`
}

var operationValidator = newOperationValidator()

func newOperationValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("opname", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s != "" && !strings.ContainsFunc(s, unicode.IsSpace)
	})
	return v
}

func validateOperation(op Operation) error {
	fields := operationFields{
		Name:         op.name,
		Description:  op.description,
		Handler:      op.handler,
		Environments: op.targetEnvs.envs,
		DependsOn:    op.dependsOn,
	}
	if err := operationValidator.Struct(fields); err != nil {
		return NewConfigurationError("invalid operation definition", err).
			WithOperation(op.name).
			WithCode(ErrCodeValidation)
	}
	return nil
}
