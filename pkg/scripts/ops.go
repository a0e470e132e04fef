package scripts

import (
	"fmt"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/infractl/pkg/engine"
)

// allTargets is the target_envs value that selects every environment.
const allTargets = "all"

// opsBinding is the value passed to a module's register(ops). Its single
// method, ops.operation, defines an operation and returns the function so it
// can still be called directly from other Starlark code.
type opsBinding struct {
	registry *engine.Registry
	path     string
	logger   zerolog.Logger

	// registered holds the names this module added, in order.
	registered []string
}

func newOpsBinding(registry *engine.Registry, path string, logger zerolog.Logger) *opsBinding {
	return &opsBinding{registry: registry, path: path, logger: logger}
}

func (o *opsBinding) value() starlark.Value {
	return starlarkstruct.FromStringDict(starlark.String("ops"), starlark.StringDict{
		"operation": starlark.NewBuiltin("operation", o.operation),
	})
}

// operation implements
//
//	ops.operation(fn, description, name=None, target_envs=None, depends_on=[])
//
// name may be a string or a callable receiving the derived kebab-case name.
// target_envs may be None (never runs), "all", or a list of environment names.
func (o *opsBinding) operation(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		fnVal       starlark.Value
		description string
		name        starlark.Value = starlark.None
		targets     starlark.Value = starlark.None
		dependsOn   starlark.Value = starlark.None
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"fn", &fnVal,
		"description", &description,
		"name?", &name,
		"target_envs?", &targets,
		"depends_on?", &dependsOn,
	); err != nil {
		return nil, err
	}

	fn, ok := fnVal.(*starlark.Function)
	if !ok {
		return nil, fmt.Errorf("%s: fn must be a function defined in Starlark, got %s", b.Name(), fnVal.Type())
	}
	if err := checkHandlerParams(fn); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}

	handler := NewHandler(fn, o.path, o.logger)

	opts := []engine.DefineOption{}

	opName, err := o.resolveName(thread, handler, name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	opts = append(opts, engine.WithName(opName))

	targetOpt, err := parseTargets(targets)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if targetOpt != nil {
		opts = append(opts, targetOpt)
	}

	if dependsOn != starlark.None {
		deps, err := toStringList("depends_on", dependsOn)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		opts = append(opts, engine.DependsOn(deps...))
	}

	if _, err := o.registry.Define(description, handler, opts...); err != nil {
		return nil, err
	}
	o.registered = append(o.registered, opName)

	return fn, nil
}

func (o *opsBinding) resolveName(thread *starlark.Thread, handler *Handler, name starlark.Value) (string, error) {
	switch n := name.(type) {
	case starlark.String:
		return string(n), nil
	case starlark.NoneType, starlark.Callable:
		ident, err := handler.Identifier()
		if err != nil {
			return "", err
		}
		derived := engine.KebabCase(ident)
		if name == starlark.None {
			return derived, nil
		}
		out, err := starlark.Call(thread, n.(starlark.Callable), starlark.Tuple{starlark.String(derived)}, nil)
		if err != nil {
			return "", fmt.Errorf("name callable: %w", err)
		}
		s, ok := out.(starlark.String)
		if !ok {
			return "", fmt.Errorf("name callable returned %s, want string", out.Type())
		}
		return string(s), nil
	default:
		return "", fmt.Errorf("name must be None, a string or a callable, got %s", name.Type())
	}
}

// parseTargets returns nil for None, leaving the operation unset.
func parseTargets(v starlark.Value) (engine.DefineOption, error) {
	if v == starlark.None {
		return nil, nil
	}
	if s, ok := v.(starlark.String); ok {
		if string(s) == allTargets {
			return engine.ForAllEnvironments(), nil
		}
		return nil, fmt.Errorf("target_envs: %q is not %q or a list", string(s), allTargets)
	}

	names, err := toStringList("target_envs", v)
	if err != nil {
		return nil, err
	}
	envs := make([]engine.Environment, 0, len(names))
	for _, n := range names {
		if n == allTargets {
			return engine.ForAllEnvironments(), nil
		}
		env, err := engine.ParseEnvironment(n)
		if err != nil {
			return nil, fmt.Errorf("target_envs: %w", err)
		}
		envs = append(envs, env)
	}
	return engine.ForEnvironments(envs...), nil
}

// checkHandlerParams accepts any function callable with ctx as its only
// positional argument: every parameter after the first needs a default.
func checkHandlerParams(fn *starlark.Function) error {
	named := fn.NumParams()
	if fn.HasVarargs() {
		named--
	}
	if fn.HasKwargs() {
		named--
	}
	positional := named - fn.NumKwonlyParams()

	if positional < 1 && !fn.HasVarargs() {
		return fmt.Errorf("%s must take a ctx parameter", fn.Name())
	}
	for i := 1; i < named; i++ {
		if fn.ParamDefault(i) == nil {
			name, _ := fn.Param(i)
			return fmt.Errorf("%s: parameter %s after ctx needs a default", fn.Name(), name)
		}
	}
	return nil
}
