package scripts

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/infractl/pkg/engine"
)

// newScriptContext exposes env to a Starlark handler as a read-only struct:
//
//	ctx.env              "local", "stage" or "prod"
//	ctx.project_root     project directory
//	ctx.get(key, default=None)
//	ctx.require(key)     fails when key is not set
//	ctx.vars()           dict copy of every variable
func newScriptContext(env engine.EnvContext) *starlarkstruct.Struct {
	get := starlark.NewBuiltin("get", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var key string
		var def starlark.Value = starlark.None
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key", &key, "default?", &def); err != nil {
			return nil, err
		}
		if v, ok := env.Get(key); ok {
			return starlark.String(v), nil
		}
		return def, nil
	})

	require := starlark.NewBuiltin("require", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var key string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &key); err != nil {
			return nil, err
		}
		v, ok := env.Get(key)
		if !ok {
			return nil, fmt.Errorf("required variable %q is not set for environment %s", key, env.Env())
		}
		return starlark.String(v), nil
	})

	vars := starlark.NewBuiltin("vars", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
			return nil, err
		}
		return toStarlarkValue(env.Vars())
	})

	return starlarkstruct.FromStringDict(starlark.String("ctx"), starlark.StringDict{
		"env":          starlark.String(env.Env()),
		"project_root": starlark.String(env.ProjectRoot()),
		"get":          get,
		"require":      require,
		"vars":         vars,
	})
}
