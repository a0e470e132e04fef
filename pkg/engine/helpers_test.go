package engine

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

// testEnv is a minimal EnvContext for tests.
type testEnv struct {
	env  Environment
	vars map[string]string
}

func newTestEnv(env Environment) *testEnv {
	return &testEnv{env: env, vars: map[string]string{"TARGET_ENV": string(env)}}
}

func (e *testEnv) Env() Environment { return e.env }

func (e *testEnv) Get(key string) (string, bool) {
	v, ok := e.vars[key]
	return v, ok
}

func (e *testEnv) Vars() map[string]string {
	out := make(map[string]string, len(e.vars))
	for k, v := range e.vars {
		out[k] = v
	}
	return out
}

func (e *testEnv) ProjectRoot() string { return "/tmp/infra" }

// recorder tracks handler invocations in order.
type recorder struct {
	calls []string
}

func (r *recorder) handler(name string) Handler {
	return Func(func(ctx context.Context, env EnvContext) error {
		r.calls = append(r.calls, name)
		return nil
	})
}

func (r *recorder) count(name string) int {
	n := 0
	for _, c := range r.calls {
		if c == name {
			n++
		}
	}
	return n
}

func newTestRegistry() *Registry {
	return NewRegistry(WithRegistryLogger(zerolog.Nop()))
}

func newTestExecutor(reg *Registry, opts ...ExecutorOption) *Executor {
	return NewExecutor(reg, append([]ExecutorOption{WithLogger(zerolog.Nop())}, opts...)...)
}

// mustDefine registers an operation named name or fails the test.
func mustDefine(t *testing.T, reg *Registry, name string, h Handler, opts ...DefineOption) {
	t.Helper()
	opts = append([]DefineOption{WithName(name)}, opts...)
	if _, err := reg.Define("test operation "+name, h, opts...); err != nil {
		t.Fatalf("Failed to define %s: %v", name, err)
	}
}

// SecretsSetup is a named handler used for name derivation.
func SecretsSetup(ctx context.Context, env EnvContext) error {
	return nil
}

func create_bucket(ctx context.Context, env EnvContext) error { //nolint:revive
	return nil
}
