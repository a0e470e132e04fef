package envctx

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/infractl/pkg/engine"
)

func environ(kv ...string) func() []string {
	return func() []string { return kv }
}

// writeEnvFile writes name under <root>/environments/<env>.
func writeEnvFile(t *testing.T, root string, env engine.Environment, name, content string) {
	t.Helper()
	dir := filepath.Join(root, "environments", string(env))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newLoader(t *testing.T, root string, env ...string) *Loader {
	t.Helper()
	l, err := NewLoader(root,
		WithLoaderLogger(zerolog.Nop()),
		WithBaseOptions(WithEnviron(environ(env...))),
	)
	require.NoError(t, err)
	return l
}

func TestBase_Precedence(t *testing.T) {
	root := t.TempDir()
	writeEnvFile(t, root, engine.EnvStage, ".env", "FROM_DOTENV=dotenv\nSHARED=dotenv\nLAYERED=dotenv\n")

	b := NewBase(engine.EnvStage, root,
		WithLogger(zerolog.Nop()),
		WithEnviron(environ("PROCESS_ONLY=process", "SHARED=process", "DEFAULTED=process")),
		WithDefaults(map[string]string{"DEFAULTED": "default", "SHARED": "default"}),
	)

	require.NoError(t, b.Load(context.Background(), map[string]string{"LAYERED": "override"}))

	assert.Equal(t, "process", b.GetOr("PROCESS_ONLY", ""))
	assert.Equal(t, "default", b.GetOr("DEFAULTED", ""))
	assert.Equal(t, "dotenv", b.GetOr("SHARED", ""))
	assert.Equal(t, "dotenv", b.GetOr("FROM_DOTENV", ""))
	assert.Equal(t, "override", b.GetOr("LAYERED", ""))
	assert.Equal(t, "stage", b.GetOr(TargetEnvVar, ""))
	assert.Equal(t, "fallback", b.GetOr("MISSING", "fallback"))
	assert.True(t, b.Loaded())
}

func TestBase_TargetEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TARGET_ENV=dotenv\n"), 0o644))

	b := NewBase(engine.EnvProd, t.TempDir(), WithEnvironmentDir(dir), WithLogger(zerolog.Nop()),
		WithEnviron(environ("TARGET_ENV=local")))
	require.NoError(t, b.Load(context.Background(), nil))
	assert.Equal(t, "prod", b.GetOr(TargetEnvVar, ""))

	overridden := NewBase(engine.EnvProd, t.TempDir(), WithEnvironmentDir(dir), WithLogger(zerolog.Nop()),
		WithEnviron(environ("TARGET_ENV=local")))
	require.NoError(t, overridden.Load(context.Background(), map[string]string{TargetEnvVar: "override"}))
	assert.Equal(t, "override", overridden.GetOr(TargetEnvVar, ""))
}

func TestBase_VarsIsCopy(t *testing.T) {
	b := NewBase(engine.EnvLocal, t.TempDir(), WithLogger(zerolog.Nop()), WithEnviron(environ()))
	require.NoError(t, b.Load(context.Background(), map[string]string{"A": "1"}))

	vars := b.Vars()
	vars["A"] = "changed"
	assert.Equal(t, "1", b.GetOr("A", ""))
}

func TestBase_SecondLoadRejected(t *testing.T) {
	b := NewBase(engine.EnvLocal, t.TempDir(), WithLogger(zerolog.Nop()), WithEnviron(environ()))
	require.NoError(t, b.Load(context.Background(), nil))

	err := b.Load(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, engine.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "already loaded")
}

func TestBase_PreLoadHook(t *testing.T) {
	t.Run("runs before load", func(t *testing.T) {
		var calls int
		b := NewBase(engine.EnvLocal, t.TempDir(), WithLogger(zerolog.Nop()), WithEnviron(environ()),
			WithPreLoad(func(ctx context.Context) error {
				calls++
				return nil
			}))

		require.NoError(t, b.Load(context.Background(), nil))
		assert.Equal(t, 1, calls)
	})

	t.Run("error aborts load", func(t *testing.T) {
		hookErr := errors.New("vault sealed")
		b := NewBase(engine.EnvLocal, t.TempDir(), WithLogger(zerolog.Nop()), WithEnviron(environ()),
			WithPreLoad(func(ctx context.Context) error { return hookErr }))

		err := b.Load(context.Background(), nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, hookErr)
		assert.True(t, engine.IsConfigurationError(err))
		assert.False(t, b.Loaded())
	})
}

func TestBase_MissingDotenvIsFine(t *testing.T) {
	b := NewBase(engine.EnvLocal, t.TempDir(), WithLogger(zerolog.Nop()), WithEnviron(environ("A=1")))
	require.NoError(t, b.Load(context.Background(), nil))
	assert.Equal(t, "1", b.GetOr("A", ""))
}

func TestBase_MalformedDotenv(t *testing.T) {
	root := t.TempDir()
	// a directory where the file is expected makes the read fail
	require.NoError(t, os.MkdirAll(filepath.Join(root, "environments", "local", ".env"), 0o755))

	b := NewBase(engine.EnvLocal, root, WithLogger(zerolog.Nop()), WithEnviron(environ()))
	err := b.Load(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, engine.IsConfigurationError(err))
}

func TestBase_ProcessEnvironmentUntouched(t *testing.T) {
	t.Setenv("INFRACTL_ENVCTX_PROBE", "before")
	root := t.TempDir()
	writeEnvFile(t, root, engine.EnvLocal, ".env", "INFRACTL_ENVCTX_PROBE=after\n")

	b := NewBase(engine.EnvLocal, root, WithLogger(zerolog.Nop()))
	require.NoError(t, b.Load(context.Background(), nil))

	assert.Equal(t, "after", b.GetOr("INFRACTL_ENVCTX_PROBE", ""))
	assert.Equal(t, "before", os.Getenv("INFRACTL_ENVCTX_PROBE"))
	_, set := os.LookupEnv(TargetEnvVar)
	assert.False(t, set)
}

func TestLoader_Generic(t *testing.T) {
	root := t.TempDir()
	writeEnvFile(t, root, engine.EnvLocal, ContextFileName, `
kind: generic
description: laptop
vars:
  REPLICAS: 3
  DEBUG: true
  NAME: demo
`)
	writeEnvFile(t, root, engine.EnvLocal, ".env", "NAME=from-dotenv\n")

	ec, err := newLoader(t, root).Load(context.Background(), engine.EnvLocal, nil)
	require.NoError(t, err)

	assert.Equal(t, KindGeneric, ec.Kind())
	assert.Equal(t, engine.EnvLocal, ec.Env())
	assert.Equal(t, root, ec.ProjectRoot())
	assert.Equal(t, filepath.Join(root, "environments", "local"), ec.EnvironmentDir())

	vars := ec.Vars()
	assert.Equal(t, "3", vars["REPLICAS"])
	assert.Equal(t, "true", vars["DEBUG"])
	assert.Equal(t, "from-dotenv", vars["NAME"])
	assert.Equal(t, "local", vars[TargetEnvVar])
}

func TestLoader_Errors(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantCode string
	}{
		{"missing file", "", engine.ErrCodeNotFound},
		{"no kind", "description: nothing\n", engine.ErrCodeValidation},
		{"unknown field", "kind: generic\nregion: eu\n", engine.ErrCodeValidation},
		{"bad var name", "kind: generic\nvars:\n  bad-name: x\n", engine.ErrCodeValidation},
		{"nested var", "kind: generic\nvars:\n  A:\n    b: c\n", engine.ErrCodeValidation},
		{"unknown kind", "kind: gcp\n", engine.ErrCodeNotFound},
		{"bad aws endpoint", "kind: aws\nsettings:\n  endpoint: not a url\n", engine.ErrCodeInstantiation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			if tt.content != "" {
				writeEnvFile(t, root, engine.EnvStage, ContextFileName, tt.content)
			}

			_, err := newLoader(t, root).Load(context.Background(), engine.EnvStage, nil)
			require.Error(t, err)
			assert.True(t, engine.IsConfigurationError(err), "got %v", err)

			var ee *engine.EngineError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, tt.wantCode, ee.Code)
		})
	}
}

func TestLoader_ValidateSchema(t *testing.T) {
	l := newLoader(t, t.TempDir())

	assert.NoError(t, l.validateSchema([]byte("kind: generic\nvars:\n  RATIO: 0.25\n  COUNT: 12\n  ON: false\n")))
	assert.NoError(t, l.validateSchema([]byte("kind: aws\nsettings:\n  region: eu-west-1\n")))
	assert.Error(t, l.validateSchema([]byte("kind: Generic\n")))
	assert.Error(t, l.validateSchema([]byte("vars: {}\n")))
	assert.Error(t, l.validateSchema([]byte("")))
}

func TestLoader_InvalidEnvironment(t *testing.T) {
	_, err := newLoader(t, t.TempDir()).Load(context.Background(), engine.Environment("qa"), nil)
	require.Error(t, err)
	assert.True(t, engine.IsConfigurationError(err))
}

type customContext struct {
	*Base
	team string
}

func TestLoader_RegisterKind(t *testing.T) {
	root := t.TempDir()
	writeEnvFile(t, root, engine.EnvProd, ContextFileName, "kind: team\nsettings:\n  team: platform\n")

	l := newLoader(t, root)
	require.NoError(t, l.RegisterKind("team", func(base *Base, settings *yaml.Node) (Context, error) {
		var s struct {
			Team string `yaml:"team"`
		}
		if err := settings.Decode(&s); err != nil {
			return nil, err
		}
		return &customContext{Base: base, team: s.Team}, nil
	}))
	assert.Equal(t, []string{"aws", "generic", "team"}, l.Kinds())

	err := l.RegisterKind("aws", nil)
	require.Error(t, err)

	ec, err := l.Load(context.Background(), engine.EnvProd, nil)
	require.NoError(t, err)

	cc, ok := ec.(*customContext)
	require.True(t, ok)
	assert.Equal(t, "platform", cc.team)
	assert.Equal(t, "team", cc.Kind())
	assert.Equal(t, "prod", cc.GetOr(TargetEnvVar, ""))
}

func TestAWS_RegionAndEndpoint(t *testing.T) {
	tests := []struct {
		name         string
		settings     AWSSettings
		environ      []string
		wantRegion   string
		wantEndpoint string
	}{
		{"defaults", AWSSettings{}, nil, DefaultRegion, ""},
		{"default region var", AWSSettings{}, []string{"AWS_DEFAULT_REGION=eu-west-1"}, "eu-west-1", ""},
		{"region var wins", AWSSettings{}, []string{"AWS_DEFAULT_REGION=eu-west-1", "AWS_REGION=eu-west-2"}, "eu-west-2", ""},
		{"settings win", AWSSettings{Region: "ap-south-1", Endpoint: "http://localhost:4566"},
			[]string{"AWS_REGION=eu-west-2", "AWS_ENDPOINT_URL=http://other:1"}, "ap-south-1", "http://localhost:4566"},
		{"endpoint var", AWSSettings{}, []string{"AWS_ENDPOINT_URL=http://localhost:4566"}, DefaultRegion, "http://localhost:4566"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := NewBase(engine.EnvLocal, t.TempDir(), WithLogger(zerolog.Nop()), WithEnviron(environ(tt.environ...)))
			a := NewAWS(base, tt.settings)
			require.NoError(t, a.Load(context.Background(), nil))

			assert.Equal(t, tt.wantRegion, a.Region())
			assert.Equal(t, tt.wantEndpoint, a.Endpoint())
			assert.Equal(t, KindAWS, a.Kind())
		})
	}
}

func TestAWS_ConfigRequiresLoad(t *testing.T) {
	a := NewAWS(NewBase(engine.EnvLocal, t.TempDir(), WithLogger(zerolog.Nop())), AWSSettings{})
	_, err := a.AWSConfig(context.Background())
	require.Error(t, err)
	assert.True(t, engine.IsConfigurationError(err))
}

func TestAWS_StaticCredentials(t *testing.T) {
	root := t.TempDir()
	writeEnvFile(t, root, engine.EnvLocal, ContextFileName, `
kind: aws
settings:
  region: eu-central-1
  endpoint: http://localhost:4566
`)
	writeEnvFile(t, root, engine.EnvLocal, ".env", "AWS_ACCESS_KEY_ID=test\nAWS_SECRET_ACCESS_KEY=secret\n")

	ec, err := newLoader(t, root).Load(context.Background(), engine.EnvLocal, nil)
	require.NoError(t, err)

	a, ok := ec.(*AWS)
	require.True(t, ok)

	cfg, err := a.AWSConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "eu-central-1", cfg.Region)
	require.NotNil(t, cfg.BaseEndpoint)
	assert.Equal(t, "http://localhost:4566", *cfg.BaseEndpoint)

	creds, err := cfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", creds.AccessKeyID)
	assert.Equal(t, "secret", creds.SecretAccessKey)
}
