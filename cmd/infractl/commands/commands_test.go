package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/infractl/pkg/engine"
	"github.com/openfroyo/infractl/pkg/stores"
)

const appModule = `
def network(ctx):
    print("network in", ctx.env)

def database(ctx):
    print("database in", ctx.get("REGION"))

def deploy(ctx):
    print("deploy", ctx.require("APP_VERSION"))

def local_only(ctx):
    pass

def register(ops):
    ops.operation(network, "Create the network", target_envs = "all")
    ops.operation(database, "Create the database",
                  target_envs = ["stage", "prod"],
                  depends_on = ["network"])
    ops.operation(deploy, "Deploy the app",
                  target_envs = ["local", "stage", "prod"],
                  depends_on = ["database"])
    ops.operation(local_only, "Seed fixtures", target_envs = ["local"])
`

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "infra.cue", "name: \"demo\"\ntelemetry: log_level: \"error\"\n")
	writeFile(t, root, "operations/app.star", appModule)
	for _, env := range engine.Environments() {
		writeFile(t, root, filepath.Join("environments", string(env), "context.yaml"),
			"kind: generic\nvars:\n  REGION: eu-west-1\n")
		writeFile(t, root, filepath.Join("environments", string(env), ".env"), "APP_VERSION=1.2.3\n")
	}
	return root
}

// execute runs the CLI with args and returns stdout and the error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd, a := newRootCommand(BuildInfo{Version: "1.0.0", Commit: "test", BuildDate: "today"})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	require.NoError(t, a.close(context.Background()))
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"execution", engine.NewExecutionError("boom", nil), ExitExecution},
		{"configuration", engine.NewConfigurationError("bad", nil), ExitConfiguration},
		{"duplicate", engine.NewDuplicateError("x"), ExitConfiguration},
		{"operation", engine.NewOperationError("missing", nil), ExitOperation},
		{"cycle", engine.NewCycleError("a", []string{"a", "b", "a"}), ExitCycle},
		{"policy", engine.NewPolicyError("denied", nil), ExitPolicy},
		{"wrapped", errors.Join(errors.New("ctx"), engine.NewPolicyError("denied", nil)), ExitPolicy},
		{"plain", errors.New("plain"), ExitExecution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestParseVars(t *testing.T) {
	got, err := parseVars([]string{"A=1", "B=x=y", "A=2", "EMPTY="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "2", "B": "x=y", "EMPTY": ""}, got)

	for _, bad := range []string{"novalue", "=1", " =1"} {
		_, err := parseVars([]string{bad})
		assert.True(t, engine.IsConfigurationError(err), bad)
	}
}

func TestRun_RecordsHistory(t *testing.T) {
	root := newProject(t)

	out, err := execute(t, "run", "-p", root, "-e", "local")
	require.NoError(t, err)
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, "3 succeeded, 1 skipped, 0 failed")

	out, err = execute(t, "history", "-p", root, "--json")
	require.NoError(t, err)
	var runs []*stores.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "local", runs[0].Environment)
	assert.Equal(t, engine.RunStatusSucceeded, runs[0].Status)

	out, err = execute(t, "history", "show", runs[0].ID, "-p", root, "--json", "--events")
	require.NoError(t, err)
	var detail struct {
		Operations []*stores.OperationResult `json:"operations"`
		Events     []*stores.Event           `json:"events"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &detail))
	names := make([]string, len(detail.Operations))
	for i, op := range detail.Operations {
		names[i] = op.Name
	}
	assert.Equal(t, []string{"network", "database", "deploy", "local-only"}, names)
	assert.NotEmpty(t, detail.Events)

	_, err = execute(t, "history", "show", "missing", "-p", root)
	assert.Equal(t, ExitConfiguration, ExitCode(err))
}

func TestRun_EnvironmentFromEnvVar(t *testing.T) {
	root := newProject(t)
	t.Setenv("INFRACTL_PROJECT_ROOT", root)
	t.Setenv("INFRACTL_ENV", "stage")

	out, err := execute(t, "run", "deploy", "--json")
	require.NoError(t, err)

	var result engine.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, engine.EnvStage, result.Environment)
	assert.Equal(t, []string{"network", "database", "deploy"}, result.Completed())
}

func TestRun_ExitCodes(t *testing.T) {
	tests := []struct {
		name   string
		module string
		args   []string
		want   int
	}{
		{
			name: "missing environment",
			args: []string{"run"},
			want: ExitConfiguration,
		},
		{
			name: "unknown environment",
			args: []string{"run", "-e", "qa"},
			want: ExitConfiguration,
		},
		{
			name: "bad var",
			args: []string{"run", "-e", "local", "--var", "nope"},
			want: ExitConfiguration,
		},
		{
			name: "unknown operation",
			args: []string{"run", "-e", "local", "does-not-exist"},
			want: ExitOperation,
		},
		{
			name:   "cycle",
			module: "def a(ctx):\n    pass\n\ndef b(ctx):\n    pass\n\ndef register(ops):\n    ops.operation(a, \"a\", target_envs = \"all\", depends_on = [\"b\"])\n    ops.operation(b, \"b\", target_envs = \"all\", depends_on = [\"a\"])\n",
			args:   []string{"run", "-e", "local", "a"},
			want:   ExitCycle,
		},
		{
			name:   "duplicate",
			module: "def deploy(ctx):\n    pass\n\ndef register(ops):\n    ops.operation(deploy, \"again\", target_envs = \"all\")\n",
			args:   []string{"run", "-e", "local"},
			want:   ExitConfiguration,
		},
		{
			name:   "handler failure",
			module: "def explode(ctx):\n    fail(\"boom\")\n\ndef register(ops):\n    ops.operation(explode, \"fails\", target_envs = \"all\")\n",
			args:   []string{"run", "-e", "local", "explode"},
			want:   ExitExecution,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newProject(t)
			if tt.module != "" {
				writeFile(t, root, "operations/extra.star", tt.module)
			}
			_, err := execute(t, append(tt.args, "-p", root)...)
			require.Error(t, err)
			assert.Equal(t, tt.want, ExitCode(err), "error: %v", err)
		})
	}
}

func TestRun_PolicyDenied(t *testing.T) {
	root := newProject(t)
	writeFile(t, root, "policies/no-prod-deploys.rego", `# Deploys to prod go through the release train.
package infractl.release

import rego.v1

deny contains violation if {
	input.environment == "prod"
	some step in input.steps
	step.name == "deploy"
	step.action == "run"
	violation := {"message": "deploy is not allowed in prod", "operation": step.name}
}
`)

	_, err := execute(t, "run", "-p", root, "-e", "prod")
	require.Error(t, err)
	assert.Equal(t, ExitPolicy, ExitCode(err))
	assert.Contains(t, err.Error(), "deploy is not allowed in prod")

	_, err = execute(t, "run", "-p", root, "-e", "prod", "--skip-policies")
	require.NoError(t, err)

	_, err = execute(t, "run", "-p", root, "-e", "stage")
	require.NoError(t, err)
}

func TestRun_DryRunInvokesNothing(t *testing.T) {
	root := newProject(t)
	// Without a context file a real run could not start.
	require.NoError(t, os.Remove(filepath.Join(root, "environments", "prod", "context.yaml")))

	out, err := execute(t, "run", "-p", root, "-e", "prod", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "3 to run, 1 to skip")

	_, err = execute(t, "run", "-p", root, "-e", "prod")
	assert.Equal(t, ExitConfiguration, ExitCode(err))
}

func TestRun_EmptyProject(t *testing.T) {
	root := t.TempDir()
	_, err := execute(t, "run", "-p", root, "-e", "local")
	assert.NoError(t, err)
}

func TestRun_MissingProjectRoot(t *testing.T) {
	_, err := execute(t, "run", "-p", filepath.Join(t.TempDir(), "missing"), "-e", "local")
	assert.Equal(t, ExitConfiguration, ExitCode(err))
}

func TestPlan(t *testing.T) {
	root := newProject(t)
	dot := filepath.Join(t.TempDir(), "plan.dot")

	out, err := execute(t, "plan", "-p", root, "-e", "local", "deploy", "--json", "--dot", dot)
	require.NoError(t, err)

	var plan struct {
		Steps []struct {
			Name   string            `json:"name"`
			Action engine.StepAction `json:"action"`
		} `json:"steps"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	require.Len(t, plan.Steps, 3)
	assert.Equal(t, engine.StepRun, plan.Steps[0].Action)
	assert.Equal(t, engine.StepSkip, plan.Steps[1].Action)
	assert.Equal(t, "deploy", plan.Steps[2].Name)

	graph, err := os.ReadFile(dot)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(graph), "digraph Operations"))
}

func TestList(t *testing.T) {
	root := newProject(t)

	out, err := execute(t, "list", "-p", root, "--json")
	require.NoError(t, err)

	var infos []struct {
		Name       string   `json:"name"`
		TargetEnvs any      `json:"target_envs"`
		DependsOn  []string `json:"depends_on"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 4)
	assert.Equal(t, "network", infos[0].Name)
	assert.Equal(t, "all", infos[0].TargetEnvs)
	assert.Equal(t, []string{"database"}, infos[2].DependsOn)

	out, err = execute(t, "ls", "-p", root)
	require.NoError(t, err)
	assert.Contains(t, out, "Create the database")
}

func TestValidate(t *testing.T) {
	root := newProject(t)

	_, err := execute(t, "validate", "-p", root, "--strict")
	require.NoError(t, err)

	writeFile(t, root, "operations/broken.star", "def register(ops):\n    ops.operation(undefined_fn, \"x\")\n")
	require.NoError(t, os.Remove(filepath.Join(root, "environments", "stage", "context.yaml")))

	out, err := execute(t, "validate", "-p", root)
	require.Error(t, err)
	assert.Equal(t, ExitConfiguration, ExitCode(err))
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "no context file")

	_, err = execute(t, "validate", "-p", root, "--strict")
	require.Error(t, err)
}

func TestInvalidProjectSettings(t *testing.T) {
	root := newProject(t)
	writeFile(t, root, "infra.cue", "requires: \">= 2.0\"\n")

	_, err := execute(t, "list", "-p", root)
	assert.Equal(t, ExitConfiguration, ExitCode(err))

	writeFile(t, root, "infra.cue", "colour: \"blue\"\n")
	_, err = execute(t, "list", "-p", root)
	assert.Equal(t, ExitConfiguration, ExitCode(err))
}
