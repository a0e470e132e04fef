package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/infractl/pkg/engine"
)

func newParser() *CUEParser {
	return NewCUEParser().WithLogger(zerolog.Nop())
}

func TestCUEParser_Defaults(t *testing.T) {
	project, err := newParser().Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "infra", project.Name)
	assert.Equal(t, "operations", project.OperationsDir)
	assert.Equal(t, "environments", project.EnvironmentsDir)
	assert.Equal(t, "policies", project.PoliciesDir)
	assert.True(t, project.History.Enabled)
	assert.Equal(t, ".infractl/history.db", project.History.Path)
	assert.Equal(t, "info", project.Telemetry.LogLevel)
	assert.Equal(t, "console", project.Telemetry.LogFormat)
	assert.Equal(t, "none", project.Telemetry.Tracing.Exporter)
	assert.InDelta(t, 1.0, project.Telemetry.Tracing.SamplingRate, 1e-9)
	assert.Empty(t, project.Requires)
}

func TestCUEParser_Load(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte(`
name:           "payments"
operations_dir: "ops"
history: enabled: false
telemetry: {
	log_level:  "debug"
	log_format: "json"
	tracing: {
		exporter: "otlp"
		endpoint: "collector:4317"
		sampling_rate: 0.25
	}
	metrics: textfile: "metrics/infractl.prom"
}
`), 0o644))

	project, err := newParser().Load(root)
	require.NoError(t, err)

	assert.Equal(t, "payments", project.Name)
	assert.Equal(t, filepath.Join(root, "ops"), project.OperationsPath(root))
	assert.Equal(t, filepath.Join(root, "environments"), project.EnvironmentsPath(root))
	assert.Equal(t, "", project.HistoryPath(root))

	cfg := project.TelemetryConfig(root, "1.4.0")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "1.4.0", cfg.ServiceVersion)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "otlp", cfg.Tracing.Exporter)
	assert.Equal(t, "collector:4317", cfg.Tracing.Endpoint)
	assert.InDelta(t, 0.25, cfg.Tracing.SamplingRate, 1e-9)
	assert.Equal(t, filepath.Join(root, "metrics", "infractl.prom"), cfg.Metrics.Textfile)
}

func TestCUEParser_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", `name: "x`},
		{"unknown field", `colour: "blue"`},
		{"bad exporter", `telemetry: tracing: exporter: "jaeger"`},
		{"bad sampling", `telemetry: tracing: sampling_rate: 2`},
		{"bad name", `name: "has spaces"`},
		{"otlp without endpoint", `telemetry: tracing: exporter: "otlp"`},
		{"history without path", `history: path: ""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newParser().ParseInline(tt.content)
			require.Error(t, err)
			assert.True(t, engine.IsConfigurationError(err), "got %v", err)

			var verrs ValidationErrors
			require.ErrorAs(t, err, &verrs)
			assert.NotEmpty(t, verrs)
		})
	}
}

func TestCUEParser_ErrorPositions(t *testing.T) {
	_, err := newParser().ParseInline("name: \"ok\"\ntelemetry: log_format: \"xml\"\n")
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	found := false
	for _, v := range verrs {
		if v.File != "" && v.Line > 0 {
			found = true
		}
	}
	assert.True(t, found, "expected a positioned error, got %v", verrs)
}

func TestProject_CheckRequires(t *testing.T) {
	tests := []struct {
		name     string
		requires string
		version  string
		wantErr  bool
	}{
		{"no constraint", "", "0.1.0", false},
		{"satisfied", ">= 1.2, < 2", "1.4.0", false},
		{"too old", ">= 1.2", "1.1.9", true},
		{"too new", "~1.2", "1.3.0", true},
		{"dev build", ">= 1.2", "dev", false},
		{"bad constraint", "not-a-range", "1.0.0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Project{Name: "demo", Requires: tt.requires}
			err := p.CheckRequires(tt.version)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, engine.IsConfigurationError(err))
		})
	}
}

func TestSchemaRegistry(t *testing.T) {
	sr := NewSchemaRegistry(nil)
	assert.Equal(t, []string{ProjectSchema}, sr.ListSchemas())

	project, err := newParser().ParseInline(`name: "svc"`)
	require.NoError(t, err)
	assert.NoError(t, sr.ValidateAgainstSchema(ProjectSchema, project))

	project.Telemetry.LogFormat = "xml"
	assert.Error(t, sr.ValidateAgainstSchema(ProjectSchema, project))

	assert.Error(t, sr.ValidateAgainstSchema("missing", project))

	require.NoError(t, sr.RegisterSchema("label", `#Label: string & =~"^[a-z]+$"`, "#Label"))
	assert.NoError(t, sr.ValidateAgainstSchema("label", "web"))
	assert.Error(t, sr.ValidateAgainstSchema("label", "Web"))
	assert.Error(t, sr.RegisterSchema("broken", `#X: {`, "#X"))
	assert.Error(t, sr.RegisterSchema("nodef", `a: 1`, "#Missing"))
}
