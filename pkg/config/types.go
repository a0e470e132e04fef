package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/openfroyo/infractl/pkg/telemetry"
)

// FileName is the project settings file at the project root.
const FileName = "infra.cue"

// Project is the decoded infra.cue. Every field has a default supplied by the
// embedded schema, so a project without infra.cue still gets a full value.
type Project struct {
	// Name identifies the project in logs and history.
	Name string `json:"name" validate:"required"`

	// Requires is a semver constraint on the infractl version, e.g. ">= 1.2".
	Requires string `json:"requires,omitempty"`

	// OperationsDir holds the *.star operation modules.
	OperationsDir string `json:"operations_dir" validate:"required"`

	// EnvironmentsDir holds one directory per environment.
	EnvironmentsDir string `json:"environments_dir" validate:"required"`

	// PoliciesDir holds optional *.rego admission policies.
	PoliciesDir string `json:"policies_dir" validate:"required"`

	// History configures the run history database.
	History HistoryConfig `json:"history"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry TelemetryConfig `json:"telemetry"`
}

// HistoryConfig configures the run history database.
type HistoryConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"required_if=Enabled true"`
}

// TelemetryConfig mirrors the telemetry settings that a project may pin.
type TelemetryConfig struct {
	LogLevel  string        `json:"log_level" validate:"oneof=trace debug info warn error"`
	LogFormat string        `json:"log_format" validate:"oneof=console json"`
	Tracing   TracingConfig `json:"tracing"`
	Metrics   MetricsConfig `json:"metrics"`
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	Exporter     string  `json:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint     string  `json:"endpoint" validate:"required_if=Exporter otlp"`
	Insecure     bool    `json:"insecure"`
	SamplingRate float64 `json:"sampling_rate" validate:"gte=0,lte=1"`
}

// MetricsConfig configures the metrics textfile.
type MetricsConfig struct {
	Textfile string `json:"textfile"`
}

// resolve returns path relative to root unless it is absolute.
func resolve(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// OperationsPath returns the operations directory under root.
func (p *Project) OperationsPath(root string) string {
	return resolve(root, p.OperationsDir)
}

// EnvironmentsPath returns the environments directory under root.
func (p *Project) EnvironmentsPath(root string) string {
	return resolve(root, p.EnvironmentsDir)
}

// PoliciesPath returns the policies directory under root.
func (p *Project) PoliciesPath(root string) string {
	return resolve(root, p.PoliciesDir)
}

// HistoryPath returns the history database path under root, or "" when
// history is disabled.
func (p *Project) HistoryPath(root string) string {
	if !p.History.Enabled {
		return ""
	}
	return resolve(root, p.History.Path)
}

// TelemetryConfig builds the telemetry configuration for this project.
// Relative textfile paths are resolved against root.
func (p *Project) TelemetryConfig(root, version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Logging.Level = p.Telemetry.LogLevel
	cfg.Logging.Format = p.Telemetry.LogFormat
	cfg.Tracing = telemetry.TracingConfig{
		Exporter:     p.Telemetry.Tracing.Exporter,
		Endpoint:     p.Telemetry.Tracing.Endpoint,
		Insecure:     p.Telemetry.Tracing.Insecure,
		SamplingRate: p.Telemetry.Tracing.SamplingRate,
	}
	cfg.Metrics.Textfile = resolve(root, p.Telemetry.Metrics.Textfile)
	return cfg
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g., "telemetry.tracing.exporter").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors is every problem found in one file.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}
