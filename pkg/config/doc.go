// Package config loads the project settings file, infra.cue.
//
// # Overview
//
// infra.cue is optional. It is unified with an embedded CUE schema (#Project)
// that supplies a default for every field, so a project without the file still
// gets complete settings. The result is decoded into Project and checked with
// struct tag validation.
//
//	name:     "payments"
//	requires: ">= 1.2, < 2"
//
//	history: enabled: false
//
//	telemetry: {
//		log_format: "json"
//		tracing: {
//			exporter: "otlp"
//			endpoint: "otel-collector:4317"
//			insecure: true
//		}
//	}
//
// # Components
//
// CUEParser: compiles infra.cue, applies the project schema and reports every
// CUE error with its file position.
//
// SchemaRegistry: named CUE definitions. The built-in "project" schema is
// registered on creation.
//
// # Usage Example
//
//	project, err := config.NewCUEParser().Load("./infra")
//	if err != nil {
//	    return err
//	}
//	if err := project.CheckRequires(version); err != nil {
//	    return err
//	}
//	opsDir := project.OperationsPath("./infra")
package config
