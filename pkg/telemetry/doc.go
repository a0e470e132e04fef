// Package telemetry provides observability for infractl runs.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry), metrics
// (Prometheus) and a synchronous event publisher that implements
// engine.EventPublisher.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Metrics.Textfile = "/var/lib/node_exporter/infractl.prom"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	exec := engine.NewExecutor(reg, tel.ExecutorOptions()...)
//
// Every execution event is forwarded to the metrics collector, so the metrics
// textfile written on Shutdown reflects the runs made through the executor.
//
// # Metrics
//
//   - infractl_runs_total{environment,status}
//   - infractl_run_duration_seconds{environment,status}
//   - infractl_operations_total{environment,status}
//   - infractl_operation_duration_seconds{operation}
//   - infractl_errors_total{kind}
//
// # Tracing
//
// Exporters are "none" (default), "stdout" and "otlp" (gRPC). The executor
// creates one span per run and one per invoked operation.
package telemetry
