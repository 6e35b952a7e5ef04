// Package telemetry wires OpenTelemetry tracing and metrics for siteindex.
//
// Components obtain tracers and meters from the otel globals at package
// init; New installs OTLP-backed providers behind those globals when
// telemetry is enabled and leaves the no-op defaults otherwise.
//
//	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Exporter failures never stop the service; the instance is marked
// degraded and the no-op providers stay in place.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
