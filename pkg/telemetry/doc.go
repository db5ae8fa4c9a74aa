// Package telemetry groups the observability subsystems: structured
// logging, Prometheus metrics, health checks, and OpenTelemetry tracing.
package telemetry
