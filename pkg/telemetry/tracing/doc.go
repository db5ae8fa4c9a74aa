// Package tracing wires the OpenTelemetry SDK: an OTLP/gRPC exporter,
// ratio-based sampling, and W3C trace context propagation.
package tracing
