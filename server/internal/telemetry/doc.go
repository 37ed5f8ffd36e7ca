// Package telemetry owns the server's Prometheus metrics and OpenTelemetry
// tracer setup.
package telemetry
