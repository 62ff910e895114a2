// Package telemetry groups the operational observability of the recruitment
// service.
//
// Tracing is configured by internal/platform/otel and opened per operation by
// the service. Counters and latency histograms live in telemetry/metrics.
// Neither is a record of domain state: the participation and posting tables
// stay the only source of truth.
package telemetry
