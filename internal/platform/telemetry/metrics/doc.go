// Package metrics provides operational metrics collection.
//
// # Metric Categories
//
//   - Outcomes: admission and approval operation counts by outcome kind
//   - Latency: operation duration histograms, lock wait included
//   - Transitions: posting status changes by from/to status
//
// # Integration
//
// Collectors register on a caller-supplied prometheus.Registerer so tests
// and embedding processes can use isolated registries.
package metrics
