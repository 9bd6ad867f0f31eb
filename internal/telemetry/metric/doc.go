// Package metric provides Prometheus metrics for vmstate.
//
//   - prometheus.go: registry, nil-safe recorders and HTTP handler
//   - collector.go: scrape-time collector over versioned store stats
//
// Metrics are exposed at /metrics by the CLI's workload command.
package metric
