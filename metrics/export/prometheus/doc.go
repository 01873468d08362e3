// Package prometheus exposes engine metrics to Prometheus.
//
// [Exporter] renders a snapshot as text exposition with no registry involved.
// [Collector] implements the client_golang Collector interface for callers who
// already run a registry. Both use the same names: counters are
// authkit_*_total and the single histogram is authkit_decision_latency_seconds.
//
// Neither type registers anything globally or mutates the engine.
package prometheus
