// Package internaldefs holds the metric names and bucket bounds shared by the
// exporters, so the Prometheus and OpenTelemetry views of an engine agree.
//
// It imports only the root package for the MetricID constants and does no I/O.
package internaldefs
