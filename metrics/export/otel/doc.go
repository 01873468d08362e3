// Package otel publishes engine metrics through an OpenTelemetry meter.
//
// Each counter becomes an Int64ObservableCounter. The decision latency
// histogram is published as one Int64ObservableGauge per cumulative bucket
// plus a count gauge. A single callback reads one snapshot per collection.
//
// Callers own the MeterProvider and pass in a Meter.
package otel
