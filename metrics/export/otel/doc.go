// Package otel bridges grantkit's internal metrics into OpenTelemetry.
//
// The exporter registers observable counters and gauges against a
// caller-provided meter and reads a [grantkit.MetricsSnapshot] in the
// collection callback. The engine's hot path stays allocation-free; all
// export cost is paid at the reader's collection interval.
//
// # What this package must NOT do
//
//   - Create or own a MeterProvider; the caller wires the pipeline.
//   - Record synchronous measurements on the request path.
package otel
