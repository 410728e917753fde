// Package metrics counts pipeline activity and exposes it in the Prometheus
// text format.
//
// A Registry holds a fixed set of counters and gauges, all safe for
// concurrent use. Families renders them as client_model MetricFamily values
// and Handler serves them through the expfmt text encoder.
package metrics
