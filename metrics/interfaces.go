// Package metrics abstracts Prometheus-compatible metrics behind a small
// Registry interface with two implementations:
//   - ScrapeRegistry for the long-running server, exposing /metrics for
//     Prometheus to scrape
//   - PushRegistry for oneshot runs, writing each sample straight to a
//     VictoriaMetrics/Prometheus remote write endpoint so short-lived
//     processes are not missed between scrapes
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Gauge is a value that can move in both directions.
type Gauge interface {
	Set(float64)
}

// Counter only ever increases. Add panics on negative values.
type Counter interface {
	Inc()
	Add(float64)
}

// GaugeVec partitions a Gauge by label values.
type GaugeVec interface {
	With(prometheus.Labels) Gauge
}

// CounterVec partitions a Counter by label values.
type CounterVec interface {
	With(prometheus.Labels) Counter
}

// Registry creates and registers metrics. Callers hold the returned
// handles and never touch the underlying Prometheus types, so the same
// instrumentation works in both scrape and push mode.
type Registry interface {
	NewGauge(opts prometheus.GaugeOpts) (Gauge, error)
	NewGaugeVec(opts prometheus.GaugeOpts, labels []string) (GaugeVec, error)
	NewCounter(opts prometheus.CounterOpts) (Counter, error)
	NewCounterVec(opts prometheus.CounterOpts, labels []string) (CounterVec, error)
}
