package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ScrapeRegistry implements Registry backed by an in-process Prometheus
// registry. The server mounts Handler on /metrics.
type ScrapeRegistry struct {
	prom *prometheus.Registry
}

// NewScrapeRegistry creates a ScrapeRegistry with the standard Go and
// process collectors pre-registered.
func NewScrapeRegistry() (*ScrapeRegistry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("registering go collector: %w", err)
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("registering process collector: %w", err)
	}
	return &ScrapeRegistry{prom: reg}, nil
}

// Handler returns the http.Handler serving the scrape endpoint.
func (r *ScrapeRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (r *ScrapeRegistry) NewGauge(opts prometheus.GaugeOpts) (Gauge, error) {
	g := prometheus.NewGauge(opts)
	if err := r.prom.Register(g); err != nil {
		return nil, fmt.Errorf("registering gauge %q: %w", opts.Name, err)
	}
	return &scrapeGauge{gauge: g}, nil
}

func (r *ScrapeRegistry) NewGaugeVec(opts prometheus.GaugeOpts, labels []string) (GaugeVec, error) {
	g := prometheus.NewGaugeVec(opts, labels)
	if err := r.prom.Register(g); err != nil {
		return nil, fmt.Errorf("registering gauge vec %q: %w", opts.Name, err)
	}
	return &scrapeGaugeVec{gaugeVec: g}, nil
}

func (r *ScrapeRegistry) NewCounter(opts prometheus.CounterOpts) (Counter, error) {
	c := prometheus.NewCounter(opts)
	if err := r.prom.Register(c); err != nil {
		return nil, fmt.Errorf("registering counter %q: %w", opts.Name, err)
	}
	return &scrapeCounter{counter: c}, nil
}

func (r *ScrapeRegistry) NewCounterVec(opts prometheus.CounterOpts, labels []string) (CounterVec, error) {
	c := prometheus.NewCounterVec(opts, labels)
	if err := r.prom.Register(c); err != nil {
		return nil, fmt.Errorf("registering counter vec %q: %w", opts.Name, err)
	}
	return &scrapeCounterVec{counterVec: c}, nil
}

type scrapeGauge struct {
	gauge prometheus.Gauge
}

func (g *scrapeGauge) Set(v float64) {
	g.gauge.Set(v)
}

type scrapeGaugeVec struct {
	gaugeVec *prometheus.GaugeVec
}

func (g *scrapeGaugeVec) With(labels prometheus.Labels) Gauge {
	return &scrapeGauge{gauge: g.gaugeVec.With(labels)}
}

type scrapeCounter struct {
	counter prometheus.Counter
}

func (c *scrapeCounter) Inc() {
	c.counter.Inc()
}

func (c *scrapeCounter) Add(v float64) {
	c.counter.Add(v)
}

type scrapeCounterVec struct {
	counterVec *prometheus.CounterVec
}

func (c *scrapeCounterVec) With(labels prometheus.Labels) Counter {
	return &scrapeCounter{counter: c.counterVec.With(labels)}
}
