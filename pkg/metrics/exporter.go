package metrics

import (
	"context"
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter bridges a Collector onto a Prometheus registry so the same
// series the programmatic snapshot exposes can be scraped over HTTP.
// It is an unchecked collector: series come and go with the underlying
// Collector, so no descriptors are pre-declared.
type Exporter struct {
	collector *Collector
	namespace string
	registry  *prometheus.Registry
	server    *http.Server
}

// NewExporter creates an Exporter for the given collector. namespace is
// prepended to every metric name, Prometheus-style; pass "" for none.
func NewExporter(collector *Collector, namespace string) (*Exporter, error) {
	e := &Exporter{
		collector: collector,
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
	}
	if err := e.registry.Register(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Registry returns the backing Prometheus registry, for callers that mount
// the handler on their own mux.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }

// Handler returns an http.Handler serving the Prometheus exposition.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics on addr. It returns
// immediately; use Shutdown to stop it.
func (e *Exporter) Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	e.server = &http.Server{Addr: addr, Handler: mux}
	go func() {
		_ = e.server.ListenAndServe()
	}()
}

// Shutdown gracefully stops the metrics server if one was started.
func (e *Exporter) Shutdown(ctx context.Context) error {
	if e.server != nil {
		return e.server.Shutdown(ctx)
	}
	return nil
}

// Describe implements prometheus.Collector. Sending no descriptors marks
// this as an unchecked collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector by converting the current
// snapshot into const metrics.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	snap := e.collector.AllMetrics()

	e.collectFamily(ch, e.collector.counterSeries(), prometheus.CounterValue)
	e.collectFamily(ch, e.collector.gaugeSeries(), prometheus.GaugeValue)

	for name, st := range snap.Timers {
		desc := prometheus.NewDesc(e.qualify(name+"_milliseconds"), "", nil, nil)
		ch <- prometheus.MustNewConstSummary(desc, uint64(st.Count), st.Sum, nil)
	}
	for name, st := range snap.Histograms {
		desc := prometheus.NewDesc(e.qualify(name), "", nil, nil)
		ch <- prometheus.MustNewConstSummary(desc, uint64(st.Count), st.Sum, nil)
	}
}

func (e *Exporter) collectFamily(ch chan<- prometheus.Metric, family []series, kind prometheus.ValueType) {
	for _, s := range family {
		keys := make([]string, 0, len(s.labels))
		for k := range s.labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		values := make([]string, len(keys))
		for i, k := range keys {
			values[i] = s.labels[k]
		}
		desc := prometheus.NewDesc(e.qualify(s.name), "", keys, nil)
		ch <- prometheus.MustNewConstMetric(desc, kind, s.value, values...)
	}
}

func (e *Exporter) qualify(name string) string {
	if e.namespace == "" {
		return name
	}
	return e.namespace + "_" + name
}

// counterSeries returns a copy of all counter series for export.
func (c *Collector) counterSeries() []series {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]series, 0, len(c.counters))
	for _, s := range c.counters {
		out = append(out, *s)
	}
	return out
}

// gaugeSeries returns a copy of all gauge series for export.
func (c *Collector) gaugeSeries() []series {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]series, 0, len(c.gauges))
	for _, s := range c.gauges {
		out = append(out, *s)
	}
	return out
}

var _ prometheus.Collector = (*Exporter)(nil)
