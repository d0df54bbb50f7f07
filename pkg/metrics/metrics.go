// Package metrics provides a process-wide metrics collector for the
// toolmesh client: counters, gauges, histograms and timers, plus per-server
// aggregate request statistics. All state lives in memory; nothing persists
// across restarts. Readable snapshots back the monitoring surfaces, and the
// Exporter in this package bridges the same series onto a Prometheus
// registry for scraping.
package metrics

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// maxSamples bounds the rolling sample buffer of histograms and timers.
const maxSamples = 1024

// Labels is a set of secondary dimensions on a metric name.
type Labels map[string]string

// HistogramStats is the derived view of a histogram or timer series.
type HistogramStats struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// ServerStats aggregates request outcomes for one server.
type ServerStats struct {
	TotalRequests    int64         `json:"total_requests"`
	ErrorCount       int64         `json:"error_count"`
	SuccessRate      float64       `json:"success_rate"`
	ErrorRate        float64       `json:"error_rate"`
	MeanResponseTime time.Duration `json:"mean_response_time"`
	LastRequest      time.Time     `json:"last_request"`

	totalResponseTime time.Duration
}

// Snapshot is a point-in-time aggregate of all metric series.
type Snapshot struct {
	Counters    map[string]float64        `json:"counters"`
	Gauges      map[string]float64        `json:"gauges"`
	Histograms  map[string]HistogramStats `json:"histograms"`
	Timers      map[string]HistogramStats `json:"timers"`
	ServerStats map[string]ServerStats    `json:"server_stats"`
	Timestamp   time.Time                 `json:"timestamp"`
}

// series is one labeled value of a counter or gauge.
type series struct {
	name   string
	labels Labels
	value  float64
}

// sampleSeries is a bounded rolling buffer backing histograms and timers.
type sampleSeries struct {
	samples []float64
	count   int
	sum     float64
	min     float64
	max     float64
}

func (s *sampleSeries) observe(v float64) {
	if s.count == 0 || v < s.min {
		s.min = v
	}
	if s.count == 0 || v > s.max {
		s.max = v
	}
	s.count++
	s.sum += v
	s.samples = append(s.samples, v)
	if len(s.samples) > maxSamples {
		s.samples = s.samples[len(s.samples)-maxSamples:]
	}
}

func (s *sampleSeries) stats() HistogramStats {
	st := HistogramStats{Count: s.count, Sum: s.sum, Min: s.min, Max: s.max}
	if s.count > 0 {
		st.Mean = s.sum / float64(s.count)
	}
	return st
}

// Collector is the process-wide metrics store. Safe for concurrent use.
type Collector struct {
	mu          sync.RWMutex
	counters    map[string]*series
	gauges      map[string]*series
	histograms  map[string]*sampleSeries
	timers      map[string]*sampleSeries
	serverStats map[string]*ServerStats
}

// NewCollector creates an empty metrics collector.
func NewCollector() *Collector {
	return &Collector{
		counters:    make(map[string]*series),
		gauges:      make(map[string]*series),
		histograms:  make(map[string]*sampleSeries),
		timers:      make(map[string]*sampleSeries),
		serverStats: make(map[string]*ServerStats),
	}
}

// seriesKey builds a stable map key from a metric name and its label set.
func seriesKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(escapeLabelValue(labels[k]))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}

// escapeLabelValue escapes a label value per the Prometheus text exposition
// format: backslash, newline, and double quote.
func escapeLabelValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, "\n", `\n`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return v
}

// IncrementCounter adds delta to a monotonic counter.
func (c *Collector) IncrementCounter(name string, delta float64, labels Labels) {
	key := seriesKey(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.counters[key]
	if !ok {
		s = &series{name: name, labels: cloneLabels(labels)}
		c.counters[key] = s
	}
	s.value += delta
}

// SetGauge sets a last-write-wins gauge value.
func (c *Collector) SetGauge(name string, value float64, labels Labels) {
	key := seriesKey(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.gauges[key]
	if !ok {
		s = &series{name: name, labels: cloneLabels(labels)}
		c.gauges[key] = s
	}
	s.value = value
}

// RecordHistogram records one observation into a histogram series.
func (c *Collector) RecordHistogram(name string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.histograms[name]
	if !ok {
		h = &sampleSeries{}
		c.histograms[name] = h
	}
	h.observe(value)
}

// RecordTimer records one duration into a timer series, in milliseconds.
func (c *Collector) RecordTimer(name string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.timers[name]
	if !ok {
		t = &sampleSeries{}
		c.timers[name] = t
	}
	t.observe(float64(d) / float64(time.Millisecond))
}

// Time starts a timer and returns a function that records the elapsed
// duration when invoked. Intended for defer.
func (c *Collector) Time(name string) func() {
	start := time.Now()
	return func() {
		c.RecordTimer(name, time.Since(start))
	}
}

// CounterValue returns the current value of a counter series, or 0.
func (c *Collector) CounterValue(name string, labels Labels) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.counters[seriesKey(name, labels)]; ok {
		return s.value
	}
	return 0
}

// GaugeValue returns the current value of a gauge series, or 0.
func (c *Collector) GaugeValue(name string, labels Labels) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.gauges[seriesKey(name, labels)]; ok {
		return s.value
	}
	return 0
}

// HistogramStats returns the derived stats of a histogram series.
func (c *Collector) HistogramStats(name string) HistogramStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if h, ok := c.histograms[name]; ok {
		return h.stats()
	}
	return HistogramStats{}
}

// TimerStats returns the derived stats of a timer series, in milliseconds.
func (c *Collector) TimerStats(name string) HistogramStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if t, ok := c.timers[name]; ok {
		return t.stats()
	}
	return HistogramStats{}
}

// TrackRequest records one tool request outcome against a server's
// aggregate stats and the shared request series.
func (c *Collector) TrackRequest(server, operation string, success bool, responseTime time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}

	c.mu.Lock()
	st, ok := c.serverStats[server]
	if !ok {
		st = &ServerStats{}
		c.serverStats[server] = st
	}
	st.TotalRequests++
	if !success {
		st.ErrorCount++
	}
	st.totalResponseTime += responseTime
	st.MeanResponseTime = st.totalResponseTime / time.Duration(st.TotalRequests)
	st.ErrorRate = float64(st.ErrorCount) / float64(st.TotalRequests)
	st.SuccessRate = 1 - st.ErrorRate
	st.LastRequest = time.Now()
	c.mu.Unlock()

	c.IncrementCounter("tool_requests_total", 1, Labels{
		"server": server, "operation": operation, "status": status,
	})
	c.RecordTimer("tool_response_time", responseTime)
}

// TrackCacheOperation records a cache get/set and its outcome.
func (c *Collector) TrackCacheOperation(op string, hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	c.IncrementCounter("cache_operations", 1, Labels{
		"operation": op, "result": result,
	})
}

// TrackCircuitBreaker records a breaker state change for a server.
// The state gauge encodes closed=0, open=1, half_open=2.
func (c *Collector) TrackCircuitBreaker(server, state string) {
	var v float64
	switch state {
	case "open":
		v = 1
	case "half_open":
		v = 2
	}
	c.SetGauge("circuit_breaker_state", v, Labels{"server": server})
	c.IncrementCounter("circuit_breaker_transitions_total", 1, Labels{
		"server": server, "state": state,
	})
}

// ServerStats returns a copy of one server's aggregate stats.
func (c *Collector) ServerStats(server string) (ServerStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if st, ok := c.serverStats[server]; ok {
		return *st, true
	}
	return ServerStats{}, false
}

// AllMetrics returns a point-in-time snapshot of every series.
func (c *Collector) AllMetrics() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		Counters:    make(map[string]float64, len(c.counters)),
		Gauges:      make(map[string]float64, len(c.gauges)),
		Histograms:  make(map[string]HistogramStats, len(c.histograms)),
		Timers:      make(map[string]HistogramStats, len(c.timers)),
		ServerStats: make(map[string]ServerStats, len(c.serverStats)),
		Timestamp:   time.Now(),
	}
	for key, s := range c.counters {
		snap.Counters[key] = s.value
	}
	for key, s := range c.gauges {
		snap.Gauges[key] = s.value
	}
	for name, h := range c.histograms {
		snap.Histograms[name] = h.stats()
	}
	for name, t := range c.timers {
		snap.Timers[name] = t.stats()
	}
	for name, st := range c.serverStats {
		snap.ServerStats[name] = *st
	}
	return snap
}

// Reset clears all series. Intended for tests.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters = make(map[string]*series)
	c.gauges = make(map[string]*series)
	c.histograms = make(map[string]*sampleSeries)
	c.timers = make(map[string]*sampleSeries)
	c.serverStats = make(map[string]*ServerStats)
}

// ExportPrometheusFormat renders all counters and gauges in the Prometheus
// text exposition format: a "# TYPE" header per metric name followed by its
// labeled value lines.
func (c *Collector) ExportPrometheusFormat() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var b strings.Builder
	writeFamily(&b, c.counters, "counter")
	writeFamily(&b, c.gauges, "gauge")
	return b.String()
}

// writeFamily renders one metric kind grouped by name, names sorted for a
// deterministic export.
func writeFamily(b *strings.Builder, family map[string]*series, kind string) {
	byName := make(map[string][]string)
	for key, s := range family {
		byName[s.name] = append(byName[s.name], key)
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		b.WriteString("# TYPE ")
		b.WriteString(name)
		b.WriteByte(' ')
		b.WriteString(kind)
		b.WriteByte('\n')

		keys := byName[name]
		sort.Strings(keys)
		for _, key := range keys {
			b.WriteString(key)
			b.WriteByte(' ')
			b.WriteString(formatValue(family[key].value))
			b.WriteByte('\n')
		}
	}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func cloneLabels(labels Labels) Labels {
	if labels == nil {
		return nil
	}
	dup := make(Labels, len(labels))
	for k, v := range labels {
		dup[k] = v
	}
	return dup
}
