package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestCounterAccumulates(t *testing.T) {
	c := NewCollector()
	labels := Labels{"server": "svc"}

	c.IncrementCounter("requests", 5, labels)
	c.IncrementCounter("requests", 3, labels)

	if got := c.CounterValue("requests", labels); got != 8 {
		t.Errorf("expected counter 8, got %v", got)
	}
}

func TestCounterLabelsAreDistinctSeries(t *testing.T) {
	c := NewCollector()

	c.IncrementCounter("requests", 1, Labels{"server": "a"})
	c.IncrementCounter("requests", 2, Labels{"server": "b"})

	if got := c.CounterValue("requests", Labels{"server": "a"}); got != 1 {
		t.Errorf("expected 1 for server a, got %v", got)
	}
	if got := c.CounterValue("requests", Labels{"server": "b"}); got != 2 {
		t.Errorf("expected 2 for server b, got %v", got)
	}
}

func TestGaugeLastWriteWins(t *testing.T) {
	c := NewCollector()

	c.SetGauge("pool_size", 10, nil)
	c.SetGauge("pool_size", 4, nil)

	if got := c.GaugeValue("pool_size", nil); got != 4 {
		t.Errorf("expected gauge 4, got %v", got)
	}
}

func TestHistogramStats(t *testing.T) {
	c := NewCollector()

	for _, v := range []float64{1, 2, 3, 4} {
		c.RecordHistogram("payload_size", v)
	}

	st := c.HistogramStats("payload_size")
	if st.Count != 4 {
		t.Errorf("expected count 4, got %d", st.Count)
	}
	if st.Sum != 10 {
		t.Errorf("expected sum 10, got %v", st.Sum)
	}
	if st.Mean != 2.5 {
		t.Errorf("expected mean 2.5, got %v", st.Mean)
	}
	if st.Min != 1 || st.Max != 4 {
		t.Errorf("expected min 1 max 4, got min %v max %v", st.Min, st.Max)
	}
}

func TestTimerRecordsMilliseconds(t *testing.T) {
	c := NewCollector()

	c.RecordTimer("latency", 250*time.Millisecond)
	c.RecordTimer("latency", 750*time.Millisecond)

	st := c.TimerStats("latency")
	if st.Count != 2 {
		t.Errorf("expected count 2, got %d", st.Count)
	}
	if st.Mean != 500 {
		t.Errorf("expected mean 500ms, got %v", st.Mean)
	}
}

func TestTrackRequestRates(t *testing.T) {
	c := NewCollector()

	c.TrackRequest("svc", "lookup", true, 10*time.Millisecond)
	c.TrackRequest("svc", "lookup", false, 30*time.Millisecond)

	st, ok := c.ServerStats("svc")
	if !ok {
		t.Fatal("expected stats for svc")
	}
	if st.TotalRequests != 2 {
		t.Errorf("expected 2 total requests, got %d", st.TotalRequests)
	}
	if st.ErrorCount != 1 {
		t.Errorf("expected 1 error, got %d", st.ErrorCount)
	}
	if st.SuccessRate != 0.5 {
		t.Errorf("expected success rate 0.5, got %v", st.SuccessRate)
	}
	if st.ErrorRate != 0.5 {
		t.Errorf("expected error rate 0.5, got %v", st.ErrorRate)
	}
	if st.MeanResponseTime != 20*time.Millisecond {
		t.Errorf("expected mean response time 20ms, got %v", st.MeanResponseTime)
	}

	success := c.CounterValue("tool_requests_total",
		Labels{"server": "svc", "operation": "lookup", "status": "success"})
	if success != 1 {
		t.Errorf("expected 1 success request counted, got %v", success)
	}
	failed := c.CounterValue("tool_requests_total",
		Labels{"server": "svc", "operation": "lookup", "status": "error"})
	if failed != 1 {
		t.Errorf("expected 1 error request counted, got %v", failed)
	}
}

func TestTrackCacheOperation(t *testing.T) {
	c := NewCollector()

	c.TrackCacheOperation("get", true)
	c.TrackCacheOperation("get", true)
	c.TrackCacheOperation("get", false)

	hits := c.CounterValue("cache_operations", Labels{"operation": "get", "result": "hit"})
	misses := c.CounterValue("cache_operations", Labels{"operation": "get", "result": "miss"})
	if hits != 2 || misses != 1 {
		t.Errorf("expected 2 hits 1 miss, got %v/%v", hits, misses)
	}
}

func TestTrackCircuitBreaker(t *testing.T) {
	c := NewCollector()

	c.TrackCircuitBreaker("svc", "open")
	if got := c.GaugeValue("circuit_breaker_state", Labels{"server": "svc"}); got != 1 {
		t.Errorf("expected state gauge 1, got %v", got)
	}

	c.TrackCircuitBreaker("svc", "half_open")
	if got := c.GaugeValue("circuit_breaker_state", Labels{"server": "svc"}); got != 2 {
		t.Errorf("expected state gauge 2, got %v", got)
	}

	c.TrackCircuitBreaker("svc", "closed")
	if got := c.GaugeValue("circuit_breaker_state", Labels{"server": "svc"}); got != 0 {
		t.Errorf("expected state gauge 0, got %v", got)
	}
}

func TestAllMetricsSnapshot(t *testing.T) {
	c := NewCollector()

	c.IncrementCounter("requests", 2, Labels{"server": "svc"})
	c.SetGauge("pool_size", 3, nil)
	c.RecordHistogram("payload_size", 7)
	c.TrackRequest("svc", "lookup", true, time.Millisecond)

	snap := c.AllMetrics()
	if snap.Counters[`requests{server="svc"}`] != 2 {
		t.Errorf("expected counter in snapshot, got %v", snap.Counters)
	}
	if snap.Gauges["pool_size"] != 3 {
		t.Errorf("expected gauge in snapshot, got %v", snap.Gauges)
	}
	if snap.Histograms["payload_size"].Count != 1 {
		t.Errorf("expected histogram in snapshot, got %v", snap.Histograms)
	}
	if snap.ServerStats["svc"].TotalRequests != 1 {
		t.Errorf("expected server stats in snapshot, got %v", snap.ServerStats)
	}
	if snap.Timestamp.IsZero() {
		t.Error("expected snapshot timestamp")
	}
}

func TestReset(t *testing.T) {
	c := NewCollector()

	c.IncrementCounter("requests", 5, nil)
	c.SetGauge("pool_size", 3, nil)
	c.TrackRequest("svc", "lookup", true, time.Millisecond)
	c.Reset()

	if got := c.CounterValue("requests", nil); got != 0 {
		t.Errorf("expected counter reset, got %v", got)
	}
	if _, ok := c.ServerStats("svc"); ok {
		t.Error("expected server stats cleared")
	}
}

func TestExportPrometheusFormat(t *testing.T) {
	c := NewCollector()

	c.IncrementCounter("tool_requests_total", 3, Labels{"server": "a", "status": "success"})
	c.IncrementCounter("tool_requests_total", 1, Labels{"server": "b", "status": "error"})
	c.SetGauge("pool_connections_total", 5, Labels{"server": "a"})

	out := c.ExportPrometheusFormat()

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	byLine := make(map[string]int, len(lines))
	for i, l := range lines {
		byLine[l] = i
	}

	typeCounter, ok := byLine["# TYPE tool_requests_total counter"]
	if !ok {
		t.Fatalf("missing counter TYPE header in:\n%s", out)
	}
	if _, ok := byLine["# TYPE pool_connections_total gauge"]; !ok {
		t.Fatalf("missing gauge TYPE header in:\n%s", out)
	}

	// Every series line of a family must directly follow its TYPE header.
	wantAfter := []string{
		`tool_requests_total{server="a",status="success"} 3`,
		`tool_requests_total{server="b",status="error"} 1`,
	}
	for off, want := range wantAfter {
		if byLine[want] != typeCounter+1+off {
			t.Errorf("expected %q at line %d, export:\n%s", want, typeCounter+1+off, out)
		}
	}
}

func TestExportEscapesLabelValues(t *testing.T) {
	c := NewCollector()

	c.IncrementCounter("requests", 1, Labels{"query": `say "hi"\now`})
	c.SetGauge("pending", 2, Labels{"reason": "line1\nline2"})

	out := c.ExportPrometheusFormat()
	if !strings.Contains(out, `requests{query="say \"hi\"\\now"} 1`) {
		t.Errorf("expected quotes and backslashes escaped, got:\n%s", out)
	}
	if !strings.Contains(out, `pending{reason="line1\nline2"} 2`) {
		t.Errorf("expected newline escaped, got:\n%s", out)
	}

	// Lookups with the same label set still resolve to the same series.
	if got := c.CounterValue("requests", Labels{"query": `say "hi"\now`}); got != 1 {
		t.Errorf("expected escaped series readable, got %v", got)
	}
}

func TestExportLabelsSorted(t *testing.T) {
	c := NewCollector()

	c.IncrementCounter("requests", 1, Labels{"zone": "z", "app": "a"})

	out := c.ExportPrometheusFormat()
	if !strings.Contains(out, `requests{app="a",zone="z"} 1`) {
		t.Errorf("expected sorted label keys, got:\n%s", out)
	}
}
