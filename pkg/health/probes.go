package health

import (
	"context"
	"runtime"
	"time"

	"github.com/toolmesh/toolmesh-go/pkg/metrics"
	"github.com/toolmesh/toolmesh-go/pkg/pool"
)

// Standard probe metric names.
const (
	MetricResponseTime    = "response_time"
	MetricErrorRate       = "error_rate"
	MetricMemoryUsage     = "memory_usage"
	MetricConnectionCount = "connection_count"
)

// ResponseTimeProbe grades a server by its observed mean response time.
// Values come from the collector's per-server request stats, so the probe
// reflects real traffic rather than synthetic pings.
func ResponseTimeProbe(c *metrics.Collector, degraded, unhealthy time.Duration) Probe {
	return func(_ context.Context, server string) (float64, Status, error) {
		stats, ok := c.ServerStats(server)
		if !ok || stats.TotalRequests == 0 {
			return 0, StatusHealthy, nil
		}
		ms := float64(stats.MeanResponseTime) / float64(time.Millisecond)
		switch {
		case stats.MeanResponseTime >= unhealthy:
			return ms, StatusUnhealthy, nil
		case stats.MeanResponseTime >= degraded:
			return ms, StatusDegraded, nil
		default:
			return ms, StatusHealthy, nil
		}
	}
}

// ErrorRateProbe grades a server by its observed error rate.
func ErrorRateProbe(c *metrics.Collector, degraded, unhealthy float64) Probe {
	return func(_ context.Context, server string) (float64, Status, error) {
		stats, ok := c.ServerStats(server)
		if !ok || stats.TotalRequests == 0 {
			return 0, StatusHealthy, nil
		}
		switch {
		case stats.ErrorRate >= unhealthy:
			return stats.ErrorRate, StatusUnhealthy, nil
		case stats.ErrorRate >= degraded:
			return stats.ErrorRate, StatusDegraded, nil
		default:
			return stats.ErrorRate, StatusHealthy, nil
		}
	}
}

// MemoryUsageProbe grades the process heap against a soft limit in bytes.
func MemoryUsageProbe(limitBytes uint64) Probe {
	return func(_ context.Context, _ string) (float64, Status, error) {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		used := float64(ms.HeapAlloc)
		if limitBytes == 0 {
			return used, StatusHealthy, nil
		}
		ratio := used / float64(limitBytes)
		switch {
		case ratio >= 1.0:
			return used, StatusCritical, nil
		case ratio >= 0.85:
			return used, StatusDegraded, nil
		default:
			return used, StatusHealthy, nil
		}
	}
}

// ConnectionCountProbe grades a server by pool saturation: in-use
// connections against the per-server maximum.
func ConnectionCountProbe(p *pool.Pool, maxPerServer int) Probe {
	return func(_ context.Context, server string) (float64, Status, error) {
		stats, ok := p.Stats()[server]
		if !ok {
			return 0, StatusHealthy, nil
		}
		inUse := float64(stats.InUse)
		if maxPerServer <= 0 {
			return inUse, StatusHealthy, nil
		}
		ratio := inUse / float64(maxPerServer)
		switch {
		case ratio >= 1.0:
			return inUse, StatusUnhealthy, nil
		case ratio >= 0.8:
			return inUse, StatusDegraded, nil
		default:
			return inUse, StatusHealthy, nil
		}
	}
}

// StandardProbes assembles the default battery from live collector and pool
// state. Tests replace individual entries with deterministic probes.
func StandardProbes(c *metrics.Collector, p *pool.Pool, maxPerServer int) map[string]Probe {
	return map[string]Probe{
		MetricResponseTime:    ResponseTimeProbe(c, 500*time.Millisecond, 2*time.Second),
		MetricErrorRate:       ErrorRateProbe(c, 0.1, 0.5),
		MetricMemoryUsage:     MemoryUsageProbe(0),
		MetricConnectionCount: ConnectionCountProbe(p, maxPerServer),
	}
}
