// Package health monitors registered tool servers. A background loop runs
// an injectable battery of probes against every server on a fixed interval,
// keeps a rolling history of reports, and promotes backup servers to
// primary within their service-type group when a primary accumulates too
// many consecutive unhealthy reports.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/toolmesh/toolmesh-go/pkg/config"
	tmerrors "github.com/toolmesh/toolmesh-go/pkg/errors"
	"github.com/toolmesh/toolmesh-go/pkg/logging"
	"github.com/toolmesh/toolmesh-go/pkg/metrics"
)

// Status is the aggregated health of a server at one check.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
	StatusCritical
)

// String returns the status name used in summaries and metric labels.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	case StatusCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Report is the outcome of one health check of one server.
type Report struct {
	Server       string             `json:"server"`
	Status       Status             `json:"status"`
	Metrics      map[string]float64 `json:"metrics"`
	ChecksPassed int                `json:"checks_passed"`
	Timestamp    time.Time          `json:"timestamp"`
}

// Probe measures one aspect of a server's health. It returns the measured
// value and the status that value implies. A probe error counts as
// critical.
type Probe func(ctx context.Context, server string) (float64, Status, error)

// Summary is the aggregate view consumed by monitoring dashboards.
type Summary struct {
	TotalServers     int               `json:"total_servers"`
	HealthyServers   int               `json:"healthy_servers"`
	DegradedServers  int               `json:"degraded_servers"`
	UnhealthyServers int               `json:"unhealthy_servers"`
	PrimaryServers   map[string]string `json:"primary_servers"`
	Servers          map[string]Report `json:"servers"`
}

// serverHealth tracks one server's registration and rolling history.
type serverHealth struct {
	name        string
	serviceType string
	priority    int

	history              []Report
	consecutiveUnhealthy int
}

func (sh *serverHealth) latest() (Report, bool) {
	if len(sh.history) == 0 {
		return Report{}, false
	}
	return sh.history[len(sh.history)-1], true
}

// Monitor runs periodic health checks and owns the failover decision.
type Monitor struct {
	cfg       config.HealthConfig
	probes    map[string]Probe
	collector *metrics.Collector
	logger    logging.Logger

	mu        sync.RWMutex
	servers   map[string]*serverHealth
	primaries map[string]string // serviceType -> primary server name

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	started  bool
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithCollector reports health gauges to the given collector.
func WithCollector(c *metrics.Collector) Option {
	return func(m *Monitor) { m.collector = c }
}

// WithLogger attaches a logger.
func WithLogger(logger logging.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// NewMonitor creates a Monitor running the given probe battery. The map key
// is the metric name the probe's value is reported under.
func NewMonitor(cfg config.HealthConfig, probes map[string]Probe, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:       cfg,
		probes:    probes,
		logger:    logging.NewNopLogger(),
		servers:   make(map[string]*serverHealth),
		primaries: make(map[string]string),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterServer adds a server to its service-type group. The
// highest-priority registered member of a group is its primary.
func (m *Monitor) RegisterServer(name, serviceType string, priority int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sh, ok := m.servers[name]; ok {
		sh.serviceType = serviceType
		sh.priority = priority
	} else {
		m.servers[name] = &serverHealth{
			name:        name,
			serviceType: serviceType,
			priority:    priority,
		}
	}

	current, ok := m.primaries[serviceType]
	if !ok || m.servers[current].priority < priority {
		m.setPrimary(serviceType, name)
	}
}

// CheckServerHealth runs the probe battery against one server, aggregates
// the results by worst-case severity, appends the report to the server's
// history, and applies the failover rule.
func (m *Monitor) CheckServerHealth(ctx context.Context, name string) (Report, error) {
	m.mu.RLock()
	_, registered := m.servers[name]
	m.mu.RUnlock()
	if !registered {
		return Report{}, tmerrors.NewServerUnknownError(name)
	}

	report := Report{
		Server:    name,
		Status:    StatusHealthy,
		Metrics:   make(map[string]float64, len(m.probes)),
		Timestamp: time.Now(),
	}

	for metric, probe := range m.probes {
		probeCtx := ctx
		if m.cfg.ProbeTimeout > 0 {
			var cancel context.CancelFunc
			probeCtx, cancel = context.WithTimeout(ctx, m.cfg.ProbeTimeout)
			defer cancel()
		}
		value, status, err := probe(probeCtx, name)
		if err != nil {
			status = StatusCritical
			m.logger.Warn("health probe failed",
				logging.String("server", name),
				logging.String("probe", metric),
				logging.ErrorField(err),
			)
		}
		report.Metrics[metric] = value
		if status == StatusHealthy {
			report.ChecksPassed++
		}
		if status > report.Status {
			report.Status = status
		}
	}

	m.recordReport(report)
	return report, nil
}

// recordReport appends a report to history, maintains the consecutive
// unhealthy counter, and triggers failover past the threshold.
func (m *Monitor) recordReport(report Report) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sh, ok := m.servers[report.Server]
	if !ok {
		return
	}

	sh.history = append(sh.history, report)
	if len(sh.history) > m.cfg.HistorySize {
		sh.history = sh.history[len(sh.history)-m.cfg.HistorySize:]
	}

	if report.Status >= StatusUnhealthy {
		sh.consecutiveUnhealthy++
	} else {
		sh.consecutiveUnhealthy = 0
	}

	if m.collector != nil {
		m.collector.SetGauge("server_health_status", float64(report.Status),
			metrics.Labels{"server": report.Server})
		m.collector.IncrementCounter("health_checks_total", 1,
			metrics.Labels{"server": report.Server, "status": report.Status.String()})
	}

	if sh.consecutiveUnhealthy >= m.cfg.FailoverThreshold &&
		m.primaries[sh.serviceType] == sh.name {
		m.failover(sh)
	}
}

// failover promotes the best eligible backup in the group. Callers hold the
// write lock.
func (m *Monitor) failover(failing *serverHealth) {
	candidates := make([]*serverHealth, 0)
	for _, sh := range m.servers {
		if sh.serviceType != failing.serviceType || sh.name == failing.name {
			continue
		}
		if sh.consecutiveUnhealthy >= m.cfg.FailoverThreshold {
			continue
		}
		candidates = append(candidates, sh)
	}
	if len(candidates) == 0 {
		m.logger.Error("no eligible backup for failover",
			logging.String("server", failing.name),
			logging.String("service_type", failing.serviceType),
		)
		return
	}

	// Prefer the healthiest candidate, then the highest priority.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].consecutiveUnhealthy != candidates[j].consecutiveUnhealthy {
			return candidates[i].consecutiveUnhealthy < candidates[j].consecutiveUnhealthy
		}
		return candidates[i].priority > candidates[j].priority
	})
	backup := candidates[0]

	m.logger.Warn("failing over primary",
		logging.String("service_type", failing.serviceType),
		logging.String("from", failing.name),
		logging.String("to", backup.name),
	)
	m.setPrimary(failing.serviceType, backup.name)
}

// setPrimary updates the primary map and metric. Callers hold the write
// lock.
func (m *Monitor) setPrimary(serviceType, name string) {
	m.primaries[serviceType] = name
	if m.collector != nil {
		m.collector.IncrementCounter("failover_primary_changes_total", 1,
			metrics.Labels{"service_type": serviceType, "server": name})
	}
}

// GetPrimaryServer returns the current primary for a service type.
func (m *Monitor) GetPrimaryServer(serviceType string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.primaries[serviceType]
	return name, ok
}

// History returns a copy of a server's rolling report history.
func (m *Monitor) History(name string) []Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sh, ok := m.servers[name]
	if !ok {
		return nil
	}
	out := make([]Report, len(sh.history))
	copy(out, sh.history)
	return out
}

// HealthSummary returns counts of servers by status plus the primary map.
// Servers that have not been checked yet count as healthy.
func (m *Monitor) HealthSummary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := Summary{
		TotalServers:   len(m.servers),
		PrimaryServers: make(map[string]string, len(m.primaries)),
		Servers:        make(map[string]Report, len(m.servers)),
	}
	for st, name := range m.primaries {
		summary.PrimaryServers[st] = name
	}
	for name, sh := range m.servers {
		report, checked := sh.latest()
		if checked {
			summary.Servers[name] = report
		}
		switch {
		case !checked || report.Status == StatusHealthy:
			summary.HealthyServers++
		case report.Status == StatusDegraded:
			summary.DegradedServers++
		default:
			summary.UnhealthyServers++
		}
	}
	return summary
}

// Start launches the background check loop. It returns immediately; the
// loop runs until Stop is called or ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.CheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.checkAll(ctx)
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the background loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.RLock()
	started := m.started
	m.mu.RUnlock()
	if started {
		<-m.done
	}
}

// checkAll probes every registered server concurrently.
func (m *Monitor) checkAll(ctx context.Context) {
	m.mu.RLock()
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			_, err := m.CheckServerHealth(gctx, name)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		m.logger.Warn("health sweep finished with errors", logging.ErrorField(err))
	}
}
