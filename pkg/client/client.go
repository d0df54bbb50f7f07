package client

import (
	"context"
	cryptorand "crypto/rand"
	"errors"
	"io"
	"math"
	"math/big"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/toolmesh/toolmesh-go/pkg/breaker"
	"github.com/toolmesh/toolmesh-go/pkg/cache"
	"github.com/toolmesh/toolmesh-go/pkg/config"
	tmerrors "github.com/toolmesh/toolmesh-go/pkg/errors"
	"github.com/toolmesh/toolmesh-go/pkg/health"
	"github.com/toolmesh/toolmesh-go/pkg/logging"
	"github.com/toolmesh/toolmesh-go/pkg/metrics"
	"github.com/toolmesh/toolmesh-go/pkg/observability"
	"github.com/toolmesh/toolmesh-go/pkg/pool"
)

// Invoker executes a named tool over an established connection. Production
// invokers speak the backend's protocol through conn.Handle; tests inject
// deterministic stubs.
type Invoker func(ctx context.Context, conn *pool.Conn, tool string, args map[string]interface{}) (interface{}, error)

// Options controls a single ExecuteTool call.
type Options struct {
	// UseCache consults the result cache before calling the backend and
	// stores the result on success.
	UseCache bool
	// RetryCount bounds retries after the first attempt. Only retryable
	// failures are retried.
	RetryCount int
	// CacheTTL overrides the configured default TTL when positive.
	CacheTTL time.Duration
}

// Client is the facade composing pool, breakers, cache, metrics, and health
// monitoring. Construct one per process and share it; it is safe for
// concurrent use.
type Client struct {
	cfg       config.Config
	logger    logging.Logger
	collector *metrics.Collector
	pool      *pool.Pool
	cache     cache.Store
	monitor   *health.Monitor
	tracing   *observability.TracingProvider
	invoker   Invoker

	mu       sync.RWMutex
	breakers map[string]*breaker.Breaker
	now      func() time.Time
}

// Option customizes a Client.
type Option func(*clientOptions)

type clientOptions struct {
	logger  logging.Logger
	store   cache.Store
	tracing *observability.TracingProvider
	closer  pool.Closer
	probes  map[string]health.Probe
	clock   func() time.Time
}

// WithLogger attaches a logger to the client and every component.
func WithLogger(logger logging.Logger) Option {
	return func(o *clientOptions) { o.logger = logger }
}

// WithCacheStore replaces the default in-memory cache, e.g. with an
// external key-value store implementing cache.Store.
func WithCacheStore(store cache.Store) Option {
	return func(o *clientOptions) { o.store = store }
}

// WithTracing enables per-invocation spans.
func WithTracing(tp *observability.TracingProvider) Option {
	return func(o *clientOptions) { o.tracing = tp }
}

// WithCloser installs a teardown function for connection handles.
func WithCloser(closer pool.Closer) Option {
	return func(o *clientOptions) { o.closer = closer }
}

// WithProbes replaces the standard health probe battery.
func WithProbes(probes map[string]health.Probe) Option {
	return func(o *clientOptions) { o.probes = probes }
}

// WithClock injects a clock for deterministic breaker tests.
func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) { o.clock = now }
}

// New creates a Client. connector establishes backend connections and
// invoker executes tool calls over them; both are required.
func New(cfg config.Config, connector pool.Connector, invoker Invoker, opts ...Option) (*Client, error) {
	if connector == nil {
		return nil, tmerrors.NewInvalidArgumentError("connector is required")
	}
	if invoker == nil {
		return nil, tmerrors.NewInvalidArgumentError("invoker is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &clientOptions{
		logger: logging.NewNopLogger(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	collector := metrics.NewCollector()

	c := &Client{
		cfg:       cfg,
		logger:    o.logger,
		collector: collector,
		invoker:   invoker,
		tracing:   o.tracing,
		breakers:  make(map[string]*breaker.Breaker),
		now:       o.clock,
	}

	c.pool = pool.New(cfg.Pool, connector,
		pool.WithCollector(collector),
		pool.WithLogger(o.logger),
		pool.WithCloser(o.closer),
	)

	if o.store != nil {
		c.cache = o.store
	} else {
		c.cache = cache.New(cfg.Cache.MaxEntries, cache.WithCollector(collector))
	}

	probes := o.probes
	if probes == nil {
		probes = health.StandardProbes(collector, c.pool, cfg.Pool.MaxPerServer)
	}
	c.monitor = health.NewMonitor(cfg.Health, probes,
		health.WithCollector(collector),
		health.WithLogger(o.logger),
	)

	return c, nil
}

// RegisterServer wires a server into the pool, its circuit breaker, and the
// health monitor in one step. Re-registering updates endpoint, priority,
// and service type while keeping breaker and history state.
func (c *Client) RegisterServer(name, endpoint string, priority int, serviceType string) {
	c.pool.RegisterServer(name, endpoint)
	c.monitor.RegisterServer(name, serviceType, priority)

	c.mu.Lock()
	if _, ok := c.breakers[name]; !ok {
		c.breakers[name] = breaker.New(name, c.cfg.Breaker, c.collector,
			breaker.WithLogger(c.logger),
			breaker.WithClock(c.now),
		)
	}
	c.mu.Unlock()

	c.logger.Info("registered tool server",
		logging.String("server", name),
		logging.String("endpoint", endpoint),
		logging.Int("priority", priority),
		logging.String("service_type", serviceType),
	)
}

// ExecuteTool invokes a named tool on a server with caching, circuit
// breaking, pooled connections, bounded retries, and metrics. Results and
// errors are uniform: every error is a *errors.Error from this module's
// taxonomy, never a raw backend failure.
func (c *Client) ExecuteTool(ctx context.Context, server, tool string, args map[string]interface{}, opts Options) (interface{}, error) {
	c.mu.RLock()
	brk, registered := c.breakers[server]
	c.mu.RUnlock()
	if !registered {
		return nil, tmerrors.NewServerUnknownError(server)
	}

	var cacheKey string
	if opts.UseCache {
		cacheKey = cache.Key(server, tool, args)
		if value, hit := c.cache.Get(cacheKey); hit {
			return value, nil
		}
	}

	maxAttempts := opts.RetryCount + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, tmerrors.NewTimeoutError("caller context ended", ctx.Err())
		}

		if attempt > 0 {
			delay := c.backoff(attempt)
			c.logger.Debug("retrying tool call",
				logging.String("server", server),
				logging.String("tool", tool),
				logging.Int("attempt", attempt),
				logging.Duration("delay", delay),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, tmerrors.NewTimeoutError("caller context ended", ctx.Err())
			}
		}

		// The breaker gate sits directly before the attempt, after any
		// backoff wait, so a granted half-open slot is always followed by
		// an attempt that records its outcome. It is re-checked on every
		// attempt so a circuit that opens mid-retry stops the loop.
		if !brk.CanExecute() {
			return nil, tmerrors.NewCircuitOpenError(server).WithContext(server, tool, attempt)
		}

		result, err := c.attempt(ctx, brk, server, tool, args, attempt)
		if err == nil {
			if opts.UseCache {
				ttl := opts.CacheTTL
				if ttl <= 0 {
					ttl = c.cfg.Cache.DefaultTTL
				}
				c.cache.Set(cacheKey, result, ttl)
			}
			return result, nil
		}

		lastErr = err
		if tmerrors.CodeOf(err) == tmerrors.CodePoolExhausted {
			// Pool exhaustion means the server is saturated; retrying here
			// would pile on. Surface it and let a higher layer decide.
			return nil, err
		}
		if !tmerrors.IsRetryable(err) {
			return nil, err
		}
	}

	c.logger.Warn("tool call failed after all attempts",
		logging.String("server", server),
		logging.String("tool", tool),
		logging.Int("attempts", maxAttempts),
		logging.ErrorField(lastErr),
	)
	return nil, lastErr
}

// attempt performs one invocation: scoped connection acquisition, a bounded
// backend call, and breaker/metric updates for the outcome.
func (c *Client) attempt(ctx context.Context, brk *breaker.Breaker, server, tool string, args map[string]interface{}, attempt int) (result interface{}, err error) {
	start := time.Now()

	conn, err := c.pool.Acquire(ctx, server)
	if err != nil {
		brk.RecordFailure()
		c.collector.TrackRequest(server, tool, false, time.Since(start))
		return nil, err
	}
	defer conn.Release()

	callCtx := ctx
	if c.cfg.Retry.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.Retry.CallTimeout)
		defer cancel()
	}

	result, err = c.invoke(callCtx, conn, server, tool, args, attempt)
	elapsed := time.Since(start)

	if err != nil {
		err = classify(err, callCtx)
		if tmerrors.IsCategory(err, tmerrors.CategoryConnection) {
			conn.MarkError()
		}
		brk.RecordFailure()
		c.collector.TrackRequest(server, tool, false, elapsed)
		if e, ok := err.(*tmerrors.Error); ok {
			return nil, e.WithContext(server, tool, attempt)
		}
		return nil, err
	}

	brk.RecordSuccess()
	c.collector.TrackRequest(server, tool, true, elapsed)
	return result, nil
}

// invoke runs the injected invoker, wrapped in a span when tracing is on.
func (c *Client) invoke(ctx context.Context, conn *pool.Conn, server, tool string, args map[string]interface{}, attempt int) (interface{}, error) {
	if c.tracing == nil {
		return c.invoker(ctx, conn, tool, args)
	}
	spanCtx, span := c.tracing.StartInvocation(ctx, server, tool, attempt)
	result, err := c.invoker(spanCtx, conn, tool, args)
	observability.EndInvocation(span, err)
	return result, err
}

// classify maps a backend failure into the error taxonomy. Errors already
// in the taxonomy pass through; dropped and refused connections become
// connection errors; context deadlines become timeouts; anything else is a
// transient execution error, matching the conservative default of retrying
// unknown failures.
func classify(err error, callCtx context.Context) error {
	var te *tmerrors.Error
	if errors.As(err, &te) {
		return te
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return tmerrors.NewConnectionLostError(err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return tmerrors.NewConnectionRefusedError(err)
	}
	if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
		return tmerrors.NewTimeoutError("tool call timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return tmerrors.NewTimeoutError("tool call cancelled", err)
	}
	return tmerrors.NewToolExecutionError("tool execution failed", true, err)
}

// backoff computes the delay before retry number attempt, using exponential
// growth capped at the configured maximum plus ±10% jitter.
func (c *Client) backoff(attempt int) time.Duration {
	r := c.cfg.Retry
	d := float64(r.InitialRetryDelay) * math.Pow(r.RetryBackoffFactor, float64(attempt-1))
	if d > float64(r.MaxRetryDelay) {
		d = float64(r.MaxRetryDelay)
	}
	if f, err := secureRandFloat64(); err == nil {
		d += d * 0.1 * (f*2 - 1)
	}
	return time.Duration(d)
}

// secureRandFloat64 generates a random float64 in [0, 1).
func secureRandFloat64() (float64, error) {
	n, err := cryptorand.Int(cryptorand.Reader, big.NewInt(1<<53))
	if err != nil {
		return 0, err
	}
	return float64(n.Int64()) / float64(1<<53), nil
}

// Start launches the health monitor's background loop.
func (c *Client) Start(ctx context.Context) {
	c.monitor.Start(ctx)
}

// Close stops the health monitor, shuts down the pool, and flushes tracing.
func (c *Client) Close(ctx context.Context) error {
	c.monitor.Stop()
	c.pool.Shutdown()
	if c.tracing != nil {
		return c.tracing.Shutdown(ctx)
	}
	return nil
}

// PoolStats reports per-server connection counts.
func (c *Client) PoolStats() map[string]pool.Stats {
	return c.pool.Stats()
}

// HealthSummary reports server counts by status and the primary map.
func (c *Client) HealthSummary() health.Summary {
	return c.monitor.HealthSummary()
}

// GetPrimaryServer returns the current primary for a service type.
func (c *Client) GetPrimaryServer(serviceType string) (string, bool) {
	return c.monitor.GetPrimaryServer(serviceType)
}

// CheckServerHealth runs an immediate health check of one server.
func (c *Client) CheckServerHealth(ctx context.Context, server string) (health.Report, error) {
	return c.monitor.CheckServerHealth(ctx, server)
}

// AllMetrics returns a point-in-time snapshot of every metric series.
func (c *Client) AllMetrics() metrics.Snapshot {
	return c.collector.AllMetrics()
}

// ExportPrometheusFormat renders counters and gauges in the Prometheus text
// exposition format.
func (c *Client) ExportPrometheusFormat() string {
	return c.collector.ExportPrometheusFormat()
}

// Metrics exposes the collector for dashboards and exporters.
func (c *Client) Metrics() *metrics.Collector {
	return c.collector
}

// BreakerState returns the circuit state for a server, for diagnostics.
func (c *Client) BreakerState(server string) (breaker.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	brk, ok := c.breakers[server]
	if !ok {
		return breaker.Snapshot{}, false
	}
	return brk.Snapshot(), true
}
