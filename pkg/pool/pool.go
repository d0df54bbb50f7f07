// Package pool manages bounded sets of live connections to registered tool
// servers. Connections are loaned to exactly one caller at a time and
// returned on release; capacity waits are bounded so a saturated server
// fails fast with a pool-exhausted error instead of blocking callers
// indefinitely.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/toolmesh/toolmesh-go/pkg/config"
	tmerrors "github.com/toolmesh/toolmesh-go/pkg/errors"
	"github.com/toolmesh/toolmesh-go/pkg/logging"
	"github.com/toolmesh/toolmesh-go/pkg/metrics"
)

// Connector establishes one connection to a server and returns an opaque
// handle. Production connectors dial the real backend; tests inject stubs.
type Connector func(ctx context.Context, server, endpoint string) (interface{}, error)

// Closer tears down a handle produced by a Connector. Optional.
type Closer func(handle interface{})

// ConnState is the health of an individual connection.
type ConnState int

const (
	ConnHealthy ConnState = iota
	ConnDegraded
	ConnError
)

// Conn is one live channel to a server, owned exclusively by the caller
// between Acquire and Release.
type Conn struct {
	ID       string
	Server   string
	Handle   interface{}
	state    ConnState
	lastUsed time.Time

	sp       *serverPool
	released bool
	mu       sync.Mutex
}

// State returns the connection's health state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MarkError flags the connection so the pool discards it on release.
func (c *Conn) MarkError() {
	c.mu.Lock()
	c.state = ConnError
	c.mu.Unlock()
}

// Release returns the connection to its pool. Safe to call more than once;
// only the first call has effect, which makes deferred release safe on all
// exit paths.
func (c *Conn) Release() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	c.lastUsed = time.Now()
	c.mu.Unlock()

	c.sp.release(c)
}

// Stats reports per-server connection counts.
type Stats struct {
	Total   int `json:"total"`
	Healthy int `json:"healthy"`
	InUse   int `json:"in_use"`
}

// Pool owns one serverPool per registered server.
type Pool struct {
	cfg       config.PoolConfig
	connector Connector
	closer    Closer
	collector *metrics.Collector
	logger    logging.Logger

	mu      sync.RWMutex
	servers map[string]*serverPool
	closed  bool
}

// Option customizes a Pool.
type Option func(*Pool)

// WithCloser installs a teardown function for connection handles.
func WithCloser(closer Closer) Option {
	return func(p *Pool) { p.closer = closer }
}

// WithCollector reports pool gauges to the given collector.
func WithCollector(c *metrics.Collector) Option {
	return func(p *Pool) { p.collector = c }
}

// WithLogger attaches a logger.
func WithLogger(logger logging.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// New creates a Pool that dials via connector.
func New(cfg config.PoolConfig, connector Connector, opts ...Option) *Pool {
	p := &Pool{
		cfg:       cfg,
		connector: connector,
		logger:    logging.NewNopLogger(),
		servers:   make(map[string]*serverPool),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RegisterServer creates an empty pool slot for a server. Registering the
// same name again updates the endpoint and keeps existing connections.
func (p *Pool) RegisterServer(name, endpoint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sp, ok := p.servers[name]; ok {
		sp.mu.Lock()
		sp.endpoint = endpoint
		sp.mu.Unlock()
		return
	}
	p.servers[name] = &serverPool{
		name:     name,
		endpoint: endpoint,
		pool:     p,
		sem:      semaphore.NewWeighted(int64(p.cfg.MaxPerServer)),
		loaned:   make(map[*Conn]struct{}),
	}
	p.logger.Debug("registered server pool",
		logging.String("server", name), logging.String("endpoint", endpoint))
}

// Acquire hands the caller a connection to the named server, reusing an
// idle healthy one when possible. When the server is at its maximum and all
// connections are loaned out, Acquire waits up to the configured acquire
// timeout and then fails with a pool-exhausted error. The returned
// connection must be Released on every exit path.
func (p *Pool) Acquire(ctx context.Context, name string) (*Conn, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, tmerrors.NewPoolShutdownError()
	}
	sp, ok := p.servers[name]
	p.mu.RUnlock()
	if !ok {
		return nil, tmerrors.NewServerUnknownError(name)
	}
	return sp.acquire(ctx)
}

// Stats reports connection counts for every registered server.
func (p *Pool) Stats() map[string]Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Stats, len(p.servers))
	for name, sp := range p.servers {
		out[name] = sp.stats()
	}
	return out
}

// Prune drops idle connections that have exceeded the max idle time,
// keeping at least the configured per-server minimum warm.
func (p *Pool) Prune() {
	p.mu.RLock()
	servers := make([]*serverPool, 0, len(p.servers))
	for _, sp := range p.servers {
		servers = append(servers, sp)
	}
	p.mu.RUnlock()

	for _, sp := range servers {
		sp.prune()
	}
}

// Shutdown closes all idle connections and rejects further acquisitions.
// Loaned connections are discarded when released.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	servers := make([]*serverPool, 0, len(p.servers))
	for _, sp := range p.servers {
		servers = append(servers, sp)
	}
	p.mu.Unlock()

	for _, sp := range servers {
		sp.close()
	}
}

// serverPool holds the idle list and bookkeeping for one server. Each
// server has its own lock so unrelated servers never contend.
type serverPool struct {
	name     string
	endpoint string
	pool     *Pool
	sem      *semaphore.Weighted

	mu     sync.Mutex
	idle   []*Conn
	loaned map[*Conn]struct{}
	closed bool
}

func (sp *serverPool) acquire(ctx context.Context) (*Conn, error) {
	cfg := sp.pool.cfg

	waitCtx := ctx
	if cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, cfg.AcquireTimeout)
		defer cancel()
	}
	if err := sp.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			// The caller's own context ended; surface that rather than
			// blaming the pool.
			return nil, tmerrors.NewAcquireTimeoutError(ctx.Err())
		}
		return nil, tmerrors.NewPoolExhaustedError(sp.name)
	}

	// Reuse the most recently used idle connection that is still valid.
	if conn := sp.takeIdle(); conn != nil {
		return conn, nil
	}

	// Nothing idle; establish a new connection. The semaphore slot already
	// reserves capacity, so total connections stay within MaxPerServer.
	dialCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	handle, err := sp.pool.connector(dialCtx, sp.name, sp.endpoint)
	if err != nil {
		sp.sem.Release(1)
		return nil, tmerrors.NewEstablishError(sp.name, err)
	}

	conn := &Conn{
		ID:       uuid.NewString(),
		Server:   sp.name,
		Handle:   handle,
		state:    ConnHealthy,
		lastUsed: time.Now(),
		sp:       sp,
	}
	sp.mu.Lock()
	sp.loaned[conn] = struct{}{}
	sp.mu.Unlock()
	sp.reportGauges()
	return conn, nil
}

// takeIdle pops idle connections until it finds a valid one, discarding
// stale or unhealthy entries along the way. Returns nil when none qualify.
func (sp *serverPool) takeIdle() *Conn {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	for len(sp.idle) > 0 {
		conn := sp.idle[len(sp.idle)-1]
		sp.idle = sp.idle[:len(sp.idle)-1]
		if sp.valid(conn) {
			conn.mu.Lock()
			conn.released = false
			conn.lastUsed = time.Now()
			conn.mu.Unlock()
			sp.loaned[conn] = struct{}{}
			return conn
		}
		sp.discard(conn)
	}
	return nil
}

func (sp *serverPool) valid(conn *Conn) bool {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.state != ConnHealthy {
		return false
	}
	maxIdle := sp.pool.cfg.MaxIdleTime
	return maxIdle <= 0 || time.Since(conn.lastUsed) <= maxIdle
}

func (sp *serverPool) release(conn *Conn) {
	sp.mu.Lock()
	delete(sp.loaned, conn)
	if !sp.closed && conn.State() == ConnHealthy {
		sp.idle = append(sp.idle, conn)
	} else {
		sp.discard(conn)
	}
	sp.mu.Unlock()

	sp.sem.Release(1)
	sp.reportGauges()
}

// discard tears down a connection handle. Callers hold sp.mu.
func (sp *serverPool) discard(conn *Conn) {
	if sp.pool.closer != nil {
		sp.pool.closer(conn.Handle)
	}
}

func (sp *serverPool) stats() Stats {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	st := Stats{
		Total: len(sp.idle) + len(sp.loaned),
		InUse: len(sp.loaned),
	}
	for _, conn := range sp.idle {
		if conn.State() == ConnHealthy {
			st.Healthy++
		}
	}
	for conn := range sp.loaned {
		if conn.State() == ConnHealthy {
			st.Healthy++
		}
	}
	return st
}

func (sp *serverPool) prune() {
	min := sp.pool.cfg.MinPerServer
	maxIdle := sp.pool.cfg.MaxIdleTime

	sp.mu.Lock()
	kept := sp.idle[:0]
	for _, conn := range sp.idle {
		stale := maxIdle > 0 && time.Since(conn.lastUsed) > maxIdle
		if stale && len(kept)+1 > min {
			sp.discard(conn)
			continue
		}
		kept = append(kept, conn)
	}
	sp.idle = kept
	sp.mu.Unlock()

	sp.reportGauges()
}

func (sp *serverPool) close() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.closed = true
	for _, conn := range sp.idle {
		sp.discard(conn)
	}
	sp.idle = nil
}

func (sp *serverPool) reportGauges() {
	collector := sp.pool.collector
	if collector == nil {
		return
	}
	st := sp.stats()
	labels := metrics.Labels{"server": sp.name}
	collector.SetGauge("pool_connections_total", float64(st.Total), labels)
	collector.SetGauge("pool_connections_in_use", float64(st.InUse), labels)
}
