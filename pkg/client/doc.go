// Package client provides the facade of the toolmesh library.
//
// A Client composes the connection pool, per-server circuit breakers, the
// result cache, the metrics collector, and the health monitor behind one
// call surface:
//
//   - RegisterServer wires a server into every component at once
//   - ExecuteTool resolves a (server, tool, arguments) invocation through
//     cache, breaker, pool, and retry policy
//   - PoolStats, HealthSummary, AllMetrics, and ExportPrometheusFormat
//     expose the read-only views a monitoring dashboard consumes
//
// The backend-specific connect and invoke operations are injected at
// construction, which keeps the core free of any wire protocol and makes
// every collaborator substitutable in tests.
//
// Side effects of ExecuteTool are strictly additive (metrics, cache,
// breaker and health state); the facade holds no business semantics about
// tool arguments or results beyond passing them through.
package client
