// Package toolmesh is a resilient tool-invocation client for Go.
//
// Toolmesh keeps many long-lived connections to independent tool servers
// healthy under concurrent load: it pools connections per server, fails
// fast on consistently failing backends with per-server circuit breakers,
// memoizes results, retries transient failures with exponential backoff,
// and monitors server health to fail over primaries within a service group
// automatically.
//
// # Overview
//
// The library consists of several sub-packages:
//
//   - pkg/client: the facade composing all components
//   - pkg/pool: bounded per-server connection pools
//   - pkg/breaker: per-server circuit breakers
//   - pkg/cache: TTL memoization of tool results
//   - pkg/metrics: process-wide metrics with Prometheus export
//   - pkg/health: health monitoring and primary failover
//   - pkg/config: YAML-loadable configuration
//   - pkg/errors: the structured error taxonomy
//   - pkg/logging: structured logging
//   - pkg/observability: OpenTelemetry tracing
//
// # Creating a Client
//
// The backend-specific "connect" and "invoke" operations are injected, so
// the core makes no assumption about what a tool server speaks:
//
//	cfg := toolmesh.DefaultConfig()
//	c, err := toolmesh.NewClient(cfg, connectFn, invokeFn,
//	    toolmesh.WithLogger(logger),
//	)
//	if err != nil {
//	    // Handle error
//	}
//	c.RegisterServer("fraud-db", "db.internal:9042", 2, "fraud")
//	c.RegisterServer("fraud-db-replica", "db2.internal:9042", 1, "fraud")
//	c.Start(ctx)
//	defer c.Close(ctx)
//
//	result, err := c.ExecuteTool(ctx, "fraud-db", "lookup",
//	    map[string]interface{}{"account": "a-123"},
//	    client.Options{UseCache: true, RetryCount: 3},
//	)
package toolmesh
