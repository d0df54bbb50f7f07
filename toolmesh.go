// Package toolmesh provides a resilient client for invoking operations on
// heterogeneous tool servers. This root package re-exports the core
// components from the sub-packages.
package toolmesh

import (
	"github.com/toolmesh/toolmesh-go/pkg/client"
	"github.com/toolmesh/toolmesh-go/pkg/config"
	"github.com/toolmesh/toolmesh-go/pkg/metrics"
)

// Version represents the current version of the library
const Version = "1.0.0"

// These exports provide direct access to the core components
var (
	// NewClient creates a new tool-invocation client
	NewClient = client.New

	// DefaultConfig returns the production default configuration
	DefaultConfig = config.Default

	// LoadConfig reads a YAML configuration file
	LoadConfig = config.Load

	// NewCollector creates a standalone metrics collector
	NewCollector = metrics.NewCollector
)

// Client options
var (
	WithLogger     = client.WithLogger
	WithCacheStore = client.WithCacheStore
	WithTracing    = client.WithTracing
	WithProbes     = client.WithProbes
)
