package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExporterGather(t *testing.T) {
	c := NewCollector()
	c.IncrementCounter("tool_requests_total", 4, Labels{"server": "svc", "status": "success"})
	c.SetGauge("pool_connections_total", 2, Labels{"server": "svc"})
	c.RecordTimer("tool_response_time", 12*time.Millisecond)

	e, err := NewExporter(c, "toolmesh")
	require.NoError(t, err)

	families, err := e.Registry().Gather()
	require.NoError(t, err)

	byName := make(map[string]bool, len(families))
	for _, f := range families {
		byName[f.GetName()] = true
	}
	assert.True(t, byName["toolmesh_tool_requests_total"], "counter family missing: %v", byName)
	assert.True(t, byName["toolmesh_pool_connections_total"], "gauge family missing: %v", byName)
	assert.True(t, byName["toolmesh_tool_response_time_milliseconds"], "timer family missing: %v", byName)
}

func TestExporterNoNamespace(t *testing.T) {
	c := NewCollector()
	c.IncrementCounter("requests", 1, nil)

	e, err := NewExporter(c, "")
	require.NoError(t, err)

	families, err := e.Registry().Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "requests", families[0].GetName())
}

func TestExporterHandler(t *testing.T) {
	c := NewCollector()
	c.IncrementCounter("tool_requests_total", 7, Labels{"server": "svc"})

	e, err := NewExporter(c, "toolmesh")
	require.NoError(t, err)

	srv := httptest.NewServer(e.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `toolmesh_tool_requests_total{server="svc"} 7`),
		"exposition body:\n%s", body)
}

func TestExporterSeesLiveUpdates(t *testing.T) {
	c := NewCollector()
	e, err := NewExporter(c, "")
	require.NoError(t, err)

	c.IncrementCounter("requests", 1, nil)
	families, err := e.Registry().Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, float64(1), families[0].GetMetric()[0].GetCounter().GetValue())

	c.IncrementCounter("requests", 2, nil)
	families, err = e.Registry().Gather()
	require.NoError(t, err)
	assert.Equal(t, float64(3), families[0].GetMetric()[0].GetCounter().GetValue())
}
