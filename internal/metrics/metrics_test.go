package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	m := New()
	m.SetConnectionsMax(10)
	m.SetConnectionsActive(3)
	m.ObserveExecution("completed", 0.25)
	m.IncAcquireFailure("timeout")
	m.SetServersTotal(2)
	m.SetToolsTotal(5)
	m.IncEventDropped()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "mcpcore_connections_max 10")
	assert.Contains(t, body, "mcpcore_connections_active 3")
	assert.Contains(t, body, `mcpcore_executions_total{status="completed"} 1`)
	assert.Contains(t, body, `mcpcore_pool_acquire_failures_total{reason="timeout"} 1`)
	assert.Contains(t, body, "mcpcore_servers_total 2")
	assert.Contains(t, body, "mcpcore_tools_total 5")
	assert.Contains(t, body, "mcpcore_event_buffer_dropped_total 1")
}
