package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mcp-integration/core/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "core.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestServerCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	srv := &model.Server{ID: "srv-1", Name: "weather", Status: model.ServerActive}
	require.NoError(t, s.PutServer(ctx, srv))

	got, err := s.GetServer(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, "weather", got.Name)

	require.NoError(t, s.DeleteServer(ctx, "srv-1"))
	_, err = s.GetServer(ctx, "srv-1")
	assert.Error(t, err)
}

func TestListServersFiltersAndPaginates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, name := range []string{"alpha", "beta", "gamma"} {
		status := model.ServerActive
		if i == 1 {
			status = model.ServerInactive
		}
		require.NoError(t, s.PutServer(ctx, &model.Server{ID: name, Name: name, Status: status}))
	}

	page, err := s.ListServers(ctx, model.ServerFilter{Status: model.ServerActive})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "alpha", page.Items[0].Name)

	page, err = s.ListServers(ctx, model.ServerFilter{Name: "AM"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "gamma", page.Items[0].Name)

	page, err = s.ListServers(ctx, model.ServerFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "beta", page.Items[0].Name)
}

func TestToolsByServerAndPrefixIsolation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutTool(ctx, &model.Tool{ServerID: "srv-1", Name: "search"}))
	require.NoError(t, s.PutTool(ctx, &model.Tool{ServerID: "srv-1", Name: "fetch"}))
	require.NoError(t, s.PutTool(ctx, &model.Tool{ServerID: "srv-2", Name: "search"}))

	tools, err := s.ListToolsByServer(ctx, "srv-1")
	require.NoError(t, err)
	assert.Len(t, tools, 2)

	tools, err = s.ListToolsByServer(ctx, "srv-2")
	require.NoError(t, err)
	assert.Len(t, tools, 1)

	require.NoError(t, s.DeleteToolsForServer(ctx, "srv-1"))
	tools, err = s.ListToolsByServer(ctx, "srv-1")
	require.NoError(t, err)
	assert.Empty(t, tools)

	tools, err = s.ListToolsByServer(ctx, "srv-2")
	require.NoError(t, err)
	assert.Len(t, tools, 1, "deleting one server's tools must not touch another's")
}

func TestExecutionGetMissingReturnsNilNotError(t *testing.T) {
	s := openTestStore(t)
	e, err := s.GetExecution(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestListExecutionsFiltersByServerStatusAndTimeRange(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.PutExecution(ctx, &model.Execution{ID: "e1", ServerID: "srv-1", Status: model.ExecutionCompleted, StartedAt: now.Add(-time.Hour)}))
	require.NoError(t, s.PutExecution(ctx, &model.Execution{ID: "e2", ServerID: "srv-1", Status: model.ExecutionFailed, StartedAt: now.Add(-time.Minute)}))
	require.NoError(t, s.PutExecution(ctx, &model.Execution{ID: "e3", ServerID: "srv-2", Status: model.ExecutionCompleted, StartedAt: now}))

	page, err := s.ListExecutions(ctx, model.ExecutionFilter{ServerID: "srv-1"})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "e2", page.Items[0].ID, "results are sorted newest-first")

	page, err = s.ListExecutions(ctx, model.ExecutionFilter{Status: model.ExecutionFailed})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "e2", page.Items[0].ID)

	page, err = s.ListExecutions(ctx, model.ExecutionFilter{Since: now.Add(-2 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
}
