package catalog

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-integration/core/internal/mcperrors"
	"github.com/mcp-integration/core/internal/model"
)

type fakeStore struct {
	mu    sync.Mutex
	tools map[string]map[string]model.Tool // serverID -> name -> tool
}

func newFakeStore() *fakeStore {
	return &fakeStore{tools: make(map[string]map[string]model.Tool)}
}

func (f *fakeStore) PutTool(ctx context.Context, t *model.Tool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tools[t.ServerID] == nil {
		f.tools[t.ServerID] = make(map[string]model.Tool)
	}
	f.tools[t.ServerID][t.Name] = *t
	return nil
}

func (f *fakeStore) DeleteTool(ctx context.Context, serverID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tools[serverID], name)
	return nil
}

func (f *fakeStore) DeleteToolsForServer(ctx context.Context, serverID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tools, serverID)
	return nil
}

func (f *fakeStore) ListToolsByServer(ctx context.Context, serverID string) ([]model.Tool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Tool
	for _, t := range f.tools[serverID] {
		out = append(out, t)
	}
	return out, nil
}

func TestUpsertRequiresServerIDAndName(t *testing.T) {
	c := New(newFakeStore())
	err := c.Upsert(context.Background(), model.Tool{})
	require.Error(t, err)
	assert.True(t, mcperrors.Is(err, mcperrors.ValidationError))
}

func TestReplaceForServerAddsUpdatesRemoves(t *testing.T) {
	store := newFakeStore()
	c := New(store)
	ctx := context.Background()

	added, updated, removed, err := c.ReplaceForServer(ctx, "srv-1", []model.Tool{
		{ServerID: "srv-1", Name: "search", Description: "v1"},
		{ServerID: "srv-1", Name: "fetch", Description: "v1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 0, updated)
	assert.Equal(t, 0, removed)

	added, updated, removed, err = c.ReplaceForServer(ctx, "srv-1", []model.Tool{
		{ServerID: "srv-1", Name: "search", Description: "v2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 1, updated)
	assert.Equal(t, 1, removed, "fetch is gone from the latest discovery set")

	tools, err := c.GetByServer(ctx, "srv-1")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "search", tools[0].Name)
}

func TestGetReturnsNotFoundForMissingTool(t *testing.T) {
	c := New(newFakeStore())
	_, err := c.Get(context.Background(), "srv-1", "missing")
	require.Error(t, err)
	assert.True(t, mcperrors.Is(err, mcperrors.NotFound))
}

func TestRemoveForServerClearsCache(t *testing.T) {
	store := newFakeStore()
	c := New(store)
	ctx := context.Background()

	_, _, _, err := c.ReplaceForServer(ctx, "srv-1", []model.Tool{{ServerID: "srv-1", Name: "search"}})
	require.NoError(t, err)

	_, err = c.GetByServer(ctx, "srv-1")
	require.NoError(t, err)

	require.NoError(t, c.RemoveForServer(ctx, "srv-1"))

	tools, err := c.GetByServer(ctx, "srv-1")
	require.NoError(t, err)
	assert.Empty(t, tools)
}
