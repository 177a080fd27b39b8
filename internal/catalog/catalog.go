// Package catalog implements the ToolCatalog (C5): a (serverId, name)
// keyed Tool store with idempotent upsert, full-replace-on-discovery
// semantics, and a cached per-server read.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/mcp-integration/core/internal/cache"
	"github.com/mcp-integration/core/internal/keymutex"
	"github.com/mcp-integration/core/internal/mcperrors"
	"github.com/mcp-integration/core/internal/model"
)

const byServerTTL = 15 * time.Minute

// Store is the persistence slice the catalog depends on.
type Store interface {
	PutTool(ctx context.Context, t *model.Tool) error
	DeleteTool(ctx context.Context, serverID, name string) error
	DeleteToolsForServer(ctx context.Context, serverID string) error
	ListToolsByServer(ctx context.Context, serverID string) ([]model.Tool, error)
}

// Catalog is the ToolCatalog collaborator.
type Catalog struct {
	store Store
	locks keymutex.KeyMutex
	cache *cache.TTL[string, []model.Tool]
}

// New builds a Catalog backed by store.
func New(store Store) *Catalog {
	return &Catalog{
		store: store,
		cache: cache.New[string, []model.Tool](byServerTTL),
	}
}

// Upsert idempotently writes one tool, invalidating that server's
// cached listing.
func (c *Catalog) Upsert(ctx context.Context, t model.Tool) error {
	if t.ServerID == "" || t.Name == "" {
		return mcperrors.New(mcperrors.ValidationError, 0, "tool requires serverId and name")
	}

	c.locks.Lock(t.ServerID)
	defer c.locks.Unlock(t.ServerID)

	if err := c.store.PutTool(ctx, &t); err != nil {
		return mcperrors.Wrap(mcperrors.Internal, 0, err, "persist tool")
	}
	c.cache.Invalidate(t.ServerID)
	return nil
}

// ReplaceForServer performs a discovery run's full-set replace: tools
// present in the latest set are upserted, tools absent from it are
// removed.
func (c *Catalog) ReplaceForServer(ctx context.Context, serverID string, tools []model.Tool) (added, updated, removed int, err error) {
	c.locks.Lock(serverID)
	defer c.locks.Unlock(serverID)

	existing, listErr := c.store.ListToolsByServer(ctx, serverID)
	if listErr != nil {
		return 0, 0, 0, mcperrors.Wrap(mcperrors.Internal, 0, listErr, "list existing tools")
	}
	existingByName := make(map[string]model.Tool, len(existing))
	for _, t := range existing {
		existingByName[t.Name] = t
	}

	seen := make(map[string]bool, len(tools))
	for _, t := range tools {
		seen[t.Name] = true
		if prev, ok := existingByName[t.Name]; ok {
			if toolChanged(prev, t) {
				updated++
			}
		} else {
			added++
		}
		if err := c.store.PutTool(ctx, &t); err != nil {
			return added, updated, removed, mcperrors.Wrap(mcperrors.Internal, 0, err, "persist discovered tool")
		}
	}

	for name := range existingByName {
		if !seen[name] {
			if err := c.store.DeleteTool(ctx, serverID, name); err != nil {
				return added, updated, removed, mcperrors.Wrap(mcperrors.Internal, 0, err, "remove vanished tool")
			}
			removed++
		}
	}

	c.cache.Invalidate(serverID)
	return added, updated, removed, nil
}

// GetByServer returns every tool for serverID, served from cache when fresh.
func (c *Catalog) GetByServer(ctx context.Context, serverID string) ([]model.Tool, error) {
	if tools, ok := c.cache.Get(serverID); ok {
		return tools, nil
	}
	tools, err := c.store.ListToolsByServer(ctx, serverID)
	if err != nil {
		return nil, mcperrors.Wrap(mcperrors.Internal, 0, err, "list tools")
	}
	c.cache.Set(serverID, tools)
	return tools, nil
}

// Get returns one tool by (serverId, name).
func (c *Catalog) Get(ctx context.Context, serverID, name string) (*model.Tool, error) {
	tools, err := c.GetByServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	for _, t := range tools {
		if t.Name == name {
			cp := t
			return &cp, nil
		}
	}
	return nil, mcperrors.New(mcperrors.NotFound, 0, fmt.Sprintf("tool %q not found on server %q", name, serverID))
}

// RemoveForServer drops every tool for serverID, used when the server
// itself is deleted.
func (c *Catalog) RemoveForServer(ctx context.Context, serverID string) error {
	c.locks.Lock(serverID)
	defer c.locks.Unlock(serverID)

	if err := c.store.DeleteToolsForServer(ctx, serverID); err != nil {
		return mcperrors.Wrap(mcperrors.Internal, 0, err, "remove tools for server")
	}
	c.cache.Invalidate(serverID)
	return nil
}

func toolChanged(a, b model.Tool) bool {
	return a.Description != b.Description || a.Version != b.Version || fmt.Sprint(a.InputSchema) != fmt.Sprint(b.InputSchema)
}
