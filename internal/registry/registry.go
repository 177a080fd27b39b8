// Package registry implements the ServerRegistry (C4): CRUD over
// Server with transport-specific validation, transport immutability,
// cached reads, and EventSink emission on every mutation.
package registry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcp-integration/core/internal/cache"
	"github.com/mcp-integration/core/internal/events"
	"github.com/mcp-integration/core/internal/keymutex"
	"github.com/mcp-integration/core/internal/mcperrors"
	"github.com/mcp-integration/core/internal/model"
)

const (
	singleEntryTTL = 5 * time.Minute
	listQueryTTL   = 30 * time.Second
)

// Store is the persistence slice the registry depends on.
type Store interface {
	PutServer(ctx context.Context, s *model.Server) error
	GetServer(ctx context.Context, id string) (*model.Server, error)
	DeleteServer(ctx context.Context, id string) error
	ListServers(ctx context.Context, filter model.ServerFilter) (model.Page[model.Server], error)
}

// CatalogCascade is the slice of ToolCatalog the registry depends on to
// drop a deleted server's tools. Set via AttachCascade once the catalog
// exists; nil until then.
type CatalogCascade interface {
	RemoveForServer(ctx context.Context, serverID string) error
}

// ConnectionCascade is the slice of ConnectionPool the registry depends
// on to drop a deleted server's live connection. Set via AttachCascade
// once the pool exists; nil until then.
type ConnectionCascade interface {
	Remove(ctx context.Context, serverID string)
}

// Registry is the ServerRegistry collaborator.
type Registry struct {
	store Store
	sink  events.Sink

	locks keymutex.KeyMutex

	single *cache.TTL[string, model.Server]
	lists  *cache.TTL[string, model.Page[model.Server]]

	mu         sync.RWMutex
	namesInUse map[string]string // name -> serverId, for the uniqueness check

	catalog CatalogCascade
	pool    ConnectionCascade
}

// New builds a Registry backed by store, emitting through sink.
func New(store Store, sink events.Sink) *Registry {
	if sink == nil {
		sink = events.Noop{}
	}
	return &Registry{
		store:      store,
		sink:       sink,
		single:     cache.New[string, model.Server](singleEntryTTL),
		lists:      cache.New[string, model.Page[model.Server]](listQueryTTL),
		namesInUse: make(map[string]string),
	}
}

// AttachCascade wires the collaborators Delete cascades to. Catalog and
// the connection pool are both constructed after the registry (the pool
// needs the registry as its ServerConfigLookup/StatusSink), so this is
// called once during startup wiring rather than passed to New.
func (r *Registry) AttachCascade(catalog CatalogCascade, pool ConnectionCascade) {
	r.catalog = catalog
	r.pool = pool
}

// Register validates and persists a new Server, assigning its id.
func (r *Registry) Register(ctx context.Context, s model.Server) (*model.Server, error) {
	if err := validateCreate(s); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.namesInUse[s.Name]; ok {
		r.mu.Unlock()
		return nil, mcperrors.New(mcperrors.Conflict, 0, fmt.Sprintf("server name %q already used by %s", s.Name, existing))
	}
	r.mu.Unlock()

	now := time.Now()
	s.ID = uuid.NewString()
	s.Status = model.ServerActive
	s.ConnectionStatus = model.ConnDisconnected
	s.CreatedAt = now
	s.UpdatedAt = now

	r.locks.Lock(s.ID)
	defer r.locks.Unlock(s.ID)

	if err := r.store.PutServer(ctx, &s); err != nil {
		return nil, mcperrors.Wrap(mcperrors.Internal, 0, err, "persist server")
	}

	r.mu.Lock()
	r.namesInUse[s.Name] = s.ID
	r.mu.Unlock()

	r.invalidateAll(s.ID)
	r.sink.Publish(events.New(events.ServerRegistered, s))

	return &s, nil
}

// Update applies a partial update. transport is immutable: a request
// that attempts to change it fails with TransportImmutable.
func (r *Registry) Update(ctx context.Context, id string, patch model.Server) (*model.Server, error) {
	r.locks.Lock(id)
	defer r.locks.Unlock(id)

	current, err := r.store.GetServer(ctx, id)
	if err != nil {
		return nil, mcperrors.Wrap(mcperrors.NotFound, 0, err, fmt.Sprintf("server %q not found", id))
	}

	if patch.Transport.Kind != "" && !transportConfigEqual(patch.Transport, current.Transport) {
		return nil, mcperrors.New(mcperrors.TransportImmutable, 0, "transport is immutable once a server is registered")
	}

	if patch.Name != "" && patch.Name != current.Name {
		r.mu.Lock()
		if owner, ok := r.namesInUse[patch.Name]; ok && owner != id {
			r.mu.Unlock()
			return nil, mcperrors.New(mcperrors.Conflict, 0, fmt.Sprintf("server name %q already used by %s", patch.Name, owner))
		}
		delete(r.namesInUse, current.Name)
		r.namesInUse[patch.Name] = id
		r.mu.Unlock()
		current.Name = patch.Name
	}
	if patch.Description != "" {
		current.Description = patch.Description
	}
	if patch.Status != "" {
		current.Status = patch.Status
	}
	if patch.Metadata != nil {
		current.Metadata = patch.Metadata
	}
	current.UpdatedAt = time.Now()

	if err := r.store.PutServer(ctx, current); err != nil {
		return nil, mcperrors.Wrap(mcperrors.Internal, 0, err, "persist server update")
	}

	r.invalidateAll(id)
	r.sink.Publish(events.New(events.ServerUpdated, *current))

	return current, nil
}

// Delete removes a Server and, atomically from the caller's point of
// view, its tools and live connection: the server row disappears first
// so a concurrent acquire/listTools sees NotFound/empty immediately,
// then the catalog and pool are cleared of anything keyed to it.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.locks.Lock(id)
	defer r.locks.Unlock(id)

	current, err := r.store.GetServer(ctx, id)
	if err != nil {
		return mcperrors.Wrap(mcperrors.NotFound, 0, err, fmt.Sprintf("server %q not found", id))
	}

	if err := r.store.DeleteServer(ctx, id); err != nil {
		return mcperrors.Wrap(mcperrors.Internal, 0, err, "delete server")
	}

	r.mu.Lock()
	delete(r.namesInUse, current.Name)
	r.mu.Unlock()

	r.invalidateAll(id)

	if r.pool != nil {
		r.pool.Remove(ctx, id)
	}
	if r.catalog != nil {
		if err := r.catalog.RemoveForServer(ctx, id); err != nil {
			return mcperrors.Wrap(mcperrors.Internal, 0, err, "remove tools for deleted server")
		}
	}

	r.sink.Publish(events.New(events.ServerDeleted, model.Server{ID: id, Name: current.Name}))

	return nil
}

// Get returns one Server, served from cache when fresh.
func (r *Registry) Get(ctx context.Context, id string) (*model.Server, error) {
	if s, ok := r.single.Get(id); ok {
		cp := s
		return &cp, nil
	}

	s, err := r.store.GetServer(ctx, id)
	if err != nil {
		return nil, mcperrors.Wrap(mcperrors.NotFound, 0, err, fmt.Sprintf("server %q not found", id))
	}
	r.single.Set(id, *s)
	return s, nil
}

// List returns a filtered, paginated view, served from cache when fresh.
func (r *Registry) List(ctx context.Context, filter model.ServerFilter) (model.Page[model.Server], error) {
	key := listCacheKey(filter)
	if page, ok := r.lists.Get(key); ok {
		return page, nil
	}

	page, err := r.store.ListServers(ctx, filter)
	if err != nil {
		return model.Page[model.Server]{}, mcperrors.Wrap(mcperrors.Internal, 0, err, "list servers")
	}
	r.lists.Set(key, page)
	return page, nil
}

// GetTransportConfig implements pool.ServerConfigLookup.
func (r *Registry) GetTransportConfig(ctx context.Context, serverID string) (model.TransportConfig, error) {
	s, err := r.Get(ctx, serverID)
	if err != nil {
		return model.TransportConfig{}, err
	}
	if s.Status != model.ServerActive {
		return model.TransportConfig{}, mcperrors.New(mcperrors.ValidationError, model.CodeServerUnavailable, fmt.Sprintf("server %q is not active", serverID))
	}
	return s.Transport, nil
}

// UpdateConnectionStatus implements pool.StatusSink: the pool owns this
// projection and may update it independently of Status.
func (r *Registry) UpdateConnectionStatus(serverID string, status model.ConnectionStatus, info *model.ServerInfo, lastErr string) {
	ctx := context.Background()
	r.locks.Lock(serverID)
	defer r.locks.Unlock(serverID)

	s, err := r.store.GetServer(ctx, serverID)
	if err != nil {
		return
	}
	s.ConnectionStatus = status
	if info != nil {
		s.ServerInfo = info
	}
	if lastErr != "" {
		s.LastError = lastErr
	}
	if status == model.ConnConnected {
		now := time.Now()
		s.LastHealthCheck = &now
	}
	s.UpdatedAt = time.Now()

	_ = r.store.PutServer(ctx, s)
	r.invalidateAll(serverID)
}

func (r *Registry) invalidateAll(id string) {
	r.single.Invalidate(id)
	r.lists.InvalidateAll()
}

func listCacheKey(f model.ServerFilter) string {
	return fmt.Sprintf("status=%s|name=%s|offset=%d|limit=%d", f.Status, strings.ToLower(f.Name), f.Offset, f.Limit)
}

func transportConfigEqual(a, b model.TransportConfig) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case model.TransportStdio:
		return a.Stdio != nil && b.Stdio != nil && stdioEqual(*a.Stdio, *b.Stdio)
	case model.TransportSSH:
		return a.SSH != nil && b.SSH != nil && *a.SSH == *b.SSH
	case model.TransportDocker:
		return a.Docker != nil && b.Docker != nil && dockerEqual(*a.Docker, *b.Docker)
	case model.TransportHTTP:
		return a.HTTP != nil && b.HTTP != nil && a.HTTP.BaseURL == b.HTTP.BaseURL
	default:
		return true
	}
}

func stdioEqual(a, b model.StdioConfig) bool {
	if a.Command != b.Command || a.WorkingDir != b.WorkingDir || len(a.Args) != len(b.Args) || len(a.Env) != len(b.Env) {
		return false
	}
	for i := range a.Args {
		if a.Args[i] != b.Args[i] {
			return false
		}
	}
	for k, v := range a.Env {
		if b.Env[k] != v {
			return false
		}
	}
	return true
}

func dockerEqual(a, b model.DockerConfig) bool {
	if a.Image != b.Image || a.ContainerName != b.ContainerName || len(a.Command) != len(b.Command) || len(a.Env) != len(b.Env) {
		return false
	}
	for i := range a.Command {
		if a.Command[i] != b.Command[i] {
			return false
		}
	}
	for k, v := range a.Env {
		if b.Env[k] != v {
			return false
		}
	}
	return true
}

func validateCreate(s model.Server) error {
	if strings.TrimSpace(s.Name) == "" {
		return mcperrors.New(mcperrors.ValidationError, 0, "name must be non-empty")
	}
	switch s.Transport.Kind {
	case model.TransportStdio:
		if s.Transport.Stdio == nil || s.Transport.Stdio.Command == "" {
			return mcperrors.New(mcperrors.ValidationError, 0, "stdio transport requires command")
		}
	case model.TransportSSH:
		ssh := s.Transport.SSH
		if ssh == nil || ssh.Host == "" || ssh.Username == "" || ssh.RemoteCommand == "" {
			return mcperrors.New(mcperrors.ValidationError, 0, "ssh transport requires host, username, and remoteCommand")
		}
		switch ssh.CredentialKind {
		case model.SSHCredentialPassword:
			if ssh.Password == "" {
				return mcperrors.New(mcperrors.ValidationError, 0, "ssh password credential requires password")
			}
		case model.SSHCredentialPrivateKey:
			if ssh.PrivateKey == "" {
				return mcperrors.New(mcperrors.ValidationError, 0, "ssh privateKey credential requires privateKey")
			}
		default:
			return mcperrors.New(mcperrors.ValidationError, 0, "ssh transport requires exactly one credential kind")
		}
	case model.TransportDocker:
		d := s.Transport.Docker
		if d == nil || (d.Image == "" && d.ContainerName == "") {
			return mcperrors.New(mcperrors.ValidationError, 0, "docker transport requires image or a pre-existing containerName")
		}
	case model.TransportHTTP:
		h := s.Transport.HTTP
		if h == nil || h.BaseURL == "" {
			return mcperrors.New(mcperrors.ValidationError, 0, "http transport requires baseUrl")
		}
		if _, err := url.ParseRequestURI(h.BaseURL); err != nil {
			return mcperrors.New(mcperrors.ValidationError, 0, "http transport baseUrl must be a syntactically valid URL")
		}
	default:
		return mcperrors.New(mcperrors.ValidationError, 0, fmt.Sprintf("unsupported transport kind %q", s.Transport.Kind))
	}
	return nil
}
