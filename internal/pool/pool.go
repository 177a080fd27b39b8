// Package pool implements the ConnectionPool (C3): at most one live
// Connection per server, acquire/release with reference counting,
// LRU eviction at capacity, singleflight-deduplicated concurrent opens,
// a health-check loop, and an idle-evict loop.
package pool

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mcp-integration/core/internal/mcperrors"
	"github.com/mcp-integration/core/internal/model"
	"github.com/mcp-integration/core/internal/mux"
	"github.com/mcp-integration/core/internal/transport"
)

// ConnState is the runtime-only Connection state machine (Connection is
// never persisted).
type ConnState string

const (
	StateConnecting ConnState = "connecting"
	StateConnected  ConnState = "connected"
	StateClosing    ConnState = "closing"
	StateClosed     ConnState = "closed"
	StateError      ConnState = "error"
)

// Connection is the pool's runtime record. refCount replaces a single
// inUse bool so that several concurrent ExecutionEngine calls against
// the same server share one live Transport/Multiplexer pair, which is
// how the Multiplexer's correlation map is meant to be used.
type Connection struct {
	ServerID  string
	Transport transport.Transport
	Mux       mux.Multiplexer
	ServerInfo *model.ServerInfo

	mu         sync.Mutex
	state      ConnState
	lastUsed   time.Time
	errorCount int
	refCount   int
}

func (c *Connection) InUse() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refCount > 0
}

func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) LastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

// ServerConfigLookup is the narrow slice of ServerRegistry the pool
// depends on, to avoid an import cycle between pool and registry.
type ServerConfigLookup interface {
	GetTransportConfig(ctx context.Context, serverID string) (model.TransportConfig, error)
}

// StatusSink is the narrow slice of ServerRegistry the pool publishes
// connectionStatus transitions to.
type StatusSink interface {
	UpdateConnectionStatus(serverID string, status model.ConnectionStatus, info *model.ServerInfo, lastErr string)
}

// Options configures the pool's capacity and background loop cadence.
type Options struct {
	MaxConnections int
	HealthInterval time.Duration
	IdleEvict      time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
}

// Pool is the ConnectionPool collaborator.
type Pool struct {
	opts   Options
	lookup ServerConfigLookup
	status StatusSink
	logger *zap.Logger

	mu    sync.Mutex
	conns map[string]*Connection

	opening singleflight.Group

	closeOnce sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

// New builds a Pool and starts its background loops.
func New(opts Options, lookup ServerConfigLookup, status StatusSink, logger *zap.Logger) *Pool {
	p := &Pool{
		opts:   opts,
		lookup: lookup,
		status: status,
		logger: logger.With(zap.String("component", "pool")),
		conns:  make(map[string]*Connection),
		stop:   make(chan struct{}),
	}
	p.wg.Add(2)
	go p.healthLoop()
	go p.idleEvictLoop()
	return p
}

// Acquire returns a live Connection for serverId, opening one if none
// exists. Concurrent acquires for the same serverId are deduplicated
// via singleflight; only one open is ever in flight.
func (p *Pool) Acquire(ctx context.Context, serverID string) (*Connection, error) {
	p.mu.Lock()
	if conn, ok := p.conns[serverID]; ok && conn.State() == StateConnected {
		conn.mu.Lock()
		conn.refCount++
		conn.lastUsed = time.Now()
		conn.mu.Unlock()
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	v, err, _ := p.opening.Do(serverID, func() (any, error) {
		return p.open(ctx, serverID)
	})
	if err != nil {
		return nil, err
	}
	conn := v.(*Connection)
	conn.mu.Lock()
	conn.refCount++
	conn.lastUsed = time.Now()
	conn.mu.Unlock()
	return conn, nil
}

func (p *Pool) open(ctx context.Context, serverID string) (*Connection, error) {
	// Another caller may have completed the open while we waited to
	// enter the singleflight group.
	p.mu.Lock()
	if conn, ok := p.conns[serverID]; ok && conn.State() == StateConnected {
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	if err := p.reserveCapacity(serverID); err != nil {
		return nil, err
	}

	cfg, err := p.lookup.GetTransportConfig(ctx, serverID)
	if err != nil {
		return nil, err
	}

	t, err := transport.New(cfg, p.logger)
	if err != nil {
		return nil, err
	}

	if p.status != nil {
		p.status.UpdateConnectionStatus(serverID, model.ConnConnecting, nil, "")
	}

	if err := t.Connect(ctx); err != nil {
		if p.status != nil {
			p.status.UpdateConnectionStatus(serverID, model.ConnError, nil, err.Error())
		}
		return nil, mcperrors.Wrap(mcperrors.ConnectionError, model.CodeConnectionError, err, "connect transport")
	}

	m := mux.New(t, p.logger)

	info, err := handshake(ctx, m)
	if err != nil {
		m.Close()
		_ = t.Disconnect(context.Background())
		if p.status != nil {
			p.status.UpdateConnectionStatus(serverID, model.ConnError, nil, err.Error())
		}
		return nil, mcperrors.Wrap(mcperrors.ConnectionError, model.CodeConnectionError, err, "initialize handshake")
	}

	conn := &Connection{
		ServerID:   serverID,
		Transport:  t,
		Mux:        m,
		ServerInfo: info,
		state:      StateConnected,
		lastUsed:   time.Now(),
	}

	p.mu.Lock()
	p.conns[serverID] = conn
	p.mu.Unlock()

	if p.status != nil {
		p.status.UpdateConnectionStatus(serverID, model.ConnConnected, info, "")
	}

	go p.watchClose(serverID, conn)

	return conn, nil
}

// handshake sends the MCP initialize request and waits for a response
// before the caller may declare the connection connected.
func handshake(ctx context.Context, m mux.Multiplexer) (*model.ServerInfo, error) {
	params := map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities": map[string]any{
			"tools": true, "resources": true, "prompts": true, "logging": true,
		},
		"clientInfo": map[string]any{"name": "mcp-integration", "version": "1"},
	}

	result, rpcErr, err := m.Call(ctx, "initialize", params, 30*time.Second)
	if err != nil {
		return nil, err
	}
	if rpcErr != nil {
		return nil, mcperrors.New(mcperrors.ConnectionError, rpcErr.Code, rpcErr.Message)
	}

	var parsed struct {
		Capabilities    model.Capabilities `json:"capabilities"`
		ProtocolVersion string             `json:"protocolVersion"`
		ServerInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, mcperrors.Wrap(mcperrors.Internal, 0, err, "parse initialize response")
	}

	return &model.ServerInfo{
		ProtocolVersion: parsed.ProtocolVersion,
		Capabilities:    parsed.Capabilities,
		VendorName:      parsed.ServerInfo.Name,
		VendorVersion:   parsed.ServerInfo.Version,
	}, nil
}

// watchClose removes a Connection from the pool the moment its
// Transport reports closed, without waiting for the next idle sweep.
func (p *Pool) watchClose(serverID string, conn *Connection) {
	<-conn.Transport.Closed()
	p.mu.Lock()
	if p.conns[serverID] == conn {
		delete(p.conns, serverID)
	}
	p.mu.Unlock()
	conn.mu.Lock()
	conn.state = StateClosed
	conn.mu.Unlock()
	conn.Mux.Close()
	if p.status != nil {
		lastErr := ""
		if err := conn.Transport.LastError(); err != nil {
			lastErr = err.Error()
		}
		p.status.UpdateConnectionStatus(serverID, model.ConnDisconnected, nil, lastErr)
	}
}

// reserveCapacity evicts the least-recently-used idle connection when
// the pool is at capacity, or fails with PoolExhausted when every
// connection is in use.
func (p *Pool) reserveCapacity(excludeServerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.conns) < p.opts.MaxConnections {
		return nil
	}
	if _, exists := p.conns[excludeServerID]; exists {
		return nil
	}

	var lruID string
	var lruAt time.Time
	for id, c := range p.conns {
		if c.InUse() {
			continue
		}
		t := c.LastUsed()
		if lruID == "" || t.Before(lruAt) {
			lruID, lruAt = id, t
		}
	}

	if lruID == "" {
		return mcperrors.New(mcperrors.PoolExhausted, 0, "connection pool at capacity and every connection is in use")
	}

	victim := p.conns[lruID]
	delete(p.conns, lruID)
	go p.closeConnection(lruID, victim)
	return nil
}

// Release clears one borrower's hold on serverId's connection. If the
// underlying Transport has since reported closed or errored, the entry
// is removed.
func (p *Pool) Release(serverID string) {
	p.mu.Lock()
	conn, ok := p.conns[serverID]
	p.mu.Unlock()
	if !ok {
		return
	}

	conn.mu.Lock()
	if conn.refCount > 0 {
		conn.refCount--
	}
	conn.lastUsed = time.Now()
	conn.mu.Unlock()

	if !conn.Transport.IsConnected() {
		p.mu.Lock()
		if p.conns[serverID] == conn {
			delete(p.conns, serverID)
		}
		p.mu.Unlock()
		go p.closeConnection(serverID, conn)
	}
}

// Remove disconnects and discards any live Connection for serverId.
// Outstanding requests terminate via the Multiplexer's ConnectionClosed
// path when Close runs.
func (p *Pool) Remove(ctx context.Context, serverID string) {
	p.mu.Lock()
	conn, ok := p.conns[serverID]
	if ok {
		delete(p.conns, serverID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	p.closeConnection(serverID, conn)
}

func (p *Pool) closeConnection(serverID string, conn *Connection) {
	conn.mu.Lock()
	conn.state = StateClosing
	conn.mu.Unlock()

	conn.Mux.Close()
	if err := transport.GracefulDisconnect(context.Background(), conn.Transport, p.logger); err != nil {
		p.logger.Warn("error disconnecting transport", zap.String("serverId", serverID), zap.Error(err))
	}

	conn.mu.Lock()
	conn.state = StateClosed
	conn.mu.Unlock()

	if p.status != nil {
		p.status.UpdateConnectionStatus(serverID, model.ConnDisconnected, nil, "")
	}
}

// Get returns the current live Connection for serverId, if any, without
// acquiring a reference. The health/discovery loop does not use it; it
// goes through Acquire/Release.
func (p *Pool) Get(serverID string) (*Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	conn, ok := p.conns[serverID]
	if !ok || conn.State() != StateConnected {
		return nil, false
	}
	return conn, ok
}

// Snapshot returns every live connection, for the health-check and
// idle-evict loops.
func (p *Pool) Snapshot() []*Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		out = append(out, c)
	}
	return out
}

// Close stops the background loops and disconnects every live
// connection. Idempotent.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.stop)
	})
	p.wg.Wait()

	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*Connection)
	p.mu.Unlock()

	for id, c := range conns {
		p.closeConnection(id, c)
	}
}
