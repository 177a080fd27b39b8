// Package health implements the Health/Discovery loop (C8): independent
// health-probe and tool-discovery tickers fanned out per active Server
// with golang.org/x/sync/errgroup so one slow server never delays the
// others' probes within the same sweep.
package health

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mcp-integration/core/internal/events"
	"github.com/mcp-integration/core/internal/mcperrors"
	"github.com/mcp-integration/core/internal/model"
	"github.com/mcp-integration/core/internal/pool"
)

// Registry is the slice of ServerRegistry the loop depends on.
type Registry interface {
	List(ctx context.Context, filter model.ServerFilter) (model.Page[model.Server], error)
	UpdateConnectionStatus(serverID string, status model.ConnectionStatus, info *model.ServerInfo, lastErr string)
}

// Catalog is the slice of ToolCatalog the discovery sweep writes to.
type Catalog interface {
	ReplaceForServer(ctx context.Context, serverID string, tools []model.Tool) (added, updated, removed int, err error)
}

// ConnectionSource is the slice of ConnectionPool the loop depends on to
// reach a server for a ping or a tools/list call.
type ConnectionSource interface {
	Acquire(ctx context.Context, serverID string) (*pool.Connection, error)
	Release(serverID string)
}

// ScanResult is the return shape of an on-demand discovery sweep.
type ScanResult struct {
	ServersScanned  int             `json:"serversScanned"`
	ToolsDiscovered int             `json:"toolsDiscovered"`
	Errors          []ScanError     `json:"errors"`
}

// ScanError names one server that failed during a sweep.
type ScanError struct {
	ServerID string `json:"serverId"`
	Error    string `json:"error"`
}

// Options configures the loop's tick cadence.
type Options struct {
	HealthInterval    time.Duration
	DiscoveryInterval time.Duration
}

// Loop runs the background health and discovery tickers.
type Loop struct {
	opts     Options
	registry Registry
	catalog  Catalog
	pool     ConnectionSource
	sink     events.Sink
	logger   *zap.Logger

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New builds a Loop and starts its two background tickers.
func New(opts Options, registry Registry, catalog Catalog, p ConnectionSource, sink events.Sink, logger *zap.Logger) *Loop {
	if sink == nil {
		sink = events.Noop{}
	}
	l := &Loop{
		opts:     opts,
		registry: registry,
		catalog:  catalog,
		pool:     p,
		sink:     sink,
		logger:   logger.With(zap.String("component", "health")),
		stop:     make(chan struct{}),
	}
	l.wg.Add(2)
	go l.healthTicker()
	go l.discoveryTicker()
	return l
}

func (l *Loop) healthTicker() {
	defer l.wg.Done()
	interval := l.opts.HealthInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.runHealthSweep(context.Background())
		}
	}
}

func (l *Loop) discoveryTicker() {
	defer l.wg.Done()
	interval := l.opts.DiscoveryInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			_, _ = l.Discover(context.Background(), "")
		}
	}
}

func (l *Loop) activeServers(ctx context.Context, serverID string) ([]model.Server, error) {
	if serverID != "" {
		page, err := l.registry.List(ctx, model.ServerFilter{Status: model.ServerActive})
		if err != nil {
			return nil, err
		}
		for _, s := range page.Items {
			if s.ID == serverID {
				return []model.Server{s}, nil
			}
		}
		return nil, mcperrors.New(mcperrors.NotFound, 0, "server not found or not active")
	}

	page, err := l.registry.List(ctx, model.ServerFilter{Status: model.ServerActive})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (l *Loop) runHealthSweep(ctx context.Context) {
	servers, err := l.activeServers(ctx, "")
	if err != nil {
		l.logger.Warn("health sweep failed to list active servers", zap.Error(err))
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range servers {
		s := s
		g.Go(func() error {
			l.pingServer(gctx, s)
			return nil
		})
	}
	_ = g.Wait()
}

func (l *Loop) pingServer(ctx context.Context, s model.Server) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := l.pool.Acquire(probeCtx, s.ID)
	if err != nil {
		l.registry.UpdateConnectionStatus(s.ID, model.ConnError, nil, err.Error())
		return
	}
	defer l.pool.Release(s.ID)

	if _, rpcErr, err := conn.Mux.Call(probeCtx, "ping", struct{}{}, 10*time.Second); err != nil || rpcErr != nil {
		msg := ""
		if err != nil {
			msg = err.Error()
		} else {
			msg = rpcErr.Message
		}
		l.registry.UpdateConnectionStatus(s.ID, model.ConnError, nil, msg)
		return
	}

	l.registry.UpdateConnectionStatus(s.ID, model.ConnConnected, nil, "")
}

// Discover runs an on-demand discovery sweep. An empty serverID scans
// every active server; a non-empty one scans just that server.
func (l *Loop) Discover(ctx context.Context, serverID string) (ScanResult, error) {
	servers, err := l.activeServers(ctx, serverID)
	if err != nil {
		return ScanResult{}, err
	}

	var (
		mu     sync.Mutex
		result = ScanResult{}
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range servers {
		s := s
		g.Go(func() error {
			n, scanErr := l.discoverServer(gctx, s)
			mu.Lock()
			defer mu.Unlock()
			result.ServersScanned++
			result.ToolsDiscovered += n
			if scanErr != nil {
				result.Errors = append(result.Errors, ScanError{ServerID: s.ID, Error: scanErr.Error()})
			}
			return nil
		})
	}
	_ = g.Wait()

	return result, nil
}

func (l *Loop) discoverServer(ctx context.Context, s model.Server) (int, error) {
	discoverCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	conn, err := l.pool.Acquire(discoverCtx, s.ID)
	if err != nil {
		return 0, err
	}
	defer l.pool.Release(s.ID)

	raw, rpcErr, err := conn.Mux.Call(discoverCtx, "tools/list", struct{}{}, 30*time.Second)
	if err != nil {
		return 0, err
	}
	if rpcErr != nil {
		return 0, mcperrors.New(mcperrors.ToolError, rpcErr.Code, rpcErr.Message)
	}

	var parsed struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return 0, mcperrors.Wrap(mcperrors.Internal, 0, err, "parse tools/list response")
	}

	tools := make([]model.Tool, 0, len(parsed.Tools))
	for _, t := range parsed.Tools {
		tools = append(tools, model.Tool{
			ServerID:    s.ID,
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	added, updated, removed, err := l.catalog.ReplaceForServer(ctx, s.ID, tools)
	if err != nil {
		return 0, err
	}

	l.sink.Publish(events.New(events.ToolsDiscovered, map[string]any{
		"serverId": s.ID, "added": added, "updated": updated, "removed": removed, "total": len(tools),
	}))

	return len(tools), nil
}

// Close stops both background tickers.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.stop) })
	l.wg.Wait()
}
