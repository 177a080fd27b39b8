package pool

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mcp-integration/core/internal/model"
)

const maxConsecutiveHealthFailures = 3

// healthLoop pings every live connection on a fixed interval; after
// three consecutive failures the connection is removed.
func (p *Pool) healthLoop() {
	defer p.wg.Done()

	interval := p.opts.HealthInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.runHealthSweep()
		}
	}
}

func (p *Pool) runHealthSweep() {
	for _, conn := range p.Snapshot() {
		p.pingOne(conn)
	}
}

func (p *Pool) pingOne(conn *Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _, err := conn.Mux.Call(ctx, "ping", struct{}{}, 10*time.Second)
	if err != nil {
		conn.mu.Lock()
		conn.errorCount++
		failures := conn.errorCount
		conn.state = StateError
		conn.mu.Unlock()

		p.logger.Warn("connection health check failed",
			zap.String("serverId", conn.ServerID), zap.Int("consecutiveFailures", failures), zap.Error(err))

		if p.status != nil {
			p.status.UpdateConnectionStatus(conn.ServerID, model.ConnError, nil, err.Error())
		}

		if failures >= maxConsecutiveHealthFailures {
			p.logger.Warn("removing connection after repeated health check failures", zap.String("serverId", conn.ServerID))
			p.Remove(context.Background(), conn.ServerID)
		}
		return
	}

	conn.mu.Lock()
	conn.errorCount = 0
	conn.state = StateConnected
	conn.mu.Unlock()
}

// idleEvictLoop removes connections that have sat unused past the
// configured idle window.
func (p *Pool) idleEvictLoop() {
	defer p.wg.Done()

	interval := 5 * time.Minute
	idleTTL := p.opts.IdleEvict
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.runIdleSweep(idleTTL)
		}
	}
}

func (p *Pool) runIdleSweep(idleTTL time.Duration) {
	cutoff := time.Now().Add(-idleTTL)
	for _, conn := range p.Snapshot() {
		if conn.InUse() {
			continue
		}
		if conn.LastUsed().Before(cutoff) {
			p.logger.Info("evicting idle connection", zap.String("serverId", conn.ServerID))
			p.Remove(context.Background(), conn.ServerID)
		}
	}
}
