package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mcp-integration/core/internal/events"
	"github.com/mcp-integration/core/internal/model"
)

// stuckSweepLoop is the safety net for executions orphaned by a crash
// between the running transition and the result branch: one left
// running longer than stuckInterval is forced to a terminal failed
// state.
func (e *Engine) stuckSweepLoop() {
	defer e.wg.Done()

	interval := e.stuckInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.sweepStuck(interval)
		}
	}
}

func (e *Engine) sweepStuck(threshold time.Duration) {
	ctx := context.Background()
	page, err := e.store.ListExecutions(ctx, model.ExecutionFilter{Status: model.ExecutionRunning})
	if err != nil {
		e.logger.Warn("stuck-execution sweep failed to list running executions", zap.Error(err))
		return
	}

	cutoff := time.Now().Add(-threshold)
	for _, exec := range page.Items {
		if exec.StartedAt.After(cutoff) {
			continue
		}
		stuck := exec
		now := time.Now()
		stuck.Status = model.ExecutionFailed
		stuck.CompletedAt = &now
		stuck.DurationMs = now.Sub(stuck.StartedAt).Milliseconds()
		stuck.Error = &model.RPCError{Code: model.CodeStuckTimeout, Message: "execution stuck in running past the stuck-execution threshold"}

		if err := e.store.PutExecution(ctx, &stuck); err != nil {
			e.logger.Error("failed to mark stuck execution as failed", zap.String("executionId", stuck.ID), zap.Error(err))
			continue
		}
		e.sink.Publish(events.New(events.ExecutionFailed, stuck))
		e.logger.Warn("marked stuck execution as failed", zap.String("executionId", stuck.ID), zap.String("serverId", stuck.ServerID))
	}
}
