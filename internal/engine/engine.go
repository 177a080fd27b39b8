// Package engine implements the ExecutionEngine (C6): the single
// public entry point that turns a (serverId, method, params) call into
// a tracked Execution, driving it through the registry, the connection
// pool, and the multiplexer to a terminal state.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mcp-integration/core/internal/events"
	"github.com/mcp-integration/core/internal/mcperrors"
	"github.com/mcp-integration/core/internal/metrics"
	"github.com/mcp-integration/core/internal/model"
	"github.com/mcp-integration/core/internal/pool"
)

const (
	minTimeout     = time.Second
	maxTimeout     = 10 * time.Minute
	defaultTimeout = 30 * time.Second
)

// Store is the persistence slice the engine depends on.
type Store interface {
	PutExecution(ctx context.Context, e *model.Execution) error
	GetExecution(ctx context.Context, id string) (*model.Execution, error)
	ListExecutions(ctx context.Context, filter model.ExecutionFilter) (model.Page[model.Execution], error)
}

// ServerLookup is the slice of ServerRegistry the engine depends on to
// validate a server is active before dispatching.
type ServerLookup interface {
	Get(ctx context.Context, id string) (*model.Server, error)
}

// ConnectionSource is the slice of ConnectionPool the engine depends on
// to borrow a live Connection for the duration of one call.
type ConnectionSource interface {
	Acquire(ctx context.Context, serverID string) (*pool.Connection, error)
	Release(serverID string)
}

// Options configures an invocation that did not specify every field.
type Options struct {
	Timeout    time.Duration
	Async      bool
	ExecutedBy string
}

// Engine is the ExecutionEngine collaborator.
type Engine struct {
	store    Store
	registry ServerLookup
	pool     ConnectionSource
	sink     events.Sink
	metrics  *metrics.Manager
	logger   *zap.Logger

	stuckInterval time.Duration

	mu        sync.Mutex
	cancels   map[string]context.CancelFunc
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New builds an Engine and starts its stuck-execution sweeper.
func New(store Store, registry ServerLookup, p ConnectionSource, sink events.Sink, m *metrics.Manager, stuckInterval time.Duration, logger *zap.Logger) *Engine {
	if sink == nil {
		sink = events.Noop{}
	}
	e := &Engine{
		store:         store,
		registry:      registry,
		pool:          p,
		sink:          sink,
		metrics:       m,
		logger:        logger.With(zap.String("component", "engine")),
		stuckInterval: stuckInterval,
		cancels:       make(map[string]context.CancelFunc),
		stop:          make(chan struct{}),
	}
	e.wg.Add(1)
	go e.stuckSweepLoop()
	return e
}

// Execute drives a call to a terminal Execution state. When opts.Async
// is false it blocks until completion and returns the final record; when
// true it dispatches the call on a detached goroutine (so it survives
// the caller's context being cancelled) and returns the still-pending
// record immediately, to be observed later via GetExecution.
func (e *Engine) Execute(ctx context.Context, serverID, method string, params map[string]any, opts Options) (*model.Execution, error) {
	timeout := clampTimeout(opts.Timeout)

	exec := &model.Execution{
		ID:         uuid.NewString(),
		ServerID:   serverID,
		Method:     method,
		Params:     params,
		Status:     model.ExecutionPending,
		StartedAt:  time.Now(),
		ExecutedBy: opts.ExecutedBy,
	}

	if err := e.store.PutExecution(ctx, exec); err != nil {
		return nil, mcperrors.Wrap(mcperrors.Internal, 0, err, "persist pending execution")
	}
	e.sink.Publish(events.New(events.ExecutionStarted, *exec))

	if opts.Async {
		go e.dispatch(context.WithoutCancel(ctx), exec, serverID, method, params, timeout)
		return exec, nil
	}

	return e.dispatch(ctx, exec, serverID, method, params, timeout), nil
}

// dispatch validates the server, borrows a pooled connection, issues the
// call, and drives exec to its terminal state. Shared by the sync and
// async paths of Execute.
func (e *Engine) dispatch(ctx context.Context, exec *model.Execution, serverID, method string, params map[string]any, timeout time.Duration) *model.Execution {
	server, err := e.registry.Get(ctx, serverID)
	if err != nil || server.Status != model.ServerActive {
		return e.fail(ctx, exec, model.CodeServerUnavailable, fmt.Sprintf("server %q is not available", serverID))
	}

	conn, err := e.pool.Acquire(ctx, serverID)
	if err != nil {
		return e.fail(ctx, exec, model.CodeConnectionError, err.Error())
	}
	defer e.pool.Release(serverID)

	exec.Status = model.ExecutionRunning
	if err := e.store.PutExecution(ctx, exec); err != nil {
		e.logger.Warn("failed to persist running transition", zap.String("executionId", exec.ID), zap.Error(err))
	}

	execCtx, cancel := context.WithCancel(ctx)
	e.registerCancel(exec.ID, cancel)
	defer e.clearCancel(exec.ID)

	result, rpcErr, callErr := conn.Mux.Call(execCtx, method, params, timeout)

	switch {
	case callErr != nil && mcperrors.Is(callErr, mcperrors.Cancelled):
		return e.finishCancelled(ctx, exec)
	case callErr != nil && mcperrors.Is(callErr, mcperrors.Timeout):
		return e.fail(ctx, exec, model.CodeTimeout, callErr.Error())
	case callErr != nil:
		return e.fail(ctx, exec, model.CodeConnectionError, callErr.Error())
	case rpcErr != nil:
		return e.failWithRPCError(ctx, exec, rpcErr)
	default:
		return e.complete(ctx, exec, result)
	}
}

func (e *Engine) registerCancel(executionID string, cancel context.CancelFunc) {
	e.mu.Lock()
	e.cancels[executionID] = cancel
	e.mu.Unlock()
}

func (e *Engine) clearCancel(executionID string) {
	e.mu.Lock()
	delete(e.cancels, executionID)
	e.mu.Unlock()
}

// Cancel requests cancellation of an in-flight execution. A no-op if
// the execution is not currently running.
func (e *Engine) Cancel(executionID string) bool {
	e.mu.Lock()
	cancel, ok := e.cancels[executionID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

func (e *Engine) complete(ctx context.Context, exec *model.Execution, raw json.RawMessage) *model.Execution {
	now := time.Now()
	exec.Status = model.ExecutionCompleted
	exec.CompletedAt = &now
	exec.DurationMs = now.Sub(exec.StartedAt).Milliseconds()
	var result map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &result)
	}
	exec.Result = result

	e.persistTerminal(ctx, exec)
	e.sink.Publish(events.New(events.ExecutionCompleted, *exec))
	if e.metrics != nil {
		e.metrics.ObserveExecution(string(exec.Status), time.Duration(exec.DurationMs*int64(time.Millisecond)).Seconds())
	}
	return exec
}

func (e *Engine) fail(ctx context.Context, exec *model.Execution, code int, message string) *model.Execution {
	now := time.Now()
	exec.Status = model.ExecutionFailed
	exec.CompletedAt = &now
	exec.DurationMs = now.Sub(exec.StartedAt).Milliseconds()
	exec.Error = &model.RPCError{Code: code, Message: message}

	e.persistTerminal(ctx, exec)
	e.sink.Publish(events.New(events.ExecutionFailed, *exec))
	if e.metrics != nil {
		e.metrics.ObserveExecution(string(exec.Status), time.Duration(exec.DurationMs*int64(time.Millisecond)).Seconds())
	}
	return exec
}

func (e *Engine) failWithRPCError(ctx context.Context, exec *model.Execution, rpcErr *model.RPCError) *model.Execution {
	return e.fail(ctx, exec, rpcErr.Code, rpcErr.Message)
}

// finishCancelled moves exec to the terminal cancelled state. A
// cancelled Execution carries neither result nor error: the -32800
// sentinel is informational context for the emitted event only, never
// persisted or returned on exec itself.
func (e *Engine) finishCancelled(ctx context.Context, exec *model.Execution) *model.Execution {
	now := time.Now()
	exec.Status = model.ExecutionCancelled
	exec.CompletedAt = &now
	exec.DurationMs = now.Sub(exec.StartedAt).Milliseconds()

	e.persistTerminal(ctx, exec)

	eventPayload := *exec
	eventPayload.Error = &model.RPCError{Code: model.CodeCancelled, Message: "execution cancelled"}
	e.sink.Publish(events.New(events.ExecutionFailed, eventPayload))

	if e.metrics != nil {
		e.metrics.ObserveExecution(string(exec.Status), time.Duration(exec.DurationMs*int64(time.Millisecond)).Seconds())
	}
	return exec
}

func (e *Engine) persistTerminal(ctx context.Context, exec *model.Execution) {
	if err := e.store.PutExecution(ctx, exec); err != nil {
		e.logger.Error("failed to persist terminal execution", zap.String("executionId", exec.ID), zap.Error(err))
	}
}

// GetExecution returns the persisted Execution by id.
func (e *Engine) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	exec, err := e.store.GetExecution(ctx, id)
	if err != nil {
		return nil, mcperrors.Wrap(mcperrors.Internal, 0, err, "read execution")
	}
	if exec == nil {
		return nil, mcperrors.New(mcperrors.NotFound, 0, fmt.Sprintf("execution %q not found", id))
	}
	return exec, nil
}

// ListExecutions supports filters on serverId, status, and time range.
func (e *Engine) ListExecutions(ctx context.Context, filter model.ExecutionFilter) (model.Page[model.Execution], error) {
	page, err := e.store.ListExecutions(ctx, filter)
	if err != nil {
		return model.Page[model.Execution]{}, mcperrors.Wrap(mcperrors.Internal, 0, err, "list executions")
	}
	return page, nil
}

// Close stops the stuck-execution sweeper.
func (e *Engine) Close() {
	e.closeOnce.Do(func() { close(e.stop) })
	e.wg.Wait()
}

func clampTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		return defaultTimeout
	}
	if requested < minTimeout {
		return minTimeout
	}
	if requested > maxTimeout {
		return maxTimeout
	}
	return requested
}
