// Package mux implements the JSON-RPC request/response multiplexer
// bound one-to-one to a connected Transport:
// request correlation, notification fan-out, and per-request timeout
// enforcement.
package mux

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mcp-integration/core/internal/mcperrors"
	"github.com/mcp-integration/core/internal/model"
	"github.com/mcp-integration/core/internal/transport"
)

// outcome is delivered once to a PendingRequest's one-shot channel.
type outcome struct {
	result json.RawMessage
	rpcErr *model.RPCError
	err    error // Timeout, or ConnectionError when the connection or multiplexer closes
}

// pendingRequest is the runtime-only record of an in-flight call.
type pendingRequest struct {
	id     uint64
	done   chan outcome
	timer  *time.Timer
}

// NotificationHandler receives inbound notifications (messages with no
// id). The ConnectionPool installs one to watch notifications/message.
type NotificationHandler func(method string, params json.RawMessage)

// Multiplexer is bound to one Transport for its entire lifetime.
type Multiplexer interface {
	// Call sends a request and blocks until a matching response
	// arrives, the deadline elapses, or ctx is cancelled.
	Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, *model.RPCError, error)

	// Notify sends a fire-and-forget notification (no id, no response).
	Notify(method string, params any) error

	// OnNotification installs the handler invoked for every inbound
	// notification. Safe to call once, before the first Call.
	OnNotification(h NotificationHandler)

	// Close fails every outstanding pendingRequest with a ConnectionError
	// and stops the reader loop. Idempotent.
	Close()
}

// New builds the right Multiplexer variant for the transport's kind:
// a correlation-map based mux for the three streaming variants, or the
// degenerate synchronous mux for HTTP.
func New(t transport.Transport, logger *zap.Logger) Multiplexer {
	if ht, ok := t.(httpSender); ok && t.Kind() == model.TransportHTTP {
		return newHTTPMux(ht, logger)
	}
	return newStreamMux(t, logger)
}

// httpSender is implemented only by the HTTP transport.
type httpSender interface {
	SendAndReceive(ctx context.Context, frame []byte) ([]byte, error)
}

// streamMux is the correlation-map multiplexer for stdio/ssh/docker.
type streamMux struct {
	t      transport.Transport
	logger *zap.Logger

	nextID  uint64
	mu      sync.Mutex
	pending map[uint64]*pendingRequest

	notifyHandler NotificationHandler

	closeOnce sync.Once
	closed    chan struct{}
}

func newStreamMux(t transport.Transport, logger *zap.Logger) *streamMux {
	m := &streamMux{
		t:       t,
		logger:  logger.With(zap.String("component", "mux")),
		pending: make(map[uint64]*pendingRequest),
		closed:  make(chan struct{}),
	}
	go m.readLoop()
	return m
}

func (m *streamMux) OnNotification(h NotificationHandler) {
	m.mu.Lock()
	m.notifyHandler = h
	m.mu.Unlock()
}

func (m *streamMux) readLoop() {
	frames := m.t.Frames()
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				m.failAll(mcperrors.New(mcperrors.ConnectionError, model.CodeConnectionError, "connection closed"))
				return
			}
			m.handleFrame(frame)
		case <-m.t.Closed():
			m.failAll(mcperrors.New(mcperrors.ConnectionError, model.CodeConnectionError, "connection closed"))
			return
		case <-m.closed:
			return
		}
	}
}

func (m *streamMux) handleFrame(frame []byte) {
	var resp model.RPCResponse
	if err := json.Unmarshal(frame, &resp); err != nil {
		m.logger.Debug("discarding unparsable frame", zap.Error(err))
		return
	}

	if resp.IsNotification() {
		m.mu.Lock()
		h := m.notifyHandler
		m.mu.Unlock()
		if h != nil {
			h(resp.Method, resp.Params)
		} else {
			m.logger.Debug("discarding notification with no handler", zap.String("method", resp.Method))
		}
		return
	}

	m.mu.Lock()
	pr, ok := m.pending[*resp.ID]
	if ok {
		delete(m.pending, *resp.ID)
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Debug("discarding response for unknown or already-resolved id", zap.Uint64("id", *resp.ID))
		return
	}

	pr.timer.Stop()
	pr.done <- outcome{result: resp.Result, rpcErr: resp.Error}
}

func (m *streamMux) failAll(err error) {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[uint64]*pendingRequest)
	m.mu.Unlock()

	for _, pr := range pending {
		pr.timer.Stop()
		pr.done <- outcome{err: err}
	}
}

func (m *streamMux) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, *model.RPCError, error) {
	id := atomic.AddUint64(&m.nextID, 1)
	req, err := model.NewRequest(id, method, params)
	if err != nil {
		return nil, nil, mcperrors.Wrap(mcperrors.Internal, 0, err, "marshal request params")
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, nil, mcperrors.Wrap(mcperrors.Internal, 0, err, "marshal request")
	}

	pr := &pendingRequest{id: id, done: make(chan outcome, 1)}

	// Insertion precedes write.
	m.mu.Lock()
	select {
	case <-m.closed:
		m.mu.Unlock()
		return nil, nil, mcperrors.New(mcperrors.ConnectionError, model.CodeConnectionError, "multiplexer closed")
	default:
	}
	m.pending[id] = pr
	m.mu.Unlock()

	pr.timer = time.AfterFunc(timeout, func() {
		m.mu.Lock()
		_, stillPending := m.pending[id]
		delete(m.pending, id)
		m.mu.Unlock()
		if stillPending {
			pr.done <- outcome{err: mcperrors.New(mcperrors.Timeout, model.CodeTimeout, fmt.Sprintf("no response to %q within %s", method, timeout))}
		}
	})

	if err := m.t.Send(raw); err != nil {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		pr.timer.Stop()
		return nil, nil, mcperrors.Wrap(mcperrors.ConnectionError, model.CodeConnectionError, err, "send request")
	}

	select {
	case out := <-pr.done:
		if out.err != nil {
			return nil, nil, out.err
		}
		return out.result, out.rpcErr, nil
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		pr.timer.Stop()
		return nil, nil, mcperrors.Wrap(mcperrors.Cancelled, model.CodeCancelled, ctx.Err(), "execution cancelled")
	}
}

func (m *streamMux) Notify(method string, params any) error {
	note, err := model.NewNotification(method, params)
	if err != nil {
		return mcperrors.Wrap(mcperrors.Internal, 0, err, "marshal notification params")
	}
	raw, err := json.Marshal(note)
	if err != nil {
		return mcperrors.Wrap(mcperrors.Internal, 0, err, "marshal notification")
	}
	return m.t.Send(raw)
}

func (m *streamMux) Close() {
	m.closeOnce.Do(func() {
		close(m.closed)
		m.failAll(mcperrors.New(mcperrors.ConnectionError, model.CodeConnectionError, "multiplexer closed"))
	})
}

// httpMux degenerates to one synchronous write-then-read per request;
// no correlation map is needed.
type httpMux struct {
	send   httpSender
	logger *zap.Logger
}

func newHTTPMux(send httpSender, logger *zap.Logger) *httpMux {
	return &httpMux{send: send, logger: logger.With(zap.String("component", "mux"), zap.String("transport", "http"))}
}

func (m *httpMux) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, *model.RPCError, error) {
	req, err := model.NewRequest(1, method, params)
	if err != nil {
		return nil, nil, mcperrors.Wrap(mcperrors.Internal, 0, err, "marshal request params")
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, nil, mcperrors.Wrap(mcperrors.Internal, 0, err, "marshal request")
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := m.send.SendAndReceive(callCtx, raw)
	if err != nil {
		if callCtx.Err() != nil && ctx.Err() == nil {
			return nil, nil, mcperrors.New(mcperrors.Timeout, model.CodeTimeout, fmt.Sprintf("no response to %q within %s", method, timeout))
		}
		return nil, nil, err
	}

	var resp model.RPCResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, nil, mcperrors.Wrap(mcperrors.Internal, 0, err, "unmarshal http response")
	}

	return resp.Result, resp.Error, nil
}

func (m *httpMux) Notify(method string, params any) error {
	req, err := model.NewNotification(method, params)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = m.send.SendAndReceive(context.Background(), raw)
	return err
}

func (m *httpMux) OnNotification(NotificationHandler) {
	// HTTP has no server-initiated notifications; see the design.
}

func (m *httpMux) Close() {}
