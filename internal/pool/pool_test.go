package pool

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mcp-integration/core/internal/mcperrors"
	"github.com/mcp-integration/core/internal/model"
	"github.com/mcp-integration/core/internal/mux"
)

// fakeTransport is a minimal transport.Transport double. Pool never
// constructs one itself (that's transport.New's job), so tests that
// want control over the Transport side build Connection values by
// hand rather than going through Pool.Acquire.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	closed    chan struct{}
	lastErr   error
	kind      model.TransportKind
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{connected: true, closed: make(chan struct{}), kind: model.TransportStdio}
}

func (f *fakeTransport) Connect(ctx context.Context) error { f.connected = true; return nil }
func (f *fakeTransport) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		f.connected = false
		close(f.closed)
	}
	return nil
}
func (f *fakeTransport) Send(frame []byte) error       { return nil }
func (f *fakeTransport) Frames() <-chan []byte          { return nil }
func (f *fakeTransport) Closed() <-chan struct{}        { return f.closed }
func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
func (f *fakeTransport) LastError() error                   { return f.lastErr }
func (f *fakeTransport) Kind() model.TransportKind           { return f.kind }
func (f *fakeTransport) Diagnostics() map[string]any         { return nil }

// fakeMux is a minimal mux.Multiplexer double.
type fakeMux struct {
	mu     sync.Mutex
	closed bool
	callFn func(ctx context.Context, method string) (json.RawMessage, *model.RPCError, error)
}

func (f *fakeMux) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, *model.RPCError, error) {
	if f.callFn != nil {
		return f.callFn(ctx, method)
	}
	return json.RawMessage(`{}`), nil, nil
}
func (f *fakeMux) Notify(method string, params any) error { return nil }
func (f *fakeMux) OnNotification(h mux.NotificationHandler) {}
func (f *fakeMux) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func newTestPool(opts Options) *Pool {
	return &Pool{
		opts:   opts,
		logger: zap.NewNop(),
		conns:  make(map[string]*Connection),
		stop:   make(chan struct{}),
	}
}

func newConnectedConn(serverID string, tr *fakeTransport, m *fakeMux) *Connection {
	return &Connection{
		ServerID:  serverID,
		Transport: tr,
		Mux:       m,
		state:     StateConnected,
		lastUsed:  time.Now(),
	}
}

func TestReserveCapacityEvictsLRUWhenFull(t *testing.T) {
	p := newTestPool(Options{MaxConnections: 2})

	oldTr := newFakeTransport()
	oldConn := newConnectedConn("old", oldTr, &fakeMux{})
	oldConn.lastUsed = time.Now().Add(-time.Hour)

	newTr := newFakeTransport()
	newConn := newConnectedConn("new", newTr, &fakeMux{})

	p.conns["old"] = oldConn
	p.conns["new"] = newConn

	err := p.reserveCapacity("incoming")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		_, stillThere := p.conns["old"]
		return !stillThere
	}, time.Second, time.Millisecond, "least-recently-used idle connection should have been evicted")

	p.mu.Lock()
	_, newStillThere := p.conns["new"]
	p.mu.Unlock()
	assert.True(t, newStillThere)
}

func TestReserveCapacityFailsWhenEveryConnectionInUse(t *testing.T) {
	p := newTestPool(Options{MaxConnections: 1})

	conn := newConnectedConn("busy", newFakeTransport(), &fakeMux{})
	conn.refCount = 1
	p.conns["busy"] = conn

	err := p.reserveCapacity("incoming")
	require.Error(t, err)
	assert.True(t, mcperrors.Is(err, mcperrors.PoolExhausted))
}

func TestReserveCapacitySkipsWhenServerAlreadyHasSlot(t *testing.T) {
	p := newTestPool(Options{MaxConnections: 1})
	conn := newConnectedConn("srv-1", newFakeTransport(), &fakeMux{})
	p.conns["srv-1"] = conn

	err := p.reserveCapacity("srv-1")
	assert.NoError(t, err)
	assert.Len(t, p.conns, 1)
}

func TestReleaseDecrementsRefCount(t *testing.T) {
	p := newTestPool(Options{MaxConnections: 4})
	conn := newConnectedConn("srv-1", newFakeTransport(), &fakeMux{})
	conn.refCount = 2
	p.conns["srv-1"] = conn

	p.Release("srv-1")

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, 1, conn.refCount)
}

func TestReleaseRemovesDisconnectedTransport(t *testing.T) {
	p := newTestPool(Options{MaxConnections: 4})
	tr := newFakeTransport()
	tr.connected = false
	conn := newConnectedConn("srv-1", tr, &fakeMux{})
	conn.refCount = 1
	p.conns["srv-1"] = conn

	p.Release("srv-1")

	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		_, ok := p.conns["srv-1"]
		return !ok
	}, time.Second, time.Millisecond)
}

func TestGetReturnsOnlyConnectedEntries(t *testing.T) {
	p := newTestPool(Options{MaxConnections: 4})
	connected := newConnectedConn("up", newFakeTransport(), &fakeMux{})
	errored := newConnectedConn("down", newFakeTransport(), &fakeMux{})
	errored.state = StateError

	p.conns["up"] = connected
	p.conns["down"] = errored

	got, ok := p.Get("up")
	assert.True(t, ok)
	assert.Same(t, connected, got)

	_, ok = p.Get("down")
	assert.False(t, ok)
}

func TestSnapshotReturnsAllConnections(t *testing.T) {
	p := newTestPool(Options{MaxConnections: 4})
	p.conns["a"] = newConnectedConn("a", newFakeTransport(), &fakeMux{})
	p.conns["b"] = newConnectedConn("b", newFakeTransport(), &fakeMux{})

	snap := p.Snapshot()
	assert.Len(t, snap, 2)
}

func TestPingOneRemovesConnectionAfterRepeatedFailures(t *testing.T) {
	p := newTestPool(Options{MaxConnections: 4})
	m := &fakeMux{callFn: func(ctx context.Context, method string) (json.RawMessage, *model.RPCError, error) {
		return nil, nil, assert.AnError
	}}
	conn := newConnectedConn("flaky", newFakeTransport(), m)
	p.conns["flaky"] = conn

	for i := 0; i < maxConsecutiveHealthFailures; i++ {
		p.pingOne(conn)
	}

	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		_, ok := p.conns["flaky"]
		return !ok
	}, time.Second, time.Millisecond, "connection should be removed after maxConsecutiveHealthFailures")
}

func TestPingOneResetsErrorCountOnSuccess(t *testing.T) {
	p := newTestPool(Options{MaxConnections: 4})
	conn := newConnectedConn("healthy", newFakeTransport(), &fakeMux{})
	conn.errorCount = 2
	conn.state = StateError
	p.conns["healthy"] = conn

	p.pingOne(conn)

	assert.Equal(t, 0, conn.errorCount)
	assert.Equal(t, StateConnected, conn.State())
}

func TestRunIdleSweepEvictsOnlyPastCutoffAndUnused(t *testing.T) {
	p := newTestPool(Options{MaxConnections: 4})

	stale := newConnectedConn("stale", newFakeTransport(), &fakeMux{})
	stale.lastUsed = time.Now().Add(-time.Hour)

	fresh := newConnectedConn("fresh", newFakeTransport(), &fakeMux{})

	busy := newConnectedConn("busy", newFakeTransport(), &fakeMux{})
	busy.lastUsed = time.Now().Add(-time.Hour)
	busy.refCount = 1

	p.conns["stale"] = stale
	p.conns["fresh"] = fresh
	p.conns["busy"] = busy

	p.runIdleSweep(time.Minute)

	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		_, staleThere := p.conns["stale"]
		return !staleThere
	}, time.Second, time.Millisecond)

	p.mu.Lock()
	_, freshThere := p.conns["fresh"]
	_, busyThere := p.conns["busy"]
	p.mu.Unlock()
	assert.True(t, freshThere, "recently used connection must survive the sweep")
	assert.True(t, busyThere, "in-use connection must survive the sweep regardless of age")
}

func TestClosePreventsFurtherHealthChecksAndDrainsConnections(t *testing.T) {
	p := newTestPool(Options{MaxConnections: 4})
	p.wg.Add(2)
	go p.healthLoop()
	go p.idleEvictLoop()

	tr := newFakeTransport()
	conn := newConnectedConn("srv-1", tr, &fakeMux{})
	p.conns["srv-1"] = conn

	p.Close()

	assert.False(t, tr.IsConnected())
	assert.Empty(t, p.conns)
}
