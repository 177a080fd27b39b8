package mux

import (
	"context"
	"errors"
	"sync"

	"github.com/mcp-integration/core/internal/model"
)

// fakeTransport is a minimal in-memory Transport double driving the
// streamMux's readLoop without spawning a real subprocess or socket.
type fakeTransport struct {
	mu      sync.Mutex
	sent    [][]byte
	frames  chan []byte
	closed  chan struct{}
	sendErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		frames: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error    { return nil }
func (f *fakeTransport) Disconnect(ctx context.Context) error { return nil }

func (f *fakeTransport) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeTransport) Frames() <-chan []byte { return f.frames }
func (f *fakeTransport) Closed() <-chan struct{} { return f.closed }
func (f *fakeTransport) IsConnected() bool       { return true }
func (f *fakeTransport) LastError() error        { return nil }
func (f *fakeTransport) Kind() model.TransportKind { return model.TransportStdio }
func (f *fakeTransport) Diagnostics() map[string]any { return nil }

func (f *fakeTransport) deliver(frame []byte) {
	f.frames <- frame
}

func (f *fakeTransport) close() {
	close(f.closed)
}

func (f *fakeTransport) lastSent() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

var errSend = errors.New("send failed")
