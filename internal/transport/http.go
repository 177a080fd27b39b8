package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mcp-integration/core/internal/mcperrors"
	"github.com/mcp-integration/core/internal/model"
)

// httpTransport issues one POST per JSON-RPC call against a configured
// base URL; there is no long-lived reader and no server-initiated
// notifications.
type httpTransport struct {
	cfg    *model.HTTPConfig
	logger *zap.Logger
	client *http.Client

	mu        sync.RWMutex
	connected bool
	lastErr   error
}

func newHTTPTransport(cfg *model.HTTPConfig, logger *zap.Logger) *httpTransport {
	return &httpTransport{
		cfg:    cfg,
		logger: logger.With(zap.String("transport", "http"), zap.String("baseUrl", cfg.BaseURL)),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *httpTransport) Kind() model.TransportKind { return model.TransportHTTP }

// Connect on the HTTP variant performs no network I/O and does not check
// reachability; it only marks the transport connected. The medium itself
// is stateless (one request per call).
func (t *httpTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	t.connected = true
	t.lastErr = nil
	t.mu.Unlock()
	return nil
}

func (t *httpTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	return nil
}

// Send is not supported on the HTTP variant and always returns an error;
// calls go through SendAndReceive instead.
func (t *httpTransport) Send(frame []byte) error {
	return fmt.Errorf("httpTransport.Send must be called via SendAndReceive")
}

// SendAndReceive is the HTTP-specific synchronous call used by the
// degenerate httpMux (see internal/mux).
func (t *httpTransport) SendAndReceive(ctx context.Context, frame []byte) ([]byte, error) {
	t.mu.RLock()
	connected := t.connected
	t.mu.RUnlock()
	if !connected {
		return nil, mcperrors.New(mcperrors.ConnectionError, 0, "http transport not connected")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL, bytes.NewReader(frame))
	if err != nil {
		return nil, mcperrors.Wrap(mcperrors.Internal, 0, err, "build http request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		t.mu.Lock()
		t.lastErr = err
		t.mu.Unlock()
		return nil, mcperrors.Wrap(mcperrors.ConnectionError, 0, err, "http request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, mcperrors.Wrap(mcperrors.ConnectionError, 0, err, "read http response body")
	}

	if resp.StatusCode >= 400 {
		return nil, mcperrors.New(mcperrors.ConnectionError, 0, fmt.Sprintf("http %d: %s", resp.StatusCode, truncate(body, 500)))
	}

	return body, nil
}

// Frames is nil for HTTP: there is no long-lived reader. A received
// server-initiated notification (which this transport cannot produce)
// would be ignored with a warning.
func (t *httpTransport) Frames() <-chan []byte { return nil }

func (t *httpTransport) Closed() <-chan struct{} {
	ch := make(chan struct{})
	t.mu.RLock()
	connected := t.connected
	t.mu.RUnlock()
	if !connected {
		close(ch)
	}
	return ch
}

func (t *httpTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

func (t *httpTransport) LastError() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastErr
}

func (t *httpTransport) Diagnostics() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d := map[string]any{
		"connected": t.connected,
		"baseUrl":   t.cfg.BaseURL,
	}
	if t.lastErr != nil {
		d["lastError"] = t.lastErr.Error()
	}
	return d
}
