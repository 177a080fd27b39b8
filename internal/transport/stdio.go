package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mcp-integration/core/internal/mcperrors"
	"github.com/mcp-integration/core/internal/model"
	"github.com/mcp-integration/core/internal/secureenv"
)

// stdioTransport spawns a child process with argv [command, args...] and
// speaks newline-delimited JSON over its stdin/stdout. Stderr is
// captured and forwarded to the logger at warn level but never parsed
// as protocol.
type stdioTransport struct {
	cfg    *model.StdioConfig
	logger *zap.Logger

	mu        sync.RWMutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	reader    *frameReader
	connected bool
	lastErr   error

	stderrWG sync.WaitGroup
}

func newStdioTransport(cfg *model.StdioConfig, logger *zap.Logger) *stdioTransport {
	return &stdioTransport{
		cfg:    cfg,
		logger: logger.With(zap.String("transport", "stdio"), zap.String("command", cfg.Command)),
	}
}

func (t *stdioTransport) Kind() model.TransportKind { return model.TransportStdio }

func (t *stdioTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cmd := exec.CommandContext(ctx, t.cfg.Command, t.cfg.Args...)
	cmd.Dir = t.cfg.WorkingDir
	cmd.Env = buildEnv(t.cfg.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return mcperrors.Wrap(mcperrors.ConnectionError, 0, err, "open stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return mcperrors.Wrap(mcperrors.ConnectionError, 0, err, "open stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		return mcperrors.Wrap(mcperrors.ConnectionError, 0, err, "open stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return mcperrors.Wrap(mcperrors.ConnectionError, 0, err, "start child process")
	}

	t.cmd = cmd
	t.stdin = stdin
	t.reader = newFrameReader(stdout, t.logger)
	t.connected = true

	t.stderrWG.Add(1)
	go t.monitorStderr(stderr)

	go t.monitorExit()

	return nil
}

func (t *stdioTransport) monitorStderr(stderr io.Reader) {
	defer t.stderrWG.Done()
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		t.logger.Warn("child stderr", zap.String("line", line))
	}
}

func (t *stdioTransport) monitorExit() {
	err := t.cmd.Wait()
	t.mu.Lock()
	t.connected = false
	if err != nil {
		t.lastErr = fmt.Errorf("child process exited: %w", err)
	}
	t.mu.Unlock()
}

func (t *stdioTransport) Send(frame []byte) error {
	t.mu.RLock()
	stdin := t.stdin
	connected := t.connected
	t.mu.RUnlock()

	if !connected || stdin == nil {
		return mcperrors.New(mcperrors.ConnectionError, 0, "stdio transport not connected")
	}

	if _, err := stdin.Write(append(frame, '\n')); err != nil {
		return mcperrors.Wrap(mcperrors.ConnectionError, 0, err, "write to child stdin")
	}
	return nil
}

func (t *stdioTransport) Frames() <-chan []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.reader == nil {
		return nil
	}
	return t.reader.Frames()
}

func (t *stdioTransport) Closed() <-chan struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.reader == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return t.reader.Closed()
}

func (t *stdioTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

func (t *stdioTransport) LastError() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastErr
}

func (t *stdioTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	cmd := t.cmd
	stdin := t.stdin
	t.connected = false
	t.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && err != os.ErrProcessDone {
			t.logger.Debug("kill child process", zap.Error(err))
		}
	}
	t.stderrWG.Wait()
	return nil
}

func (t *stdioTransport) Diagnostics() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d := map[string]any{
		"connected": t.connected,
		"command":   t.cfg.Command,
		"args":      t.cfg.Args,
	}
	if t.lastErr != nil {
		d["lastError"] = t.lastErr.Error()
	}
	return d
}

// buildEnv starts from the allow-listed system environment (PATH, HOME,
// locale, and the other variables a spawned CLI tool typically needs,
// with PATH widened to cover common per-user tool install locations so
// npx/uvx-style launchers resolve the way they would in an interactive
// shell) and layers the server's configured overrides on top. A stdio
// server is an arbitrary subprocess under a config-supplied command, so
// it never inherits the core's full environment wholesale.
func buildEnv(overrides map[string]string) []string {
	return secureenv.NewManager(nil).ForSubprocess(overrides)
}
