package transport

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"

	"github.com/mcp-integration/core/internal/mcperrors"
	"github.com/mcp-integration/core/internal/model"
)

// dockerTransport either attaches to an existing named container or
// creates and starts an ephemeral one from an image, then frames over
// the attach stream's demultiplexed stdout.
type dockerTransport struct {
	cfg    *model.DockerConfig
	logger *zap.Logger

	mu            sync.RWMutex
	cli           *client.Client
	hijacked      io.WriteCloser
	containerID   string
	createdByUs   bool
	reader        *frameReader
	connected     bool
	lastErr       error
}

func newDockerTransport(cfg *model.DockerConfig, logger *zap.Logger) *dockerTransport {
	return &dockerTransport{
		cfg:    cfg,
		logger: logger.With(zap.String("transport", "docker")),
	}
}

func (t *dockerTransport) Kind() model.TransportKind { return model.TransportDocker }

func (t *dockerTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return mcperrors.Wrap(mcperrors.ConnectionError, 0, err, "create docker client")
	}

	success := false
	defer func() {
		if !success {
			cli.Close()
		}
	}()

	containerID := t.cfg.ContainerName
	createdByUs := false

	if containerID == "" {
		resp, err := cli.ContainerCreate(ctx, &container.Config{
			Image:        t.cfg.Image,
			Cmd:          t.cfg.Command,
			Env:          envSlice(t.cfg.Env),
			OpenStdin:    true,
			AttachStdin:  true,
			AttachStdout: true,
			AttachStderr: true,
			Tty:          false,
		}, nil, nil, nil, "")
		if err != nil {
			return mcperrors.Wrap(mcperrors.ConnectionError, 0, err, "create container")
		}
		containerID = resp.ID
		createdByUs = true
	}

	hijacked, err := cli.ContainerAttach(ctx, containerID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		if createdByUs {
			_ = cli.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})
		}
		return mcperrors.Wrap(mcperrors.ConnectionError, 0, err, "attach to container")
	}

	if createdByUs {
		if err := cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
			hijacked.Close()
			_ = cli.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})
			return mcperrors.Wrap(mcperrors.ConnectionError, 0, err, "start container")
		}
	}

	// Demultiplex the 8-byte-header stdout/stderr stream into separate
	// readers; stderr is forwarded to the logger, never parsed.
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	go func() {
		defer stdoutW.Close()
		defer stderrW.Close()
		if _, err := stdcopy.StdCopy(stdoutW, stderrW, hijacked.Reader); err != nil && err != io.EOF {
			t.logger.Debug("docker stream demux ended", zap.Error(err))
		}
	}()
	go t.monitorStderr(stderrR)

	t.cli = cli
	t.hijacked = hijacked.Conn
	t.containerID = containerID
	t.createdByUs = createdByUs
	t.reader = newFrameReader(stdoutR, t.logger)
	t.connected = true
	success = true

	go t.monitorContainerExit()

	return nil
}

func (t *dockerTransport) monitorStderr(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			t.logger.Warn("container stderr", zap.ByteString("chunk", buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

func (t *dockerTransport) monitorContainerExit() {
	t.mu.RLock()
	cli := t.cli
	containerID := t.containerID
	t.mu.RUnlock()
	if cli == nil {
		return
	}

	statusCh, errCh := cli.ContainerWait(context.Background(), containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		t.mu.Lock()
		t.connected = false
		if err != nil {
			t.lastErr = fmt.Errorf("container wait failed: %w", err)
		}
		t.mu.Unlock()
	case <-statusCh:
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
	}
}

func (t *dockerTransport) Send(frame []byte) error {
	t.mu.RLock()
	conn := t.hijacked
	connected := t.connected
	t.mu.RUnlock()

	if !connected || conn == nil {
		return mcperrors.New(mcperrors.ConnectionError, 0, "docker transport not connected")
	}
	if _, err := conn.Write(append(frame, '\n')); err != nil {
		return mcperrors.Wrap(mcperrors.ConnectionError, 0, err, "write to container stdin")
	}
	return nil
}

func (t *dockerTransport) Frames() <-chan []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.reader == nil {
		return nil
	}
	return t.reader.Frames()
}

func (t *dockerTransport) Closed() <-chan struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.reader == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return t.reader.Closed()
}

func (t *dockerTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

func (t *dockerTransport) LastError() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastErr
}

// Disconnect closes the attach stream and (Open
// Question, resolved yes), auto-removes containers the core itself
// created.
func (t *dockerTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	conn := t.hijacked
	cli := t.cli
	containerID := t.containerID
	createdByUs := t.createdByUs
	t.connected = false
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if cli == nil {
		return nil
	}
	if createdByUs {
		if err := cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
			t.logger.Warn("failed to auto-remove created container", zap.String("container", containerID), zap.Error(err))
		}
	}
	return cli.Close()
}

func (t *dockerTransport) Diagnostics() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d := map[string]any{
		"connected":   t.connected,
		"containerId": t.containerID,
		"createdByUs": t.createdByUs,
	}
	if t.lastErr != nil {
		d["lastError"] = t.lastErr.Error()
	}
	return d
}

func envSlice(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}
