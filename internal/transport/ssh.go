package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/mcp-integration/core/internal/mcperrors"
	"github.com/mcp-integration/core/internal/model"
)

const sshKeepaliveInterval = 30 * time.Second

// sshTransport dials a remote host, executes the configured remote
// command, and frames over the resulting remote stdio identically to
// the stdio transport.
type sshTransport struct {
	cfg    *model.SSHConfig
	logger *zap.Logger

	mu         sync.RWMutex
	client     *ssh.Client
	session    *ssh.Session
	stdin      interface{ Write([]byte) (int, error) }
	reader     *frameReader
	connected  bool
	lastErr    error
	stopKeepAlive chan struct{}
}

func newSSHTransport(cfg *model.SSHConfig, logger *zap.Logger) *sshTransport {
	return &sshTransport{
		cfg:    cfg,
		logger: logger.With(zap.String("transport", "ssh"), zap.String("host", cfg.Host)),
	}
}

func (t *sshTransport) Kind() model.TransportKind { return model.TransportSSH }

func (t *sshTransport) authMethod() (ssh.AuthMethod, error) {
	switch t.cfg.CredentialKind {
	case model.SSHCredentialPassword:
		if t.cfg.Password == "" {
			return nil, mcperrors.New(mcperrors.ValidationError, 0, "ssh password credential is empty")
		}
		return ssh.Password(t.cfg.Password), nil
	case model.SSHCredentialPrivateKey:
		if t.cfg.PrivateKey == "" {
			return nil, mcperrors.New(mcperrors.ValidationError, 0, "ssh private key credential is empty")
		}
		var signer ssh.Signer
		var err error
		if t.cfg.PrivateKeyPhrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(t.cfg.PrivateKey), []byte(t.cfg.PrivateKeyPhrase))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(t.cfg.PrivateKey))
		}
		if err != nil {
			return nil, mcperrors.Wrap(mcperrors.ValidationError, 0, err, "parse ssh private key")
		}
		return ssh.PublicKeys(signer), nil
	default:
		return nil, mcperrors.New(mcperrors.ValidationError, 0, "ssh transport requires exactly one credential kind")
	}
}

func (t *sshTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	auth, err := t.authMethod()
	if err != nil {
		return err
	}

	port := t.cfg.Port
	if port == 0 {
		port = 22
	}
	addr := fmt.Sprintf("%s:%d", t.cfg.Host, port)

	clientCfg := &ssh.ClientConfig{
		User:            t.cfg.Username,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // host key pinning is out of this core's scope
		Timeout:         15 * time.Second,
	}

	dialer := net.Dialer{Timeout: clientCfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return mcperrors.Wrap(mcperrors.ConnectionError, 0, err, "dial ssh host")
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return mcperrors.Wrap(mcperrors.ConnectionError, 0, err, "ssh handshake")
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return mcperrors.Wrap(mcperrors.ConnectionError, 0, err, "open ssh session")
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return mcperrors.Wrap(mcperrors.ConnectionError, 0, err, "open ssh stdin pipe")
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return mcperrors.Wrap(mcperrors.ConnectionError, 0, err, "open ssh stdout pipe")
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		client.Close()
		return mcperrors.Wrap(mcperrors.ConnectionError, 0, err, "open ssh stderr pipe")
	}

	if err := session.Start(t.cfg.RemoteCommand); err != nil {
		session.Close()
		client.Close()
		return mcperrors.Wrap(mcperrors.ConnectionError, 0, err, "start remote command")
	}

	t.client = client
	t.session = session
	t.stdin = stdin
	t.reader = newFrameReader(stdout, t.logger)
	t.connected = true
	t.stopKeepAlive = make(chan struct{})

	go t.monitorStderr(stderr)
	go t.keepalive()
	go t.monitorSessionEnd()

	return nil
}

func (t *sshTransport) monitorStderr(stderr interface{ Read([]byte) (int, error) }) {
	buf := make([]byte, 4096)
	for {
		n, err := stderr.Read(buf)
		if n > 0 {
			t.logger.Warn("remote stderr", zap.ByteString("chunk", buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

func (t *sshTransport) keepalive() {
	ticker := time.NewTicker(sshKeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.mu.RLock()
			client := t.client
			t.mu.RUnlock()
			if client == nil {
				return
			}
			if _, _, err := client.SendRequest("keepalive@mcp-integration-core", true, nil); err != nil {
				t.logger.Debug("ssh keepalive failed", zap.Error(err))
			}
		case <-t.stopKeepAlive:
			return
		}
	}
}

func (t *sshTransport) monitorSessionEnd() {
	err := t.session.Wait()
	t.mu.Lock()
	t.connected = false
	if err != nil {
		t.lastErr = fmt.Errorf("ssh session ended: %w", err)
	}
	t.mu.Unlock()
}

func (t *sshTransport) Send(frame []byte) error {
	t.mu.RLock()
	stdin := t.stdin
	connected := t.connected
	t.mu.RUnlock()

	if !connected || stdin == nil {
		return mcperrors.New(mcperrors.ConnectionError, 0, "ssh transport not connected")
	}
	if _, err := stdin.Write(append(frame, '\n')); err != nil {
		return mcperrors.Wrap(mcperrors.ConnectionError, 0, err, "write to ssh stdin")
	}
	return nil
}

func (t *sshTransport) Frames() <-chan []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.reader == nil {
		return nil
	}
	return t.reader.Frames()
}

func (t *sshTransport) Closed() <-chan struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.reader == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return t.reader.Closed()
}

func (t *sshTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

func (t *sshTransport) LastError() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastErr
}

func (t *sshTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	connected := t.connected
	t.connected = false
	session := t.session
	client := t.client
	stop := t.stopKeepAlive
	t.mu.Unlock()

	if !connected {
		return nil
	}
	if stop != nil {
		close(stop)
	}
	if session != nil {
		session.Close()
	}
	if client != nil {
		client.Close()
	}
	return nil
}

func (t *sshTransport) Diagnostics() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d := map[string]any{
		"connected": t.connected,
		"host":      t.cfg.Host,
		"port":      t.cfg.Port,
		"username":  t.cfg.Username,
	}
	if t.lastErr != nil {
		d["lastError"] = t.lastErr.Error()
	}
	return d
}
