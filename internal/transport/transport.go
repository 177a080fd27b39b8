// Package transport implements the four media over which an MCP server
// is reachable: local subprocess over stdio, remote subprocess over SSH,
// subprocess inside a Docker container, and a network endpoint over
// HTTP. Every variant speaks newline-delimited JSON-RPC 2.0 except HTTP,
// which issues one POST per call.
package transport

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mcp-integration/core/internal/mcperrors"
	"github.com/mcp-integration/core/internal/model"
)

// Transport is the capability set every variant implements: connect,
// disconnect, send a framed request, receive a stream of framed
// responses/notifications, and report state.
type Transport interface {
	// Connect opens the underlying medium. It does not perform the MCP
	// initialize handshake; that is the Multiplexer's job once a
	// Transport reports connected.
	Connect(ctx context.Context) error

	// Disconnect closes the medium. Sending notifications/terminated
	// first is the caller's responsibility (see GracefulDisconnect).
	Disconnect(ctx context.Context) error

	// Send writes one framed JSON-RPC request or notification.
	Send(frame []byte) error

	// Frames delivers inbound framed messages (responses and
	// notifications). Nil for the HTTP variant, which has no reader.
	Frames() <-chan []byte

	// Closed is closed exactly once, when the transport has terminated
	// for any reason (EOF, process exit, session close, stream end).
	Closed() <-chan struct{}

	IsConnected() bool
	LastError() error

	// Kind reports which of the four media this is.
	Kind() model.TransportKind

	// Diagnostics returns an operational snapshot (supplements
	// testConnection's required response shape).
	Diagnostics() map[string]any
}

// Streaming has the same method set as Transport, so every variant,
// HTTP included, satisfies it. The Multiplexer does not use it: mux.New
// picks its variant from Kind() and the HTTP transport's SendAndReceive.
type Streaming interface {
	Transport
}

// New dispatches on cfg.Kind to build the right variant: a factory over
// a class hierarchy, since Go has no inheritance to hang the four
// variants off of.
func New(cfg model.TransportConfig, logger *zap.Logger) (Transport, error) {
	switch cfg.Kind {
	case model.TransportStdio:
		if cfg.Stdio == nil || cfg.Stdio.Command == "" {
			return nil, mcperrors.New(mcperrors.ValidationError, 0, "stdio transport requires command")
		}
		return newStdioTransport(cfg.Stdio, logger), nil
	case model.TransportSSH:
		if cfg.SSH == nil {
			return nil, mcperrors.New(mcperrors.ValidationError, 0, "ssh transport requires configuration")
		}
		return newSSHTransport(cfg.SSH, logger), nil
	case model.TransportDocker:
		if cfg.Docker == nil || (cfg.Docker.Image == "" && cfg.Docker.ContainerName == "") {
			return nil, mcperrors.New(mcperrors.ValidationError, 0, "docker transport requires image or containerName")
		}
		return newDockerTransport(cfg.Docker, logger), nil
	case model.TransportHTTP:
		if cfg.HTTP == nil || cfg.HTTP.BaseURL == "" {
			return nil, mcperrors.New(mcperrors.ValidationError, 0, "http transport requires baseUrl")
		}
		return newHTTPTransport(cfg.HTTP, logger), nil
	default:
		return nil, fmt.Errorf("unsupported transport kind: %q", cfg.Kind)
	}
}
