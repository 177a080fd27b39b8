package transport

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mcp-integration/core/internal/model"
)

// terminationGrace is how long GracefulDisconnect waits after sending
// notifications/terminated before forcing the underlying medium closed.
// Whether to await an acknowledgement is left open; this core resolves
// it as fire-and-forget with a short grace window (see DESIGN.md).
const terminationGrace = 200 * time.Millisecond

// GracefulDisconnect sends notifications/terminated fire-and-forget,
// waits up to terminationGrace for the transport to close on its own,
// and then forces Disconnect regardless. Used by the three streaming
// variants; HTTP has no persistent session to terminate gracefully.
func GracefulDisconnect(ctx context.Context, t Transport, logger *zap.Logger) error {
	if t.Kind() != model.TransportHTTP && t.IsConnected() {
		if note, err := model.NewNotification("notifications/terminated", struct{}{}); err == nil {
			if raw, mErr := marshalNotification(note); mErr == nil {
				if err := t.Send(raw); err != nil {
					logger.Debug("failed to send notifications/terminated", zap.Error(err))
				}
			}
		}

		select {
		case <-t.Closed():
		case <-time.After(terminationGrace):
		}
	}

	return t.Disconnect(ctx)
}

func marshalNotification(n *model.RPCRequest) ([]byte, error) {
	return jsonMarshal(n)
}
