package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/warmline/warmline/types"
)

// WebSocketStream adapts an accepted WebSocket connection into a transfer
// state stream. Writes are mutex-guarded because WebSocket connections do
// not support concurrent writes.
type WebSocketStream struct {
	conn   *websocket.Conn
	logger *zap.Logger
	mu     sync.Mutex
	closed bool
}

// NewWebSocketStream wraps an established WebSocket connection.
func NewWebSocketStream(conn *websocket.Conn, logger *zap.Logger) *WebSocketStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketStream{
		conn:   conn,
		logger: logger.With(zap.String("component", "ws_state_stream")),
	}
}

// WriteState sends one JSON-encoded transfer state over the connection.
func (w *WebSocketStream) WriteState(ctx context.Context, state *types.TransferState) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("connection closed")
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := w.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}

	return nil
}

// Run pumps the subscriber's stream into the connection until the stream
// closes, the context is cancelled, or a write fails. The snapshot queued
// at subscribe time is the first frame the client sees.
func (w *WebSocketStream) Run(ctx context.Context, sub *Subscriber) error {
	for {
		select {
		case state, ok := <-sub.States():
			if !ok {
				return nil
			}
			if err := w.WriteState(ctx, state); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close closes the WebSocket connection.
func (w *WebSocketStream) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	return w.conn.Close(websocket.StatusNormalClosure, "closing")
}
