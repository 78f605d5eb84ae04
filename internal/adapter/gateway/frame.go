package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// wsConn adapts a game-process WebSocket to domain.GameConn. Every frame is
// a single JSON text message.
type wsConn struct {
	id           string
	remote       string
	ws           *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
}

func newWSConn(id, remote string, ws *websocket.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{id: id, remote: remote, ws: ws, writeTimeout: writeTimeout}
}

func (c *wsConn) ID() string { return c.id }

// WriteFrame marshals v and writes it as one text message. Safe for
// concurrent use.
func (c *wsConn) WriteFrame(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Close closes the socket once; later calls are no-ops.
func (c *wsConn) Close(reason string) error {
	return c.closeWith(websocket.StatusNormalClosure, reason)
}

func (c *wsConn) closeWith(code websocket.StatusCode, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		err = c.ws.Close(code, reason)
	})
	return err
}

// closeNow drops the socket without waiting for the peer's close frame.
func (c *wsConn) closeNow() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.ws.CloseNow()
	})
	return err
}

// readText returns the next text message, skipping binary ones. Only the
// read loop may call it.
func (c *wsConn) readText(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ == websocket.MessageText {
			return data, nil
		}
	}
}
