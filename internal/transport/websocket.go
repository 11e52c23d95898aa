package transport

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"

	"github.com/breeze-rmm/rfbkit/internal/logging"
)

var log = logging.L("transport")

// WebSocket timing constants, carried over from the teacher's
// internal/websocket/client.go pump, which uses the same values for its own
// gorilla/websocket connection.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 20 // VNC framebuffer updates can be large
)

// WebSocket is a Transport that tunnels RFB's raw byte stream over
// WebSocket binary frames, used by vncclient when talking to a recording
// proxy instead of a VNC server directly.
type WebSocket struct {
	conn *websocket.Conn
	buf  bytes.Buffer
}

// DialWebSocket connects to a recording proxy's frontend endpoint.
func DialWebSocket(url string, timeout time.Duration) (*WebSocket, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: websocket dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxMessageSize)
	return NewWebSocket(conn), nil
}

// NewWebSocket wraps an already-established connection.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	return &WebSocket{conn: conn}
}

func (w *WebSocket) Write(p []byte) (int, error) {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocket) ReadFull(buf []byte) error {
	for w.buf.Len() < len(buf) {
		if err := w.fill(); err != nil {
			return err
		}
	}
	_, err := io.ReadFull(&w.buf, buf)
	return err
}

func (w *WebSocket) fill() error {
	msgType, data, err := w.conn.ReadMessage()
	if err != nil {
		return err
	}
	if msgType != websocket.BinaryMessage {
		log.Warn("ignoring non-binary websocket frame", "type", msgType)
		return nil
	}
	w.buf.Write(data)
	return nil
}

// ReadyWithin reports whether buffered data already satisfies a read, or
// whether a new frame arrives within d. WebSocket frames arrive as whole
// units, so this can check the buffer without consuming anything
// un-returnable.
func (w *WebSocket) ReadyWithin(d time.Duration) (bool, error) {
	if w.buf.Len() > 0 {
		return true, nil
	}
	w.conn.SetReadDeadline(time.Now().Add(d))
	defer w.conn.SetReadDeadline(time.Now().Add(pongWait))

	msgType, data, err := w.conn.ReadMessage()
	if err != nil {
		if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
			return false, nil
		}
		return false, err
	}
	if msgType == websocket.BinaryMessage {
		w.buf.Write(data)
	}
	return w.buf.Len() > 0, nil
}

func (w *WebSocket) Close() error { return w.conn.Close() }
