package connection

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 5 * time.Second
	closeGracePeriod        = 1 * time.Second
)

// Transport is one live socket. ReadMessage blocks until a frame arrives or
// the transport dies; WriteMessage is safe for concurrent use.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer establishes Transports. The registry dials through this interface so
// tests can substitute a scripted implementation.
type Dialer interface {
	DialContext(ctx context.Context, url string, header http.Header) (Transport, error)
}

// NewDialer returns the production WebSocket dialer.
func NewDialer() Dialer {
	return &wsDialer{handshakeTimeout: defaultHandshakeTimeout}
}

type wsDialer struct {
	handshakeTimeout time.Duration
}

func (d *wsDialer) DialContext(ctx context.Context, url string, header http.Header) (Transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return &wsTransport{conn: conn}, nil
}

// wsTransport wraps a gorilla connection. gorilla allows one concurrent
// reader and one concurrent writer; writeMu serializes writers.
type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	// Best-effort close frame so well-behaved servers see a clean shutdown;
	// the TCP close below is what actually ends the read loop.
	t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGracePeriod))
	return t.conn.Close()
}

// isCleanClose reports whether a read error represents an orderly close
// handshake rather than a failure.
func isCleanClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
