package syncagent

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Transport carries encoded envelopes to and from the server.
type Transport interface {
	Send(frame []byte) error
	Receive() ([]byte, error)
	Close() error
}

// WSTransport is a Transport over a gorilla websocket connection. Send may
// be called from several goroutines.
type WSTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Dial connects to a watch-party websocket endpoint. A non-empty token is
// sent as access_token.
func Dial(ctx context.Context, endpoint, token string) (*WSTransport, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	if token != "" {
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	// answer server pings while Receive is blocked
	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	return &WSTransport{conn: conn}, nil
}

func (t *WSTransport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

func (t *WSTransport) Receive() ([]byte, error) {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage {
			return data, nil
		}
	}
}

// Close sends a close frame and closes the connection.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.mu.Unlock()
	return t.conn.Close()
}
