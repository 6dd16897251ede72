package socket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// CloseTokenInvalid is sent by the server when the bearer token in the
// connection URL is missing, expired or revoked.
const CloseTokenInvalid = 4001

// Conn is the subset of *websocket.Conn a Subscription needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

type DialerFunc func(ctx context.Context, rawURL string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, rawURL string) (Conn, error) {
	return f(ctx, rawURL)
}

// WebsocketDialer dials with gorilla/websocket. A handshake rejected with
// HTTP 401 is reported as a close with CloseTokenInvalid so that it takes
// the same refresh path as a post-upgrade rejection.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, &websocket.CloseError{Code: CloseTokenInvalid, Text: "handshake rejected"}
		}
		return nil, errors.Wrap(err, "dial")
	}
	return &wsConn{Conn: conn}, nil
}

type wsConn struct {
	*websocket.Conn
}

// Close sends a normal closure before dropping the TCP connection.
func (c *wsConn) Close() error {
	_ = c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.Conn.Close()
}

// CloseCode extracts the websocket close status from a read error, or 0
// when the connection dropped without a close frame.
func CloseCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}
