package realtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn the client uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// Dialer opens a connection to url with the given handshake headers.
type Dialer func(ctx context.Context, url string, header http.Header) (Conn, error)

const DefaultHandshakeTimeout = 10 * time.Second

func DefaultDialer() Dialer {
	d := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: DefaultHandshakeTimeout,
	}
	return func(ctx context.Context, url string, header http.Header) (Conn, error) {
		conn, resp, err := d.DialContext(ctx, url, header)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("handshake status %d: %w", resp.StatusCode, err)
			}
			return nil, err
		}
		return conn, nil
	}
}
