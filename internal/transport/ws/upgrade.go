package ws

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"github.com/gobwas/ws"
)

var upgrader = ws.Upgrader{
	OnRequest: func(uri []byte) error {
		if string(uri) != Path {
			return ws.RejectConnectionError(ws.RejectionStatus(http.StatusNotFound))
		}
		return nil
	},
}

// Upgrade performs the server side handshake on conn. reader must hold any
// bytes already consumed from conn, e.g. during protocol detection.
func Upgrade(conn net.Conn, reader *bufio.Reader) (*Conn, error) {
	c := NewServerConn(conn)
	if reader != nil {
		c.rw = &bufferedConn{Conn: conn, reader: reader}
	}
	if _, err := upgrader.Upgrade(c.rw); err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}
	return c, nil
}

// Dial connects to a ws:// or wss:// URL.
func Dial(ctx context.Context, url string, config *tls.Config) (*Conn, error) {
	d := ws.Dialer{TLSConfig: config}
	conn, reader, _, err := d.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	return NewClientConn(conn, reader), nil
}
