// Package tcp provides the framed stream transport (TCP, normally under TLS).
package tcp

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/omochice/relay-chat/internal/frame"
)

// ALPN is the application protocol negotiated on TLS connections.
const ALPN = "chat/0"

// Conn adapts net.Conn to chat.Conn interface. Every PDU travels as one
// length-prefixed frame.
type Conn struct {
	conn   net.Conn
	reader *frame.Reader
	mu     sync.Mutex
}

// NewConn wraps a net.Conn.
func NewConn(conn net.Conn) *Conn {
	return NewConnWithReader(conn, bufio.NewReader(conn))
}

// NewConnWithReader wraps a net.Conn whose first bytes were already
// buffered in reader, e.g. after protocol detection.
func NewConnWithReader(conn net.Conn, reader *bufio.Reader) *Conn {
	return &Conn{
		conn:   conn,
		reader: frame.NewReader(reader, frame.DefaultMaxSize),
	}
}

// Read implements chat.Conn.
// Reads one frame from the connection.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	return c.reader.Read()
}

// Write implements chat.Conn.
// The frame goes out in a single write, which a TLS connection flushes as
// its own records.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return frame.Write(c.conn, data)
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
