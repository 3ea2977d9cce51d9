// Package p2p carries chat sessions over libp2p streams. Each stream is one
// session, framed the same way as the TLS transport.
package p2p

import (
	"context"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/network"

	"github.com/omochice/relay-chat/internal/frame"
)

// Conn adapts a libp2p stream to chat.Conn interface.
type Conn struct {
	stream network.Stream
	reader *frame.Reader
	mu     sync.Mutex
}

// NewConn wraps an open stream.
func NewConn(stream network.Stream) *Conn {
	return &Conn{
		stream: stream,
		reader: frame.NewReader(stream, frame.DefaultMaxSize),
	}
}

// Read implements chat.Conn.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	return c.reader.Read()
}

// Write implements chat.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.stream.SetWriteDeadline(deadline)
		defer c.stream.SetWriteDeadline(time.Time{})
	}
	return frame.Write(c.stream, data)
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	return c.stream.Close()
}

// RemoteAddr implements chat.Conn.
// The address is the remote peer ID followed by its transport address.
func (c *Conn) RemoteAddr() string {
	conn := c.stream.Conn()
	return conn.RemotePeer().String() + "@" + conn.RemoteMultiaddr().String()
}
