// Package ws provides the WebSocket transport using gobwas/ws. One PDU
// travels per binary message, so no extra framing is needed.
package ws

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omochice/relay-chat/internal/frame"
)

// Path is the HTTP path accepted for upgrades.
const Path = "/ws"

// Conn adapts a WebSocket net.Conn to chat.Conn interface.
type Conn struct {
	conn  net.Conn
	rw    io.ReadWriter
	state ws.State
	mu    sync.Mutex
}

// NewServerConn wraps a connection already upgraded by Upgrade.
func NewServerConn(conn net.Conn) *Conn {
	return &Conn{conn: conn, rw: conn, state: ws.StateServerSide}
}

// NewClientConn wraps a dialed connection. reader holds bytes the server
// sent right after the handshake and may be nil.
func NewClientConn(conn net.Conn, reader *bufio.Reader) *Conn {
	var rw io.ReadWriter = conn
	if reader != nil {
		rw = &bufferedConn{Conn: conn, reader: reader}
	}
	return &Conn{conn: conn, rw: rw, state: ws.StateClientSide}
}

// Read implements chat.Conn.
// Control frames are answered internally; text and binary payloads are
// returned. A message larger than frame.DefaultMaxSize, whether sent as one
// frame or in fragments, fails with frame.ErrFrameTooLarge.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	control := wsutil.ControlFrameHandler(lockedWriter{c}, c.state)
	rd := wsutil.Reader{
		Source:         c.rw,
		State:          c.state,
		CheckUTF8:      true,
		MaxFrameSize:   frame.DefaultMaxSize,
		OnIntermediate: control,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			if errors.Is(err, wsutil.ErrFrameTooLarge) {
				return nil, fmt.Errorf("%w: %w", frame.ErrFrameTooLarge, err)
			}
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, &rd); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}

		data, err := io.ReadAll(io.LimitReader(&rd, frame.DefaultMaxSize+1))
		if err != nil {
			return nil, err
		}
		if len(data) > frame.DefaultMaxSize {
			return nil, fmt.Errorf("%w: websocket message exceeds %d bytes", frame.ErrFrameTooLarge, frame.DefaultMaxSize)
		}
		return data, nil
	}
}

// Write implements chat.Conn.
// Writes a binary message to the WebSocket connection.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteMessage(c.conn, c.state, ws.OpBinary, data)
}

// Close implements chat.Conn.
// Sends a close frame unless a write is in flight, then closes the connection.
func (c *Conn) Close() error {
	if c.mu.TryLock() {
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = wsutil.WriteMessage(c.conn, c.state, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		c.mu.Unlock()
	}
	return c.conn.Close()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// bufferedConn wraps a net.Conn with a bufio.Reader to preserve buffered data
type bufferedConn struct {
	net.Conn
	reader *bufio.Reader
}

func (bc *bufferedConn) Read(p []byte) (int, error) {
	return bc.reader.Read(p)
}

// lockedWriter serializes control frame replies with data writes.
type lockedWriter struct {
	c *Conn
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	return w.c.conn.Write(p)
}
