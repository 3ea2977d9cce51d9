// Package chat implements the relay core shared by all transports: sessions,
// the broadcast registry and the per-session protocol state machine.
package chat

import "context"

// Conn abstracts one ordered, reliable stream to a peer.
// This interface isolates transport details from chat logic.
type Conn interface {
	// Read returns the next PDU body. The returned slice is owned by the
	// caller. Returns io.EOF when the peer closed the stream.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one PDU body and flushes it to the network.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
