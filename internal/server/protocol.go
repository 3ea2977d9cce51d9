package server

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"net"
	"time"

	"github.com/omochice/relay-chat/internal/transport/tcp"
)

type protocolType int

const (
	protocolStream protocolType = iota
	protocolWebSocket
)

func (p protocolType) String() string {
	if p == protocolWebSocket {
		return "websocket"
	}
	return "stream"
}

// detectTimeout bounds how long a connection may stay silent before its
// protocol is known.
const detectTimeout = 10 * time.Second

// detectProtocol completes the TLS handshake and tells framed stream clients
// apart from WebSocket upgrades. Stream clients negotiate the chat ALPN;
// otherwise the first bytes are peeked. A frame can never start with "GET "
// because its second byte is either a length continuation or '{'.
func detectProtocol(conn net.Conn) (protocolType, *bufio.Reader, error) {
	reader := bufio.NewReader(conn)

	_ = conn.SetReadDeadline(time.Now().Add(detectTimeout))
	defer conn.SetReadDeadline(time.Time{})

	if tlsConn, ok := conn.(*tls.Conn); ok {
		if err := tlsConn.Handshake(); err != nil {
			return protocolStream, reader, err
		}
		if tlsConn.ConnectionState().NegotiatedProtocol == tcp.ALPN {
			return protocolStream, reader, nil
		}
	}

	peek, err := reader.Peek(4)
	if err != nil {
		return protocolStream, reader, err
	}
	if bytes.Equal(peek, []byte("GET ")) {
		return protocolWebSocket, reader, nil
	}
	return protocolStream, reader, nil
}
