package server_test

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/relay-chat/internal/certs"
	"github.com/omochice/relay-chat/internal/chat"
	"github.com/omochice/relay-chat/internal/server"
	"github.com/omochice/relay-chat/internal/transport/tcp"
	"github.com/omochice/relay-chat/internal/transport/ws"
	"github.com/omochice/relay-chat/pkg/protocol"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

func startServer(t *testing.T) (*server.Server, *chat.Hub) {
	t.Helper()
	cert, err := certs.SelfSigned("127.0.0.1")
	require.NoError(t, err)

	log := slog.New(slog.DiscardHandler)
	hub := chat.NewHub(chat.NewRegistry(), log, chat.WithServerName("test-relay"))
	srv := server.New("127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}}, hub, log)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv, hub
}

func send(t *testing.T, conn chat.Conn, p protocol.PDU) {
	t.Helper()
	data, err := protocol.Encode(p)
	require.NoError(t, err)
	require.NoError(t, conn.Write(context.Background(), data))
}

func receive(t *testing.T, conn chat.Conn) protocol.PDU {
	t.Helper()
	data, err := conn.Read(context.Background())
	require.NoError(t, err)
	pdu, err := protocol.Decode(data)
	require.NoError(t, err)
	return pdu
}

func join(t *testing.T, conn chat.Conn, name string) {
	t.Helper()
	send(t, conn, protocol.NewHello(name))
	welcome, ok := receive(t, conn).(*protocol.Welcome)
	require.True(t, ok, "want Welcome")
	assert.Equal(t, "test-relay", welcome.Server)
	assert.Equal(t, uint64(1), welcome.Seq)
}

func dialStream(t *testing.T, srv *server.Server) *tcp.Conn {
	t.Helper()
	conn, err := tcp.Dial(context.Background(), srv.Addr(), certs.InsecureClientConfig())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func dialWebSocket(t *testing.T, srv *server.Server) *ws.Conn {
	t.Helper()
	conn, err := ws.Dial(context.Background(), "wss://"+srv.Addr()+ws.Path, certs.InsecureClientConfig())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServer_StartWithoutCertificate(t *testing.T) {
	srv := server.New("127.0.0.1:0", nil, chat.NewHub(chat.NewRegistry(), slog.New(slog.DiscardHandler)), slog.New(slog.DiscardHandler))
	assert.Error(t, srv.Start())
}

func TestServer_StreamClient(t *testing.T) {
	srv, _ := startServer(t)
	require.NotEmpty(t, srv.Addr())

	conn := dialStream(t, srv)
	join(t, conn, "alice")

	assert.Eventually(t, func() bool { return srv.ClientCount() == 1 }, waitFor, tick)
}

func TestServer_WebSocketClient(t *testing.T) {
	srv, _ := startServer(t)

	conn := dialWebSocket(t, srv)
	join(t, conn, "bob")

	assert.Eventually(t, func() bool { return srv.ClientCount() == 1 }, waitFor, tick)
}

func TestServer_WebSocketWrongPath(t *testing.T) {
	srv, _ := startServer(t)

	_, err := ws.Dial(context.Background(), "wss://"+srv.Addr()+"/other", certs.InsecureClientConfig())
	assert.Error(t, err)
}

func TestServer_MixedTransportsFanOut(t *testing.T) {
	srv, hub := startServer(t)

	alice := dialStream(t, srv)
	join(t, alice, "alice")
	bob := dialWebSocket(t, srv)
	join(t, bob, "bob")
	carol := dialStream(t, srv)
	join(t, carol, "carol")

	assert.Eventually(t, func() bool { return hub.Registry().ActiveLen() == 3 }, waitFor, tick)

	send(t, alice, protocol.NewChatMsg(1, "alice", "hi"))

	receipt, ok := receive(t, alice).(*protocol.Receipt)
	require.True(t, ok, "want Receipt")
	assert.Equal(t, uint64(1), receipt.Ack)

	for _, peer := range []chat.Conn{bob, carol} {
		msg, ok := receive(t, peer).(*protocol.ChatMsg)
		require.True(t, ok, "want ChatMsg")
		assert.Equal(t, "alice", msg.Sender)
		assert.Equal(t, "hi", msg.Text)
		assert.Equal(t, uint64(1), msg.Seq)
	}
}

func TestServer_ChatBeforeHello(t *testing.T) {
	srv, _ := startServer(t)

	conn := dialStream(t, srv)
	send(t, conn, protocol.NewChatMsg(1, "mallory", "too early"))

	errPDU, ok := receive(t, conn).(*protocol.Error)
	require.True(t, ok, "want Error")
	assert.Equal(t, uint64(protocol.CodeHelloRequired), errPDU.Code)
}

func TestServer_ByeRemovesClient(t *testing.T) {
	srv, _ := startServer(t)

	conn := dialStream(t, srv)
	join(t, conn, "alice")
	send(t, conn, protocol.NewBye(""))

	assert.Eventually(t, func() bool { return srv.ClientCount() == 0 }, waitFor, tick)
}

func TestServer_StopEndsSessions(t *testing.T) {
	srv, _ := startServer(t)

	conn := dialStream(t, srv)
	join(t, conn, "alice")
	idle, err := tls.Dial("tcp", srv.Addr(), certs.InsecureClientConfig())
	require.NoError(t, err)
	defer idle.Close()

	done := make(chan struct{})
	go func() {
		srv.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("server did not stop in time")
	}

	_, err = conn.Read(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, srv.ClientCount())

	_, err = net.DialTimeout("tcp", srv.Addr(), 100*time.Millisecond)
	assert.Error(t, err)
}
