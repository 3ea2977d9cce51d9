// Package server accepts TLS connections on a single port and runs each one
// as a chat session, whether it speaks the framed stream protocol or
// WebSocket.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"

	"github.com/omochice/relay-chat/internal/chat"
	"github.com/omochice/relay-chat/internal/transport/tcp"
	"github.com/omochice/relay-chat/internal/transport/ws"
)

// Server represents a TLS chat server
type Server struct {
	address   string
	tlsConfig *tls.Config
	hub       *chat.Hub
	log       *slog.Logger
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New creates a new Server instance. config must carry a certificate.
func New(address string, config *tls.Config, hub *chat.Hub, log *slog.Logger) *Server {
	cfg := config.Clone()
	if cfg == nil {
		cfg = &tls.Config{}
	}
	for _, proto := range []string{tcp.ALPN, "http/1.1"} {
		if !slices.Contains(cfg.NextProtos, proto) {
			cfg.NextProtos = append(cfg.NextProtos, proto)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		address:   address,
		tlsConfig: cfg,
		hub:       hub,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins listening and accepting connections in the background.
func (s *Server) Start() error {
	if len(s.tlsConfig.Certificates) == 0 && s.tlsConfig.GetCertificate == nil {
		return errors.New("failed to start server: no certificate configured")
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = tls.NewListener(listener, s.tlsConfig)
	s.log.Info("Server started", "address", listener.Addr().String())

	s.wg.Add(1)
	go s.acceptConnections()
	return nil
}

// Stop closes the listener, ends every session and waits for them.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		if s.listener != nil {
			s.listener.Close()
		}
		s.wg.Wait()
		s.log.Info("Server stopped")
	})
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("Failed to accept connection", "error", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection determines the client protocol and hands the connection
// to the hub.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	stop := context.AfterFunc(s.ctx, func() { conn.Close() })
	defer stop()

	log := s.log.With("remote", conn.RemoteAddr().String())
	proto, reader, err := detectProtocol(conn)
	if err != nil {
		log.Debug("Failed to detect protocol", "error", err)
		conn.Close()
		return
	}
	log.Debug("Protocol detected", "protocol", proto)

	var c chat.Conn
	switch proto {
	case protocolWebSocket:
		wsConn, err := ws.Upgrade(conn, reader)
		if err != nil {
			log.Warn("Failed to upgrade connection", "error", err)
			conn.Close()
			return
		}
		c = wsConn
	default:
		c = tcp.NewConnWithReader(conn, reader)
	}

	s.hub.HandleClient(s.ctx, c)
}
