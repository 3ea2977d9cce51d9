package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/omochice/relay-chat/pkg/protocol"
)

// DefaultServerName is announced in Welcome when no name is configured.
const DefaultServerName = "relay-chat-server"

// Hub runs the relay protocol for every session of a server.
// All transports share a single Hub instance.
type Hub struct {
	registry   *Registry
	log        *slog.Logger
	serverName string
	queueSize  int
}

// Option configures a Hub.
type Option func(*Hub)

// WithServerName sets the identity sent in Welcome.
func WithServerName(name string) Option {
	return func(h *Hub) {
		if name != "" {
			h.serverName = name
		}
	}
}

// WithQueueSize sets the outbound queue capacity of each session.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// NewHub creates a Hub relaying among the sessions of registry.
func NewHub(registry *Registry, log *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		registry:   registry,
		log:        log,
		serverName: DefaultServerName,
		queueSize:  DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry returns the registry the hub relays among.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// ClientCount returns number of connected clients.
func (h *Hub) ClientCount() int {
	return h.registry.Len()
}

// HandleClient runs a session over conn until the peer leaves, the
// transport fails or ctx is cancelled. The connection is closed on return.
func (h *Hub) HandleClient(ctx context.Context, conn Conn) {
	s := NewSession(conn, h.queueSize, h.log)
	if !h.registry.Add(s) {
		return
	}
	s.log.Info("Session opened")

	var wg sync.WaitGroup
	defer func() {
		s.Terminate()
		wg.Wait()
		s.log.Info("Session closed", "name", s.Name())
	}()

	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writeLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			s.Terminate()
		case <-s.done:
		}
	}()

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
			default:
				if errors.Is(err, io.EOF) {
					s.log.Info("Connection closed by peer")
				} else {
					s.log.Warn("Error reading from client", "error", err)
				}
			}
			return
		}
		if !h.receive(ctx, s, data) {
			return
		}
	}
}

// receive decodes one PDU and dispatches it. It reports false when the
// session must end.
func (h *Hub) receive(ctx context.Context, s *Session, data []byte) bool {
	if s.bind() {
		s.log.Debug("Stream bound")
	}

	pdu, err := protocol.Decode(data)
	if err != nil {
		s.log.Warn("Failed to decode message", "error", err)
		h.reply(ctx, s, protocol.NewError(protocol.CodeMalformedPDU, "malformed pdu: "+err.Error()))
		return true
	}
	s.log.Debug("Received", "type", pdu.Header().Type, "seq", pdu.Header().Seq)

	switch m := pdu.(type) {
	case *protocol.Hello:
		h.hello(ctx, s, m)
	case *protocol.ChatMsg:
		if !h.requireActive(ctx, s, m) {
			return true
		}
		h.chat(ctx, s, m, data)
	case *protocol.Typing:
		if !h.requireActive(ctx, s, m) {
			return true
		}
		h.broadcast(s, data)
	case *protocol.Bye:
		s.log.Info("User left", "name", s.Name(), "reason", m.Reason)
		return false
	case *protocol.Welcome, *protocol.Receipt, *protocol.Error:
		s.log.Debug("Ignoring server-bound reply", "type", m.Header().Type)
	case *protocol.Unknown:
		s.log.Debug("Ignoring unknown message type", "type", m.Type)
	}
	return true
}

// hello answers every Hello, duplicates included, with a Welcome. The
// session becomes active only once the Welcome is queued so it precedes any
// relayed traffic.
func (h *Hub) hello(ctx context.Context, s *Session, m *protocol.Hello) {
	s.setName(m.Name)
	h.reply(ctx, s, protocol.NewWelcome(1, h.serverName))
	if s.State() == StateAwaitingHello {
		s.activate()
		s.log.Info("User joined", "name", m.Name)
	}
}

func (h *Hub) requireActive(ctx context.Context, s *Session, p protocol.PDU) bool {
	if s.State() == StateActive {
		return true
	}
	s.log.Warn("Message before hello", "type", p.Header().Type)
	h.reply(ctx, s, protocol.NewError(protocol.CodeHelloRequired, "hello required"))
	return false
}

// chat acknowledges m to its sender, then relays the original bytes to
// every other active session.
func (h *Hub) chat(ctx context.Context, s *Session, m *protocol.ChatMsg, data []byte) {
	s.log.Info("Message from user", "name", m.Sender, "seq", m.Seq)
	h.reply(ctx, s, protocol.NewReceipt(m.Seq))
	h.broadcast(s, data)
}

// broadcast sends data to all active sessions except the sender.
func (h *Hub) broadcast(sender *Session, data []byte) int {
	delivered := 0
	for _, peer := range h.registry.Snapshot(sender) {
		if !peer.Forward(data) {
			peer.log.Warn("Client queue full or closed, skipping")
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) reply(ctx context.Context, s *Session, p protocol.PDU) {
	if err := s.Send(ctx, p); err != nil && !errors.Is(err, ErrSessionClosed) {
		s.log.Warn("Failed to send reply", "type", p.Header().Type, "error", err)
	}
}
