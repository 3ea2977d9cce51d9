package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/omochice/relay-chat/pkg/protocol"
)

// ErrSessionClosed is returned when sending on a terminated session.
var ErrSessionClosed = errors.New("session closed")

// DefaultQueueSize is the outbound queue capacity of a session.
const DefaultQueueSize = 16

// State is the protocol state of a session.
type State int32

const (
	StateAwaitingHello State = iota
	StateActive
	StateClosed
)

// String returns the string representation of State
func (st State) String() string {
	switch st {
	case StateAwaitingHello:
		return "AWAITING_HELLO"
	case StateActive:
		return "ACTIVE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Session is one connected participant. Outbound data goes through a bounded
// queue drained by a single writer, so every PDU is written and flushed in
// enqueue order.
type Session struct {
	id       string
	conn     Conn
	log      *slog.Logger
	outgoing chan []byte
	done     chan struct{}
	once     sync.Once

	state atomic.Int32
	bound atomic.Bool

	mu          sync.Mutex
	name        string
	onTerminate func()
}

// NewSession wraps conn in a session awaiting Hello.
func NewSession(conn Conn, queueSize int, log *slog.Logger) *Session {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	id := uuid.NewString()
	return &Session{
		id:       id,
		conn:     conn,
		log:      log.With("session", id, "remote", conn.RemoteAddr()),
		outgoing: make(chan []byte, queueSize),
		done:     make(chan struct{}),
	}
}

// ID returns the unique session identifier.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the transport address of the peer.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr()
}

// Name returns the display name asserted by the last Hello.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Session) setName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

// State returns the current protocol state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Active reports whether the session completed Hello and has a bound stream,
// i.e. whether it takes part in fan-out.
func (s *Session) Active() bool {
	return s.State() == StateActive && s.bound.Load()
}

// Done is closed once the session terminated.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// bind marks the stream as bound on first received data.
// It reports whether this call did the binding.
func (s *Session) bind() bool {
	return s.bound.CompareAndSwap(false, true)
}

func (s *Session) activate() {
	s.state.CompareAndSwap(int32(StateAwaitingHello), int32(StateActive))
}

// Send encodes p and queues it for this session, waiting for queue space.
func (s *Session) Send(ctx context.Context, p protocol.PDU) error {
	data, err := protocol.Encode(p)
	if err != nil {
		return err
	}
	// A closed session must win over free queue space.
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.outgoing <- data:
		return nil
	}
}

// Forward queues already encoded bytes without waiting. It reports false
// when the message was dropped because the session is closed or its queue
// is full.
func (s *Session) Forward(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.outgoing <- data:
		return true
	default:
		return false
	}
}

// Terminate closes the session: it leaves the registry and closes the
// transport. Safe to call any number of times from any goroutine.
func (s *Session) Terminate() {
	s.once.Do(func() {
		s.mu.Lock()
		s.state.Store(int32(StateClosed))
		hook := s.onTerminate
		s.mu.Unlock()

		close(s.done)
		if hook != nil {
			hook()
		}
		if err := s.conn.Close(); err != nil {
			s.log.Debug("Close failed", "error", err)
		}
	})
}

func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.outgoing:
			if err := s.conn.Write(ctx, data); err != nil {
				s.log.Warn("Failed to write to client", "error", err)
				s.Terminate()
				return
			}
		}
	}
}

func (s *Session) String() string {
	return fmt.Sprintf("session %s (%s)", s.id, s.State())
}
