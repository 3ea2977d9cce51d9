// Package client relays between a user and a chat server: lines from the
// user become chat messages, and server traffic becomes display events.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/omochice/relay-chat/internal/chat"
	"github.com/omochice/relay-chat/pkg/protocol"
)

// ErrDisconnected is returned by Run when the server goes away.
var ErrDisconnected = errors.New("disconnected from server")

// errLeft ends the relay after the user left with a Bye.
var errLeft = errors.New("left the chat")

const eventBuffer = 64

// Relay runs one client session over an established connection.
type Relay struct {
	conn   chat.Conn
	name   string
	log    *slog.Logger
	events chan Event
	seq    atomic.Uint64
}

// New creates a Relay that introduces itself as name.
func New(conn chat.Conn, name string, log *slog.Logger) *Relay {
	return &Relay{
		conn:   conn,
		name:   name,
		log:    log.With("remote", conn.RemoteAddr()),
		events: make(chan Event, eventBuffer),
	}
}

// Events returns the display events. The front-end must drain it until it is
// closed, which happens when Run returns. The last event is always
// EventDisconnected.
func (r *Relay) Events() <-chan Event {
	return r.events
}

// Run sends Hello, then forwards every line from input as a chat message
// while reporting server traffic on Events. Closing input sends Bye and
// ends the session cleanly. Run returns ErrDisconnected when the server
// goes away and ctx.Err() when ctx is cancelled. The connection is closed
// on return.
func (r *Relay) Run(ctx context.Context, input <-chan string) error {
	defer close(r.events)
	defer r.conn.Close()

	if err := r.send(ctx, protocol.NewHello(r.name)); err != nil {
		r.events <- Event{Kind: EventDisconnected}
		return fmt.Errorf("failed to send hello: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.receive(gctx)
	})
	g.Go(func() error {
		return r.sendLoop(gctx, input)
	})
	g.Go(func() error {
		// Unblocks receive once either activity has ended.
		<-gctx.Done()
		r.conn.Close()
		return nil
	})

	err := g.Wait()
	r.events <- Event{Kind: EventDisconnected}
	if errors.Is(err, errLeft) {
		r.log.Info("Left the chat")
		return nil
	}
	return err
}

// SendTyping announces that the user started or stopped typing.
func (r *Relay) SendTyping(ctx context.Context, status bool) error {
	return r.send(ctx, protocol.NewTyping(r.name, status))
}

func (r *Relay) receive(ctx context.Context) error {
	for {
		data, err := r.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Info("Connection closed by server", "error", err)
			return fmt.Errorf("%w: %w", ErrDisconnected, err)
		}

		pdu, err := protocol.Decode(data)
		if err != nil {
			r.log.Warn("Failed to decode message", "error", err)
			if err := r.emit(ctx, Event{Kind: EventWarning, Code: protocol.CodeMalformedPDU, Text: err.Error()}); err != nil {
				return err
			}
			continue
		}

		var ev Event
		switch m := pdu.(type) {
		case *protocol.Welcome:
			ev = Event{Kind: EventConnected, Server: m.Server}
		case *protocol.ChatMsg:
			ev = Event{Kind: EventChat, Sender: m.Sender, Text: m.Text, Seq: m.Seq}
		case *protocol.Receipt:
			ev = Event{Kind: EventDelivered, Seq: m.Ack}
		case *protocol.Error:
			ev = Event{Kind: EventWarning, Code: m.Code, Text: m.Msg}
		case *protocol.Typing:
			ev = Event{Kind: EventTyping, Sender: m.Who, Typing: m.Status}
		case *protocol.Bye:
			r.log.Info("Server said goodbye", "reason", m.Reason)
			return ErrDisconnected
		default:
			r.log.Debug("Ignoring message", "type", pdu.Header().Type)
			continue
		}
		if err := r.emit(ctx, ev); err != nil {
			return err
		}
	}
}

func (r *Relay) sendLoop(ctx context.Context, input <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-input:
			if !ok {
				if err := r.send(ctx, protocol.NewBye("")); err != nil {
					r.log.Warn("Failed to send bye", "error", err)
				}
				return errLeft
			}
			seq := r.seq.Add(1)
			if err := r.send(ctx, protocol.NewChatMsg(seq, r.name, line)); err != nil {
				return fmt.Errorf("failed to send message: %w", err)
			}
			if err := r.emit(ctx, Event{Kind: EventSelf, Text: line, Seq: seq}); err != nil {
				return err
			}
		}
	}
}

func (r *Relay) send(ctx context.Context, p protocol.PDU) error {
	data, err := protocol.Encode(p)
	if err != nil {
		return err
	}
	return r.conn.Write(ctx, data)
}

// emit delivers ev, waiting for the front-end to make room.
func (r *Relay) emit(ctx context.Context, ev Event) error {
	select {
	case r.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
