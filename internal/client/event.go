package client

import "fmt"

// EventKind classifies what the relay reports to the front-end.
type EventKind int

const (
	EventConnected EventKind = iota
	EventChat
	EventDelivered
	EventWarning
	EventTyping
	EventSelf
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventChat:
		return "chat"
	case EventDelivered:
		return "delivered"
	case EventWarning:
		return "warning"
	case EventTyping:
		return "typing"
	case EventSelf:
		return "self"
	case EventDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one notice for the user. Only the fields relevant to Kind are set:
// Server for Connected, Sender and Text for Chat, Seq for Delivered and
// Self, Code and Text for Warning, Sender and Typing for Typing.
type Event struct {
	Kind   EventKind
	Server string
	Sender string
	Text   string
	Seq    uint64
	Code   uint64
	Typing bool
}

// String renders the event as a display line.
func (e Event) String() string {
	switch e.Kind {
	case EventConnected:
		return "✓ connected to " + e.Server
	case EventChat:
		return e.Sender + ": " + e.Text
	case EventDelivered:
		return fmt.Sprintf("✓ delivered %d", e.Seq)
	case EventWarning:
		return fmt.Sprintf("⚠️  %d: %s", e.Code, e.Text)
	case EventTyping:
		if e.Typing {
			return "* " + e.Sender + " is typing"
		}
		return "* " + e.Sender + " stopped typing"
	case EventSelf:
		return "me: " + e.Text
	case EventDisconnected:
		return "*** disconnected ***"
	default:
		return ""
	}
}
