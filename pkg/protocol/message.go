// Package protocol defines the chat PDUs exchanged between clients and the relay server.
package protocol

import "time"

// Type is the discriminator carried in every PDU.
type Type string

const (
	TypeHello   Type = "CHAT_HELLO"
	TypeWelcome Type = "CHAT_WELCOME"
	TypeMessage Type = "CHAT_MESSAGE"
	TypeReceipt Type = "CHAT_RECEIPT"
	TypeTyping  Type = "CHAT_TYPING"
	TypeBye     Type = "CHAT_BYE"
	TypeError   Type = "CHAT_ERROR"
)

// Known reports whether t names one of the variants of this protocol version.
func (t Type) Known() bool {
	switch t {
	case TypeHello, TypeWelcome, TypeMessage, TypeReceipt, TypeTyping, TypeBye, TypeError:
		return true
	default:
		return false
	}
}

// String returns the wire representation of the type.
func (t Type) String() string {
	return string(t)
}

// Error codes carried by Error PDUs.
const (
	CodeHelloRequired = 1
	CodeMalformedPDU  = 2
)

// Envelope holds the fields shared by every PDU.
type Envelope struct {
	Type      Type
	Seq       uint64
	Timestamp time.Time
}

// Header returns the envelope of the PDU.
func (e Envelope) Header() Envelope {
	return e
}

func (Envelope) sealed() {}

// PDU is one protocol data unit. The set of implementations is closed:
// Hello, Welcome, ChatMsg, Receipt, Typing, Bye, Error and Unknown.
type PDU interface {
	Header() Envelope
	sealed()
}

// Hello introduces a client to the server.
type Hello struct {
	Envelope
	Name string
}

// Welcome acknowledges a Hello.
type Welcome struct {
	Envelope
	Server string
}

// ChatMsg is the broadcastable unit.
type ChatMsg struct {
	Envelope
	Sender string
	Text   string
}

// Receipt acknowledges a ChatMsg to its sender.
type Receipt struct {
	Envelope
	Ack uint64
}

// Typing is a presence signal.
type Typing struct {
	Envelope
	Who    string
	Status bool
}

// Bye announces a graceful leave.
type Bye struct {
	Envelope
	Reason string
}

// Error reports a fault to the peer.
type Error struct {
	Envelope
	Code uint64
	Msg  string
}

// Unknown carries the envelope of a PDU whose type this peer does not understand.
type Unknown struct {
	Envelope
}

// now is the PDU clock. Timestamps travel with microsecond precision.
var now = func() time.Time {
	return time.UnixMicro(time.Now().UnixMicro())
}

func envelope(t Type, seq uint64) Envelope {
	return Envelope{Type: t, Seq: seq, Timestamp: now()}
}

// NewHello creates a Hello. Its sequence is always 0.
func NewHello(name string) *Hello {
	return &Hello{Envelope: envelope(TypeHello, 0), Name: name}
}

// NewWelcome creates a Welcome with the given sequence.
func NewWelcome(seq uint64, server string) *Welcome {
	return &Welcome{Envelope: envelope(TypeWelcome, seq), Server: server}
}

// NewChatMsg creates a ChatMsg.
func NewChatMsg(seq uint64, sender, text string) *ChatMsg {
	return &ChatMsg{Envelope: envelope(TypeMessage, seq), Sender: sender, Text: text}
}

// NewReceipt creates a Receipt whose sequence equals the acknowledged one.
func NewReceipt(ack uint64) *Receipt {
	return &Receipt{Envelope: envelope(TypeReceipt, ack), Ack: ack}
}

// NewTyping creates a Typing signal. Its sequence is always 0.
func NewTyping(who string, status bool) *Typing {
	return &Typing{Envelope: envelope(TypeTyping, 0), Who: who, Status: status}
}

// NewBye creates a Bye. Its sequence is always 0.
func NewBye(reason string) *Bye {
	return &Bye{Envelope: envelope(TypeBye, 0), Reason: reason}
}

// NewError creates an Error. Its sequence is always 0.
func NewError(code uint64, msg string) *Error {
	return &Error{Envelope: envelope(TypeError, 0), Code: code, Msg: msg}
}
