package protocol

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

var (
	// ErrMissingField is wrapped by DecodeError when a required key is absent or null.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidUTF8 is wrapped by DecodeError when text is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("invalid utf-8")
	// ErrInvalidTimestamp is wrapped by DecodeError when ts cannot be
	// represented as a microsecond time.
	ErrInvalidTimestamp = errors.New("timestamp out of range")
)

// maxTS bounds ts in seconds so that ts*1e6 fits an int64.
const maxTS = float64(math.MaxInt64/1_000_000) - 1

// DecodeError reports bytes that do not form a valid PDU.
// Type is empty when the envelope itself could not be read.
type DecodeError struct {
	Type Type
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("failed to decode pdu: %v", e.Err)
	}
	return fmt.Sprintf("failed to decode %s: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON key names instead of Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("utf8", func(fl validator.FieldLevel) bool {
		return utf8.ValidString(fl.Field().String())
	})
	return v
}

// wireEnvelope mirrors the JSON keys shared by all PDUs. Pointers tell an
// absent key apart from a zero value. Variant wires embed it unvalidated:
// Decode checks the envelope on its own before the variant body.
type wireEnvelope struct {
	Type *Type    `json:"type" validate:"required,utf8"`
	Seq  *uint64  `json:"seq" validate:"required"`
	TS   *float64 `json:"ts" validate:"required"`
}

type helloWire struct {
	wireEnvelope `validate:"-"`
	Name *string `json:"name" validate:"required,utf8"`
}

type welcomeWire struct {
	wireEnvelope `validate:"-"`
	Server *string `json:"server" validate:"required,utf8"`
}

type chatWire struct {
	wireEnvelope `validate:"-"`
	Sender *string `json:"sender" validate:"required,utf8"`
	Text   *string `json:"text" validate:"required,utf8"`
}

type receiptWire struct {
	wireEnvelope `validate:"-"`
	Ack *uint64 `json:"ack" validate:"required"`
}

type typingWire struct {
	wireEnvelope `validate:"-"`
	Who    *string `json:"who" validate:"required,utf8"`
	Status *bool   `json:"status" validate:"required"`
}

type byeWire struct {
	wireEnvelope `validate:"-"`
	Reason string `json:"reason" validate:"utf8"`
}

type errorWire struct {
	wireEnvelope `validate:"-"`
	Code *uint64 `json:"code" validate:"required"`
	Msg  *string `json:"msg" validate:"required,utf8"`
}

func ptr[T any](v T) *T {
	return &v
}

func toWire(e Envelope) wireEnvelope {
	return wireEnvelope{
		Type: ptr(e.Type),
		Seq:  ptr(e.Seq),
		TS:   ptr(float64(e.Timestamp.UnixMicro()) / 1e6),
	}
}

func (w wireEnvelope) envelope() Envelope {
	return Envelope{
		Type:      *w.Type,
		Seq:       *w.Seq,
		Timestamp: time.UnixMicro(int64(math.Round(*w.TS * 1e6))),
	}
}

// withSeq returns the envelope with its sequence replaced.
func (w wireEnvelope) withSeq(seq uint64) Envelope {
	e := w.envelope()
	e.Seq = seq
	return e
}

// Encode serializes a PDU into one self-describing JSON document.
func Encode(p PDU) ([]byte, error) {
	var v any
	switch m := p.(type) {
	case *Hello:
		v = helloWire{toWire(m.Envelope), ptr(m.Name)}
	case *Welcome:
		v = welcomeWire{toWire(m.Envelope), ptr(m.Server)}
	case *ChatMsg:
		v = chatWire{toWire(m.Envelope), ptr(m.Sender), ptr(m.Text)}
	case *Receipt:
		v = receiptWire{toWire(m.Envelope), ptr(m.Ack)}
	case *Typing:
		v = typingWire{toWire(m.Envelope), ptr(m.Who), ptr(m.Status)}
	case *Bye:
		v = byeWire{toWire(m.Envelope), m.Reason}
	case *Error:
		v = errorWire{toWire(m.Envelope), ptr(m.Code), ptr(m.Msg)}
	case *Unknown:
		v = toWire(m.Envelope)
	default:
		return nil, fmt.Errorf("failed to encode message: unsupported pdu %T", p)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// Decode parses one PDU. The envelope is read first; a known discriminator
// then selects the variant schema, an unknown one yields *Unknown. Keys a
// variant does not declare are ignored. Hello, Typing, Bye and Error always
// decode with seq 0 and Receipt with seq equal to its ack, whatever the
// wire carried.
func Decode(data []byte) (PDU, error) {
	if !utf8.Valid(data) {
		return nil, &DecodeError{Err: ErrInvalidUTF8}
	}
	var env wireEnvelope
	if err := unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if ts := *env.TS; math.IsNaN(ts) || math.Abs(ts) > maxTS {
		return nil, &DecodeError{Type: *env.Type, Err: fmt.Errorf("%w: %v", ErrInvalidTimestamp, ts)}
	}

	t := *env.Type
	switch t {
	case TypeHello:
		var w helloWire
		if err := unmarshal(data, &w); err != nil {
			return nil, &DecodeError{Type: t, Err: err}
		}
		return &Hello{Envelope: w.withSeq(0), Name: *w.Name}, nil
	case TypeWelcome:
		var w welcomeWire
		if err := unmarshal(data, &w); err != nil {
			return nil, &DecodeError{Type: t, Err: err}
		}
		return &Welcome{Envelope: w.envelope(), Server: *w.Server}, nil
	case TypeMessage:
		var w chatWire
		if err := unmarshal(data, &w); err != nil {
			return nil, &DecodeError{Type: t, Err: err}
		}
		return &ChatMsg{Envelope: w.envelope(), Sender: *w.Sender, Text: *w.Text}, nil
	case TypeReceipt:
		var w receiptWire
		if err := unmarshal(data, &w); err != nil {
			return nil, &DecodeError{Type: t, Err: err}
		}
		return &Receipt{Envelope: w.withSeq(*w.Ack), Ack: *w.Ack}, nil
	case TypeTyping:
		var w typingWire
		if err := unmarshal(data, &w); err != nil {
			return nil, &DecodeError{Type: t, Err: err}
		}
		return &Typing{Envelope: w.withSeq(0), Who: *w.Who, Status: *w.Status}, nil
	case TypeBye:
		var w byeWire
		if err := unmarshal(data, &w); err != nil {
			return nil, &DecodeError{Type: t, Err: err}
		}
		return &Bye{Envelope: w.withSeq(0), Reason: w.Reason}, nil
	case TypeError:
		var w errorWire
		if err := unmarshal(data, &w); err != nil {
			return nil, &DecodeError{Type: t, Err: err}
		}
		return &Error{Envelope: w.withSeq(0), Code: *w.Code, Msg: *w.Msg}, nil
	default:
		return &Unknown{Envelope: env.envelope()}, nil
	}
}

func unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			if verrs[0].Tag() == "utf8" {
				return fmt.Errorf("%w in %q", ErrInvalidUTF8, verrs[0].Field())
			}
			return fmt.Errorf("%w %q", ErrMissingField, verrs[0].Field())
		}
		return err
	}
	return nil
}
