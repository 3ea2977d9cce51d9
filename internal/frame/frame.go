// Package frame delimits PDUs on byte streams that do not preserve write
// boundaries. Each frame is a protobuf varint length followed by the body.
package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// DefaultMaxSize bounds a single frame body.
const DefaultMaxSize = 64 << 10

var (
	ErrFrameTooLarge = errors.New("frame too large")
	ErrBadLength     = errors.New("malformed frame length")
)

// Append appends the framed form of body to dst.
func Append(dst, body []byte) []byte {
	dst = protowire.AppendVarint(dst, uint64(len(body)))
	return append(dst, body...)
}

// Write writes body as one frame using a single Write call.
func Write(w io.Writer, body []byte) error {
	buf := make([]byte, 0, protowire.SizeVarint(uint64(len(body)))+len(body))
	if _, err := w.Write(Append(buf, body)); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Reader reads frames from a stream.
type Reader struct {
	r   *bufio.Reader
	max int
}

// NewReader returns a Reader that rejects bodies larger than max bytes.
// A max of zero or less selects DefaultMaxSize.
func NewReader(r io.Reader, max int) *Reader {
	if max <= 0 {
		max = DefaultMaxSize
	}
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Reader{r: br, max: max}
}

// Read returns the next frame body. It returns io.EOF only when the stream
// ends on a frame boundary.
func (fr *Reader) Read() ([]byte, error) {
	var hdr [binary.MaxVarintLen64]byte
	n := 0
	for {
		if n == len(hdr) {
			return nil, ErrBadLength
		}
		c, err := fr.r.ReadByte()
		if err != nil {
			if err == io.EOF && n > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		hdr[n] = c
		n++
		if c < 0x80 {
			break
		}
	}

	size, m := protowire.ConsumeVarint(hdr[:n])
	if m < 0 {
		return nil, fmt.Errorf("%w: %v", ErrBadLength, protowire.ParseError(m))
	}
	if size > uint64(fr.max) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, fr.max)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}
