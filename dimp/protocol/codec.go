package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxFramePayload limits a single frame payload, before and after
	// decompression.
	MaxFramePayload = 1 << 20

	headerSize = 6
)

var (
	ErrFrameTooLarge = errors.New("protocol: frame payload too large")
	ErrInvalidType   = errors.New("protocol: invalid message type")
	ErrUnknownFlags  = errors.New("protocol: unknown frame flags")
)

// Frame is one unit on a stream:
//
//	type (1) | flags (1) | length (4, big endian) | payload
//
// Payload always holds the uncompressed bytes; compression is applied by
// WriteFrame and undone by ReadFrame.
type Frame struct {
	Type    MessageType
	Flags   Flags
	Payload []byte
}

// WriteFrame writes f. If f.Flags has FlagCompressed the payload is
// compressed, but only when that makes it smaller; otherwise the flag is
// dropped on the wire.
func WriteFrame(w io.Writer, f Frame) error {
	if f.Type == 0 {
		return ErrInvalidType
	}
	if f.Flags&^FlagCompressed != 0 {
		return ErrUnknownFlags
	}
	if len(f.Payload) > MaxFramePayload {
		return ErrFrameTooLarge
	}

	body, wire := f.Payload, Flags(0)
	if f.Flags.Has(FlagCompressed) {
		if packed, ok := compressIfSmaller(body); ok {
			body, wire = packed, FlagCompressed
		}
	}

	buf := make([]byte, headerSize, headerSize+len(body))
	buf[0] = byte(f.Type)
	buf[1] = byte(wire)
	binary.BigEndian.PutUint32(buf[2:headerSize], uint32(len(body)))
	_, err := w.Write(append(buf, body...))
	return err
}

// ReadFrame reads one frame from r. The returned Flags are the ones seen on
// the wire.
func ReadFrame(r io.Reader) (Frame, error) {
	var head [headerSize]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return Frame{}, err
	}
	f := Frame{Type: MessageType(head[0]), Flags: Flags(head[1])}
	if f.Type == 0 {
		return Frame{}, ErrInvalidType
	}
	if f.Flags&^FlagCompressed != 0 {
		return Frame{}, fmt.Errorf("%w: %#x", ErrUnknownFlags, uint8(f.Flags))
	}
	size := binary.BigEndian.Uint32(head[2:headerSize])
	if size > MaxFramePayload {
		return Frame{}, fmt.Errorf("%w: %d", ErrFrameTooLarge, size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, err
	}
	if f.Flags.Has(FlagCompressed) {
		var err error
		if body, err = Decompress(body, MaxFramePayload); err != nil {
			return Frame{}, err
		}
	}
	f.Payload = body
	return f, nil
}
