package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize caps a single framed envelope.
const MaxFrameSize = 1 << 20

var ErrFrameTooLarge = errors.New("frame too large")

// WriteFrame writes a 4-byte big-endian length followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return errors.New("empty frame")
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)

	total := 0
	for total < len(frame) {
		n, err := w.Write(frame[total:])
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		total += n
	}
	return nil
}

// ReadFrame reads one frame written by WriteFrame. A clean EOF before the
// length prefix is returned as io.EOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, errors.New("empty frame")
	}
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	payload := make([]byte, int(n))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteEnvelope encodes e and writes it as one frame.
func WriteEnvelope(w io.Writer, e Envelope) error {
	b, err := e.Marshal()
	if err != nil {
		return err
	}
	return WriteFrame(w, b)
}

// ReadEnvelope reads and decodes one framed envelope.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	b, err := ReadFrame(r)
	if err != nil {
		return Envelope{}, err
	}
	return UnmarshalEnvelope(b)
}
