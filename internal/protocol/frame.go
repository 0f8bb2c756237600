// internal/protocol/frame.go
//
// Length-prefixed framing shared by every TCP link in the platform:
// a 4-byte big-endian unsigned length followed by a UTF-8 JSON body.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the largest body a frame may carry (64 KiB).
const MaxFrameSize = 65536

// headerSize is the length prefix width in bytes.
const headerSize = 4

var (
	// ErrEmptyFrame is returned when a peer announces a zero-length body.
	ErrEmptyFrame = errors.New("protocol: empty frame")

	// ErrFrameTooLarge is returned when a body exceeds MaxFrameSize,
	// either while encoding or when a peer announces such a length.
	ErrFrameTooLarge = errors.New("protocol: frame exceeds 64 KiB limit")
)

// WriteFrame writes body to w with the length prefix.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) == 0 {
		return ErrEmptyFrame
	}
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("writing frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one complete frame from r and returns its body.
//
// A length outside (0, MaxFrameSize] is a protocol violation; the caller
// must close the connection when ErrEmptyFrame or ErrFrameTooLarge is
// returned. io.EOF before the header means the peer disconnected cleanly.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return nil, ErrEmptyFrame
	}
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}
	return body, nil
}

// WriteJSON marshals v and writes it as a single frame.
func WriteJSON(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding frame body: %w", err)
	}
	return WriteFrame(w, body)
}

// ReadJSON reads one frame and unmarshals its body into v.
func ReadJSON(r io.Reader, v any) error {
	body, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding frame body: %w", err)
	}
	return nil
}
