package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Wire limits.
const (
	// MaxFrameSize caps a single reliable-channel payload (length prefix
	// excluded). Larger frames are a protocol violation, fatal to the
	// session.
	MaxFrameSize = 1 * 1024 * 1024

	// MaxDatagramSize caps a whole datagram. Oversized datagrams are
	// dropped with a warning, not fatal.
	MaxDatagramSize = 1200

	// MaxIDLength caps the ascii message id inside a frame.
	MaxIDLength = 64

	// SessionIDSize is the raw length of the session id embedded in every
	// client datagram.
	SessionIDSize = 16
)

// Codec errors. Frame errors are fatal to the session; datagram and decode
// errors are not.
var (
	ErrFrameTruncated   = errors.New("frame truncated")
	ErrFrameTooLarge    = errors.New("frame too large")
	ErrDatagramTooLarge = errors.New("datagram too large")
	ErrBadID            = errors.New("bad message id")
	ErrDecodeFailed     = errors.New("decode failed")
)

// Frame is one decoded message: an ascii id and its raw JSON body.
type Frame struct {
	ID   string
	Body []byte
}

// EncodeBody marshals a typed body to its wire form.
func EncodeBody(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return b, nil
}

// DecodeBody unmarshals a wire body into a typed value. The decoder is
// length-fenced by construction: it only ever sees the body slice.
func DecodeBody(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return nil
}

// encodePayload builds the inner payload shared by both channels:
// u32 LE id_len | ascii id | body.
func encodePayload(id string, body []byte) ([]byte, error) {
	if id == "" || len(id) > MaxIDLength {
		return nil, ErrBadID
	}
	buf := make([]byte, 4+len(id)+len(body))
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(id)))
	copy(buf[4:], id)
	copy(buf[4+len(id):], body)
	return buf, nil
}

// splitPayload parses the id_len|id prefix and returns the id and the rest.
func splitPayload(p []byte) (string, []byte, error) {
	if len(p) < 4 {
		return "", nil, ErrFrameTruncated
	}
	idLen := binary.LittleEndian.Uint32(p[:4])
	if idLen == 0 || idLen > MaxIDLength || int(idLen) > len(p)-4 {
		return "", nil, ErrBadID
	}
	id := string(p[4 : 4+idLen])
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return "", nil, ErrBadID
		}
	}
	return id, p[4+idLen:], nil
}

// WriteFrame writes one length-prefixed message to the reliable channel:
// u32 LE len | u32 LE id_len | ascii id | body.
func WriteFrame(w io.Writer, id string, body []byte) error {
	payload, err := encodePayload(id, body)
	if err != nil {
		return err
	}
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed message from the reliable channel. A
// short read maps to ErrFrameTruncated; io.EOF on the length prefix is
// passed through so callers can tell a clean close from a torn frame.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("%w: %v", ErrFrameTruncated, err)
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length > MaxFrameSize {
		return Frame{}, ErrFrameTooLarge
	}
	if length < 4 {
		return Frame{}, ErrFrameTruncated
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrFrameTruncated, err)
	}
	id, body, err := splitPayload(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{ID: id, Body: body}, nil
}

// Datagram is one decoded datagram: id, the sender's session id, and body.
type Datagram struct {
	ID        string
	SessionID [SessionIDSize]byte
	Body      []byte
}

// EncodeDatagram builds a self-delimiting datagram:
// u32 LE id_len | ascii id | 16-byte session id | body.
func EncodeDatagram(id string, sessionID [SessionIDSize]byte, body []byte) ([]byte, error) {
	payload, err := encodePayload(id, append(sessionID[:], body...))
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxDatagramSize {
		return nil, ErrDatagramTooLarge
	}
	return payload, nil
}

// DecodeDatagram parses a whole datagram.
func DecodeDatagram(p []byte) (Datagram, error) {
	if len(p) > MaxDatagramSize {
		return Datagram{}, ErrDatagramTooLarge
	}
	id, rest, err := splitPayload(p)
	if err != nil {
		return Datagram{}, err
	}
	if len(rest) < SessionIDSize {
		return Datagram{}, ErrFrameTruncated
	}
	var d Datagram
	d.ID = id
	copy(d.SessionID[:], rest[:SessionIDSize])
	d.Body = rest[SessionIDSize:]
	return d, nil
}
