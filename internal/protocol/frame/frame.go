package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic spells "LOOM". Version bumps on any header or payload layout change.
const (
	Magic   uint32 = 0x4C4F4F4D
	Version uint16 = 1
)

// The fixed header is 32 bytes, big-endian:
//
//	magic u32 | version u16 | header_len u16 | message_id u64 |
//	message_type u32 | flags u32 | payload_len u64
//
// header_len covers the fixed header plus trailing auth bytes, so
// header_len - 32 is the auth length.
const (
	FixedHeaderLen uint16 = 32

	FlagHasAuth    uint32 = 0x01
	FlagIsResponse uint32 = 0x02
	FlagIsError    uint32 = 0x04
)

var (
	ErrShortHeader       = errors.New("frame: short fixed header")
	ErrHeaderLenTooSmall = errors.New("frame: header_len smaller than fixed header")
	ErrHeaderLenMismatch = errors.New("frame: auth present but header_len has no auth bytes")
	ErrPayloadTooLarge   = errors.New("frame: payload too large")
	ErrAuthTooLarge      = errors.New("frame: auth too large")
)

// Header is the fixed wire header.
type Header struct {
	Magic       uint32
	Version     uint16
	HeaderLen   uint16
	MessageID   uint64
	MessageType uint32
	Flags       uint32
	PayloadLen  uint64
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Auth    []byte
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxAuthBytes    uint64
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxAuthBytes:    64 * 1024,
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

// ReadFrame reads one complete frame. A stream that ends cleanly between
// frames returns io.EOF; a stream torn inside the fixed header returns
// ErrShortHeader.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	fixed := make([]byte, FixedHeaderLen)
	n, err := io.ReadFull(r, fixed)
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed)
	if err != nil {
		return Frame{}, err
	}
	if h.HeaderLen < FixedHeaderLen {
		return Frame{}, ErrHeaderLenTooSmall
	}

	authLen := uint64(h.HeaderLen - FixedHeaderLen)
	switch {
	case h.Flags&FlagHasAuth != 0 && authLen == 0:
		return Frame{}, ErrHeaderLenMismatch
	case authLen > limits.MaxAuthBytes:
		return Frame{}, ErrAuthTooLarge
	case h.PayloadLen > limits.MaxPayloadBytes:
		return Frame{}, ErrPayloadTooLarge
	}

	body := make([]byte, authLen+h.PayloadLen)
	if len(body) > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Header: h, Auth: body[:authLen:authLen], Payload: body[authLen:]}, nil
}

// WriteFrame derives header_len, payload_len, and the auth flag from the
// frame contents and writes the whole frame with a single Write call.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	authLen := uint64(len(f.Auth))
	payloadLen := uint64(len(f.Payload))
	if authLen > limits.MaxAuthBytes {
		return ErrAuthTooLarge
	}
	if payloadLen > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}

	h := f.Header
	h.HeaderLen = FixedHeaderLen + uint16(authLen)
	h.PayloadLen = payloadLen
	if authLen > 0 {
		h.Flags |= FlagHasAuth
	} else {
		h.Flags &^= FlagHasAuth
	}

	buf := make([]byte, 0, uint64(FixedHeaderLen)+authLen+payloadLen)
	buf = appendHeader(buf, h)
	buf = append(buf, f.Auth...)
	buf = append(buf, f.Payload...)
	_, err := w.Write(buf)
	return err
}

func appendHeader(buf []byte, h Header) []byte {
	buf = binary.BigEndian.AppendUint32(buf, h.Magic)
	buf = binary.BigEndian.AppendUint16(buf, h.Version)
	buf = binary.BigEndian.AppendUint16(buf, h.HeaderLen)
	buf = binary.BigEndian.AppendUint64(buf, h.MessageID)
	buf = binary.BigEndian.AppendUint32(buf, h.MessageType)
	buf = binary.BigEndian.AppendUint32(buf, h.Flags)
	buf = binary.BigEndian.AppendUint64(buf, h.PayloadLen)
	return buf
}

// EncodeHeader renders the fixed header bytes.
func EncodeHeader(h Header) []byte {
	return appendHeader(make([]byte, 0, FixedHeaderLen), h)
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:       binary.BigEndian.Uint32(b[0:4]),
		Version:     binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:   binary.BigEndian.Uint16(b[6:8]),
		MessageID:   binary.BigEndian.Uint64(b[8:16]),
		MessageType: binary.BigEndian.Uint32(b[16:20]),
		Flags:       binary.BigEndian.Uint32(b[20:24]),
		PayloadLen:  binary.BigEndian.Uint64(b[24:32]),
	}, nil
}
