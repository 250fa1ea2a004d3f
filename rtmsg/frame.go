package rtmsg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// Framing errors. ErrNeedMore and ErrInvalidLength stop the interpretation of
// a message. ErrMalformedHeader and ErrTruncatedPayload are collected in
// Message.Problems while decoding goes on.
var (
	ErrNeedMore         = errors.New("Need more data")
	ErrInvalidLength    = errors.New("Invalid length")
	ErrMalformedHeader  = errors.New("Malformed header")
	ErrTruncatedPayload = errors.New("Truncated payload")
)

// NeedMoreError requests N more bytes from the host before the message can be
// framed.
type NeedMoreError struct {
	N int
}

func (e *NeedMoreError) Error() string {
	return fmt.Sprintf("Need %d more bytes", e.N)
}

// Unwrap returns ErrNeedMore.
func (e *NeedMoreError) Unwrap() error {
	return ErrNeedMore
}

// Message is a framed message.
type Message struct {
	Header Header
	// HeaderSize is the number of header bytes actually parsed. The payload
	// starts there.
	HeaderSize int
	// Payload holds the available payload bytes. It is shorter than
	// Header.PayloadLength if the payload is truncated.
	Payload []byte
	// Problems lists the non-fatal conditions found while framing.
	Problems []error
	// ClosingMarkerRead is set if the header held the closing marker field,
	// whatever its value.
	ClosingMarkerRead bool
}

// Len returns the total length of the message.
func (m *Message) Len() int {
	return m.Header.Len()
}

// Truncated reports whether payload bytes are missing.
func (m *Message) Truncated() bool {
	return len(m.Payload) < int(m.Header.PayloadLength)
}

// Frame frames the message at the start of buf. If buf holds less than the
// complete message, a *NeedMoreError is returned. On ErrInvalidLength the
// returned message holds the header fields decoded so far.
func Frame(buf []byte) (*Message, error) {
	return frame(buf, false)
}

// FrameCaptured is like Frame, but decodes whatever part of the message is
// available instead of asking for more bytes, e.g. for the tail of a capture.
// Missing payload bytes are reported as ErrTruncatedPayload.
func FrameCaptured(buf []byte) (*Message, error) {
	return frame(buf, true)
}

func frame(buf []byte, captured bool) (*Message, error) {
	if len(buf) < FixedHeaderSize {
		if captured {
			return nil, fmt.Errorf("%w: %d bytes captured, fixed header needs %d", ErrInvalidLength, len(buf), FixedHeaderSize)
		}
		return nil, &NeedMoreError{N: FixedHeaderSize - len(buf)}
	}

	m := &Message{}
	h := &m.Header
	h.OpeningMarker = binary.BigEndian.Uint16(buf[0:])
	h.Version = binary.BigEndian.Uint16(buf[2:])
	h.HeaderLength = binary.BigEndian.Uint16(buf[4:])
	h.SequenceNumber = binary.BigEndian.Uint32(buf[6:])
	h.Flags = Flags(binary.BigEndian.Uint32(buf[10:]))
	h.ControlData = binary.BigEndian.Uint32(buf[14:])
	h.PayloadLength = binary.BigEndian.Uint32(buf[18:])
	m.HeaderSize = FixedHeaderSize

	if h.OpeningMarker != Marker {
		m.Problems = append(m.Problems, fmt.Errorf("%w: opening marker 0x%04x, expected 0x%04x", ErrMalformedHeader, h.OpeningMarker, Marker))
	}
	if h.PayloadLength > MaxPayloadSize {
		return m, fmt.Errorf("%w: payload length %d exceeds %d", ErrInvalidLength, h.PayloadLength, MaxPayloadSize)
	}
	if h.HeaderLength < MinHeaderLength {
		return m, fmt.Errorf("%w: header length %d below %d", ErrInvalidLength, h.HeaderLength, MinHeaderLength)
	}

	total := h.Len()
	end := total
	if len(buf) < total {
		if !captured {
			return m, &NeedMoreError{N: total - len(buf)}
		}
		if int(h.HeaderLength) > len(buf) {
			return m, fmt.Errorf("%w: header length %d exceeds %d captured bytes", ErrInvalidLength, h.HeaderLength, len(buf))
		}
		end = len(buf)
	}

	p := parser{buf: buf[:end], off: FixedHeaderSize}
	var err error
	h.TopicLength, h.Topic, err = p.topic("topic")
	if err != nil {
		m.HeaderSize = p.off
		return m, err
	}
	h.ReplyTopicLength, h.ReplyTopic, err = p.topic("reply topic")
	if err != nil {
		m.HeaderSize = p.off
		return m, err
	}

	// the round trip block is recognized by the closing marker following it
	if p.remaining() >= roundtripSize+2 && binary.BigEndian.Uint16(p.buf[p.off+roundtripSize:]) == Marker {
		rt := &Roundtrip{}
		rt.T1 = p.uint32()
		rt.T2 = p.uint32()
		rt.T3 = p.uint32()
		rt.T4 = p.uint32()
		rt.T5 = p.uint32()
		h.Roundtrip = rt
	}

	if p.remaining() >= 2 {
		h.ClosingMarker = binary.BigEndian.Uint16(p.buf[p.off:])
		m.ClosingMarkerRead = true
		p.off += 2
		if h.ClosingMarker != Marker {
			m.Problems = append(m.Problems, fmt.Errorf("%w: closing marker 0x%04x, expected 0x%04x", ErrMalformedHeader, h.ClosingMarker, Marker))
		}
	} else {
		m.Problems = append(m.Problems, fmt.Errorf("%w: closing marker missing", ErrMalformedHeader))
	}
	m.HeaderSize = p.off

	avail := len(p.buf) - p.off
	if avail > int(h.PayloadLength) {
		avail = int(h.PayloadLength)
	}
	m.Payload = p.buf[p.off : p.off+avail]
	if m.Truncated() {
		m.Problems = append(m.Problems, fmt.Errorf("%w: %d of %d bytes available", ErrTruncatedPayload, avail, h.PayloadLength))
	}
	return m, nil
}

type parser struct {
	buf []byte
	off int
}

func (p *parser) remaining() int {
	return len(p.buf) - p.off
}

func (p *parser) uint32() uint32 {
	v := binary.BigEndian.Uint32(p.buf[p.off:])
	p.off += 4
	return v
}

func (p *parser) topic(name string) (uint32, string, error) {
	if p.remaining() < 4 {
		return 0, "", fmt.Errorf("%w: %s length beyond end of header", ErrInvalidLength, name)
	}
	n := p.uint32()
	if n >= MaxTopicLength {
		return n, "", fmt.Errorf("%w: %s length %d exceeds %d", ErrInvalidLength, name, n, MaxTopicLength-1)
	}
	if int(n) > p.remaining() {
		return n, "", fmt.Errorf("%w: %s length %d exceeds remaining %d bytes", ErrInvalidLength, name, n, p.remaining())
	}
	s := TopicString(p.buf[p.off : p.off+int(n)])
	p.off += int(n)
	return n, s, nil
}

// TopicString converts wire bytes into a printable string. Trailing NUL
// bytes are removed, invalid UTF-8 is replaced.
func TopicString(b []byte) string {
	s, err := unicode.UTF8.NewDecoder().String(strings.TrimRight(string(b), "\x00"))
	if err != nil {
		return strings.ToValidUTF8(string(b), "�")
	}
	return s
}
