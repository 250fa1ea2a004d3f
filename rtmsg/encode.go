package rtmsg

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Encoder writes RBus messages.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder creates an encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// EncodeMessage writes a message. Markers, version and all lengths are
// computed from h and payload. The round trip block is written if
// h.Roundtrip is set.
func (e *Encoder) EncodeMessage(h Header, payload []byte) error {
	b, err := Marshal(h, payload)
	if err != nil {
		return err
	}
	if _, err = e.w.Write(b); err != nil {
		return fmt.Errorf("Writing of message failed: %w", err)
	}
	return e.w.Flush()
}

// Marshal encodes a message into a byte slice.
func Marshal(h Header, payload []byte) ([]byte, error) {
	if len(h.Topic) >= MaxTopicLength || len(h.ReplyTopic) >= MaxTopicLength {
		return nil, fmt.Errorf("Topic too long")
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("Payload too large: %d bytes", len(payload))
	}
	hdrLen := FixedHeaderSize + 4 + len(h.Topic) + 4 + len(h.ReplyTopic) + 2
	if h.Roundtrip != nil {
		hdrLen += roundtripSize
	}

	var buf bytes.Buffer
	buf.Grow(hdrLen + len(payload))
	fields := []interface{}{
		uint16(Marker),
		uint16(Version),
		uint16(hdrLen),
		h.SequenceNumber,
		uint32(h.Flags),
		h.ControlData,
		uint32(len(payload)),
		uint32(len(h.Topic)),
	}
	for _, f := range fields {
		// writes to a bytes.Buffer do not fail
		_ = binary.Write(&buf, binary.BigEndian, f)
	}
	buf.WriteString(h.Topic)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(h.ReplyTopic)))
	buf.WriteString(h.ReplyTopic)
	if rt := h.Roundtrip; rt != nil {
		_ = binary.Write(&buf, binary.BigEndian, *rt)
	}
	_ = binary.Write(&buf, binary.BigEndian, uint16(Marker))
	buf.Write(payload)
	return buf.Bytes(), nil
}

// MustMarshal is like Marshal but panics on error. It is meant for fixtures.
func MustMarshal(h Header, payload []byte) []byte {
	b, err := Marshal(h, payload)
	if err != nil {
		panic(err)
	}
	return b
}
