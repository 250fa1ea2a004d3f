/*
Package rtmsg frames RBus router messages (rtMessage) on a byte stream. A
message consists of a big endian header followed by a payload:

	opening marker  uint16 (0xAAAA)
	version         uint16
	header length   uint16
	sequence number uint32
	flags           uint32
	control data    uint32
	payload length  uint32
	topic           uint32 length + bytes
	reply topic     uint32 length + bytes
	[round trip     5 x uint32 timestamps]
	closing marker  uint16 (0xAAAA)
*/
package rtmsg

import (
	"strings"
)

// Protocol constants.
const (
	Marker  = 0xAAAA
	Version = 2

	// FixedHeaderSize is the number of bytes needed to learn the total
	// message length.
	FixedHeaderSize = 22

	MinHeaderLength = 32
	MaxHeaderLength = 4096
	MaxPayloadSize  = 10 * 1024 * 1024
	MaxTopicLength  = 1024

	roundtripSize = 20

	DefaultTCPPort    = 10002
	DefaultSocketPath = "/tmp/rtrouted"
)

// Flags of a message.
type Flags uint32

// Flag bits.
const (
	FlagRequest       Flags = 0x01
	FlagResponse      Flags = 0x02
	FlagUndeliverable Flags = 0x04
	FlagTainted       Flags = 0x08
	FlagRawBinary     Flags = 0x10
	FlagEncrypted     Flags = 0x20
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagRequest, "request"},
	{FlagResponse, "response"},
	{FlagUndeliverable, "undeliverable"},
	{FlagTainted, "tainted"},
	{FlagRawBinary, "raw_binary"},
	{FlagEncrypted, "encrypted"},
}

// Has reports whether all bits of o are set.
func (f Flags) Has(o Flags) bool {
	return f&o == o
}

func (f Flags) String() string {
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Roundtrip holds the optional round trip timestamps.
type Roundtrip struct {
	T1, T2, T3, T4, T5 uint32
}

// Header is the decoded message header.
type Header struct {
	OpeningMarker    uint16
	Version          uint16
	HeaderLength     uint16
	SequenceNumber   uint32
	Flags            Flags
	ControlData      uint32
	PayloadLength    uint32
	TopicLength      uint32
	Topic            string
	ReplyTopicLength uint32
	ReplyTopic       string
	// Roundtrip is nil if the message carries no timestamps.
	Roundtrip     *Roundtrip
	ClosingMarker uint16
}

// Len returns the total length of the message.
func (h *Header) Len() int {
	return int(h.HeaderLength) + int(h.PayloadLength)
}

// Kind returns the message type shown in summaries.
func (h *Header) Kind() string {
	switch {
	case h.Flags.Has(FlagRequest):
		if h.ControlData != 0 {
			return "Request (forwarded)"
		}
		return "Request"
	case h.Flags.Has(FlagResponse):
		if h.ControlData != 0 {
			return "Response (forwarded)"
		}
		return "Response"
	}
	return "Message"
}

// Summary returns a one line description like "Request: Device.WiFi.".
func (h *Header) Summary() string {
	return h.Kind() + ": " + h.Topic
}
