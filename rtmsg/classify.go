package rtmsg

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotRBus is returned by Check for data that does not look like an RBus
// message.
var ErrNotRBus = errors.New("Not an RBus message")

// Check tests whether prefix plausibly starts an RBus message. Only the fixed
// header is inspected. The returned error names the failed test.
func Check(prefix []byte) error {
	if len(prefix) < FixedHeaderSize {
		return fmt.Errorf("%w: %d bytes, need %d", ErrNotRBus, len(prefix), FixedHeaderSize)
	}
	if m := binary.BigEndian.Uint16(prefix[0:]); m != Marker {
		return fmt.Errorf("%w: marker 0x%04x", ErrNotRBus, m)
	}
	if v := binary.BigEndian.Uint16(prefix[2:]); v != Version {
		return fmt.Errorf("%w: version %d", ErrNotRBus, v)
	}
	if hl := binary.BigEndian.Uint16(prefix[4:]); hl < MinHeaderLength || hl > MaxHeaderLength {
		return fmt.Errorf("%w: header length %d", ErrNotRBus, hl)
	}
	if pl := binary.BigEndian.Uint32(prefix[18:]); pl > MaxPayloadSize {
		return fmt.Errorf("%w: payload length %d", ErrNotRBus, pl)
	}
	return nil
}

// Classify reports whether prefix plausibly starts an RBus message.
func Classify(prefix []byte) bool {
	return Check(prefix) == nil
}
