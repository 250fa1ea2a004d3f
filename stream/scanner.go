/*
Package stream reassembles RBus messages from byte streams and capture files.

A Scanner reads exactly the bytes the framer asks for, so it can sit directly
on a socket. Data that does not look like RBus is skipped up to the next
offset whose prefix classifies.
*/
package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/mdzio/go-logging"

	"github.com/mdzio/go-rbus/rtmsg"
)

var log = logging.Get("rbus-stream")

// ErrIncompleteMessage is returned if the stream ends inside a message.
var ErrIncompleteMessage = errors.New("Stream ended inside a message")

const readChunk = 4096

var marker = []byte{rtmsg.Marker >> 8, rtmsg.Marker & 0xff}

// Scanner splits a byte stream into RBus messages.
type Scanner struct {
	r       io.Reader
	buf     []byte
	msg     []byte
	err     error
	skipped int
}

// NewScanner creates a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: r}
}

// Scan advances to the next message. It returns false at the end of the
// stream or on an error; Err tells which.
func (s *Scanner) Scan() bool {
	s.msg = nil
	if s.err != nil {
		return false
	}
	for {
		if len(s.buf) >= rtmsg.FixedHeaderSize && !rtmsg.Classify(s.buf) {
			s.resync()
			continue
		}
		m, err := rtmsg.Frame(s.buf)
		var nm *rtmsg.NeedMoreError
		switch {
		case errors.As(err, &nm):
			if err := s.fill(nm.N); err != nil {
				s.err = err
				return false
			}
			continue
		case err != nil:
			log.Debugf("Framing failed: %v", err)
			s.resync()
			continue
		}
		n := m.Len()
		s.msg = s.buf[:n:n]
		s.buf = s.buf[n:]
		return true
	}
}

// Bytes returns the current message. The slice stays valid after the next
// call to Scan.
func (s *Scanner) Bytes() []byte {
	return s.msg
}

// Err returns the first error, or nil if the stream ended at a message
// boundary.
func (s *Scanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}

// Skipped returns the number of bytes dropped while resynchronizing.
func (s *Scanner) Skipped() int {
	return s.skipped
}

// resync drops the first byte and everything up to the next marker.
func (s *Scanner) resync() {
	n := 1
	if i := bytes.Index(s.buf[1:], marker); i >= 0 {
		n += i
	} else if s.buf[len(s.buf)-1] == marker[0] {
		// may be the first half of a marker
		n = len(s.buf) - 1
	} else {
		n = len(s.buf)
	}
	log.Warningf("Skipping %d bytes of non-RBus data", n)
	s.skipped += n
	s.buf = s.buf[n:]
}

// fill reads at least n more bytes.
func (s *Scanner) fill(n int) error {
	old := len(s.buf)
	if cap(s.buf)-old < n {
		nb := make([]byte, old, old+n+readChunk)
		copy(nb, s.buf)
		s.buf = nb
	}
	k, err := io.ReadAtLeast(s.r, s.buf[old:cap(s.buf)], n)
	s.buf = s.buf[:old+k]
	switch {
	case err == io.EOF && len(s.buf) == 0:
		return io.EOF
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		return fmt.Errorf("%w (%d bytes left)", ErrIncompleteMessage, len(s.buf))
	case err != nil:
		return fmt.Errorf("Reading stream failed: %w", err)
	}
	return nil
}

// Split frames a complete capture into messages. Bytes that do not belong to
// a message are skipped. An incomplete message at the end is reported with
// ErrIncompleteMessage together with the messages found before.
func Split(buf []byte) ([][]byte, error) {
	s := NewScanner(bytes.NewReader(buf))
	var msgs [][]byte
	for s.Scan() {
		msgs = append(msgs, s.Bytes())
	}
	return msgs, s.Err()
}
