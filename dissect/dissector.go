/*
Package dissect decodes RBus messages into a tree of labeled fields.

The payload of a message is a sequence of MessagePack values. Messages with a
method marker (a string starting with METHOD_) are decoded with the layout of
the method, event publications and all other payloads with fallbacks. Every
problem found on the way is attached to the tree as a Condition.

A Dissector holds configuration only and may be used by concurrent
goroutines.
*/
package dissect

import (
	"errors"
	"fmt"

	"github.com/mdzio/go-logging"

	"github.com/mdzio/go-rbus/msgpack"
	"github.com/mdzio/go-rbus/rtmsg"
)

var log = logging.Get("rbus-dissect")

const minStructuredValues = 4

// Mode tells how the payload was decoded.
type Mode int

// Payload modes.
const (
	ModeEmpty Mode = iota
	ModeJSON
	ModeMethod
	ModeEvent
	ModeGeneric
)

var modeNames = [...]string{"empty", "json", "method", "event", "generic"}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Result summarizes a dissected message.
type Result struct {
	// Len is the number of bytes the message occupies. It is 0 if the
	// message could not be framed.
	Len    int
	Header rtmsg.Header
	Mode   Mode
	// Method is the method marker, if any.
	Method string
	// Info is the one line summary, e.g. "Request: Device.X GETPARAMETERVALUES".
	Info string
	// Objects is the number of decoded MessagePack values.
	Objects    int
	Conditions []*Condition
}

// Observer is notified about every dissected message.
type Observer interface {
	Observe(r *Result)
	NeedMore(n int)
}

// Dissector decodes RBus messages.
type Dissector struct {
	// Limits bounds the payload decoding. Zero values select the defaults.
	Limits msgpack.Limits
	// Observer is optional.
	Observer Observer
}

// recorder forwards to the host node and collects the conditions.
type recorder struct {
	n     Node
	conds *[]*Condition
}

func (r recorder) AddItem(it *Item) Node {
	return recorder{r.n.AddItem(it), r.conds}
}

func (r recorder) AddCondition(c *Condition) {
	*r.conds = append(*r.conds, c)
	r.n.AddCondition(c)
}

// Dissect decodes the message at the start of buf into root. If buf does not
// hold the complete message, a *rtmsg.NeedMoreError is returned and nothing
// is emitted. If the header lengths are invalid, the header fields decoded so
// far and the condition are emitted, and an error wrapping
// rtmsg.ErrInvalidLength is returned with the result.
func (d *Dissector) Dissect(buf []byte, root Node) (*Result, error) {
	m, err := rtmsg.Frame(buf)
	var nm *rtmsg.NeedMoreError
	if errors.As(err, &nm) {
		log.Tracef("Message incomplete, %d more bytes needed", nm.N)
		if d.Observer != nil {
			d.Observer.NeedMore(nm.N)
		}
		return nil, err
	}
	return d.dissectMessage(m, err, root), err
}

// DissectCaptured is like Dissect, but decodes the available part of an
// incomplete message instead of asking for more bytes.
func (d *Dissector) DissectCaptured(buf []byte, root Node) (*Result, error) {
	m, err := rtmsg.FrameCaptured(buf)
	if m == nil {
		return nil, err
	}
	return d.dissectMessage(m, err, root), err
}

// Heuristic dissects buf if its prefix looks like an RBus message. Otherwise
// an error wrapping rtmsg.ErrNotRBus is returned and nothing is emitted.
func (d *Dissector) Heuristic(buf []byte, root Node) (*Result, error) {
	if err := rtmsg.Check(buf); err != nil {
		log.Tracef("Heuristic rejected data: %v", err)
		return nil, err
	}
	return d.Dissect(buf, root)
}

func (d *Dissector) dissectMessage(m *rtmsg.Message, frameErr error, root Node) *Result {
	res := &Result{Header: m.Header}
	rec := recorder{root, &res.Conditions}

	res.Info = m.Header.Summary()
	pi := &Item{Field: fProtocol, Text: res.Info}
	proto := rec.AddItem(pi)
	hn := emitHeader(proto, m)
	for _, p := range m.Problems {
		hn.AddCondition(conditionOf(p))
	}
	if frameErr != nil {
		hn.AddCondition(conditionOf(frameErr))
	} else {
		res.Len = m.Len()
		d.dissectPayload(proto, m.Payload, res)
		pi.Text = res.Info
	}

	log.Tracef("Dissected message %d (%s): %s", m.Header.SequenceNumber, res.Mode, res.Info)
	if d.Observer != nil {
		d.Observer.Observe(res)
	}
	return res
}

func emitHeader(n Node, m *rtmsg.Message) Node {
	h := &m.Header
	hn := n.AddItem(&Item{Field: fHeader, Text: fmt.Sprintf("%d bytes", m.HeaderSize)})
	hn.AddItem(&Item{Field: fOpeningMarker, Value: h.OpeningMarker, Text: fmt.Sprintf("0x%04x", h.OpeningMarker)})
	hn.AddItem(&Item{Field: fVersion, Value: h.Version, Text: fmt.Sprint(h.Version)})
	hn.AddItem(&Item{Field: fHeaderLength, Value: h.HeaderLength, Text: fmt.Sprint(h.HeaderLength)})
	hn.AddItem(&Item{Field: fSequence, Value: h.SequenceNumber, Text: fmt.Sprint(h.SequenceNumber)})

	fn := hn.AddItem(&Item{Field: fFlags, Value: uint32(h.Flags), Text: fmt.Sprintf("0x%08x (%s)", uint32(h.Flags), h.Flags)})
	flagFields := []struct {
		f    *Field
		flag rtmsg.Flags
	}{
		{fFlagRequest, rtmsg.FlagRequest},
		{fFlagResponse, rtmsg.FlagResponse},
		{fFlagUndeliver, rtmsg.FlagUndeliverable},
		{fFlagTainted, rtmsg.FlagTainted},
		{fFlagRawBinary, rtmsg.FlagRawBinary},
		{fFlagEncrypted, rtmsg.FlagEncrypted},
	}
	for _, ff := range flagFields {
		set := h.Flags.Has(ff.flag)
		fn.AddItem(&Item{Field: ff.f, Value: set, Text: fmt.Sprint(set)})
	}

	hn.AddItem(&Item{Field: fControlData, Value: h.ControlData, Text: fmt.Sprint(h.ControlData)})
	hn.AddItem(&Item{Field: fPayloadLength, Value: h.PayloadLength, Text: fmt.Sprint(h.PayloadLength)})
	if m.HeaderSize <= rtmsg.FixedHeaderSize {
		return hn
	}
	hn.AddItem(&Item{Field: fTopicLength, Value: h.TopicLength, Text: fmt.Sprint(h.TopicLength)})
	hn.AddItem(&Item{Field: fTopic, Value: h.Topic, Text: h.Topic})
	hn.AddItem(&Item{Field: fReplyTopicLength, Value: h.ReplyTopicLength, Text: fmt.Sprint(h.ReplyTopicLength)})
	hn.AddItem(&Item{Field: fReplyTopic, Value: h.ReplyTopic, Text: h.ReplyTopic})
	if rt := h.Roundtrip; rt != nil {
		for i, t := range []uint32{rt.T1, rt.T2, rt.T3, rt.T4, rt.T5} {
			hn.AddItem(&Item{Field: fRoundtrip[i], Value: t, Text: fmt.Sprint(t)})
		}
	}
	if m.ClosingMarkerRead {
		hn.AddItem(&Item{Field: fClosingMarker, Value: h.ClosingMarker, Text: fmt.Sprintf("0x%04x", h.ClosingMarker)})
	}
	return hn
}

func (d *Dissector) dissectPayload(n Node, payload []byte, res *Result) {
	if len(payload) == 0 {
		res.Mode = ModeEmpty
		return
	}

	if (payload[0] == '{' || payload[0] == '[') && len(payload) > 1 {
		res.Mode = ModeJSON
		pn := n.AddItem(&Item{Field: fPayload, Value: payload, Text: fmt.Sprintf("%d bytes [JSON]", len(payload))})
		s := rtmsg.TopicString(payload)
		pn.AddItem(&Item{Field: roles[RolePayload].values[FtString], Label: "JSON", Value: s, Text: s})
		return
	}

	dec := msgpack.NewDecoder(d.Limits)
	vals, off, err := dec.DecodeAll(payload)
	res.Objects = dec.Objects()
	pn := n.AddItem(&Item{Field: fPayload, Value: payload, Text: payloadText(len(payload), len(vals), err)})
	if err == nil && off < len(payload) {
		c := newCondition(ObjectLimitExceeded, "Object limit (%d) reached; remaining %d bytes not decoded",
			dec.Limits().MaxObjects, len(payload)-off)
		if lcs := dec.Conditions(); len(lcs) > 0 {
			c.cause = lcs[len(lcs)-1]
		}
		pn.AddCondition(c)
	}
	if err != nil {
		log.Debugf("Payload of message %d not fully decodable: %v", res.Header.SequenceNumber, err)
		pn.AddCondition(newCondition(UndecodablePayload, "%v", err))
	}

	res.Mode = ModeGeneric
	if len(vals) >= minStructuredValues {
		if m := findMethod(vals); m >= 0 {
			res.Mode = ModeMethod
			res.Method = vals[m].Str
			res.Info += dissectMethod(pn, vals, m)
		} else if info, ok := dissectEvent(pn, vals); ok {
			res.Mode = ModeEvent
			res.Info += info
		}
	}
	if res.Mode == ModeGeneric {
		log.Tracef("Generic fallback for %d values", len(vals))
		dissectGeneric(pn, vals)
	}

	reportLimits(pn, dec, res)

	if err != nil {
		rest := payload[off:]
		pn.AddItem(&Item{Field: fRaw, Value: rest, Text: rawText(rest)})
	}
}

// reportLimits attaches the decode limit conditions that no emitted item
// carries, e.g. omitted values nested in a container in a scalar slot.
func reportLimits(n Node, dec *msgpack.Decoder, res *Result) {
	shown := make(map[error]bool)
	for _, c := range res.Conditions {
		if c.cause != nil {
			shown[c.cause] = true
		}
	}
	for _, le := range dec.Conditions() {
		if !shown[le] {
			n.AddCondition(conditionOf(le))
		}
	}
}

func rawText(b []byte) string {
	const max = 32
	if len(b) > max {
		return fmt.Sprintf("%d bytes: % x ...", len(b), b[:max])
	}
	return fmt.Sprintf("%d bytes: % x", len(b), b)
}

func payloadText(size, objects int, err error) string {
	if objects == 0 && err != nil {
		return fmt.Sprintf("%d bytes [Not valid MessagePack]", size)
	}
	return fmt.Sprintf("%d bytes [%d MessagePack objects]", size, objects)
}
