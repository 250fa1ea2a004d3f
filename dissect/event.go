package dissect

import (
	"fmt"

	"github.com/mdzio/go-rbus/msgpack"
)

const minEventValues = 6

// dissectEvent decodes an event publication: event name, type, event data
// flag, object placeholder, filter flag, filter, properties, interval,
// duration and component ID. Optional sections are present if their flag
// is set. It declines payloads that do not start with the event name.
func dissectEvent(n Node, vals []*msgpack.Value) (string, bool) {
	if len(vals) < minEventValues || !vals[0].IsString() {
		return "", false
	}
	c := &cursor{n: n, all: vals, end: len(vals)}
	name, _ := c.str(fEventName)

	isUint := func() bool {
		v := c.peek()
		return v != nil && v.Kind == msgpack.UintKind
	}

	if isUint() {
		t := c.peek().Uint
		text := fmt.Sprint(t)
		if tn, ok := EventTypeName(uint32(t)); ok {
			text = fmt.Sprintf("%s (%d)", tn, t)
		}
		c.n.AddItem(&Item{Field: fEventType, Value: uint32(t), Text: text})
		c.idx++
	}

	hasData := false
	if isUint() {
		hasData, _ = c.flag(fHasEventData)
	}
	if hasData && c.remaining() > 0 {
		display(c.n, "Event Object", c.peek())
		c.idx++
	}

	if isUint() {
		hasFilter, _ := c.flag(fHasFilter)
		if hasFilter && c.remaining() > 0 {
			display(c.n, "Filter", c.peek())
			c.idx++
		}
	}

	if hasData && c.remaining() > 0 {
		count := 0
		if isUint() {
			count = int(min(c.peek().Uint, uint64(maxTriplets)))
			c.idx++
		}
		dn := c.n.AddItem(&Item{Field: fEventData, Text: fmt.Sprintf("%d properties", count)})
		for p := 0; p < count && c.remaining() >= 3; p++ {
			emitTriplet(dn, RoleObjectProperty, vals[c.idx], vals[c.idx+1], vals[c.idx+2])
			c.idx += 3
		}
	}

	for _, f := range []*Field{fInterval, fDuration} {
		if !isUint() {
			break
		}
		c.uint(f)
	}
	if isUint() {
		c.int32(fComponentID)
	}

	for ; c.idx < c.end; c.idx++ {
		display(c.n, fmt.Sprintf("[%d]", c.idx), vals[c.idx])
	}
	return " Event: " + name, true
}
