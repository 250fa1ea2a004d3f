package dissect

import (
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/mdzio/go-rbus/msgpack"
	"github.com/mdzio/go-rbus/rtmsg"
)

const unsupportedText = "[unsupported]"

// Rendered is a value converted for display.
type Rendered struct {
	Type  FieldType
	Value interface{}
	Text  string
	// Supported is false for values without a scalar rendering (nil,
	// containers, ext and omitted values).
	Supported bool
}

// Render converts a decoded value into its display form. Unsigned integers
// within 32 bits render as 32 bit, larger ones as 64 bit; signed integers
// likewise. A one byte blob of 0 or 1 renders as boolean, a blob with text
// content as string (one trailing NUL removed), other blobs as
// "[Binary, N bytes]".
func Render(v *msgpack.Value) Rendered {
	if v == nil {
		return Rendered{Type: FtString, Text: unsupportedText}
	}
	switch v.Kind {
	case msgpack.StringKind:
		s := rtmsg.TopicString([]byte(v.Str))
		return Rendered{Type: FtString, Value: s, Text: s, Supported: true}
	case msgpack.UintKind:
		if v.Uint <= math.MaxUint32 {
			return Rendered{Type: FtUint32, Value: uint32(v.Uint), Text: strconv.FormatUint(v.Uint, 10), Supported: true}
		}
		return Rendered{Type: FtUint64, Value: v.Uint, Text: strconv.FormatUint(v.Uint, 10), Supported: true}
	case msgpack.IntKind:
		if v.Int >= math.MinInt32 && v.Int <= math.MaxInt32 {
			return Rendered{Type: FtInt32, Value: int32(v.Int), Text: strconv.FormatInt(v.Int, 10), Supported: true}
		}
		return Rendered{Type: FtInt64, Value: v.Int, Text: strconv.FormatInt(v.Int, 10), Supported: true}
	case msgpack.FloatKind:
		return Rendered{Type: FtDouble, Value: v.Float, Text: fmt.Sprintf("%f", v.Float), Supported: true}
	case msgpack.BoolKind:
		return Rendered{Type: FtBoolean, Value: v.Bool, Text: strconv.FormatBool(v.Bool), Supported: true}
	case msgpack.BinaryKind:
		return renderBinary(v.Bin)
	}
	return Rendered{Type: FtString, Text: unsupportedText}
}

func renderBinary(b []byte) Rendered {
	if len(b) == 1 && b[0] <= 1 {
		return Rendered{Type: FtBoolean, Value: b[0] == 1, Text: strconv.FormatBool(b[0] == 1), Supported: true}
	}
	if IsText(b) {
		if b[len(b)-1] == 0 {
			b = b[:len(b)-1]
		}
		s := string(b)
		return Rendered{Type: FtString, Value: s, Text: s, Supported: true}
	}
	return Rendered{Type: FtBytes, Value: b, Text: fmt.Sprintf("[Binary, %d bytes]", len(b)), Supported: true}
}

// IsText reports whether a blob holds printable text: printable ASCII, tab,
// newline, carriage return and valid UTF-8 sequences, optionally terminated
// by one NUL byte. Empty blobs are not text.
func IsText(b []byte) bool {
	if len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if (c < 0x20 && c != '\t' && c != '\n' && c != '\r') || c == 0x7f {
			return false
		}
	}
	return utf8.Valid(b)
}

// emitValue adds a value item of the role. Values without scalar rendering
// get the unsupported placeholder and a condition.
func emitValue(n Node, role Role, label string, v *msgpack.Value) Rendered {
	r := Render(v)
	f := roles[role].values[r.Type]
	it := n.AddItem(&Item{Field: f, Label: label, Value: r.Value, Text: r.Text})
	if !r.Supported {
		it.AddCondition(shapeCondition(v))
	}
	return r
}

func shapeCondition(v *msgpack.Value) *Condition {
	switch {
	case v == nil:
		return newCondition(UnrecognizedValueShape, "Missing value")
	case v.Kind == msgpack.OmittedKind:
		return conditionOf(v.Err)
	}
	return newCondition(UnrecognizedValueShape, "Value of type %v has no scalar rendering", v.Kind)
}

// emitTriplet adds a name/type/value triplet of the role. It returns the
// combined "name=value" text.
func emitTriplet(n Node, role Role, name, typ, val *msgpack.Value) string {
	rf := roles[role]
	nameText := Render(name).Text
	valText := Render(val).Text
	nv := nameText + "=" + valText

	sub := n.AddItem(&Item{Field: rf.item, Text: nv})
	sub.AddItem(&Item{Field: rf.name, Value: nameText, Text: nameText})
	if id, ok := typ.Int64(); ok {
		sub.AddItem(&Item{Field: rf.typ, Value: uint32(id), Text: typeText(uint32(id))})
	} else {
		sub.AddItem(&Item{Field: rf.typ, Text: unsupportedText}).AddCondition(shapeCondition(typ))
	}
	emitValue(sub, role, "", val)
	sub.AddItem(&Item{Field: rf.nameValue, Value: nv, Text: nv})
	return nv
}

// display renders a value of any shape recursively, for the generic
// fallback. Container children are labeled with their index or map key.
func display(n Node, label string, v *msgpack.Value) {
	switch v.Kind {
	case msgpack.NilKind:
		n.AddItem(&Item{Field: fValue, Label: label, Text: "nil"})
	case msgpack.ArrayKind:
		sub := n.AddItem(&Item{Field: fValue, Label: label, Text: fmt.Sprintf("[Array, %d elements]", len(v.Array))})
		for i, e := range v.Array {
			display(sub, "["+strconv.Itoa(i)+"]", e)
		}
	case msgpack.MapKind:
		sub := n.AddItem(&Item{Field: fValue, Label: label, Text: fmt.Sprintf("[Map, %d entries]", len(v.Map))})
		for i, m := range v.Map {
			display(sub, keyLabel(i, m.Key), m.Value)
		}
	case msgpack.ExtKind:
		it := n.AddItem(&Item{Field: fValue, Label: label, Value: v.Bin, Text: fmt.Sprintf("[Ext type %d, %d bytes]", v.ExtType, len(v.Bin))})
		it.AddCondition(shapeCondition(v))
	case msgpack.OmittedKind:
		it := n.AddItem(&Item{Field: fValue, Label: label, Text: fmt.Sprintf("[%d values not decoded]", v.Skipped)})
		it.AddCondition(shapeCondition(v))
	default:
		emitValue(n, RolePayload, label, v)
	}
}

func keyLabel(i int, k *msgpack.Value) string {
	switch k.Kind {
	case msgpack.StringKind:
		return rtmsg.TopicString([]byte(k.Str))
	case msgpack.UintKind:
		return strconv.FormatUint(k.Uint, 10)
	}
	return "Key " + strconv.Itoa(i)
}
