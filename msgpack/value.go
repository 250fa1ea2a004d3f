package msgpack

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the variant of a Value.
type Kind uint8

// Variants of a decoded MessagePack value.
const (
	NilKind Kind = iota
	BoolKind
	IntKind
	UintKind
	FloatKind
	StringKind
	BinaryKind
	ArrayKind
	MapKind
	ExtKind
	// OmittedKind marks a value whose bytes were skipped because a decode
	// limit was reached. Err holds the reason.
	OmittedKind
)

var kindNames = [...]string{
	NilKind:     "nil",
	BoolKind:    "bool",
	IntKind:     "int",
	UintKind:    "uint",
	FloatKind:   "float",
	StringKind:  "str",
	BinaryKind:  "bin",
	ArrayKind:   "array",
	MapKind:     "map",
	ExtKind:     "ext",
	OmittedKind: "omitted",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value represents a decoded MessagePack value. Only the fields belonging to
// Kind are set.
type Value struct {
	Kind    Kind
	Bool    bool
	Int     int64
	Uint    uint64
	Float   float64
	Str     string
	Bin     []byte
	Array   []*Value
	Map     []*Member
	ExtType int8

	// Omitted values carry the limit condition and the number of skipped
	// values.
	Err     error
	Skipped int
}

// Member is a key/value pair of a map. Order of the wire is kept.
type Member struct {
	Key   *Value
	Value *Value
}

// Nil creates a nil value.
func Nil() *Value { return &Value{Kind: NilKind} }

// Bool creates a boolean value.
func Bool(b bool) *Value { return &Value{Kind: BoolKind, Bool: b} }

// Int creates an integer value. Non-negative integers are stored as unsigned,
// like the decoder does.
func Int(i int64) *Value {
	if i >= 0 {
		return &Value{Kind: UintKind, Uint: uint64(i)}
	}
	return &Value{Kind: IntKind, Int: i}
}

// Uint creates an unsigned integer value.
func Uint(u uint64) *Value { return &Value{Kind: UintKind, Uint: u} }

// Float creates a floating point value.
func Float(f float64) *Value { return &Value{Kind: FloatKind, Float: f} }

// String creates a string value.
func String(s string) *Value { return &Value{Kind: StringKind, Str: s} }

// Binary creates a binary value.
func Binary(b []byte) *Value { return &Value{Kind: BinaryKind, Bin: b} }

// Array creates an array value.
func Array(vs ...*Value) *Value {
	if vs == nil {
		vs = []*Value{}
	}
	return &Value{Kind: ArrayKind, Array: vs}
}

// Map creates a map value.
func Map(ms ...*Member) *Value {
	if ms == nil {
		ms = []*Member{}
	}
	return &Value{Kind: MapKind, Map: ms}
}

// Ext creates an extension value.
func Ext(typ int8, data []byte) *Value { return &Value{Kind: ExtKind, ExtType: typ, Bin: data} }

func omitted(err error, skipped int) *Value {
	return &Value{Kind: OmittedKind, Err: err, Skipped: skipped}
}

// NewValue converts native Go values into a Value. Supported are nil, bool,
// all integer types, float32/64, string, []byte, []interface{}, []*Value,
// map[string]interface{} (keys sorted) and *Value itself.
func NewValue(v interface{}) (*Value, error) {
	switch t := v.(type) {
	case nil:
		return Nil(), nil
	case *Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Uint(uint64(t)), nil
	case uint8:
		return Uint(uint64(t)), nil
	case uint16:
		return Uint(uint64(t)), nil
	case uint32:
		return Uint(uint64(t)), nil
	case uint64:
		return Uint(t), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case string:
		return String(t), nil
	case []byte:
		return Binary(t), nil
	case []*Value:
		return Array(t...), nil
	case []interface{}:
		vs := make([]*Value, 0, len(t))
		for _, e := range t {
			ev, err := NewValue(e)
			if err != nil {
				return nil, err
			}
			vs = append(vs, ev)
		}
		return Array(vs...), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ms := make([]*Member, 0, len(t))
		for _, k := range keys {
			ev, err := NewValue(t[k])
			if err != nil {
				return nil, err
			}
			ms = append(ms, &Member{Key: String(k), Value: ev})
		}
		return Map(ms...), nil
	}
	return nil, fmt.Errorf("Unsupported type for MessagePack value: %T", v)
}

// MustValues converts a list of native Go values. It panics on unsupported
// types and is meant for fixtures.
func MustValues(vs ...interface{}) []*Value {
	res := make([]*Value, 0, len(vs))
	for _, v := range vs {
		mv, err := NewValue(v)
		if err != nil {
			panic(err)
		}
		res = append(res, mv)
	}
	return res
}

// IsInteger reports whether the value is a signed or unsigned integer.
func (v *Value) IsInteger() bool {
	return v != nil && (v.Kind == IntKind || v.Kind == UintKind)
}

// IsString reports whether the value is a string.
func (v *Value) IsString() bool {
	return v != nil && v.Kind == StringKind
}

// Int64 returns the integer as int64. ok is false for non-integers and
// unsigned values above math.MaxInt64.
func (v *Value) Int64() (int64, bool) {
	switch {
	case v == nil:
		return 0, false
	case v.Kind == IntKind:
		return v.Int, true
	case v.Kind == UintKind && v.Uint <= math.MaxInt64:
		return int64(v.Uint), true
	}
	return 0, false
}

// Int32 returns the integer truncated to 32 bits, as the RBus wire peers do
// for codes and offsets.
func (v *Value) Int32() (int32, bool) {
	switch {
	case v == nil:
		return 0, false
	case v.Kind == IntKind:
		return int32(v.Int), true
	case v.Kind == UintKind:
		return int32(v.Uint), true
	}
	return 0, false
}

// Uint64 returns the value of an unsigned integer.
func (v *Value) Uint64() (uint64, bool) {
	if v == nil || v.Kind != UintKind {
		return 0, false
	}
	return v.Uint, true
}

// Equal compares two values deeply. Binary values compare their bytes; floats
// compare by value.
func (v *Value) Equal(o *Value) bool {
	if v == nil || o == nil {
		return v == o
	}
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case NilKind:
		return true
	case BoolKind:
		return v.Bool == o.Bool
	case IntKind:
		return v.Int == o.Int
	case UintKind:
		return v.Uint == o.Uint
	case FloatKind:
		return v.Float == o.Float
	case StringKind:
		return v.Str == o.Str
	case BinaryKind:
		return string(v.Bin) == string(o.Bin)
	case ExtKind:
		return v.ExtType == o.ExtType && string(v.Bin) == string(o.Bin)
	case ArrayKind:
		if len(v.Array) != len(o.Array) {
			return false
		}
		for i := range v.Array {
			if !v.Array[i].Equal(o.Array[i]) {
				return false
			}
		}
		return true
	case MapKind:
		if len(v.Map) != len(o.Map) {
			return false
		}
		for i := range v.Map {
			if !v.Map[i].Key.Equal(o.Map[i].Key) || !v.Map[i].Value.Equal(o.Map[i].Value) {
				return false
			}
		}
		return true
	case OmittedKind:
		return v.Skipped == o.Skipped && limitOf(v.Err) == limitOf(o.Err)
	}
	return false
}

// limitOf returns the sentinel of a limit error.
func limitOf(err error) error {
	switch {
	case errors.Is(err, ErrDepthExceeded):
		return ErrDepthExceeded
	case errors.Is(err, ErrObjectLimitExceeded):
		return ErrObjectLimitExceeded
	}
	return err
}

// String returns a compact, JSON like representation for logs and tests.
func (v *Value) String() string {
	var sb strings.Builder
	v.format(&sb)
	return sb.String()
}

func (v *Value) format(sb *strings.Builder) {
	if v == nil {
		sb.WriteString("<nil>")
		return
	}
	switch v.Kind {
	case NilKind:
		sb.WriteString("null")
	case BoolKind:
		sb.WriteString(strconv.FormatBool(v.Bool))
	case IntKind:
		sb.WriteString(strconv.FormatInt(v.Int, 10))
	case UintKind:
		sb.WriteString(strconv.FormatUint(v.Uint, 10))
	case FloatKind:
		sb.WriteString(strconv.FormatFloat(v.Float, 'g', -1, 64))
	case StringKind:
		sb.WriteString(strconv.Quote(v.Str))
	case BinaryKind:
		fmt.Fprintf(sb, "bin(%x)", v.Bin)
	case ExtKind:
		fmt.Fprintf(sb, "ext(%d,%x)", v.ExtType, v.Bin)
	case ArrayKind:
		sb.WriteByte('[')
		for i, e := range v.Array {
			if i > 0 {
				sb.WriteByte(',')
			}
			e.format(sb)
		}
		sb.WriteByte(']')
	case MapKind:
		sb.WriteByte('{')
		for i, m := range v.Map {
			if i > 0 {
				sb.WriteByte(',')
			}
			m.Key.format(sb)
			sb.WriteByte(':')
			m.Value.format(sb)
		}
		sb.WriteByte('}')
	case OmittedKind:
		fmt.Fprintf(sb, "omitted(%d: %v)", v.Skipped, v.Err)
	}
}
