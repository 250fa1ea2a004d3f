package msgpack

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Encoder writes values in MessagePack format using the smallest encoding for
// every value.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder creates an encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes the values consecutively.
func (e *Encoder) Encode(vals ...*Value) error {
	ve := valueEncoder{}
	for i, v := range vals {
		if err := ve.encodeValue(v); err != nil {
			return fmt.Errorf("Failed to encode value %d: %w", i, err)
		}
	}
	if _, err := e.w.ReadFrom(&ve); err != nil {
		return fmt.Errorf("Writing of values failed: %w", err)
	}
	return e.w.Flush()
}

// Marshal encodes the values into a byte slice.
func Marshal(vals ...*Value) ([]byte, error) {
	ve := valueEncoder{}
	for i, v := range vals {
		if err := ve.encodeValue(v); err != nil {
			return nil, fmt.Errorf("Failed to encode value %d: %w", i, err)
		}
	}
	return ve.Bytes(), nil
}

// MustMarshal is like Marshal but panics on error. It is meant for fixtures.
func MustMarshal(vals ...*Value) []byte {
	b, err := Marshal(vals...)
	if err != nil {
		panic(err)
	}
	return b
}

type valueEncoder struct {
	bytes.Buffer
}

func (e *valueEncoder) encodeValue(v *Value) error {
	if v == nil {
		return e.WriteByte(0xc0)
	}
	switch v.Kind {
	case NilKind:
		return e.WriteByte(0xc0)
	case BoolKind:
		if v.Bool {
			return e.WriteByte(0xc3)
		}
		return e.WriteByte(0xc2)
	case UintKind:
		e.encodeUint(v.Uint)
	case IntKind:
		if v.Int >= 0 {
			e.encodeUint(uint64(v.Int))
		} else {
			e.encodeNegative(v.Int)
		}
	case FloatKind:
		e.WriteByte(0xcb)
		e.writeBE(math.Float64bits(v.Float), 8)
	case StringKind:
		if err := e.encodeLength(len(v.Str), 0xa0, 31, 0xd9); err != nil {
			return fmt.Errorf("Failed to encode string: %w", err)
		}
		e.WriteString(v.Str)
	case BinaryKind:
		if err := e.encodeLength(len(v.Bin), 0, 0, 0xc4); err != nil {
			return fmt.Errorf("Failed to encode binary: %w", err)
		}
		e.Write(v.Bin)
	case ExtKind:
		return e.encodeExt(v.ExtType, v.Bin)
	case ArrayKind:
		if err := e.encodeLength(len(v.Array), 0x90, 15, 0xdc-1); err != nil {
			return fmt.Errorf("Failed to encode array: %w", err)
		}
		for i, el := range v.Array {
			if err := e.encodeValue(el); err != nil {
				return fmt.Errorf("Failed to encode array element %d: %w", i, err)
			}
		}
	case MapKind:
		if err := e.encodeLength(len(v.Map), 0x80, 15, 0xde-1); err != nil {
			return fmt.Errorf("Failed to encode map: %w", err)
		}
		for i, m := range v.Map {
			if err := e.encodeValue(m.Key); err != nil {
				return fmt.Errorf("Failed to encode map key %d: %w", i, err)
			}
			if err := e.encodeValue(m.Value); err != nil {
				return fmt.Errorf("Failed to encode map value %d: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("Value of kind %v can not be encoded", v.Kind)
	}
	return nil
}

func (e *valueEncoder) encodeUint(u uint64) {
	switch {
	case u <= 0x7f:
		e.WriteByte(byte(u))
	case u <= math.MaxUint8:
		e.WriteByte(0xcc)
		e.writeBE(u, 1)
	case u <= math.MaxUint16:
		e.WriteByte(0xcd)
		e.writeBE(u, 2)
	case u <= math.MaxUint32:
		e.WriteByte(0xce)
		e.writeBE(u, 4)
	default:
		e.WriteByte(0xcf)
		e.writeBE(u, 8)
	}
}

func (e *valueEncoder) encodeNegative(i int64) {
	switch {
	case i >= -32:
		e.WriteByte(byte(int8(i)))
	case i >= math.MinInt8:
		e.WriteByte(0xd0)
		e.writeBE(uint64(i), 1)
	case i >= math.MinInt16:
		e.WriteByte(0xd1)
		e.writeBE(uint64(i), 2)
	case i >= math.MinInt32:
		e.WriteByte(0xd2)
		e.writeBE(uint64(i), 4)
	default:
		e.WriteByte(0xd3)
		e.writeBE(uint64(i), 8)
	}
}

// encodeLength writes the header of a sized value. fixTag/fixMax describe the
// fix format (fixMax 0: none), tag8 is the tag of the 8 bit length form. The
// 16 and 32 bit forms follow tag8. Arrays and maps have no 8 bit form, they
// pass tag8 = tag16 - 1.
func (e *valueEncoder) encodeLength(n int, fixTag byte, fixMax int, tag8 byte) error {
	hasLen8 := fixTag != 0x90 && fixTag != 0x80
	switch {
	case fixMax > 0 && n <= fixMax:
		e.WriteByte(fixTag | byte(n))
	case hasLen8 && n <= math.MaxUint8:
		e.WriteByte(tag8)
		e.writeBE(uint64(n), 1)
	case n <= math.MaxUint16:
		e.WriteByte(tag8 + 1)
		e.writeBE(uint64(n), 2)
	case uint64(n) <= math.MaxUint32:
		e.WriteByte(tag8 + 2)
		e.writeBE(uint64(n), 4)
	default:
		return fmt.Errorf("Length %d too large", n)
	}
	return nil
}

func (e *valueEncoder) encodeExt(typ int8, data []byte) error {
	fix := map[int]byte{1: 0xd4, 2: 0xd5, 4: 0xd6, 8: 0xd7, 16: 0xd8}
	if tag, ok := fix[len(data)]; ok {
		e.WriteByte(tag)
	} else if err := e.encodeLength(len(data), 0, 0, 0xc7); err != nil {
		return fmt.Errorf("Failed to encode ext: %w", err)
	}
	e.WriteByte(byte(typ))
	e.Write(data)
	return nil
}

func (e *valueEncoder) writeBE(u uint64, size int) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], u)
	e.Write(b[8-size:])
}
