package msgpack

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Default resource bounds for decoding one payload.
const (
	DefaultMaxDepth   = 16
	DefaultMaxObjects = 20000
)

// Decode errors. ErrEmpty, ErrTruncated and ErrInvalidTag are fatal: the extent
// of the value can not be determined. The limit errors are reported through
// LimitError and Omitted values, decoding of siblings continues.
var (
	ErrEmpty               = errors.New("No MessagePack data")
	ErrTruncated           = errors.New("Truncated MessagePack data")
	ErrInvalidTag          = errors.New("Invalid MessagePack type tag 0xc1")
	ErrDepthExceeded       = errors.New("Nesting depth limit exceeded")
	ErrObjectLimitExceeded = errors.New("Object limit exceeded")
)

// Limits bounds the resources spent on decoding one payload.
type Limits struct {
	MaxDepth   int
	MaxObjects int
}

// DefaultLimits returns the limits used when nothing else is configured.
func DefaultLimits() Limits {
	return Limits{MaxDepth: DefaultMaxDepth, MaxObjects: DefaultMaxObjects}
}

// LimitError describes a reached decode limit.
type LimitError struct {
	Err   error
	Limit int
	// Depth of the first value not decoded (depth limit only).
	Depth int
}

func (e *LimitError) Error() string {
	if e.Err == ErrDepthExceeded {
		return fmt.Sprintf("Depth limit (%d) exceeded at depth %d; further nesting not decoded", e.Limit, e.Depth)
	}
	return fmt.Sprintf("Object limit (%d) exceeded; remaining values not decoded", e.Limit)
}

// Unwrap returns ErrDepthExceeded or ErrObjectLimitExceeded.
func (e *LimitError) Unwrap() error {
	return e.Err
}

// Decoder decodes MessagePack values from a byte slice. A Decoder counts the
// decoded objects of one payload and must not be shared between payloads or
// goroutines.
type Decoder struct {
	limits  Limits
	objects int
	conds   []*LimitError
}

// NewDecoder creates a Decoder. Non-positive limits are replaced by the
// defaults.
func NewDecoder(l Limits) *Decoder {
	if l.MaxDepth <= 0 {
		l.MaxDepth = DefaultMaxDepth
	}
	if l.MaxObjects <= 0 {
		l.MaxObjects = DefaultMaxObjects
	}
	return &Decoder{limits: l}
}

// Limits returns the effective limits.
func (d *Decoder) Limits() Limits {
	return d.limits
}

// Objects returns the number of values decoded so far.
func (d *Decoder) Objects() int {
	return d.objects
}

// Conditions returns the limit conditions met so far.
func (d *Decoder) Conditions() []*LimitError {
	return d.conds
}

// LimitReached reports whether the object limit is exhausted.
func (d *Decoder) LimitReached() bool {
	return d.objects >= d.limits.MaxObjects
}

// Decode decodes one value from the start of buf. depth is the nesting depth
// of the value (0 for a top-level value). It returns the value and the number
// of consumed bytes.
func (d *Decoder) Decode(buf []byte, depth int) (*Value, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrEmpty
	}
	return d.decode(buf, depth)
}

// DecodeAll decodes consecutive top-level values until buf is consumed, a
// fatal error occurs or the object limit is reached. The values decoded so
// far and the number of consumed bytes are returned in every case.
func (d *Decoder) DecodeAll(buf []byte) ([]*Value, int, error) {
	var vals []*Value
	off := 0
	for off < len(buf) {
		if d.LimitReached() {
			d.conds = append(d.conds, &LimitError{Err: ErrObjectLimitExceeded, Limit: d.limits.MaxObjects})
			return vals, off, nil
		}
		v, n, err := d.decode(buf[off:], 0)
		if err != nil {
			return vals, off, fmt.Errorf("Failed to decode value %d at offset %d: %w", len(vals), off, err)
		}
		vals = append(vals, v)
		off += n
	}
	return vals, off, nil
}

func (d *Decoder) omit(err error, depth, count int) *Value {
	le := &LimitError{Err: err, Depth: depth}
	if err == ErrDepthExceeded {
		le.Limit = d.limits.MaxDepth
	} else {
		le.Limit = d.limits.MaxObjects
	}
	d.conds = append(d.conds, le)
	return omitted(le, count)
}

func (d *Decoder) decode(buf []byte, depth int) (*Value, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrTruncated
	}
	if depth > d.limits.MaxDepth {
		n, err := skip(buf, 1)
		if err != nil {
			return nil, 0, err
		}
		return d.omit(ErrDepthExceeded, depth, 1), n, nil
	}
	if d.LimitReached() {
		n, err := skip(buf, 1)
		if err != nil {
			return nil, 0, err
		}
		return d.omit(ErrObjectLimitExceeded, depth, 1), n, nil
	}
	d.objects++
	return d.decodeValue(buf, depth)
}

func (d *Decoder) decodeValue(buf []byte, depth int) (*Value, int, error) {
	tag := buf[0]
	switch {
	case tag <= 0x7f:
		return Uint(uint64(tag)), 1, nil
	case tag >= 0xe0:
		return Int(int64(int8(tag))), 1, nil
	case tag&0xf0 == 0x80:
		return d.decodeMap(buf, 1, int(tag&0x0f), depth)
	case tag&0xf0 == 0x90:
		return d.decodeArray(buf, 1, int(tag&0x0f), depth)
	case tag&0xe0 == 0xa0:
		return decodeString(buf, 1, int(tag&0x1f))
	}

	switch tag {
	case 0xc0:
		return Nil(), 1, nil
	case 0xc1:
		return nil, 0, ErrInvalidTag
	case 0xc2:
		return Bool(false), 1, nil
	case 0xc3:
		return Bool(true), 1, nil
	case 0xc4, 0xc5, 0xc6:
		size := 1 << (tag - 0xc4)
		n, err := readLen(buf, 1, size)
		if err != nil {
			return nil, 0, err
		}
		b, err := body(buf, 1+size, n)
		if err != nil {
			return nil, 0, err
		}
		return Binary(b), 1 + size + n, nil
	case 0xc7, 0xc8, 0xc9:
		size := 1 << (tag - 0xc7)
		n, err := readLen(buf, 1, size)
		if err != nil {
			return nil, 0, err
		}
		return decodeExt(buf, 1+size, n)
	case 0xca:
		b, err := body(buf, 1, 4)
		if err != nil {
			return nil, 0, err
		}
		return Float(float64(math.Float32frombits(binary.BigEndian.Uint32(b)))), 5, nil
	case 0xcb:
		b, err := body(buf, 1, 8)
		if err != nil {
			return nil, 0, err
		}
		return Float(math.Float64frombits(binary.BigEndian.Uint64(b))), 9, nil
	case 0xcc, 0xcd, 0xce, 0xcf:
		size := 1 << (tag - 0xcc)
		b, err := body(buf, 1, size)
		if err != nil {
			return nil, 0, err
		}
		return Uint(readUint(b)), 1 + size, nil
	case 0xd0, 0xd1, 0xd2, 0xd3:
		size := 1 << (tag - 0xd0)
		b, err := body(buf, 1, size)
		if err != nil {
			return nil, 0, err
		}
		return Int(readInt(b)), 1 + size, nil
	case 0xd4, 0xd5, 0xd6, 0xd7, 0xd8:
		return decodeExt(buf, 1, 1<<(tag-0xd4))
	case 0xd9, 0xda, 0xdb:
		size := 1 << (tag - 0xd9)
		n, err := readLen(buf, 1, size)
		if err != nil {
			return nil, 0, err
		}
		return decodeString(buf, 1+size, n)
	case 0xdc, 0xdd:
		size := 2 << (tag - 0xdc)
		n, err := readLen(buf, 1, size)
		if err != nil {
			return nil, 0, err
		}
		return d.decodeArray(buf, 1+size, n, depth)
	case 0xde, 0xdf:
		size := 2 << (tag - 0xde)
		n, err := readLen(buf, 1, size)
		if err != nil {
			return nil, 0, err
		}
		return d.decodeMap(buf, 1+size, n, depth)
	}
	// unreachable, all tags are covered above
	return nil, 0, ErrInvalidTag
}

func decodeString(buf []byte, off, n int) (*Value, int, error) {
	b, err := body(buf, off, n)
	if err != nil {
		return nil, 0, err
	}
	return String(string(b)), off + n, nil
}

func decodeExt(buf []byte, off, n int) (*Value, int, error) {
	b, err := body(buf, off, 1+n)
	if err != nil {
		return nil, 0, err
	}
	data := make([]byte, n)
	copy(data, b[1:])
	return Ext(int8(b[0]), data), off + 1 + n, nil
}

func (d *Decoder) decodeArray(buf []byte, off, n, depth int) (*Value, int, error) {
	// every element needs at least one byte
	if n > len(buf)-off {
		return nil, 0, ErrTruncated
	}
	v := &Value{Kind: ArrayKind, Array: make([]*Value, 0, n)}
	for i := 0; i < n; i++ {
		if d.LimitReached() {
			m, err := skip(buf[off:], n-i)
			if err != nil {
				return nil, 0, err
			}
			v.Array = append(v.Array, d.omit(ErrObjectLimitExceeded, depth+1, n-i))
			return v, off + m, nil
		}
		e, m, err := d.decode(buf[off:], depth+1)
		if err != nil {
			return nil, 0, fmt.Errorf("Failed to decode array element %d: %w", i, err)
		}
		v.Array = append(v.Array, e)
		off += m
	}
	return v, off, nil
}

func (d *Decoder) decodeMap(buf []byte, off, n, depth int) (*Value, int, error) {
	if n > (len(buf)-off)/2 {
		return nil, 0, ErrTruncated
	}
	v := &Value{Kind: MapKind, Map: make([]*Member, 0, n)}
	for i := 0; i < n; i++ {
		if d.LimitReached() {
			m, err := skip(buf[off:], 2*(n-i))
			if err != nil {
				return nil, 0, err
			}
			v.Map = append(v.Map, &Member{
				Key:   d.omit(ErrObjectLimitExceeded, depth+1, 2*(n-i)),
				Value: Nil(),
			})
			return v, off + m, nil
		}
		key, m, err := d.decode(buf[off:], depth+1)
		if err != nil {
			return nil, 0, fmt.Errorf("Failed to decode map key %d: %w", i, err)
		}
		off += m
		val, m, err := d.decode(buf[off:], depth+1)
		if err != nil {
			return nil, 0, fmt.Errorf("Failed to decode map value %d: %w", i, err)
		}
		off += m
		v.Map = append(v.Map, &Member{Key: key, Value: val})
	}
	return v, off, nil
}

// skip returns the number of bytes occupied by count consecutive values. It
// works without recursion, so arbitrarily deep nesting can be stepped over.
func skip(buf []byte, count int) (int, error) {
	off := 0
	for count > 0 {
		if off >= len(buf) {
			return 0, ErrTruncated
		}
		tag := buf[off]
		off++
		count--
		switch {
		case tag <= 0x7f || tag >= 0xe0:
			continue
		case tag&0xf0 == 0x80:
			count += 2 * int(tag&0x0f)
		case tag&0xf0 == 0x90:
			count += int(tag & 0x0f)
		case tag&0xe0 == 0xa0:
			off += int(tag & 0x1f)
		default:
			n, err := skipTagged(buf, off, tag, &count)
			if err != nil {
				return 0, err
			}
			off += n
		}
		if off > len(buf) || count > len(buf)-off {
			return 0, ErrTruncated
		}
	}
	return off, nil
}

// skipTagged returns the bytes following tag at off which belong to the
// value itself. Container element counts are added to count.
func skipTagged(buf []byte, off int, tag byte, count *int) (int, error) {
	switch tag {
	case 0xc0, 0xc2, 0xc3:
		return 0, nil
	case 0xc1:
		return 0, ErrInvalidTag
	case 0xc4, 0xc5, 0xc6, 0xd9, 0xda, 0xdb:
		var size int
		if tag <= 0xc6 {
			size = 1 << (tag - 0xc4)
		} else {
			size = 1 << (tag - 0xd9)
		}
		n, err := readLen(buf, off, size)
		if err != nil {
			return 0, err
		}
		return size + n, nil
	case 0xc7, 0xc8, 0xc9:
		size := 1 << (tag - 0xc7)
		n, err := readLen(buf, off, size)
		if err != nil {
			return 0, err
		}
		return size + 1 + n, nil
	case 0xca, 0xd2, 0xce:
		return 4, nil
	case 0xcb, 0xd3, 0xcf:
		return 8, nil
	case 0xcc, 0xd0:
		return 1, nil
	case 0xcd, 0xd1:
		return 2, nil
	case 0xd4, 0xd5, 0xd6, 0xd7, 0xd8:
		return 1 + 1<<(tag-0xd4), nil
	case 0xdc, 0xdd:
		size := 2 << (tag - 0xdc)
		n, err := readLen(buf, off, size)
		if err != nil {
			return 0, err
		}
		*count += n
		return size, nil
	case 0xde, 0xdf:
		size := 2 << (tag - 0xde)
		n, err := readLen(buf, off, size)
		if err != nil {
			return 0, err
		}
		*count += 2 * n
		return size, nil
	}
	return 0, ErrInvalidTag
}

func readLen(buf []byte, off, size int) (int, error) {
	b, err := body(buf, off, size)
	if err != nil {
		return 0, err
	}
	return int(readUint(b)), nil
}

func body(buf []byte, off, n int) ([]byte, error) {
	if n < 0 || off > len(buf) || n > len(buf)-off {
		return nil, ErrTruncated
	}
	return buf[off : off+n : off+n], nil
}

func readUint(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.BigEndian.Uint16(b))
	case 4:
		return uint64(binary.BigEndian.Uint32(b))
	default:
		return binary.BigEndian.Uint64(b)
	}
}

func readInt(b []byte) int64 {
	switch len(b) {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.BigEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.BigEndian.Uint32(b)))
	default:
		return int64(binary.BigEndian.Uint64(b))
	}
}
