package encoding

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/Azure/go-amqp-transport/internal/buffer"
)

// Unmarshal decodes the next AMQP value from r. Binary, string and symbol
// lengths that overrun the input are rejected, and decoding a list, map or
// array fails with ErrTruncated once the input runs out, but a list, map or
// array size field is not cross-checked against the bytes its items use.
// Arrays of described values are rejected, and a described value's
// descriptor is preserved so the frame layer can resolve it to a composite
// type.
func Unmarshal(r *buffer.Buffer) (any, error) {
	code, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return unmarshalWithCode(r, code)
}

func unmarshalWithCode(r *buffer.Buffer, code byte) (any, error) {
	switch code {
	case typeCodeNull:
		return nil, nil
	case typeCodeBoolTrue:
		return true, nil
	case typeCodeBoolFalse:
		return false, nil
	case typeCodeBool:
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: bool", ErrTruncated)
		}
		return b != 0, nil
	case typeCodeUint0, typeCodeUlong0:
		if code == typeCodeUint0 {
			return uint32(0), nil
		}
		return uint64(0), nil
	case typeCodeUbyte:
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: ubyte", ErrTruncated)
		}
		return b, nil
	case typeCodeByte:
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: byte", ErrTruncated)
		}
		return int8(b), nil
	case typeCodeUshort:
		v, err := readUint16(r)
		return v, err
	case typeCodeShort:
		v, err := readUint16(r)
		return int16(v), err
	case typeCodeUint:
		v, err := readUint32(r)
		return v, err
	case typeCodeSmallUint:
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: smalluint", ErrTruncated)
		}
		return uint32(b), nil
	case typeCodeInt:
		v, err := readUint32(r)
		return int32(v), err
	case typeCodeSmallInt:
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: smallint", ErrTruncated)
		}
		return int32(int8(b)), nil
	case typeCodeUlong:
		v, err := readUint64(r)
		return v, err
	case typeCodeSmallUlong:
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: smallulong", ErrTruncated)
		}
		return uint64(b), nil
	case typeCodeLong:
		v, err := readUint64(r)
		return int64(v), err
	case typeCodeSmallLong:
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: smalllong", ErrTruncated)
		}
		return int64(int8(b)), nil
	case typeCodeFloat:
		v, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		return math.Float32frombits(v), nil
	case typeCodeDouble:
		v, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(v), nil
	case typeCodeChar:
		v, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		return Char(rune(v)), nil
	case typeCodeTimestamp:
		v, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		ms := int64(v)
		return time.UnixMilli(ms).UTC(), nil
	case typeCodeUUID:
		b, err := r.Peek(16)
		if err != nil {
			return nil, fmt.Errorf("%w: uuid", ErrTruncated)
		}
		var u UUID
		copy(u[:], b)
		r.Skip(16)
		return u, nil
	case typeCodeVbin8:
		return readVarBinary(r, 1)
	case typeCodeVbin32:
		return readVarBinary(r, 4)
	case typeCodeStr8:
		b, err := readVarBinary(r, 1)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case typeCodeStr32:
		b, err := readVarBinary(r, 4)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case typeCodeSym8:
		b, err := readVarBinary(r, 1)
		if err != nil {
			return nil, err
		}
		return Symbol(b), nil
	case typeCodeSym32:
		b, err := readVarBinary(r, 4)
		if err != nil {
			return nil, err
		}
		return Symbol(b), nil
	case typeCodeList0:
		return []any{}, nil
	case typeCodeList8:
		return readList(r, 1)
	case typeCodeList32:
		return readList(r, 4)
	case typeCodeMap8:
		return readMap(r, 1)
	case typeCodeMap32:
		return readMap(r, 4)
	case typeCodeArray8:
		return readArray(r, 1)
	case typeCodeArray32:
		return readArray(r, 4)
	case typeCodeDescriptor:
		descriptor, err := Unmarshal(r)
		if err != nil {
			return nil, fmt.Errorf("%w: descriptor: %v", ErrMalformed, err)
		}
		value, err := Unmarshal(r)
		if err != nil {
			return nil, fmt.Errorf("%w: described value: %v", ErrMalformed, err)
		}
		return Described{Descriptor: descriptor, Value: value}, nil
	default:
		return nil, fmt.Errorf("%w: unknown constructor 0x%02x", ErrMalformed, code)
	}
}

func readUint16(r *buffer.Buffer) (uint16, error) {
	b, err := r.Peek(2)
	if err != nil {
		return 0, fmt.Errorf("%w: uint16", ErrTruncated)
	}
	r.Skip(2)
	return binary.BigEndian.Uint16(b), nil
}

func readUint32(r *buffer.Buffer) (uint32, error) {
	b, err := r.Peek(4)
	if err != nil {
		return 0, fmt.Errorf("%w: uint32", ErrTruncated)
	}
	r.Skip(4)
	return binary.BigEndian.Uint32(b), nil
}

func readUint64(r *buffer.Buffer) (uint64, error) {
	b, err := r.Peek(8)
	if err != nil {
		return 0, fmt.Errorf("%w: uint64", ErrTruncated)
	}
	r.Skip(8)
	return binary.BigEndian.Uint64(b), nil
}

// readSize reads a width-byte (1 or 4) size/count field. It does not check
// the value against the remaining input; readVarBinary does that for
// lengths, and the list, map and array readers ignore the size field.
func readSize(r *buffer.Buffer, width int) (uint32, error) {
	var n uint32
	if width == 1 {
		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("%w: size", ErrTruncated)
		}
		n = uint32(b)
	} else {
		v, err := readUint32(r)
		if err != nil {
			return 0, fmt.Errorf("%w: size", ErrTruncated)
		}
		n = v
	}
	return n, nil
}

func readVarBinary(r *buffer.Buffer, width int) ([]byte, error) {
	n, err := readSize(r, width)
	if err != nil {
		return nil, err
	}
	if int64(n) > int64(r.Len()) {
		return nil, fmt.Errorf("%w: binary length %d exceeds remaining %d bytes", ErrTruncated, n, r.Len())
	}
	b, _ := r.Next(int64(n))
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// readList reads the size+count header then decodes count items.
func readList(r *buffer.Buffer, width int) ([]any, error) {
	size, err := readSize(r, width)
	if err != nil {
		return nil, err
	}
	count, err := readSize(r, width)
	if err != nil {
		return nil, err
	}
	_ = size
	items := make([]any, 0, count)
	for i := uint32(0); i < count; i++ {
		v, err := Unmarshal(r)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, nil
}

// readMap reads the size+count header then decodes count/2 key-value
// pairs, preserving encoding order and rejecting duplicate keys.
func readMap(r *buffer.Buffer, width int) (*Map, error) {
	_, err := readSize(r, width)
	if err != nil {
		return nil, err
	}
	count, err := readSize(r, width)
	if err != nil {
		return nil, err
	}
	if count%2 != 0 {
		return nil, fmt.Errorf("%w: map with odd element count %d", ErrMalformed, count)
	}
	m := &Map{}
	for i := uint32(0); i < count/2; i++ {
		k, err := Unmarshal(r)
		if err != nil {
			return nil, err
		}
		v, err := Unmarshal(r)
		if err != nil {
			return nil, err
		}
		if _, exists := m.Get(k); exists {
			return nil, fmt.Errorf("%w: duplicate map key %v", ErrMalformed, k)
		}
		m.Set(k, v)
	}
	return m, nil
}

// readArray reads the size+count header, a single shared constructor, then
// count items sharing that constructor. Non-homogeneous arrays can't occur
// here since every item is decoded with the same constructor byte. A
// described constructor is rejected with ErrArrayNonHomogeneous; any other
// element-level decode failure is returned as the element's own error.
func readArray(r *buffer.Buffer, width int) (*Array, error) {
	_, err := readSize(r, width)
	if err != nil {
		return nil, err
	}
	count, err := readSize(r, width)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return &Array{}, nil
	}
	code, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: array constructor", ErrTruncated)
	}
	if code == typeCodeDescriptor {
		return nil, fmt.Errorf("%w: array of described values is not supported", ErrArrayNonHomogeneous)
	}
	items := make([]any, 0, count)
	for i := uint32(0); i < count; i++ {
		v, err := unmarshalWithCode(r, code)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	arr, err := NewArray(items...)
	if err != nil {
		return nil, err
	}
	return arr, nil
}

// As performs a typed extraction: it decodes into exactly the requested Go
// type or fails with ErrTypeMismatch. Used by frame/message decoders that
// know the expected field type.
func As[T any](v any) (T, error) {
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: expected %T, got %T", ErrTypeMismatch, zero, v)
	}
	return t, nil
}
