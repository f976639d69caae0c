package encoding

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/Azure/go-amqp-transport/internal/buffer"
)

// Marshal encodes v onto wr following AMQP 1.0 §1.6. It always prefers the
// smallest constructor available for the value (e.g. smallulong over ulong)
// per spec §4.1 rule 1.
func Marshal(wr *buffer.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		wr.AppendByte(typeCodeNull)
		return nil
	case bool:
		if val {
			wr.AppendByte(typeCodeBoolTrue)
		} else {
			wr.AppendByte(typeCodeBoolFalse)
		}
		return nil
	case uint8:
		wr.AppendByte(typeCodeUbyte)
		wr.AppendByte(val)
		return nil
	case uint16:
		wr.AppendByte(typeCodeUshort)
		appendUint16(wr, val)
		return nil
	case uint32:
		return marshalUint32(wr, val)
	case uint64:
		return marshalUint64(wr, val)
	case int8:
		wr.AppendByte(typeCodeByte)
		wr.AppendByte(uint8(val))
		return nil
	case int16:
		wr.AppendByte(typeCodeShort)
		appendUint16(wr, uint16(val))
		return nil
	case int32:
		return marshalInt32(wr, val)
	case int64:
		return marshalInt64(wr, val)
	case float32:
		wr.AppendByte(typeCodeFloat)
		appendUint32(wr, math.Float32bits(val))
		return nil
	case float64:
		wr.AppendByte(typeCodeDouble)
		appendUint64(wr, math.Float64bits(val))
		return nil
	case Char:
		wr.AppendByte(typeCodeChar)
		appendUint32(wr, uint32(val))
		return nil
	case time.Time:
		wr.AppendByte(typeCodeTimestamp)
		ms := val.UnixNano() / int64(time.Millisecond)
		appendUint64(wr, uint64(ms))
		return nil
	case Milliseconds:
		return Marshal(wr, uint32(time.Duration(val)/time.Millisecond))
	case UUID:
		wr.AppendByte(typeCodeUUID)
		wr.Append(val[:])
		return nil
	case []byte:
		return marshalBinary(wr, val)
	case string:
		return marshalString(wr, val)
	case Symbol:
		return marshalSymbol(wr, val)
	case []any:
		return marshalList(wr, val)
	case *Array:
		return marshalArray(wr, val)
	case *Map:
		if val == nil {
			wr.AppendByte(typeCodeNull)
			return nil
		}
		return marshalMap(wr, val)
	case map[string]any:
		return marshalMap(wr, toMap(val))
	case map[any]any:
		return marshalMap(wr, toMap(val))
	case Described:
		return marshalDescribed(wr, val.Descriptor, val.Value)
	case *Described:
		return marshalDescribed(wr, val.Descriptor, val.Value)
	case Composite:
		return marshalDescribed(wr, val.DescriptorCode, fieldsToList(val.Fields))
	case *Composite:
		return marshalDescribed(wr, val.DescriptorCode, fieldsToList(val.Fields))
	case Marshaler:
		return val.Marshal(wr)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrMalformed, v)
	}
}

// Marshaler is implemented by composite types (performatives, terminus
// records, outcomes) that know how to encode themselves as a described
// list, so the frame layer doesn't have to build a []any by hand for every
// call.
type Marshaler interface {
	Marshal(wr *buffer.Buffer) error
}

func fieldsToList(fields []any) []any { return fields }

func marshalDescribed(wr *buffer.Buffer, descriptor, value any) error {
	wr.AppendByte(typeCodeDescriptor)
	if err := Marshal(wr, descriptor); err != nil {
		return err
	}
	return Marshal(wr, value)
}

func marshalUint32(wr *buffer.Buffer, v uint32) error {
	switch {
	case v == 0:
		wr.AppendByte(typeCodeUint0)
	case v <= math.MaxUint8:
		wr.AppendByte(typeCodeSmallUint)
		wr.AppendByte(uint8(v))
	default:
		wr.AppendByte(typeCodeUint)
		appendUint32(wr, v)
	}
	return nil
}

func marshalUint64(wr *buffer.Buffer, v uint64) error {
	switch {
	case v == 0:
		wr.AppendByte(typeCodeUlong0)
	case v <= math.MaxUint8:
		wr.AppendByte(typeCodeSmallUlong)
		wr.AppendByte(uint8(v))
	default:
		wr.AppendByte(typeCodeUlong)
		appendUint64(wr, v)
	}
	return nil
}

func marshalInt32(wr *buffer.Buffer, v int32) error {
	if v >= math.MinInt8 && v <= math.MaxInt8 {
		wr.AppendByte(typeCodeSmallInt)
		wr.AppendByte(uint8(v))
		return nil
	}
	wr.AppendByte(typeCodeInt)
	appendUint32(wr, uint32(v))
	return nil
}

func marshalInt64(wr *buffer.Buffer, v int64) error {
	if v >= math.MinInt8 && v <= math.MaxInt8 {
		wr.AppendByte(typeCodeSmallLong)
		wr.AppendByte(uint8(v))
		return nil
	}
	wr.AppendByte(typeCodeLong)
	appendUint64(wr, uint64(v))
	return nil
}

func marshalBinary(wr *buffer.Buffer, v []byte) error {
	if len(v) <= math.MaxUint8 {
		wr.AppendByte(typeCodeVbin8)
		wr.AppendByte(uint8(len(v)))
	} else {
		wr.AppendByte(typeCodeVbin32)
		appendUint32(wr, uint32(len(v)))
	}
	wr.Append(v)
	return nil
}

func marshalString(wr *buffer.Buffer, v string) error {
	if len(v) <= math.MaxUint8 {
		wr.AppendByte(typeCodeStr8)
		wr.AppendByte(uint8(len(v)))
	} else {
		wr.AppendByte(typeCodeStr32)
		appendUint32(wr, uint32(len(v)))
	}
	wr.AppendString(v)
	return nil
}

func marshalSymbol(wr *buffer.Buffer, v Symbol) error {
	if len(v) <= math.MaxUint8 {
		wr.AppendByte(typeCodeSym8)
		wr.AppendByte(uint8(len(v)))
	} else {
		wr.AppendByte(typeCodeSym32)
		appendUint32(wr, uint32(len(v)))
	}
	wr.AppendString(string(v))
	return nil
}

// marshalList encodes a []any as a count-then-items list (spec §4.1 rule 2).
// The items are encoded into a scratch buffer first, so the item count and
// byte length are known before the list8/list32 header is written.
func marshalList(wr *buffer.Buffer, items []any) error {
	if len(items) == 0 {
		wr.AppendByte(typeCodeList0)
		return nil
	}

	var body buffer.Buffer
	for _, it := range items {
		if err := Marshal(&body, it); err != nil {
			return err
		}
	}

	count := len(items)
	size := body.Len()
	if count <= math.MaxUint8 && size+1 <= math.MaxUint8 {
		wr.AppendByte(typeCodeList8)
		wr.AppendByte(uint8(size + 1))
		wr.AppendByte(uint8(count))
	} else {
		wr.AppendByte(typeCodeList32)
		appendUint32(wr, uint32(size+4))
		appendUint32(wr, uint32(count))
	}
	wr.Append(body.Bytes())
	return nil
}

// marshalMap encodes an ordered Map as count-then-items, where count is
// 2*len(entries) (key, value interleaved), per AMQP §1.6.3.
func marshalMap(wr *buffer.Buffer, m *Map) error {
	var body buffer.Buffer
	for i := range m.Keys {
		if err := Marshal(&body, m.Keys[i]); err != nil {
			return err
		}
		if err := Marshal(&body, m.Values[i]); err != nil {
			return err
		}
	}

	count := 2 * m.Len()
	size := body.Len()
	if count <= math.MaxUint8 && size+1 <= math.MaxUint8 {
		wr.AppendByte(typeCodeMap8)
		wr.AppendByte(uint8(size + 1))
		wr.AppendByte(uint8(count))
	} else {
		wr.AppendByte(typeCodeMap32)
		appendUint32(wr, uint32(size+4))
		appendUint32(wr, uint32(count))
	}
	wr.Append(body.Bytes())
	return nil
}

// marshalArray encodes a homogeneous Array: one constructor shared by every
// item, per spec §4.1 rule 3.
func marshalArray(wr *buffer.Buffer, a *Array) error {
	items := a.Items()
	var body buffer.Buffer
	if len(items) > 0 {
		// write the shared constructor once by encoding the first element
		// and reusing its constructor byte(s) for validation purposes; the
		// remaining elements only contribute their payload bytes.
		if err := marshalArrayConstructorAndItems(&body, items); err != nil {
			return err
		}
	}

	count := len(items)
	size := body.Len()
	if count <= math.MaxUint8 && size+1 <= math.MaxUint8 {
		wr.AppendByte(typeCodeArray8)
		wr.AppendByte(uint8(size + 1))
		wr.AppendByte(uint8(count))
	} else {
		wr.AppendByte(typeCodeArray32)
		appendUint32(wr, uint32(size+4))
		appendUint32(wr, uint32(count))
	}
	wr.Append(body.Bytes())
	return nil
}

// marshalArrayConstructorAndItems writes the shared constructor for a
// homogeneous array followed by each item's bare payload (no per-item
// constructor).
func marshalArrayConstructorAndItems(wr *buffer.Buffer, items []any) error {
	var first buffer.Buffer
	if err := Marshal(&first, items[0]); err != nil {
		return err
	}
	ctorLen := constructorLength(first.Bytes()[0])
	wr.Append(first.Bytes()[:ctorLen])
	wr.Append(first.Bytes()[ctorLen:])

	for _, it := range items[1:] {
		var b buffer.Buffer
		if err := Marshal(&b, it); err != nil {
			return err
		}
		wr.Append(b.Bytes()[ctorLen:])
	}
	return nil
}

// constructorLength returns the number of bytes the given format code
// occupies. It always returns 1, the size of a primitive constructor; a
// described constructor is not measured.
func constructorLength(code byte) int {
	return 1
}

func appendUint16(wr *buffer.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	wr.Append(b[:])
}

func appendUint32(wr *buffer.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	wr.Append(b[:])
}

func appendUint64(wr *buffer.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	wr.Append(b[:])
}
