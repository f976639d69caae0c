package encoding

import (
	"bytes"
	"time"
)

// ValuesEqual reports whether a and b are equal under AMQP value equality
// (§3): same type category, same contents. Described values compare both
// descriptor and value; Map comparison ignores key order.
func ValuesEqual(a, b any) bool {
	if AMQPTypeOf(a) != AMQPTypeOf(b) {
		return false
	}
	switch av := a.(type) {
	case nil:
		return true
	case bool, uint8, uint16, uint32, uint64, int8, int16, int32, int64, float32, float64, Char, Symbol, string:
		return av == b
	case time.Time:
		return av.Equal(b.(time.Time))
	case UUID:
		return av == b.(UUID)
	case []byte:
		return bytes.Equal(av, b.([]byte))
	case []any:
		bv := b.([]any)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !ValuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case *Array:
		bv := b.(*Array)
		if av.Len() != bv.Len() {
			return false
		}
		for i := range av.items {
			if !ValuesEqual(av.items[i], bv.items[i]) {
				return false
			}
		}
		return true
	case *Map:
		return mapsEqual(av, toMap(b))
	case map[string]any:
		return mapsEqual(toMap(av), toMap(b))
	case Described:
		bv, ok := b.(Described)
		return ok && ValuesEqual(av.Descriptor, bv.Descriptor) && ValuesEqual(av.Value, bv.Value)
	default:
		return false
	}
}

func toMap(v any) *Map {
	switch m := v.(type) {
	case *Map:
		return m
	case map[string]any:
		out := &Map{}
		for k, val := range m {
			out.Set(k, val)
		}
		return out
	case map[any]any:
		out := &Map{}
		for k, val := range m {
			out.Set(k, val)
		}
		return out
	default:
		return nil
	}
}

func mapsEqual(a, b *Map) bool {
	if a.Len() != b.Len() {
		return false
	}
	for i, k := range a.Keys {
		bv, ok := b.Get(k)
		if !ok || !ValuesEqual(a.Values[i], bv) {
			return false
		}
	}
	return true
}

// typeOrdinal fixes the total order of AMQP type categories used to order
// values of differing types; only relied upon for stable Array-of-composite
// sorting, per spec §3.
var typeOrdinal = map[AMQPType]int{
	TypeNull: 0, TypeBool: 1, TypeUByte: 2, TypeUShort: 3, TypeUInt: 4, TypeULong: 5,
	TypeByte: 6, TypeShort: 7, TypeInt: 8, TypeLong: 9, TypeFloat: 10, TypeDouble: 11,
	TypeChar: 12, TypeTimestamp: 13, TypeUUID: 14, TypeBinary: 15, TypeString: 16,
	TypeSymbol: 17, TypeList: 18, TypeMap: 19, TypeArray: 20, TypeDescribed: 21,
}

// Less implements the total order described in spec §3: type ordinal first,
// then type-specific order within a category.
func Less(a, b any) bool {
	ta, tb := AMQPTypeOf(a), AMQPTypeOf(b)
	if ta != tb {
		return typeOrdinal[ta] < typeOrdinal[tb]
	}
	switch av := a.(type) {
	case uint8:
		return av < b.(uint8)
	case uint16:
		return av < b.(uint16)
	case uint32:
		return av < b.(uint32)
	case uint64:
		return av < b.(uint64)
	case int8:
		return av < b.(int8)
	case int16:
		return av < b.(int16)
	case int32:
		return av < b.(int32)
	case int64:
		return av < b.(int64)
	case float32:
		return av < b.(float32)
	case float64:
		return av < b.(float64)
	case string:
		return av < b.(string)
	case Symbol:
		return av < b.(Symbol)
	case time.Time:
		return av.Before(b.(time.Time))
	default:
		return false
	}
}
