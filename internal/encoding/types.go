// Package encoding implements the AMQP 1.0 type system: the tagged-union
// value model (encoding.go §1.6 of the OASIS spec) and its wire codec.
//
// Native Go types stand in for the AMQP primitives wherever the mapping is
// unambiguous (bool, uint8/16/32/64, int8/16/32/64, float32/64, string,
// []byte, time.Time). Types that need disambiguation from a look-alike Go
// type carry their own wrapper: Symbol vs string, UUID vs [16]byte array,
// Char vs rune, *Map (ordered) for maps, *Array (homogeneous) for arrays,
// and Described/Composite for described values. Lists are plain []any.
package encoding

import (
	"fmt"
	"time"
)

// Symbol is the AMQP "symbol" type: an ASCII-only string used for
// identifiers such as error conditions, capabilities, and message
// annotation keys.
type Symbol string

// Char is a single AMQP "char": a 32-bit Unicode code point.
type Char rune

// UUID is the AMQP "uuid" type: a 16-byte universally unique identifier.
type UUID [16]byte

func (u UUID) String() string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", u[0:4], u[4:6], u[6:8], u[8:10], u[10:16])
}

// Milliseconds is the AMQP "milliseconds" type, used for durations such as
// idle-timeout and message TTL. It round-trips through time.Duration.
type Milliseconds time.Duration

// Described pairs a descriptor value with the value it describes, per
// AMQP §1.6.2. Unmarshal returns every described value as a Described,
// whatever its descriptor; Composite is only built on the encode side.
type Described struct {
	Descriptor any
	Value      any
}

// Composite is a Described value whose descriptor names a standard
// composite type (a performative, terminus, outcome, or message section).
// DescriptorCode holds the canonical 64-bit form of the descriptor even
// when the wire used the symbolic form.
type Composite struct {
	DescriptorCode uint64
	Fields         []any
}

// Map is an ordered AMQP map: a sequence of key/value pairs where keys are
// unique by AMQP equality. Plain Go maps can't preserve AMQP's encoding
// order or support non-comparable keys (e.g. a Described key), so maps that
// must round-trip exactly use this type; most callers can use a plain
// map[K]V and let the encoder fall back to an arbitrary but unique order.
type Map struct {
	Keys   []any
	Values []any
}

// Get returns the value for key, following AMQP value equality.
func (m *Map) Get(key any) (any, bool) {
	for i, k := range m.Keys {
		if ValuesEqual(k, key) {
			return m.Values[i], true
		}
	}
	return nil, false
}

// Set inserts or replaces the value for key, preserving insertion order for
// new keys.
func (m *Map) Set(key, value any) {
	for i, k := range m.Keys {
		if ValuesEqual(k, key) {
			m.Values[i] = value
			return
		}
	}
	m.Keys = append(m.Keys, key)
	m.Values = append(m.Values, value)
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Keys)
}

// Array is a homogeneous AMQP array: every element shares one wire
// constructor. NewArray validates homogeneity at construction time so a
// non-homogeneous Array can never exist in memory.
type Array struct {
	items []any
}

// NewArray validates that every item in items has the same AMQP type and
// returns an Array wrapping them. It fails with ErrArrayNonHomogeneous
// otherwise.
func NewArray(items ...any) (*Array, error) {
	if len(items) == 0 {
		return &Array{}, nil
	}
	want := AMQPTypeOf(items[0])
	for _, it := range items[1:] {
		if got := AMQPTypeOf(it); got != want {
			return nil, fmt.Errorf("%w: element type %s does not match array type %s", ErrArrayNonHomogeneous, got, want)
		}
	}
	return &Array{items: items}, nil
}

// Items returns the array's elements.
func (a *Array) Items() []any {
	if a == nil {
		return nil
	}
	return a.items
}

// Len returns the number of elements.
func (a *Array) Len() int {
	if a == nil {
		return 0
	}
	return len(a.items)
}

// AMQPType names the primary AMQP type category of a decoded value, used
// for GetType()-style queries and for array homogeneity checks.
type AMQPType string

const (
	TypeNull      AMQPType = "null"
	TypeBool      AMQPType = "bool"
	TypeUByte     AMQPType = "ubyte"
	TypeUShort    AMQPType = "ushort"
	TypeUInt      AMQPType = "uint"
	TypeULong     AMQPType = "ulong"
	TypeByte      AMQPType = "byte"
	TypeShort     AMQPType = "short"
	TypeInt       AMQPType = "int"
	TypeLong      AMQPType = "long"
	TypeFloat     AMQPType = "float"
	TypeDouble    AMQPType = "double"
	TypeChar      AMQPType = "char"
	TypeTimestamp AMQPType = "timestamp"
	TypeUUID      AMQPType = "uuid"
	TypeBinary    AMQPType = "binary"
	TypeString    AMQPType = "string"
	TypeSymbol    AMQPType = "symbol"
	TypeList      AMQPType = "list"
	TypeMap       AMQPType = "map"
	TypeArray     AMQPType = "array"
	TypeDescribed AMQPType = "described"
)

// AMQPTypeOf returns the AMQP type category of v. Described values (and
// Composite, which is sugar for a described list) always report
// TypeDescribed: per spec §4.1, GetType is transparent to the described
// wrapper only when the caller explicitly asks for the inner value's type.
func AMQPTypeOf(v any) AMQPType {
	switch v.(type) {
	case nil:
		return TypeNull
	case bool:
		return TypeBool
	case uint8:
		return TypeUByte
	case uint16:
		return TypeUShort
	case uint32:
		return TypeUInt
	case uint64:
		return TypeULong
	case int8:
		return TypeByte
	case int16:
		return TypeShort
	case int32:
		return TypeInt
	case int64:
		return TypeLong
	case float32:
		return TypeFloat
	case float64:
		return TypeDouble
	case Char:
		return TypeChar
	case time.Time:
		return TypeTimestamp
	case UUID:
		return TypeUUID
	case []byte:
		return TypeBinary
	case string:
		return TypeString
	case Symbol:
		return TypeSymbol
	case []any:
		return TypeList
	case *Map, map[string]any, map[any]any:
		return TypeMap
	case *Array:
		return TypeArray
	case Described, *Described, Composite, *Composite:
		return TypeDescribed
	default:
		return TypeDescribed
	}
}

// UnderlyingType resolves through a Described/Composite wrapper to report
// the AMQP type of the value it carries, for callers that opted into
// transparency explicitly.
func UnderlyingType(v any) AMQPType {
	switch d := v.(type) {
	case Described:
		return AMQPTypeOf(d.Value)
	case *Described:
		return AMQPTypeOf(d.Value)
	case Composite:
		return TypeList
	case *Composite:
		return TypeList
	default:
		return AMQPTypeOf(v)
	}
}
