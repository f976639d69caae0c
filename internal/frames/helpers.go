package frames

import (
	"time"

	"github.com/Azure/go-amqp-transport/internal/encoding"
)

func nonEmptyString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func symbolsToList(s []encoding.Symbol) any {
	if len(s) == 0 {
		return nil
	}
	items := make([]any, len(s))
	for i, v := range s {
		items[i] = v
	}
	arr, err := encoding.NewArray(items...)
	if err != nil {
		// symbols are always homogeneous; unreachable in practice.
		return nil
	}
	return arr
}

func listToSymbols(v any) []encoding.Symbol {
	switch items := v.(type) {
	case *encoding.Array:
		out := make([]encoding.Symbol, 0, items.Len())
		for _, it := range items.Items() {
			if s, ok := it.(encoding.Symbol); ok {
				out = append(out, s)
			}
		}
		return out
	case []any:
		out := make([]encoding.Symbol, 0, len(items))
		for _, it := range items {
			if s, ok := it.(encoding.Symbol); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func symbolMapToMap(m map[encoding.Symbol]any) *encoding.Map {
	if len(m) == 0 {
		return nil
	}
	out := &encoding.Map{}
	for k, v := range m {
		out.Set(k, v)
	}
	return out
}

func mapToSymbolMap(v any) map[encoding.Symbol]any {
	m, ok := v.(*encoding.Map)
	if !ok || m == nil {
		return nil
	}
	out := make(map[encoding.Symbol]any, m.Len())
	for i, k := range m.Keys {
		if s, ok := k.(encoding.Symbol); ok {
			out[s] = m.Values[i]
		} else if s, ok := k.(string); ok {
			out[encoding.Symbol(s)] = m.Values[i]
		}
	}
	return out
}

func toUint32(v any, def uint32) uint32 {
	switch n := v.(type) {
	case uint32:
		return n
	case uint8:
		return uint32(n)
	case uint16:
		return uint32(n)
	case uint64:
		return uint32(n)
	default:
		return def
	}
}

func toUint16(v any, def uint16) uint16 {
	switch n := v.(type) {
	case uint16:
		return n
	case uint8:
		return uint16(n)
	case uint32:
		return uint16(n)
	default:
		return def
	}
}

func toUint64(v any, def uint64) uint64 {
	switch n := v.(type) {
	case uint64:
		return n
	case uint32:
		return uint64(n)
	case uint8:
		return uint64(n)
	default:
		return def
	}
}

func toMilliseconds(v any) encoding.Milliseconds {
	n, ok := v.(uint32)
	if !ok {
		return 0
	}
	return encoding.Milliseconds(time.Duration(n) * time.Millisecond)
}

func uint32PtrToAny(v *uint32) any {
	if v == nil {
		return nil
	}
	return *v
}

func anyToUint32Ptr(v any) *uint32 {
	n, ok := v.(uint32)
	if !ok {
		return nil
	}
	return &n
}
