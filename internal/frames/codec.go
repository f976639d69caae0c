package frames

import (
	"fmt"

	"github.com/Azure/go-amqp-transport/internal/buffer"
	"github.com/Azure/go-amqp-transport/internal/encoding"
)

// MarshalBody encodes a performative body as a described list: 0x00
// descriptor ulong <fields...>, per spec §4.2.
func MarshalBody(wr *buffer.Buffer, body FrameBody) error {
	descriptor, fields := body.fields()
	return marshalDescribedList(wr, descriptor, fields)
}

func marshalDescribedList(wr *buffer.Buffer, descriptor uint64, fields []any) error {
	return encoding.Marshal(wr, encoding.Described{Descriptor: descriptor, Value: any(fields)})
}

// descriptorOf normalizes a decoded descriptor value (ulong or symbol) to
// its canonical 64-bit code.
func descriptorOf(v any) (uint64, bool) {
	switch d := v.(type) {
	case uint64:
		return d, true
	case uint32:
		return uint64(d), true
	case encoding.Symbol:
		if code, ok := symbolDescriptors[d]; ok {
			return code, true
		}
	}
	return 0, false
}

// symbolDescriptors maps the symbolic form of a descriptor to its numeric
// code, for peers that encode descriptors symbolically.
var symbolDescriptors = map[encoding.Symbol]uint64{
	"amqp:open:list":            TypeCodeOpen,
	"amqp:begin:list":           TypeCodeBegin,
	"amqp:attach:list":          TypeCodeAttach,
	"amqp:flow:list":            TypeCodeFlow,
	"amqp:transfer:list":        TypeCodeTransfer,
	"amqp:disposition:list":     TypeCodeDisposition,
	"amqp:detach:list":          TypeCodeDetach,
	"amqp:end:list":             TypeCodeEnd,
	"amqp:close:list":           TypeCodeClose,
	"amqp:error:list":           TypeCodeError,
	"amqp:received:list":        TypeCodeReceived,
	"amqp:accepted:list":        TypeCodeAccepted,
	"amqp:rejected:list":        TypeCodeRejected,
	"amqp:released:list":        TypeCodeReleased,
	"amqp:modified:list":        TypeCodeModified,
	"amqp:source:list":          TypeCodeSource,
	"amqp:target:list":          TypeCodeTarget,
}

// UnmarshalBody decodes the next performative from r, returning the parsed
// body and the number of bytes consumed from r's original contents.
func UnmarshalBody(r *buffer.Buffer) (FrameBody, int, error) {
	before := r.Len()
	v, err := encoding.Unmarshal(r)
	if err != nil {
		return nil, 0, err
	}
	consumed := before - r.Len()

	desc, ok := v.(encoding.Described)
	if !ok {
		return nil, 0, fmt.Errorf("frames: performative is not a described type: %T", v)
	}
	code, ok := descriptorOf(desc.Descriptor)
	if !ok {
		return nil, 0, fmt.Errorf("frames: unrecognized performative descriptor %v", desc.Descriptor)
	}
	fields, ok := desc.Value.([]any)
	if !ok {
		return nil, 0, fmt.Errorf("frames: performative value is not a list: %T", desc.Value)
	}

	body, err := fromFields(code, fields)
	if err != nil {
		return nil, 0, err
	}
	return body, consumed, nil
}

func fromFields(code uint64, fields []any) (FrameBody, error) {
	switch code {
	case TypeCodeOpen:
		return (&PerformOpen{}).fromFields(fields)
	case TypeCodeBegin:
		return (&PerformBegin{}).fromFields(fields)
	case TypeCodeAttach:
		return (&PerformAttach{}).fromFields(fields)
	case TypeCodeFlow:
		return (&PerformFlow{}).fromFields(fields)
	case TypeCodeTransfer:
		return (&PerformTransfer{}).fromFields(fields)
	case TypeCodeDisposition:
		return (&PerformDisposition{}).fromFields(fields)
	case TypeCodeDetach:
		return (&PerformDetach{}).fromFields(fields)
	case TypeCodeEnd:
		return (&PerformEnd{}).fromFields(fields)
	case TypeCodeClose:
		return (&PerformClose{}).fromFields(fields)
	case TypeCodeSASLMechanisms:
		return (&SASLMechanisms{}).fromFields(fields)
	case TypeCodeSASLInit:
		return (&SASLInit{}).fromFields(fields)
	case TypeCodeSASLOutcome:
		return (&SASLOutcome{}).fromFields(fields)
	default:
		return nil, fmt.Errorf("frames: unhandled performative descriptor 0x%x", code)
	}
}

// field extracts fields[i] if present, else nil (AMQP lists may omit
// trailing optional fields entirely).
func field(fields []any, i int) any {
	if i >= len(fields) {
		return nil
	}
	return fields[i]
}

// decodeError converts a decoded field into an *encoding.Error. Only the
// described form is accepted; any other non-nil value is an error.
func decodeError(v any) (*encoding.Error, error) {
	if v == nil {
		return nil, nil
	}
	desc, ok := v.(encoding.Described)
	if !ok {
		return nil, fmt.Errorf("frames: error field is not a described list: %T", v)
	}
	fields, ok := desc.Value.([]any)
	if !ok {
		return nil, fmt.Errorf("frames: error value is not a list: %T", desc.Value)
	}
	e := &encoding.Error{}
	if c := field(fields, 0); c != nil {
		if sym, ok := c.(encoding.Symbol); ok {
			e.Condition = encoding.ErrorCondition(sym)
		}
	}
	if d := field(fields, 1); d != nil {
		if s, ok := d.(string); ok {
			e.Description = s
		}
	}
	if i := field(fields, 2); i != nil {
		if m, ok := i.(*encoding.Map); ok {
			e.Info = mapToStringMap(m)
		}
	}
	return e, nil
}

func encodeError(e *encoding.Error) any {
	if e.IsZero() {
		return nil
	}
	fields := []any{encoding.Symbol(e.Condition), e.Description, stringMapToMap(e.Info)}
	return encoding.Described{Descriptor: TypeCodeError, Value: fields}
}

func mapToStringMap(m *encoding.Map) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, m.Len())
	for i, k := range m.Keys {
		if s, ok := k.(string); ok {
			out[s] = m.Values[i]
		} else if s, ok := k.(encoding.Symbol); ok {
			out[string(s)] = m.Values[i]
		}
	}
	return out
}

func stringMapToMap(m map[string]any) *encoding.Map {
	if len(m) == 0 {
		return nil
	}
	out := &encoding.Map{}
	for k, v := range m {
		out.Set(k, v)
	}
	return out
}
