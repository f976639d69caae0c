package frames

import (
	"errors"

	"github.com/Azure/go-amqp-transport/internal/encoding"
)

var (
	errNotDescribed    = errors.New("frames: value is not a described type")
	errWrongDescriptor = errors.New("frames: described value has an unexpected descriptor")
	errNotList         = errors.New("frames: described value is not a list")
)

// encodeDeliveryState wraps a DeliveryState (Received/Accepted/Rejected/
// Released/Modified, spec §3.4) as its described-list wire form.
func encodeDeliveryState(s encoding.DeliveryState) any {
	switch st := s.(type) {
	case nil:
		return nil
	case *encoding.StateReceived:
		return encoding.Described{Descriptor: TypeCodeReceived, Value: []any{st.SectionNumber, st.SectionOffset}}
	case *encoding.StateAccepted:
		return encoding.Described{Descriptor: TypeCodeAccepted, Value: []any{}}
	case *encoding.StateRejected:
		var errVal any
		if st.Error != nil && !st.Error.IsZero() {
			errVal = encodeError(st.Error)
		}
		return encoding.Described{Descriptor: TypeCodeRejected, Value: []any{errVal}}
	case *encoding.StateReleased:
		return encoding.Described{Descriptor: TypeCodeReleased, Value: []any{}}
	case *encoding.StateModified:
		return encoding.Described{Descriptor: TypeCodeModified, Value: []any{
			st.DeliveryFailed, st.UndeliverableHere, stringAnyMapToMap(st.MessageAnnotations),
		}}
	default:
		return nil
	}
}

func decodeDeliveryState(v any) (encoding.DeliveryState, error) {
	if v == nil {
		return nil, nil
	}
	desc, ok := v.(encoding.Described)
	if !ok {
		return nil, errNotDescribed
	}
	code, ok := descriptorOf(desc.Descriptor)
	if !ok {
		return nil, errWrongDescriptor
	}
	fields, _ := desc.Value.([]any)
	switch code {
	case TypeCodeReceived:
		return &encoding.StateReceived{
			SectionNumber: toUint32(field(fields, 0), 0),
			SectionOffset: toUint64(field(fields, 1), 0),
		}, nil
	case TypeCodeAccepted:
		return &encoding.StateAccepted{}, nil
	case TypeCodeRejected:
		e, err := decodeError(field(fields, 0))
		if err != nil {
			return nil, err
		}
		return &encoding.StateRejected{Error: e}, nil
	case TypeCodeReleased:
		return &encoding.StateReleased{}, nil
	case TypeCodeModified:
		deliveryFailed, _ := field(fields, 0).(bool)
		undeliverable, _ := field(fields, 1).(bool)
		var ann map[string]any
		if m, ok := field(fields, 2).(*encoding.Map); ok {
			ann = mapToStringMap(m)
		}
		return &encoding.StateModified{
			DeliveryFailed:     deliveryFailed,
			UndeliverableHere:  undeliverable,
			MessageAnnotations: ann,
		}, nil
	default:
		return nil, errWrongDescriptor
	}
}

func stringAnyMapToMap(m map[string]any) *encoding.Map {
	return stringMapToMap(m)
}
