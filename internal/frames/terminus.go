package frames

import "github.com/Azure/go-amqp-transport/internal/encoding"

// Source is the source terminus of a link (§3.5.3): where messages
// originate for a receiving link, or the reply-to/filter context for a
// sending link.
type Source struct {
	Address        string
	Durable        encoding.Durability
	ExpiryPolicy   encoding.ExpiryPolicy
	Timeout        uint32
	Dynamic        bool
	DynamicNodeProperties map[encoding.Symbol]any
	DistributionMode encoding.Symbol
	Filter         map[encoding.Symbol]*encoding.Described
	DefaultOutcome encoding.DeliveryState
	Outcomes       []encoding.Symbol
	Capabilities   []encoding.Symbol
}

func (s *Source) encode() any {
	filter := &encoding.Map{}
	for k, v := range s.Filter {
		filter.Set(k, v)
	}
	var filterVal any
	if filter.Len() > 0 {
		filterVal = filter
	}
	fields := []any{
		nonEmptyString(s.Address),
		uint32(s.Durable),
		symbolOrNil(encoding.Symbol(s.ExpiryPolicy)),
		s.Timeout,
		s.Dynamic,
		symbolMapToMap(s.DynamicNodeProperties),
		symbolOrNil(s.DistributionMode),
		filterVal,
		encodeDeliveryState(s.DefaultOutcome),
		symbolsToList(s.Outcomes),
		symbolsToList(s.Capabilities),
	}
	return encoding.Described{Descriptor: TypeCodeSource, Value: fields}
}

func decodeSource(v any) (*Source, error) {
	fields, err := describedListFields(v, TypeCodeSource)
	if err != nil {
		return nil, err
	}
	s := &Source{}
	s.Address, _ = field(fields, 0).(string)
	s.Durable = encoding.Durability(toUint32(field(fields, 1), 0))
	if sym, ok := field(fields, 2).(encoding.Symbol); ok {
		s.ExpiryPolicy = encoding.ExpiryPolicy(sym)
	}
	s.Timeout = toUint32(field(fields, 3), 0)
	s.Dynamic, _ = field(fields, 4).(bool)
	s.DynamicNodeProperties = mapToSymbolMap(field(fields, 5))
	if sym, ok := field(fields, 6).(encoding.Symbol); ok {
		s.DistributionMode = sym
	}
	if m, ok := field(fields, 7).(*encoding.Map); ok {
		s.Filter = make(map[encoding.Symbol]*encoding.Described, m.Len())
		for i, k := range m.Keys {
			if sym, ok := k.(encoding.Symbol); ok {
				if d, ok := m.Values[i].(encoding.Described); ok {
					s.Filter[sym] = &d
				}
			}
		}
	}
	ds, err := decodeDeliveryState(field(fields, 8))
	if err != nil {
		return nil, err
	}
	s.DefaultOutcome = ds
	s.Outcomes = listToSymbols(field(fields, 9))
	s.Capabilities = listToSymbols(field(fields, 10))
	return s, nil
}

// Target is the target terminus of a link (§3.5.4): where messages are
// delivered to for a sending link.
type Target struct {
	Address        string
	Durable        encoding.Durability
	ExpiryPolicy   encoding.ExpiryPolicy
	Timeout        uint32
	Dynamic        bool
	DynamicNodeProperties map[encoding.Symbol]any
	Capabilities   []encoding.Symbol
}

func (t *Target) encode() any {
	fields := []any{
		nonEmptyString(t.Address),
		uint32(t.Durable),
		symbolOrNil(encoding.Symbol(t.ExpiryPolicy)),
		t.Timeout,
		t.Dynamic,
		symbolMapToMap(t.DynamicNodeProperties),
		symbolsToList(t.Capabilities),
	}
	return encoding.Described{Descriptor: TypeCodeTarget, Value: fields}
}

func decodeTarget(v any) (*Target, error) {
	fields, err := describedListFields(v, TypeCodeTarget)
	if err != nil {
		return nil, err
	}
	t := &Target{}
	t.Address, _ = field(fields, 0).(string)
	t.Durable = encoding.Durability(toUint32(field(fields, 1), 0))
	if sym, ok := field(fields, 2).(encoding.Symbol); ok {
		t.ExpiryPolicy = encoding.ExpiryPolicy(sym)
	}
	t.Timeout = toUint32(field(fields, 3), 0)
	t.Dynamic, _ = field(fields, 4).(bool)
	t.DynamicNodeProperties = mapToSymbolMap(field(fields, 5))
	t.Capabilities = listToSymbols(field(fields, 6))
	return t, nil
}

func symbolOrNil(s encoding.Symbol) any {
	if s == "" {
		return nil
	}
	return s
}

// describedListFields unwraps a Described value, verifying its descriptor
// matches want (accepting either the numeric or symbolic form), and returns
// its field list.
func describedListFields(v any, want uint64) ([]any, error) {
	desc, ok := v.(encoding.Described)
	if !ok {
		if p, ok := v.(*encoding.Described); ok {
			desc = *p
		} else {
			return nil, errNotDescribed
		}
	}
	code, ok := descriptorOf(desc.Descriptor)
	if !ok || code != want {
		return nil, errWrongDescriptor
	}
	fields, ok := desc.Value.([]any)
	if !ok {
		return nil, errNotList
	}
	return fields, nil
}
