package amqp

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/go-amqp-transport/internal/buffer"
	"github.com/Azure/go-amqp-transport/internal/encoding"
	"github.com/Azure/go-amqp-transport/internal/frames"
)

// BodyType distinguishes which of the three body encodings (spec §3,
// "Body (one of)") a Message carries: one or more opaque Data sections,
// one or more AMQP-sequence sections, or exactly one AMQP-value section.
type BodyType int

const (
	BodyTypeNone BodyType = iota
	BodyTypeData
	BodyTypeSequence
	BodyTypeValue
)

// MessageHeader is the message's transport-header section (spec §3,
// Header): delivery count, durability, priority, and time-to-live, none of
// which are interpreted by this library -- they're carried opaquely to and
// from the wire for the caller and the peer to act on.
type MessageHeader struct {
	Durable       bool
	Priority      uint8
	TTL           time.Duration
	FirstAcquirer bool
	DeliveryCount uint32
}

const defaultPriority uint8 = 4

func (h *MessageHeader) encode() *encoding.Composite {
	priority := h.Priority
	havePriority := priority != defaultPriority
	var ttl any
	if h.TTL > 0 {
		ttl = encoding.Milliseconds(h.TTL)
	}
	fields := []any{
		h.Durable,
		fieldOrNil(havePriority, priority),
		ttl,
		h.FirstAcquirer,
		fieldOrNil(h.DeliveryCount != 0, h.DeliveryCount),
	}
	return &encoding.Composite{DescriptorCode: frames.TypeCodeMessageHeader, Fields: fields}
}

func decodeMessageHeader(fields []any) (*MessageHeader, error) {
	h := &MessageHeader{Priority: defaultPriority}
	if v, ok := field(fields, 0).(bool); ok {
		h.Durable = v
	}
	switch v := field(fields, 1).(type) {
	case uint8:
		h.Priority = v
	}
	switch v := field(fields, 2).(type) {
	case encoding.Milliseconds:
		h.TTL = time.Duration(v)
	case uint32:
		h.TTL = time.Duration(v) * time.Millisecond
	}
	if v, ok := field(fields, 3).(bool); ok {
		h.FirstAcquirer = v
	}
	switch v := field(fields, 4).(type) {
	case uint32:
		h.DeliveryCount = v
	}
	return h, nil
}

// MessageProperties is the message's immutable, application-addressable
// metadata (spec §3, Properties): MessageID/CorrelationID are carried as
// `any` because AMQP permits ulong, UUID, binary, or string message IDs.
type MessageProperties struct {
	MessageID          any
	UserID             []byte
	To                 string
	Subject            string
	ReplyTo            string
	CorrelationID      any
	ContentType        encoding.Symbol
	ContentEncoding    encoding.Symbol
	AbsoluteExpiryTime *time.Time
	CreationTime       *time.Time
	GroupID            string
	GroupSequence      uint32
	ReplyToGroupID     string
}

func (p *MessageProperties) encode() *encoding.Composite {
	fields := []any{
		p.MessageID,
		bytesOrNil(p.UserID),
		stringOrNil(p.To),
		stringOrNil(p.Subject),
		stringOrNil(p.ReplyTo),
		p.CorrelationID,
		symbolOrNilValue(p.ContentType),
		symbolOrNilValue(p.ContentEncoding),
		timePtrOrNil(p.AbsoluteExpiryTime),
		timePtrOrNil(p.CreationTime),
		stringOrNil(p.GroupID),
		fieldOrNil(p.GroupSequence != 0, p.GroupSequence),
		stringOrNil(p.ReplyToGroupID),
	}
	return &encoding.Composite{DescriptorCode: frames.TypeCodeMessageProperties, Fields: fields}
}

func decodeMessageProperties(fields []any) (*MessageProperties, error) {
	p := &MessageProperties{}
	p.MessageID = field(fields, 0)
	if v, ok := field(fields, 1).([]byte); ok {
		p.UserID = v
	}
	p.To, _ = field(fields, 2).(string)
	p.Subject, _ = field(fields, 3).(string)
	p.ReplyTo, _ = field(fields, 4).(string)
	p.CorrelationID = field(fields, 5)
	if v, ok := field(fields, 6).(encoding.Symbol); ok {
		p.ContentType = v
	}
	if v, ok := field(fields, 7).(encoding.Symbol); ok {
		p.ContentEncoding = v
	}
	if v, ok := field(fields, 8).(time.Time); ok {
		p.AbsoluteExpiryTime = &v
	}
	if v, ok := field(fields, 9).(time.Time); ok {
		p.CreationTime = &v
	}
	p.GroupID, _ = field(fields, 10).(string)
	if v, ok := field(fields, 11).(uint32); ok {
		p.GroupSequence = v
	}
	p.ReplyToGroupID, _ = field(fields, 12).(string)
	return p, nil
}

// Message is the unit of transfer exchanged over a Sender/Receiver link
// (spec §3 and C2). Its sections mirror the AMQP 1.0 bare+annotated
// message format; only the sections a caller sets are encoded on the
// wire, matching spec §4.1's "absent means not encoded" rule.
type Message struct {
	Header                *MessageHeader
	DeliveryAnnotations   Annotations
	Annotations           Annotations
	Properties            *MessageProperties
	ApplicationProperties map[string]any
	Footer                Annotations

	BodyType BodyType
	Data     [][]byte
	Sequence [][]any
	Value    any

	// Format is the message-format field carried alongside the Transfer
	// that delivered this message (spec §4.5); 0 is the only format this
	// library interprets, others are passed through opaquely.
	Format uint32

	deliveryID  uint32
	deliveryTag []byte
	settled     bool
	receiver    *Receiver
}

// NewMessage returns a Message whose body is a single Data section holding
// data, the common case of sending an opaque payload.
func NewMessage(data []byte) *Message {
	return &Message{BodyType: BodyTypeData, Data: [][]byte{data}}
}

// SetApplicationProperty validates that value is a scalar AMQP type (spec
// §3's application-properties invariant: "values MUST be restricted to
// simple types... not composite or array types") before storing it.
func (m *Message) SetApplicationProperty(key string, value any) error {
	switch encoding.AMQPTypeOf(value) {
	case encoding.TypeList, encoding.TypeMap, encoding.TypeArray, encoding.TypeDescribed:
		return fmt.Errorf("amqp: application-properties value for %q must be a scalar type, got %s", key, encoding.AMQPTypeOf(value))
	}
	if m.ApplicationProperties == nil {
		m.ApplicationProperties = make(map[string]any)
	}
	m.ApplicationProperties[key] = value
	return nil
}

// DeliveryTag returns the link-scoped tag assigned by the sender, empty
// for a Message that hasn't been transferred yet.
func (m *Message) DeliveryTag() []byte { return m.deliveryTag }

// Marshal encodes the message's sections, in the fixed order required by
// spec §3, onto wr.
func (m *Message) Marshal(wr *buffer.Buffer) error {
	if m.Header != nil {
		if err := encoding.Marshal(wr, m.Header.encode()); err != nil {
			return err
		}
	}
	if len(m.DeliveryAnnotations) > 0 {
		if err := encoding.Marshal(wr, encoding.Described{
			Descriptor: frames.TypeCodeDeliveryAnnotations,
			Value:      annotationsToMap(m.DeliveryAnnotations),
		}); err != nil {
			return err
		}
	}
	if len(m.Annotations) > 0 {
		if err := encoding.Marshal(wr, encoding.Described{
			Descriptor: frames.TypeCodeMessageAnnotations,
			Value:      annotationsToMap(m.Annotations),
		}); err != nil {
			return err
		}
	}
	if m.Properties != nil {
		if err := encoding.Marshal(wr, m.Properties.encode()); err != nil {
			return err
		}
	}
	if len(m.ApplicationProperties) > 0 {
		if err := encoding.Marshal(wr, encoding.Described{
			Descriptor: frames.TypeCodeApplicationProperties,
			Value:      stringAnyToMap(m.ApplicationProperties),
		}); err != nil {
			return err
		}
	}

	bodyType := m.BodyType
	if bodyType == BodyTypeNone {
		// BodyType left unset: encode whichever body field the caller set.
		switch {
		case len(m.Data) > 0:
			bodyType = BodyTypeData
		case len(m.Sequence) > 0:
			bodyType = BodyTypeSequence
		case m.Value != nil:
			bodyType = BodyTypeValue
		}
	}
	switch bodyType {
	case BodyTypeData:
		for _, d := range m.Data {
			if err := encoding.Marshal(wr, encoding.Described{Descriptor: frames.TypeCodeApplicationData, Value: d}); err != nil {
				return err
			}
		}
	case BodyTypeSequence:
		for _, s := range m.Sequence {
			if err := encoding.Marshal(wr, encoding.Described{Descriptor: frames.TypeCodeAMQPSequence, Value: s}); err != nil {
				return err
			}
		}
	case BodyTypeValue:
		if err := encoding.Marshal(wr, encoding.Described{Descriptor: frames.TypeCodeAMQPValue, Value: m.Value}); err != nil {
			return err
		}
	}

	if len(m.Footer) > 0 {
		if err := encoding.Marshal(wr, encoding.Described{
			Descriptor: frames.TypeCodeFooter,
			Value:      annotationsToMap(m.Footer),
		}); err != nil {
			return err
		}
	}
	return nil
}

// Unmarshal decodes a Message from r, which must hold exactly the bytes of
// one bare+annotated message (spec §4.5: the concatenated payload of the
// Transfer(s) that carried it).
func (m *Message) Unmarshal(r *buffer.Buffer) error {
	for r.Len() > 0 {
		v, err := encoding.Unmarshal(r)
		if err != nil {
			return err
		}
		desc, ok := v.(encoding.Described)
		if !ok {
			// Some peers put a bare map on the wire where a described
			// application-properties section belongs instead of wrapping it;
			// tolerate that the way the Service Bus wire traffic requires
			// (spec §4.1: "accept both wrapped-Described and bare-Map
			// encodings").
			if mp, ok := v.(*encoding.Map); ok {
				m.ApplicationProperties = mapToStringAny(mp)
				continue
			}
			return fmt.Errorf("%w: message section is not a described type", encoding.ErrMalformed)
		}
		code, ok := sectionDescriptorOf(desc.Descriptor)
		if !ok {
			continue
		}
		switch code {
		case frames.TypeCodeMessageHeader:
			fields, _ := desc.Value.([]any)
			m.Header, err = decodeMessageHeader(fields)
		case frames.TypeCodeDeliveryAnnotations:
			if mp, ok := desc.Value.(*encoding.Map); ok {
				m.DeliveryAnnotations = mapToAnnotations(mp)
			}
		case frames.TypeCodeMessageAnnotations:
			if mp, ok := desc.Value.(*encoding.Map); ok {
				m.Annotations = mapToAnnotations(mp)
			}
		case frames.TypeCodeMessageProperties:
			fields, _ := desc.Value.([]any)
			m.Properties, err = decodeMessageProperties(fields)
		case frames.TypeCodeApplicationProperties:
			if mp, ok := desc.Value.(*encoding.Map); ok {
				m.ApplicationProperties = mapToStringAny(mp)
			}
		case frames.TypeCodeApplicationData:
			data, _ := desc.Value.([]byte)
			m.BodyType = BodyTypeData
			m.Data = append(m.Data, data)
		case frames.TypeCodeAMQPSequence:
			seq, _ := desc.Value.([]any)
			m.BodyType = BodyTypeSequence
			m.Sequence = append(m.Sequence, seq)
		case frames.TypeCodeAMQPValue:
			m.BodyType = BodyTypeValue
			m.Value = desc.Value
		case frames.TypeCodeFooter:
			if mp, ok := desc.Value.(*encoding.Map); ok {
				m.Footer = mapToAnnotations(mp)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// sectionSymbolDescriptors maps the symbolic form of a message-section
// descriptor to its numeric code, for peers that encode descriptors
// symbolically instead of as a smallulong.
var sectionSymbolDescriptors = map[encoding.Symbol]uint64{
	"amqp:header:list":                frames.TypeCodeMessageHeader,
	"amqp:delivery-annotations:map":   frames.TypeCodeDeliveryAnnotations,
	"amqp:message-annotations:map":    frames.TypeCodeMessageAnnotations,
	"amqp:properties:list":            frames.TypeCodeMessageProperties,
	"amqp:application-properties:map": frames.TypeCodeApplicationProperties,
	"amqp:data:binary":                frames.TypeCodeApplicationData,
	"amqp:amqp-sequence:list":         frames.TypeCodeAMQPSequence,
	"amqp:amqp-value:*":               frames.TypeCodeAMQPValue,
	"amqp:footer:map":                 frames.TypeCodeFooter,
}

func sectionDescriptorOf(descriptor any) (uint64, bool) {
	switch d := descriptor.(type) {
	case uint64:
		return d, true
	case uint32:
		return uint64(d), true
	case encoding.Symbol:
		code, ok := sectionSymbolDescriptors[d]
		return code, ok
	default:
		return 0, false
	}
}

// DispositionAction settles a received Message when invoked; returned by
// Accept/Reject/Release/Modify and by a Handler so the Receiver's dispatch
// loop can apply it without the caller reaching back into link internals.
type DispositionAction func(ctx context.Context) error

func (m *Message) settle(ctx context.Context, state encoding.DeliveryState) error {
	span, ctx := startSpanFromContext(ctx, "amqp.Message.settle")
	defer span.Finish()

	if m.settled {
		return nil
	}
	if m.receiver == nil {
		return fmt.Errorf("amqp: message has no associated receiver to settle on")
	}
	if err := m.receiver.settleMessage(ctx, m, state); err != nil {
		return err
	}
	m.settled = true
	return nil
}

// Accept returns a DispositionAction that settles the message with the
// Accepted outcome: it was processed successfully (spec §3, Accepted).
func (m *Message) Accept() DispositionAction {
	return func(ctx context.Context) error {
		return m.settle(ctx, &encoding.StateAccepted{})
	}
}

// Reject returns a DispositionAction that settles the message with the
// Rejected outcome, optionally attaching e as the reason (spec §3,
// Rejected).
func (m *Message) Reject(e *Error) DispositionAction {
	return func(ctx context.Context) error {
		var enc *encoding.Error
		if e != nil {
			enc = (*encoding.Error)(e)
		}
		return m.settle(ctx, &encoding.StateRejected{Error: enc})
	}
}

// Release returns a DispositionAction that settles the message with the
// Released outcome: not processed, made available for redelivery without
// attributing fault (spec §3, Released).
func (m *Message) Release() DispositionAction {
	return func(ctx context.Context) error {
		return m.settle(ctx, &encoding.StateReleased{})
	}
}

// Modify returns a DispositionAction that settles the message with the
// Modified outcome, letting the caller flag delivery failure / deliverability
// and attach replacement message annotations before redelivery (spec §3,
// Modified).
func (m *Message) Modify(deliveryFailed, undeliverableHere bool, annotations map[string]any) DispositionAction {
	return func(ctx context.Context) error {
		return m.settle(ctx, &encoding.StateModified{
			DeliveryFailed:     deliveryFailed,
			UndeliverableHere:  undeliverableHere,
			MessageAnnotations: annotations,
		})
	}
}

func field(fields []any, i int) any {
	if i < 0 || i >= len(fields) {
		return nil
	}
	return fields[i]
}

func fieldOrNil(have bool, v any) any {
	if !have {
		return nil
	}
	return v
}

func stringOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func bytesOrNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func symbolOrNilValue(s encoding.Symbol) any {
	if s == "" {
		return nil
	}
	return s
}

func timePtrOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func annotationsToMap(a Annotations) *encoding.Map {
	m := &encoding.Map{}
	for k, v := range a {
		m.Set(encoding.Symbol(k), v)
	}
	return m
}

func mapToAnnotations(m *encoding.Map) Annotations {
	if m == nil {
		return nil
	}
	out := make(Annotations, m.Len())
	for i, k := range m.Keys {
		switch key := k.(type) {
		case encoding.Symbol:
			out[string(key)] = m.Values[i]
		case string:
			out[key] = m.Values[i]
		}
	}
	return out
}

func stringAnyToMap(m map[string]any) *encoding.Map {
	out := &encoding.Map{}
	for k, v := range m {
		out.Set(encoding.Symbol(k), v)
	}
	return out
}

func mapToStringAny(m *encoding.Map) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, m.Len())
	for i, k := range m.Keys {
		switch key := k.(type) {
		case encoding.Symbol:
			out[string(key)] = m.Values[i]
		case string:
			out[key] = m.Values[i]
		}
	}
	return out
}
