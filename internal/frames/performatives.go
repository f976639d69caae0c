package frames

import (
	"github.com/Azure/go-amqp-transport/internal/encoding"
)

// PerformOpen is the Open performative (§2.7.1): the first frame exchanged
// on a new connection.
type PerformOpen struct {
	ContainerID         string
	Hostname            string
	MaxFrameSize        uint32
	ChannelMax          uint16
	IdleTimeout         encoding.Milliseconds
	OutgoingLocales     []encoding.Symbol
	IncomingLocales     []encoding.Symbol
	OfferedCapabilities []encoding.Symbol
	DesiredCapabilities []encoding.Symbol
	Properties          map[encoding.Symbol]any
}

func (*PerformOpen) frameBody() {}

func (o *PerformOpen) fields() (uint64, []any) {
	return TypeCodeOpen, []any{
		o.ContainerID,
		nonEmptyString(o.Hostname),
		o.MaxFrameSize,
		o.ChannelMax,
		o.IdleTimeout,
		symbolsToList(o.OutgoingLocales),
		symbolsToList(o.IncomingLocales),
		symbolsToList(o.OfferedCapabilities),
		symbolsToList(o.DesiredCapabilities),
		symbolMapToMap(o.Properties),
	}
}

func (o *PerformOpen) fromFields(f []any) (*PerformOpen, error) {
	o.ContainerID, _ = field(f, 0).(string)
	o.Hostname, _ = field(f, 1).(string)
	o.MaxFrameSize = toUint32(field(f, 2), 4294967295)
	o.ChannelMax = toUint16(field(f, 3), 65535)
	o.IdleTimeout = toMilliseconds(field(f, 4))
	o.OutgoingLocales = listToSymbols(field(f, 5))
	o.IncomingLocales = listToSymbols(field(f, 6))
	o.OfferedCapabilities = listToSymbols(field(f, 7))
	o.DesiredCapabilities = listToSymbols(field(f, 8))
	o.Properties = mapToSymbolMap(field(f, 9))
	return o, nil
}

// PerformBegin is the Begin performative (§2.7.2): establishes a Session on
// a channel.
type PerformBegin struct {
	RemoteChannel       *uint16
	NextOutgoingID      uint32
	IncomingWindow      uint32
	OutgoingWindow      uint32
	HandleMax           uint32
	OfferedCapabilities []encoding.Symbol
	DesiredCapabilities []encoding.Symbol
	Properties          map[encoding.Symbol]any
}

func (*PerformBegin) frameBody() {}

func (b *PerformBegin) fields() (uint64, []any) {
	var rc any
	if b.RemoteChannel != nil {
		rc = uint16(*b.RemoteChannel)
	}
	return TypeCodeBegin, []any{
		rc,
		b.NextOutgoingID,
		b.IncomingWindow,
		b.OutgoingWindow,
		b.HandleMax,
		symbolsToList(b.OfferedCapabilities),
		symbolsToList(b.DesiredCapabilities),
		symbolMapToMap(b.Properties),
	}
}

func (b *PerformBegin) fromFields(f []any) (*PerformBegin, error) {
	if v, ok := field(f, 0).(uint16); ok {
		b.RemoteChannel = &v
	}
	b.NextOutgoingID = toUint32(field(f, 1), 0)
	b.IncomingWindow = toUint32(field(f, 2), 0)
	b.OutgoingWindow = toUint32(field(f, 3), 0)
	b.HandleMax = toUint32(field(f, 4), 4294967295)
	b.OfferedCapabilities = listToSymbols(field(f, 5))
	b.DesiredCapabilities = listToSymbols(field(f, 6))
	b.Properties = mapToSymbolMap(field(f, 7))
	return b, nil
}

// PerformAttach is the Attach performative (§2.7.3): establishes a Link on
// a Session.
type PerformAttach struct {
	Name               string
	Handle             uint32
	Role               encoding.Role
	SenderSettleMode   *encoding.SenderSettleMode
	ReceiverSettleMode *encoding.ReceiverSettleMode
	Source             *Source
	Target             *Target
	Unsettled          *encoding.Map
	IncompleteUnsettled bool
	InitialDeliveryCount uint32
	MaxMessageSize     uint64
	OfferedCapabilities []encoding.Symbol
	DesiredCapabilities []encoding.Symbol
	Properties         map[encoding.Symbol]any
}

func (*PerformAttach) frameBody() {}

func (a *PerformAttach) fields() (uint64, []any) {
	var ssm, rsm any
	if a.SenderSettleMode != nil {
		ssm = uint8(*a.SenderSettleMode)
	}
	if a.ReceiverSettleMode != nil {
		rsm = uint8(*a.ReceiverSettleMode)
	}
	var source, target any
	if a.Source != nil {
		source = a.Source.encode()
	}
	if a.Target != nil {
		target = a.Target.encode()
	}
	return TypeCodeAttach, []any{
		a.Name,
		a.Handle,
		bool(a.Role),
		ssm,
		rsm,
		source,
		target,
		a.Unsettled,
		a.IncompleteUnsettled,
		a.InitialDeliveryCount,
		a.MaxMessageSize,
		symbolsToList(a.OfferedCapabilities),
		symbolsToList(a.DesiredCapabilities),
		symbolMapToMap(a.Properties),
	}
}

func (a *PerformAttach) fromFields(f []any) (*PerformAttach, error) {
	a.Name, _ = field(f, 0).(string)
	a.Handle = toUint32(field(f, 1), 0)
	if r, ok := field(f, 2).(bool); ok {
		a.Role = encoding.Role(r)
	}
	if v, ok := field(f, 3).(uint8); ok {
		m := encoding.SenderSettleMode(v)
		a.SenderSettleMode = &m
	}
	if v, ok := field(f, 4).(uint8); ok {
		m := encoding.ReceiverSettleMode(v)
		a.ReceiverSettleMode = &m
	}
	if v := field(f, 5); v != nil {
		s, err := decodeSource(v)
		if err != nil {
			return nil, err
		}
		a.Source = s
	}
	if v := field(f, 6); v != nil {
		t, err := decodeTarget(v)
		if err != nil {
			return nil, err
		}
		a.Target = t
	}
	if v, ok := field(f, 7).(*encoding.Map); ok {
		a.Unsettled = v
	}
	a.IncompleteUnsettled, _ = field(f, 8).(bool)
	a.InitialDeliveryCount = toUint32(field(f, 9), 0)
	a.MaxMessageSize = toUint64(field(f, 10), 0)
	a.OfferedCapabilities = listToSymbols(field(f, 11))
	a.DesiredCapabilities = listToSymbols(field(f, 12))
	a.Properties = mapToSymbolMap(field(f, 13))
	return a, nil
}

// PerformFlow is the Flow performative (§2.7.4): conveys session and link
// flow-control state.
type PerformFlow struct {
	NextIncomingID *uint32
	IncomingWindow uint32
	NextOutgoingID uint32
	OutgoingWindow uint32
	Handle         *uint32
	DeliveryCount  *uint32
	LinkCredit     *uint32
	Available      *uint32
	Drain          bool
	Echo           bool
	Properties     map[encoding.Symbol]any
}

func (*PerformFlow) frameBody() {}

func (fl *PerformFlow) fields() (uint64, []any) {
	return TypeCodeFlow, []any{
		uint32PtrToAny(fl.NextIncomingID),
		fl.IncomingWindow,
		fl.NextOutgoingID,
		fl.OutgoingWindow,
		uint32PtrToAny(fl.Handle),
		uint32PtrToAny(fl.DeliveryCount),
		uint32PtrToAny(fl.LinkCredit),
		uint32PtrToAny(fl.Available),
		fl.Drain,
		fl.Echo,
		symbolMapToMap(fl.Properties),
	}
}

func (fl *PerformFlow) fromFields(f []any) (*PerformFlow, error) {
	fl.NextIncomingID = anyToUint32Ptr(field(f, 0))
	fl.IncomingWindow = toUint32(field(f, 1), 0)
	fl.NextOutgoingID = toUint32(field(f, 2), 0)
	fl.OutgoingWindow = toUint32(field(f, 3), 0)
	fl.Handle = anyToUint32Ptr(field(f, 4))
	fl.DeliveryCount = anyToUint32Ptr(field(f, 5))
	fl.LinkCredit = anyToUint32Ptr(field(f, 6))
	fl.Available = anyToUint32Ptr(field(f, 7))
	fl.Drain, _ = field(f, 8).(bool)
	fl.Echo, _ = field(f, 9).(bool)
	fl.Properties = mapToSymbolMap(field(f, 10))
	return fl, nil
}

// PerformTransfer is the Transfer performative (§2.7.5): carries message
// payload on a link.
type PerformTransfer struct {
	Handle        uint32
	DeliveryID    *uint32
	DeliveryTag   []byte
	MessageFormat *uint32
	Settled       bool
	More          bool
	RcvSettleMode *encoding.ReceiverSettleMode
	State         encoding.DeliveryState
	Resume        bool
	Aborted       bool
	Batchable     bool

	// Payload is not a described-list field; it's the frame's trailing
	// bytes (the encoded message, or a fragment of it).
	Payload []byte
}

func (*PerformTransfer) frameBody() {}

func (t *PerformTransfer) fields() (uint64, []any) {
	var rsm any
	if t.RcvSettleMode != nil {
		rsm = uint8(*t.RcvSettleMode)
	}
	return TypeCodeTransfer, []any{
		t.Handle,
		uint32PtrToAny(t.DeliveryID),
		t.DeliveryTag,
		uint32PtrToAny(t.MessageFormat),
		t.Settled,
		t.More,
		rsm,
		encodeDeliveryState(t.State),
		t.Resume,
		t.Aborted,
		t.Batchable,
	}
}

func (t *PerformTransfer) fromFields(f []any) (*PerformTransfer, error) {
	t.Handle = toUint32(field(f, 0), 0)
	t.DeliveryID = anyToUint32Ptr(field(f, 1))
	t.DeliveryTag, _ = field(f, 2).([]byte)
	t.MessageFormat = anyToUint32Ptr(field(f, 3))
	t.Settled, _ = field(f, 4).(bool)
	t.More, _ = field(f, 5).(bool)
	if v, ok := field(f, 6).(uint8); ok {
		m := encoding.ReceiverSettleMode(v)
		t.RcvSettleMode = &m
	}
	st, err := decodeDeliveryState(field(f, 7))
	if err != nil {
		return nil, err
	}
	t.State = st
	t.Resume, _ = field(f, 8).(bool)
	t.Aborted, _ = field(f, 9).(bool)
	t.Batchable, _ = field(f, 10).(bool)
	return t, nil
}

// PerformDisposition is the Disposition performative (§2.7.6): notifies the
// peer of delivery outcomes.
type PerformDisposition struct {
	Role      encoding.Role
	First     uint32
	Last      *uint32
	Settled   bool
	State     encoding.DeliveryState
	Batchable bool
}

func (*PerformDisposition) frameBody() {}

func (d *PerformDisposition) fields() (uint64, []any) {
	return TypeCodeDisposition, []any{
		bool(d.Role),
		d.First,
		uint32PtrToAny(d.Last),
		d.Settled,
		encodeDeliveryState(d.State),
		d.Batchable,
	}
}

func (d *PerformDisposition) fromFields(f []any) (*PerformDisposition, error) {
	if r, ok := field(f, 0).(bool); ok {
		d.Role = encoding.Role(r)
	}
	d.First = toUint32(field(f, 1), 0)
	d.Last = anyToUint32Ptr(field(f, 2))
	d.Settled, _ = field(f, 3).(bool)
	st, err := decodeDeliveryState(field(f, 4))
	if err != nil {
		return nil, err
	}
	d.State = st
	d.Batchable, _ = field(f, 5).(bool)
	return d, nil
}

// PerformDetach is the Detach performative (§2.7.7): tears down a Link.
type PerformDetach struct {
	Handle uint32
	Closed bool
	Error  *encoding.Error
}

func (*PerformDetach) frameBody() {}

func (d *PerformDetach) fields() (uint64, []any) {
	return TypeCodeDetach, []any{d.Handle, d.Closed, errToAny(d.Error)}
}

func (d *PerformDetach) fromFields(f []any) (*PerformDetach, error) {
	d.Handle = toUint32(field(f, 0), 0)
	d.Closed, _ = field(f, 1).(bool)
	e, err := decodeError(field(f, 2))
	if err != nil {
		return nil, err
	}
	d.Error = e
	return d, nil
}

// PerformEnd is the End performative (§2.7.8): tears down a Session.
type PerformEnd struct {
	Error *encoding.Error
}

func (*PerformEnd) frameBody() {}

func (e *PerformEnd) fields() (uint64, []any) { return TypeCodeEnd, []any{errToAny(e.Error)} }

func (e *PerformEnd) fromFields(f []any) (*PerformEnd, error) {
	err, derr := decodeError(field(f, 0))
	if derr != nil {
		return nil, derr
	}
	e.Error = err
	return e, nil
}

// PerformClose is the Close performative (§2.7.9): tears down a Connection.
type PerformClose struct {
	Error *encoding.Error
}

func (*PerformClose) frameBody() {}

func (c *PerformClose) fields() (uint64, []any) { return TypeCodeClose, []any{errToAny(c.Error)} }

func (c *PerformClose) fromFields(f []any) (*PerformClose, error) {
	err, derr := decodeError(field(f, 0))
	if derr != nil {
		return nil, derr
	}
	c.Error = err
	return c, nil
}

func errToAny(e *encoding.Error) any {
	if e.IsZero() {
		return nil
	}
	return encodeError(e)
}
