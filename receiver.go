package amqp

import (
	"context"
	"sync"

	"github.com/Azure/go-amqp-transport/internal/buffer"
	"github.com/Azure/go-amqp-transport/internal/debug"
	"github.com/Azure/go-amqp-transport/internal/encoding"
	"github.com/Azure/go-amqp-transport/internal/frames"
	"github.com/Azure/go-amqp-transport/internal/queue"
)

// Receiver is the C7 receiving half-link façade: Attach a source, issue
// credit, and pull completed Messages as they arrive (spec §4.6-§4.7).
type Receiver struct {
	link *link
	opts *ReceiverOptions

	msgs *queue.Holder[*Message]

	mu          sync.Mutex
	building    *Message
	rxBuf       buffer.Buffer
	unsettled   map[string]*Message // keyed by delivery-tag, for mode-second acks
}

func newReceiver(s *Session, address string, o *ReceiverOptions) *Receiver {
	l := newLink(s, encoding.RoleReceiver)
	l.source = &frames.Source{Address: address}
	if o.SelectorFilter != "" {
		l.source.Filter = map[encoding.Symbol]*encoding.Described{
			"apache.org:selector-filter:string": {
				Descriptor: encoding.Symbol("apache.org:selector-filter:string"),
				Value:      o.SelectorFilter,
			},
		}
	}
	l.target = &frames.Target{Address: o.MessageTarget}
	if o.Name != "" {
		l.name = o.Name
	}
	rsm := o.SettleMode
	l.receiverSettleMode = &rsm
	if o.Properties != nil {
		l.properties = make(map[encoding.Symbol]any, len(o.Properties))
		for k, v := range o.Properties {
			l.properties[encoding.Symbol(k)] = v
		}
	}

	r := &Receiver{
		link:      l,
		opts:      o,
		msgs:      queue.NewHolder(queue.New[*Message](int(o.InitialCredit) + 1)),
		unsettled: make(map[string]*Message),
	}
	l.onTransfer = r.handleTransfer
	return r
}

// Open attaches the link and issues the initial credit batch (spec §4.6,
// §4.7).
func (r *Receiver) Open(ctx context.Context) error {
	_, err := r.link.attach(ctx, nil)
	if err != nil {
		return err
	}
	return r.issueCredit(r.opts.InitialCredit)
}

// Address returns the source address this receiver is attached to.
func (r *Receiver) Address() string {
	if r.link.source == nil {
		return ""
	}
	return r.link.source.Address
}

// issueCredit sends a Flow granting n additional link-credit to the peer
// (spec §4.7).
func (r *Receiver) issueCredit(n uint32) error {
	r.link.mu.Lock()
	r.link.linkCredit += n
	credit := r.link.linkCredit
	deliveryCount := r.link.deliveryCount
	r.link.mu.Unlock()

	fl := &frames.PerformFlow{
		Handle:        &r.link.handle,
		DeliveryCount: &deliveryCount,
		LinkCredit:    &credit,
	}
	return r.link.session.sendFlowForLink(fl)
}

// handleTransfer accumulates a Transfer's payload, assembling a Message
// once More is false and enqueuing it for WaitForIncomingMessage (spec
// §4.6 "Multi-frame transfers").
func (r *Receiver) handleTransfer(fr *frames.PerformTransfer) {
	r.mu.Lock()
	if r.building == nil {
		r.building = &Message{receiver: r, Format: 0}
		if fr.MessageFormat != nil {
			r.building.Format = *fr.MessageFormat
		}
		if fr.DeliveryID != nil {
			r.building.deliveryID = *fr.DeliveryID
		}
		r.building.deliveryTag = fr.DeliveryTag
		r.building.settled = fr.Settled
		r.rxBuf.Reset()
	}
	r.rxBuf.Append(fr.Payload)

	if fr.Aborted {
		r.building = nil
		r.rxBuf.Reset()
		r.mu.Unlock()
		return
	}
	if fr.More {
		r.mu.Unlock()
		return
	}

	msg := r.building
	r.building = nil
	buf := append([]byte(nil), r.rxBuf.Bytes()...)
	r.rxBuf.Reset()
	if !msg.settled && string(msg.deliveryTag) != "" {
		r.unsettled[string(msg.deliveryTag)] = msg
	}
	r.mu.Unlock()

	if err := msg.Unmarshal(buffer.New(buf)); err != nil {
		debug.Log(1, "receiver %q: failed to decode message: %v", r.link.name, err)
		return
	}

	if r.opts.SettleMode == ModeFirst && !msg.settled {
		r.autoSettle(msg)
	}

	r.link.mu.Lock()
	if r.link.linkCredit > 0 {
		r.link.linkCredit--
	}
	r.link.deliveryCount++
	low := r.link.linkCredit < r.opts.InitialCredit/2
	r.link.mu.Unlock()

	if !r.msgs.Enqueue(msg) {
		debug.Log(1, "receiver %q: incoming message queue is full, dropping delivery", r.link.name)
		return
	}
	if low {
		r.issueCredit(r.opts.InitialCredit - r.currentCredit())
	}
}

// autoSettle accepts msg and settles it unless a Handler is registered, in
// which case the Handler's verdict decides the disposition (spec §4.7).
func (r *Receiver) autoSettle(msg *Message) {
	action := msg.Accept()
	if r.opts.Handler != nil {
		if h := r.opts.Handler.Handle(context.Background(), msg); h != nil {
			action = h
		}
	}
	if err := action(context.Background()); err != nil {
		debug.Log(1, "receiver %q: auto-settling message: %v", r.link.name, err)
	}
}

// Drain requests that the peer sender flush its outstanding link-credit
// immediately, consuming it or reporting zero and echoing its
// delivery-count (spec §2.6.7, §4.7).
func (r *Receiver) Drain(ctx context.Context) error {
	r.link.mu.Lock()
	credit := r.link.linkCredit
	deliveryCount := r.link.deliveryCount
	r.link.mu.Unlock()

	fl := &frames.PerformFlow{
		Handle:        &r.link.handle,
		DeliveryCount: &deliveryCount,
		LinkCredit:    &credit,
		Drain:         true,
	}
	return r.link.session.sendFlowForLink(fl)
}

func (r *Receiver) currentCredit() uint32 {
	r.link.mu.Lock()
	defer r.link.mu.Unlock()
	return r.link.linkCredit
}

// WaitForIncomingMessage blocks until a Message is available, ctx is done,
// or the link/session fails.
func (r *Receiver) WaitForIncomingMessage(ctx context.Context) (*Message, error) {
	span, ctx := startSpanFromContext(ctx, "amqp.Receiver.WaitForIncomingMessage")
	defer span.Finish()

	select {
	case q := <-r.msgs.Wait():
		msg := q.Dequeue()
		r.msgs.Release(q)
		return *msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.link.detachCh:
		return nil, r.link.err
	}
}

// TryWaitForIncomingMessage returns immediately: (msg, nil, true) if one was
// queued, or (nil, nil, false) if none is available yet.
func (r *Receiver) TryWaitForIncomingMessage() (*Message, error, bool) {
	select {
	case q := <-r.msgs.Wait():
		msg := q.Dequeue()
		r.msgs.Release(q)
		return *msg, nil, true
	default:
		return nil, nil, false
	}
}

// settleMessage sends the Disposition settling msg with state, called by
// Message.settle (spec §4.6 "Settlement").
func (r *Receiver) settleMessage(ctx context.Context, msg *Message, state encoding.DeliveryState) error {
	first := msg.deliveryID
	disp := &frames.PerformDisposition{
		Role:    RoleReceiver,
		First:   first,
		Last:    &first,
		Settled: true,
		State:   state,
	}
	err := r.link.session.conn.writeFrame(frames.Frame{Type: frames.TypeAMQP, Channel: r.link.session.localChannel, Body: disp})
	r.mu.Lock()
	delete(r.unsettled, string(msg.deliveryTag))
	r.mu.Unlock()
	return err
}

// Close destructively detaches the link, discarding unsettled deliveries
// (spec §4.6).
func (r *Receiver) Close(ctx context.Context) error {
	return r.link.detach(ctx, true)
}

// Suspend sends a non-closing Detach: the link is torn down locally but
// unsettled deliveries are preserved for a later resuming Attach instead of
// being discarded (spec §4.6).
func (r *Receiver) Suspend(ctx context.Context) error {
	return r.link.detach(ctx, false)
}
