package amqp

import (
	"context"
	"fmt"
	"sync"

	"github.com/Azure/go-amqp-transport/internal/buffer"
	"github.com/Azure/go-amqp-transport/internal/debug"
	"github.com/Azure/go-amqp-transport/internal/encoding"
	"github.com/Azure/go-amqp-transport/internal/frames"
)

// maxTransferFrameHeader is a conservative estimate of a Transfer
// performative's encoded size, reserved out of the negotiated max-frame-size
// when deciding how many payload bytes fit in one frame.
const maxTransferFrameHeader = 128

// Sender is the C7 sending half-link façade: Attach a target, then Send
// messages onto it one at a time, honoring link-credit and max-message-size
// (spec §4.6-§4.7).
type Sender struct {
	link *link
	opts *SenderOptions

	mu              sync.Mutex
	buf             buffer.Buffer
	nextDeliveryTag uint64

	// dispMu guards unsettled separately from mu: mu is held for the
	// entire Send call, including the blocked wait for a disposition, so
	// handleDisposition (invoked from the Connection's dispatch goroutine)
	// must not need mu to record the outcome.
	dispMu    sync.Mutex
	unsettled map[uint32]chan encoding.DeliveryState
}

// newSender builds an un-attached Sender targeting address.
func newSender(s *Session, address string, o *SenderOptions) *Sender {
	l := newLink(s, encoding.RoleSender)
	l.target = &frames.Target{Address: address}
	l.source = &frames.Source{Address: o.MessageSource}
	l.maxMessageSize = o.MaxMessageSize
	if o.Name != "" {
		l.name = o.Name
	}
	ssm := o.SettleMode
	l.senderSettleMode = &ssm
	if o.Properties != nil {
		l.properties = make(map[encoding.Symbol]any, len(o.Properties))
		for k, v := range o.Properties {
			l.properties[encoding.Symbol(k)] = v
		}
	}

	snd := &Sender{link: l, opts: o, unsettled: make(map[uint32]chan encoding.DeliveryState)}
	l.onFlow = snd.handleFlow
	l.onDisposition = snd.handleDisposition
	return snd
}

// Open attaches the link: Detached -> HalfAttachedAttachSent -> Attached
// (spec §4.6). It's called by Session.NewSender.
func (s *Sender) Open(ctx context.Context) error {
	resp, err := s.link.attach(ctx, func(pa *frames.PerformAttach) {
		pa.InitialDeliveryCount = 0
	})
	if err != nil {
		return err
	}
	if resp.Target != nil {
		s.link.target = resp.Target
	}
	return nil
}

// Address returns the target address this sender is attached to.
func (s *Sender) Address() string {
	if s.link.target == nil {
		return ""
	}
	return s.link.target.Address
}

// MaxMessageSize is the negotiated maximum size of a single message.
func (s *Sender) MaxMessageSize() uint64 { return s.link.maxMessageSize }

// Send encodes msg and transmits it as one or more Transfer frames,
// honoring the negotiated max-frame-size (spec §4.6 "Multi-frame
// transfers"), then blocks until the delivery's outcome is known -- or ctx
// is done, or cancel (if non-nil) is triggered.
func (s *Sender) Send(ctx context.Context, msg *Message, cancel *Cancellable) error {
	span, ctx := startSpanFromContext(ctx, "amqp.Sender.Send")
	defer span.Finish()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.link.state == EndpointStateError || s.link.state == EndpointStateClosed {
		return s.link.err
	}

	s.buf.Reset()
	if err := msg.Marshal(&s.buf); err != nil {
		return err
	}
	if s.link.maxMessageSize != 0 && uint64(s.buf.Len()) > s.link.maxMessageSize {
		return fmt.Errorf("amqp: encoded message of %d bytes exceeds max-message-size %d", s.buf.Len(), s.link.maxMessageSize)
	}

	maxPayload := int64(s.link.session.conn.maxFrameSize) - maxTransferFrameHeader
	if maxPayload < 1 {
		maxPayload = 1
	}

	deliveryTag := msg.deliveryTag
	if len(deliveryTag) == 0 {
		deliveryTag = nextDeliveryTag()
	}

	if err := s.link.waitForCredit(ctx); err != nil {
		return err
	}

	ssm := ModeMixed
	if s.link.senderSettleMode != nil {
		ssm = *s.link.senderSettleMode
	}
	settled := ssm == ModeSettled || (ssm == ModeMixed && msg.settled)
	deliveryID := s.link.session.reserveOutgoingDeliveryID()

	first := true
	var done chan encoding.DeliveryState
	if !settled {
		done = make(chan encoding.DeliveryState, 1)
		s.dispMu.Lock()
		s.unsettled[deliveryID] = done
		s.dispMu.Unlock()
	}
	for {
		chunk, _ := s.buf.Next(maxPayload)
		more := s.buf.Len() > 0

		fr := &frames.PerformTransfer{
			Handle:  s.link.handle,
			Settled: settled && !more,
			More:    more,
		}
		if first {
			id := deliveryID
			format := msg.Format
			fr.DeliveryID = &id
			fr.DeliveryTag = deliveryTag
			fr.MessageFormat = &format
			first = false
		}

		// The Transfer performative's own Payload field is bookkeeping for
		// the receive path; the bytes actually placed on the wire are the
		// frame envelope's trailing Payload (frames.Write appends it after
		// the marshaled performative).
		if err := s.link.session.conn.writeFrame(frames.Frame{Type: frames.TypeAMQP, Channel: s.link.session.localChannel, Body: fr, Payload: append([]byte(nil), chunk...)}); err != nil {
			return err
		}
		if !more {
			break
		}
	}

	s.link.mu.Lock()
	s.link.deliveryCount++
	if s.link.availableCredit > 0 {
		s.link.availableCredit--
	}
	s.link.mu.Unlock()

	if settled {
		return nil
	}

	var cancelCh chan struct{}
	if cancel != nil {
		cancelCh = make(chan struct{})
		cancel.onCancel = func() { close(cancelCh) }
	}

	defer func() {
		s.dispMu.Lock()
		delete(s.unsettled, deliveryID)
		s.dispMu.Unlock()
	}()

	select {
	case state := <-done:
		if rej, ok := state.(*encoding.StateRejected); ok {
			if rej.Error != nil {
				e := Error(*rej.Error)
				return &e
			}
			return fmt.Errorf("amqp: delivery rejected")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-cancelCh:
		return fmt.Errorf("amqp: send cancelled")
	case <-s.link.detachCh:
		return s.link.err
	}
}

func (s *Sender) handleFlow(fr *frames.PerformFlow) {
	debug.Log(3, "sender %q: flow link-credit=%v delivery-count=%v drain=%v", s.link.name, fr.LinkCredit, fr.DeliveryCount, fr.Drain)
	if !fr.Drain {
		return
	}

	// A drained sender must consume its outstanding credit or immediately
	// report zero, echoing delivery-count (spec §2.6.7). This module never
	// queues sends ahead of credit becoming available, so draining always
	// takes the immediate-zero branch.
	s.link.mu.Lock()
	s.link.availableCredit = 0
	deliveryCount := s.link.deliveryCount
	s.link.mu.Unlock()

	echo := &frames.PerformFlow{
		Handle:        &s.link.handle,
		DeliveryCount: &deliveryCount,
		LinkCredit:    u32ptr(0),
	}
	s.link.session.sendFlowForLink(echo)
}

// handleDisposition resolves any Send calls awaiting settlement of a
// delivery-id in [First, Last], then acks the disposition if the peer hasn't
// already marked it settled (spec §2.7.6 "Disposition" / §4.6 "Settlement").
func (s *Sender) handleDisposition(fr *frames.PerformDisposition) {
	last := fr.First
	if fr.Last != nil {
		last = *fr.Last
	}

	s.dispMu.Lock()
	for id := fr.First; id <= last; id++ {
		if ch, ok := s.unsettled[id]; ok {
			select {
			case ch <- fr.State:
			default:
			}
			delete(s.unsettled, id)
		}
	}
	s.dispMu.Unlock()

	if fr.Settled {
		return
	}
	ack := &frames.PerformDisposition{Role: RoleSender, First: fr.First, Last: fr.Last, Settled: true}
	s.link.session.conn.writeFrame(frames.Frame{Type: frames.TypeAMQP, Channel: s.link.session.localChannel, Body: ack})
}

// Close destructively detaches the link, discarding unsettled deliveries
// (spec §4.6).
func (s *Sender) Close(ctx context.Context) error {
	return s.link.detach(ctx, true)
}

// Suspend sends a non-closing Detach: the link is torn down locally but
// unsettled deliveries are preserved for a later resuming Attach instead of
// being discarded (spec §4.6).
func (s *Sender) Suspend(ctx context.Context) error {
	return s.link.detach(ctx, false)
}
