package amqp

import (
	"context"
	"fmt"
	"sync"

	"github.com/Azure/go-amqp-transport/internal/debug"
	"github.com/Azure/go-amqp-transport/internal/encoding"
	"github.com/Azure/go-amqp-transport/internal/frames"
	"github.com/Azure/go-amqp-transport/internal/shared"
)

// link is the C6 shared Link Engine underlying both Sender and Receiver:
// the Attach/Detach handshake, credit bookkeeping, and delivery dispatch
// common to both directions (spec §4.6).
type link struct {
	name         string
	role         encoding.Role
	handle       uint32
	remoteHandle uint32

	session    *Session
	source     *frames.Source
	target     *frames.Target
	properties map[encoding.Symbol]any

	senderSettleMode   *SenderSettleMode
	receiverSettleMode *ReceiverSettleMode
	maxMessageSize     uint64

	mu             sync.Mutex
	state          EndpointState
	err            error
	detachReceived bool
	remoteAttach   *frames.PerformAttach

	deliveryCount   uint32
	linkCredit      uint32
	availableCredit uint32

	attachCh chan struct{}
	detachCh chan struct{}

	// creditCh is closed and replaced whenever a Flow raises availableCredit
	// above zero, letting a blocked Sender.Send wake up without polling
	// (spec §4.6 "Flow Control": Send with no link-credit must block, not
	// fail).
	creditCh chan struct{}

	// onTransfer/onDisposition/onFlow let Receiver/Sender observe frames
	// this engine routes to them without this file needing to know which
	// direction it's wired for.
	onTransfer    func(*frames.PerformTransfer)
	onDisposition func(*frames.PerformDisposition)
	onFlow        func(*frames.PerformFlow)
}

func newLink(s *Session, role encoding.Role) *link {
	return &link{
		name:     shared.RandString(40),
		role:     role,
		session:  s,
		state:    EndpointStateOpening,
		attachCh: make(chan struct{}),
		detachCh: make(chan struct{}),
		creditCh: make(chan struct{}),
	}
}

// attach sends the Attach performative and blocks for the peer's reply,
// spec §4.6 Detached -> HalfAttachedAttachSent -> Attached.
func (l *link) attach(ctx context.Context, beforeAttach func(*frames.PerformAttach)) (*frames.PerformAttach, error) {
	handle, err := l.session.allocateHandle()
	if err != nil {
		return nil, err
	}
	l.handle = handle
	l.session.registerLink(l)

	attach := &frames.PerformAttach{
		Name:               l.name,
		Handle:             l.handle,
		Role:               l.role,
		ReceiverSettleMode: l.receiverSettleMode,
		SenderSettleMode:   l.senderSettleMode,
		MaxMessageSize:     l.maxMessageSize,
		Source:             l.source,
		Target:             l.target,
		Properties:         l.properties,
	}
	if beforeAttach != nil {
		beforeAttach(attach)
	}

	if err := l.session.conn.writeFrame(frames.Frame{Type: frames.TypeAMQP, Channel: l.session.localChannel, Body: attach}); err != nil {
		l.session.unregisterLink(l)
		return nil, err
	}

	select {
	case <-l.attachCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.session.endCh:
		return nil, l.session.err
	}

	l.mu.Lock()
	err = l.err
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return l.remoteAttach, nil
}

// handleFrame processes a frame this link's Session routed to it by handle.
func (l *link) handleFrame(body frames.FrameBody) {
	switch fr := body.(type) {
	case *frames.PerformAttach:
		l.mu.Lock()
		l.remoteAttach = fr
		l.remoteHandle = fr.Handle
		if err := l.setSettleModes(fr); err != nil {
			l.err = err
		}
		if l.maxMessageSize == 0 || (fr.MaxMessageSize != 0 && fr.MaxMessageSize < l.maxMessageSize) {
			l.maxMessageSize = fr.MaxMessageSize
		}
		l.state = EndpointStateOpened
		l.mu.Unlock()
		l.session.bindRemoteHandle(l, fr.Handle)
		closeOnce(l.attachCh)
	case *frames.PerformFlow:
		l.mu.Lock()
		if fr.DeliveryCount != nil {
			l.deliveryCount = *fr.DeliveryCount
		}
		if fr.LinkCredit != nil {
			l.availableCredit = *fr.LinkCredit
		}
		var wake chan struct{}
		if l.availableCredit > 0 {
			wake = l.creditCh
			l.creditCh = make(chan struct{})
		}
		l.mu.Unlock()
		if wake != nil {
			closeOnce(wake)
		}
		if l.onFlow != nil {
			l.onFlow(fr)
		}
	case *frames.PerformTransfer:
		if l.onTransfer != nil {
			l.onTransfer(fr)
		}
	case *frames.PerformDetach:
		l.mu.Lock()
		l.detachReceived = true
		if fr.Error != nil {
			e := Error(*fr.Error)
			l.err = &DetachError{RemoteErr: &e}
		} else if l.err == nil && fr.Closed {
			l.err = &DetachError{}
		}
		if fr.Closed {
			l.state = EndpointStateClosed
		}
		l.mu.Unlock()

		// A closed=false detach suspends the link without discarding its
		// unsettled deliveries (spec §4.6); only closed=true tears the link
		// down and releases its handle back to the session.
		l.session.conn.writeFrame(frames.Frame{Type: frames.TypeAMQP, Channel: l.session.localChannel, Body: &frames.PerformDetach{Handle: l.handle, Closed: fr.Closed}})
		if fr.Closed {
			l.session.unregisterLink(l)
		} else {
			debug.Log(1, "link %q: peer sent a non-closing detach, preserving unsettled deliveries", l.name)
		}
		closeOnce(l.detachCh)
	default:
		debug.Log(1, "link %q: unexpected frame %T", l.name, body)
	}
}

// waitForCredit blocks until availableCredit is non-zero, ctx is done, or
// the link detaches (spec §4.6 "Flow Control": a Send with no link-credit
// must block rather than fail).
func (l *link) waitForCredit(ctx context.Context) error {
	for {
		l.mu.Lock()
		if l.availableCredit > 0 {
			l.mu.Unlock()
			return nil
		}
		ch := l.creditCh
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-l.detachCh:
			return l.err
		}
	}
}

func (l *link) handleDisposition(d *frames.PerformDisposition) {
	if l.onDisposition != nil {
		l.onDisposition(d)
	}
}

// setSettleModes reconciles a locally-requested settle mode against the
// peer's Attach response, spec §2.4.2/§2.4.3: the peer's choice wins when no
// local preference was set, but a mismatch against an explicit local
// preference is an error.
func (l *link) setSettleModes(resp *frames.PerformAttach) error {
	if l.receiverSettleMode != nil && resp.ReceiverSettleMode != nil && *l.receiverSettleMode != *resp.ReceiverSettleMode {
		return fmt.Errorf("amqp: receiver settlement mode %v requested, got %v from peer", *l.receiverSettleMode, *resp.ReceiverSettleMode)
	}
	if resp.ReceiverSettleMode != nil {
		l.receiverSettleMode = resp.ReceiverSettleMode
	}
	if l.senderSettleMode != nil && resp.SenderSettleMode != nil && *l.senderSettleMode != *resp.SenderSettleMode {
		return fmt.Errorf("amqp: sender settlement mode %v requested, got %v from peer", *l.senderSettleMode, *resp.SenderSettleMode)
	}
	if resp.SenderSettleMode != nil {
		l.senderSettleMode = resp.SenderSettleMode
	}
	return nil
}

// failFromSession tears this link down because its owning Session ended.
func (l *link) failFromSession(err error) {
	l.mu.Lock()
	if l.err == nil {
		l.err = err
	}
	l.state = EndpointStateError
	l.mu.Unlock()
	closeOnce(l.attachCh)
	closeOnce(l.detachCh)
}

// detach sends a Detach and waits for the peer's reply. closed selects a
// destructive close (releasing the handle and discarding unsettled
// deliveries) versus a non-destructive suspend that preserves them for a
// later resume (spec §4.6).
func (l *link) detach(ctx context.Context, closed bool) error {
	l.mu.Lock()
	already := l.detachReceived
	sendErr := l.state == EndpointStateError
	l.mu.Unlock()

	if !already {
		var errField *encoding.Error
		if sendErr {
			l.mu.Lock()
			if de, ok := l.err.(*DetachError); ok && de.RemoteErr != nil {
				e := encoding.Error(*de.RemoteErr)
				errField = &e
			}
			l.mu.Unlock()
		}
		if err := l.session.conn.writeFrame(frames.Frame{Type: frames.TypeAMQP, Channel: l.session.localChannel, Body: &frames.PerformDetach{Handle: l.handle, Closed: closed, Error: errField}}); err != nil {
			return err
		}
	}

	select {
	case <-l.detachCh:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.session.endCh:
	}
	return nil
}

func closeOnce(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}
