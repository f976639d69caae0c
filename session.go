package amqp

import (
	"context"
	"fmt"
	"sync"

	"github.com/Azure/go-amqp-transport/internal/debug"
	"github.com/Azure/go-amqp-transport/internal/frames"
)

// Session is the C5 Session Engine: the flow-controlled multiplexing layer
// between a Connection and the Links it carries (spec §4.5).
type Session struct {
	conn *Connection
	opts *SessionOptions

	localChannel  uint16
	remoteChannel uint16

	mu    sync.Mutex
	state EndpointState
	err   error

	nextOutgoingID    uint32
	incomingWindow    uint32
	outgoingWindow    uint32
	remoteIncomingWindow uint32
	remoteOutgoingWindow uint32
	nextIncomingID    uint32

	handleMax   uint32
	nextHandle  uint32
	linksByLocal  map[uint32]*link
	linksByRemote map[uint32]*link

	mappedCh chan struct{}
	endCh    chan struct{}
}

func newSession(conn *Connection, localChannel uint16, o *SessionOptions) *Session {
	return &Session{
		conn:           conn,
		opts:           o,
		localChannel:   localChannel,
		state:          EndpointStateOpening,
		incomingWindow: o.InitialIncomingWindowSize,
		outgoingWindow: o.InitialOutgoingWindowSize,
		handleMax:      o.MaximumLinkCount,
		linksByLocal:   make(map[uint32]*link),
		linksByRemote:  make(map[uint32]*link),
		mappedCh:       make(chan struct{}),
		endCh:          make(chan struct{}),
	}
}

func (s *Session) setState(st EndpointState) {
	s.mu.Lock()
	s.state = st
	cb := s.opts.OnStateChange
	s.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}

// handleBegin completes the BeginSent -> Mapped transition once the peer's
// Begin performative arrives on our bound remote channel.
func (s *Session) handleBegin(b *frames.PerformBegin) {
	s.mu.Lock()
	s.remoteIncomingWindow = b.IncomingWindow
	s.remoteOutgoingWindow = b.OutgoingWindow
	s.nextIncomingID = b.NextOutgoingID
	if b.HandleMax > 0 && b.HandleMax < s.handleMax {
		s.handleMax = b.HandleMax
	}
	s.mu.Unlock()
	s.setState(EndpointStateOpened)
	close(s.mappedCh)
}

// failFromConnection tears this session down because its owning Connection
// failed; every Link it owns observes the same error.
func (s *Session) failFromConnection(err error) {
	s.fail(&SessionError{Local: err})
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return
	}
	s.err = err
	s.state = EndpointStateError
	links := make([]*link, 0, len(s.linksByLocal))
	for _, l := range s.linksByLocal {
		links = append(links, l)
	}
	s.mu.Unlock()

	select {
	case <-s.mappedCh:
	default:
		close(s.mappedCh)
	}
	select {
	case <-s.endCh:
	default:
		close(s.endCh)
	}
	for _, l := range links {
		l.failFromSession(err)
	}
}

// handleFrame dispatches a frame addressed to this session's channel: either
// a session-level performative (Flow with no handle, End) or a link-level
// one routed by handle. A peer's Attach is matched to its link by name,
// since the peer's handle is only bound once that Attach is handled.
func (s *Session) handleFrame(body frames.FrameBody) {
	switch b := body.(type) {
	case *frames.PerformFlow:
		s.handleFlow(b)
	case *frames.PerformEnd:
		s.handleEnd(b)
	case *frames.PerformAttach:
		s.mu.Lock()
		var l *link
		for _, cand := range s.linksByLocal {
			if cand.name == b.Name {
				l = cand
				break
			}
		}
		s.mu.Unlock()
		if l == nil {
			debug.Log(1, "session: attach for unknown link %q", b.Name)
			return
		}
		l.handleFrame(body)
	case *frames.PerformTransfer:
		s.applyIncomingTransferWindow()
		s.routeToLink(b.Handle, body)
	case *frames.PerformDisposition:
		s.routeDisposition(b)
	case *frames.PerformDetach:
		s.routeToLink(b.Handle, body)
	default:
		debug.Log(1, "session: unhandled frame %T on channel %d", body, s.localChannel)
	}
}

func (s *Session) handleFlow(b *frames.PerformFlow) {
	s.mu.Lock()
	s.remoteOutgoingWindow = b.OutgoingWindow
	s.remoteIncomingWindow = b.IncomingWindow
	s.mu.Unlock()

	if b.Handle != nil {
		s.routeToLink(*b.Handle, b)
		return
	}
	if b.Echo {
		s.sendFlow(nil)
	}
}

func (s *Session) handleEnd(b *frames.PerformEnd) {
	var remote *Error
	if b.Error != nil {
		e := Error(*b.Error)
		remote = &e
	}
	s.fail(&SessionError{RemoteErr: remote})
	s.conn.writeFrame(frames.Frame{Type: frames.TypeAMQP, Channel: s.localChannel, Body: &frames.PerformEnd{}})
}

func (s *Session) routeToLink(handle uint32, body frames.FrameBody) {
	s.mu.Lock()
	l := s.linksByRemote[handle]
	s.mu.Unlock()
	if l == nil {
		debug.Log(1, "session: frame for unknown remote handle %d", handle)
		return
	}
	l.handleFrame(body)
}

func (s *Session) routeDisposition(d *frames.PerformDisposition) {
	s.mu.Lock()
	links := make([]*link, 0, len(s.linksByLocal))
	for _, l := range s.linksByLocal {
		links = append(links, l)
	}
	s.mu.Unlock()
	for _, l := range links {
		l.handleDisposition(d)
	}
}

// applyIncomingTransferWindow decrements the local incoming-window as a
// Transfer consumes it, replenishing via Flow once it runs low (spec §2.5.6).
func (s *Session) applyIncomingTransferWindow() {
	s.mu.Lock()
	s.nextIncomingID++
	if s.incomingWindow > 0 {
		s.incomingWindow--
	}
	low := s.incomingWindow < s.opts.InitialIncomingWindowSize/2
	if low {
		s.incomingWindow = s.opts.InitialIncomingWindowSize
	}
	s.mu.Unlock()
	if low {
		s.sendFlow(nil)
	}
}

// sendFlow emits a session (or, if handle is non-nil, link-scoped) Flow
// performative reflecting the session's current window state.
func (s *Session) sendFlow(handle *uint32) error {
	s.mu.Lock()
	fl := &frames.PerformFlow{
		NextIncomingID: u32ptr(s.nextIncomingID),
		IncomingWindow: s.incomingWindow,
		NextOutgoingID: s.nextOutgoingID,
		OutgoingWindow: s.outgoingWindow,
		Handle:         handle,
	}
	s.mu.Unlock()
	return s.conn.writeFrame(frames.Frame{Type: frames.TypeAMQP, Channel: s.localChannel, Body: fl})
}

func u32ptr(v uint32) *uint32 { return &v }

// sendFlowForLink emits fl after filling in the session's own window
// fields, letting a Receiver grant link-credit without duplicating the
// session accounting sendFlow already centralizes.
func (s *Session) sendFlowForLink(fl *frames.PerformFlow) error {
	s.mu.Lock()
	fl.NextIncomingID = u32ptr(s.nextIncomingID)
	fl.IncomingWindow = s.incomingWindow
	fl.NextOutgoingID = s.nextOutgoingID
	fl.OutgoingWindow = s.outgoingWindow
	s.mu.Unlock()
	return s.conn.writeFrame(frames.Frame{Type: frames.TypeAMQP, Channel: s.localChannel, Body: fl})
}

// allocateHandle reserves the next free link handle, bounded by handle-max.
func (s *Session) allocateHandle() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextHandle > s.handleMax {
		return 0, fmt.Errorf("amqp: session handle-max %d exceeded", s.handleMax)
	}
	h := s.nextHandle
	s.nextHandle++
	return h, nil
}

// reserveOutgoingDeliveryID advances next-outgoing-id and returns the
// delivery-id the caller should use for the Transfer it is about to send,
// also decrementing the remote-incoming-window the caller must have already
// checked is positive.
func (s *Session) reserveOutgoingDeliveryID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextOutgoingID
	s.nextOutgoingID++
	if s.remoteIncomingWindow > 0 {
		s.remoteIncomingWindow--
	}
	return id
}

func (s *Session) hasOutgoingWindow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteIncomingWindow > 0
}

// NewSender attaches a Sender targeting address (spec §4.6, C7).
func (s *Session) NewSender(ctx context.Context, address string, opts ...SenderOption) (*Sender, error) {
	o := defaultSenderOptions()
	for _, opt := range opts {
		opt(o)
	}
	snd := newSender(s, address, o)
	if err := snd.Open(ctx); err != nil {
		return nil, err
	}
	return snd, nil
}

// NewReceiver attaches a Receiver sourcing from address (spec §4.6, §4.7,
// C7).
func (s *Session) NewReceiver(ctx context.Context, address string, opts ...ReceiverOption) (*Receiver, error) {
	o := defaultReceiverOptions()
	for _, opt := range opts {
		opt(o)
	}
	rcv := newReceiver(s, address, o)
	if err := rcv.Open(ctx); err != nil {
		return nil, err
	}
	return rcv, nil
}

// End sends the End performative and waits for the peer's, or for ctx to
// expire (spec §4.5).
func (s *Session) End(ctx context.Context) error {
	if err := s.conn.writeFrame(frames.Frame{Type: frames.TypeAMQP, Channel: s.localChannel, Body: &frames.PerformEnd{}}); err != nil {
		return err
	}
	select {
	case <-s.endCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if se, ok := s.err.(*SessionError); ok && se.RemoteErr != nil {
		return nil
	}
	return nil
}

func (s *Session) registerLink(l *link) {
	s.mu.Lock()
	s.linksByLocal[l.handle] = l
	s.mu.Unlock()
}

func (s *Session) bindRemoteHandle(l *link, remoteHandle uint32) {
	s.mu.Lock()
	s.linksByRemote[remoteHandle] = l
	s.mu.Unlock()
}

func (s *Session) unregisterLink(l *link) {
	s.mu.Lock()
	delete(s.linksByLocal, l.handle)
	delete(s.linksByRemote, l.remoteHandle)
	s.mu.Unlock()
}
