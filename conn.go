package amqp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/go-amqp-transport/internal/buffer"
	"github.com/Azure/go-amqp-transport/internal/debug"
	"github.com/Azure/go-amqp-transport/internal/encoding"
	"github.com/Azure/go-amqp-transport/internal/frames"
	"github.com/Azure/go-amqp-transport/internal/shared"
)

// protocolHeader is the 8-byte AMQP protocol header magic, spec §6.
var protocolHeader = [8]byte{'A', 'M', 'Q', 'P', 0, 1, 0, 0}

// saslHeader is the 8-byte SASL protocol header magic (§5.2.1), exchanged
// in place of protocolHeader when a SASL mechanism is negotiated first.
var saslHeader = [8]byte{'A', 'M', 'Q', 'P', 3, 1, 0, 0}

// negotiationPhase tracks which protocol header/performative Dial is
// currently waiting for, so onBytes/dispatch can route bytes correctly
// before the Connection reaches EndpointStateOpened.
type negotiationPhase int

const (
	phaseSASLHeader negotiationPhase = iota
	phaseSASLOutcome
	phaseAMQPHeader
	phaseOpen
	phaseSteadyState
)

// Connection is the C4 Connection Engine: a single AMQP connection over a
// caller-supplied Transport, multiplexing Sessions across channels.
//
// Every state transition happens under conn.mu, approximating the
// single-threaded cooperative dispatcher spec §5 describes: the Transport
// delivers bytes from its own goroutine via OnBytesReceived, and every
// public method that needs to wait for a reply blocks on a channel that
// dispatch closes once the awaited frame arrives.
type Connection struct {
	transport Transport
	opts      *ConnectionOptions

	mu    sync.Mutex
	state EndpointState
	err   error

	rx           buffer.Buffer
	phase        negotiationPhase
	maxFrameSize uint32

	// localIdleTimeout is this side's own advertised idle-timeout; the
	// dead-peer check in onIdleTick uses it, per spec §4.4 (a peer must
	// send within the timeout *it was told*, not the one it told us).
	// remoteIdleTimeout is what the peer advertised in its Open, and
	// drives our own keep-alive send cadence.
	localIdleTimeout  time.Duration
	remoteIdleTimeout time.Duration

	saslMechCh chan *frames.SASLMechanisms
	saslDone   chan struct{}
	saslErr    error

	localOpen  *frames.PerformOpen
	remoteOpen *frames.PerformOpen
	openDone   chan struct{}

	channelMax      uint16
	nextChannel     uint16
	pendingBegins   []*Session
	byLocalChannel  map[uint16]*Session
	byRemoteChannel map[uint16]*Session

	closeDone chan struct{}

	idleTimer *time.Timer
	lastRecv  time.Time
}

// Dial opens transport and negotiates the AMQP protocol header and Open
// performative, returning a ready-to-use Connection (spec §4.4,
// Start → ... → Opened).
func Dial(ctx context.Context, transport Transport, opts ...ConnOption) (*Connection, error) {
	o := defaultConnectionOptions()
	for _, opt := range opts {
		opt(o)
	}

	phase := phaseAMQPHeader
	if o.SASLType != SASLNone {
		phase = phaseSASLHeader
	}

	c := &Connection{
		transport:        transport,
		opts:             o,
		maxFrameSize:     o.MaxFrameSize,
		localIdleTimeout: o.IdleTimeout,
		channelMax:       o.MaxChannelCount,
		phase:            phase,
		saslMechCh:       make(chan *frames.SASLMechanisms, 1),
		saslDone:         make(chan struct{}),
		openDone:         make(chan struct{}),
		closeDone:        make(chan struct{}),
		byLocalChannel:   make(map[uint16]*Session),
		byRemoteChannel:  make(map[uint16]*Session),
		lastRecv:         time.Now(),
	}
	c.setState(EndpointStateOpening)

	transport.OnBytesReceived(c.onBytes)
	transport.OnIOError(c.onIOError)

	if err := transport.Open(ctx); err != nil {
		c.fail(err)
		return nil, err
	}

	if o.SASLType != SASLNone {
		if err := c.negotiateSASL(ctx, o); err != nil {
			c.fail(err)
			return nil, err
		}
	}

	c.localOpen = &frames.PerformOpen{
		ContainerID:         o.ContainerID,
		MaxFrameSize:        o.MaxFrameSize,
		ChannelMax:          o.MaxChannelCount,
		IdleTimeout:         encoding.Milliseconds(o.IdleTimeout),
		OutgoingLocales:     o.OutgoingLocales,
		IncomingLocales:     o.IncomingLocales,
		OfferedCapabilities: o.OfferedCapabilities,
		DesiredCapabilities: o.DesiredCapabilities,
		Properties:          toSymbolMap(o.Properties),
	}

	// dispatch closes and clears c.openDone when the peer's Open arrives,
	// which a transport may do before Send returns; wait on our own copy.
	c.mu.Lock()
	openDone := c.openDone
	c.mu.Unlock()

	if !transport.Send(protocolHeader[:], nil) {
		err := fmt.Errorf("amqp: transport rejected the protocol header")
		c.fail(err)
		return nil, err
	}
	if err := c.writeFrame(frames.Frame{Type: frames.TypeAMQP, Channel: 0, Body: c.localOpen}); err != nil {
		c.fail(err)
		return nil, err
	}

	select {
	case <-openDone:
	case <-ctx.Done():
		c.fail(ctx.Err())
		return nil, ctx.Err()
	}

	c.mu.Lock()
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.startIdleMonitor()
	c.setState(EndpointStateOpened)
	return c, nil
}

// negotiateSASL exchanges the SASL protocol header and SASLInit/SASLOutcome
// performatives before the AMQP protocol header is sent (spec §1, §5.3). Only
// ANONYMOUS and PLAIN are supported, matching SPEC_FULL.md's non-goal of
// "SASL beyond Anonymous/Plain".
func (c *Connection) negotiateSASL(ctx context.Context, o *ConnectionOptions) error {
	if !c.transport.Send(saslHeader[:], nil) {
		return fmt.Errorf("amqp: transport rejected the SASL protocol header")
	}

	var mechs *frames.SASLMechanisms
	select {
	case mechs = <-c.saslMechCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	var mechanism encoding.Symbol
	var initialResponse []byte
	switch o.SASLType {
	case SASLAnonymous:
		mechanism = "ANONYMOUS"
		initialResponse = []byte("anonymous")
	case SASLPlain:
		mechanism = "PLAIN"
		initialResponse = append([]byte{0}, append([]byte(o.SASLUsername+"\x00"), o.SASLPassword...)...)
	default:
		return fmt.Errorf("amqp: unsupported SASL mechanism %v", o.SASLType)
	}
	offered := false
	for _, m := range mechs.Mechanisms {
		if m == mechanism {
			offered = true
			break
		}
	}
	if !offered {
		return fmt.Errorf("amqp: peer does not offer SASL mechanism %s", mechanism)
	}

	init := &frames.SASLInit{Mechanism: mechanism, InitialResponse: initialResponse}
	var wr buffer.Buffer
	if err := frames.Write(&wr, frames.Frame{Type: frames.TypeSASL, Channel: 0, Body: init}); err != nil {
		return err
	}
	done := make(chan error, 1)
	if !c.transport.Send(wr.Bytes(), func(err error) { done <- err }) {
		return fmt.Errorf("amqp: transport rejected SASL init frame write")
	}
	if err := <-done; err != nil {
		return err
	}

	select {
	case <-c.saslDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	err := c.saslErr
	c.mu.Unlock()
	return err
}

func toSymbolMap(m map[string]any) map[encoding.Symbol]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[encoding.Symbol]any, len(m))
	for k, v := range m {
		out[encoding.Symbol(k)] = v
	}
	return out
}

func (c *Connection) setState(s EndpointState) {
	c.mu.Lock()
	c.state = s
	cb := c.opts.OnStateChange
	c.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

func (c *Connection) State() EndpointState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// writeFrame marshals and transmits fr on the transport, handing the whole
// encoded frame to a single Transport.Send call and waiting for its
// completion. It takes no lock of its own; callers must hold no lock the
// transport's callbacks need.
func (c *Connection) writeFrame(fr frames.Frame) error {
	var wr buffer.Buffer
	if err := frames.Write(&wr, fr); err != nil {
		return err
	}
	done := make(chan error, 1)
	if !c.transport.Send(wr.Bytes(), func(err error) { done <- err }) {
		return fmt.Errorf("amqp: transport rejected frame write")
	}
	return <-done
}

// onBytes is the Transport's read callback: it accumulates p and decodes as
// many complete frames as are available, dispatching each in turn.
func (c *Connection) onBytes(p []byte) {
	c.mu.Lock()
	c.lastRecv = time.Now()
	c.rx.Append(p)

	if c.phase == phaseSASLHeader || c.phase == phaseAMQPHeader {
		if c.rx.Len() < 8 {
			c.mu.Unlock()
			return
		}
		want := protocolHeader
		if c.phase == phaseSASLHeader {
			want = saslHeader
		}
		hdr, _ := c.rx.Peek(8)
		ok := true
		for i, b := range want {
			if hdr[i] != b {
				ok = false
				break
			}
		}
		c.rx.Skip(8)
		if !ok {
			c.mu.Unlock()
			c.fail(fmt.Errorf("amqp: peer sent an unrecognized protocol header"))
			return
		}
		if c.phase == phaseSASLHeader {
			c.phase = phaseSASLOutcome
		} else {
			c.phase = phaseOpen
		}
	}

	var toDispatch []frames.Frame
	for {
		fr, err := frames.Read(&c.rx, c.maxFrameSize)
		if err == frames.ErrNeedMoreData {
			break
		}
		if err != nil {
			c.mu.Unlock()
			c.fail(err)
			return
		}
		toDispatch = append(toDispatch, fr)
	}
	c.rx.Detach()
	c.mu.Unlock()

	for _, fr := range toDispatch {
		c.dispatch(fr)
	}
}

func (c *Connection) onIOError(err error) {
	c.fail(err)
}

// dispatch routes a decoded frame to the Connection engine itself (Open/
// Close/empty keep-alive) or to the Session bound to its channel.
func (c *Connection) dispatch(fr frames.Frame) {
	if fr.Body == nil {
		debug.Log(2, "connection: received keep-alive")
		return
	}

	switch body := fr.Body.(type) {
	case *frames.SASLMechanisms:
		select {
		case c.saslMechCh <- body:
		default:
		}
		return
	case *frames.SASLOutcome:
		c.mu.Lock()
		if body.Code != 0 {
			c.saslErr = fmt.Errorf("amqp: SASL negotiation failed with code %d", body.Code)
		} else {
			c.phase = phaseAMQPHeader
		}
		done := c.saslDone
		c.mu.Unlock()
		select {
		case <-done:
		default:
			close(done)
		}
		return
	case *frames.PerformOpen:
		c.mu.Lock()
		c.remoteOpen = body
		if body.MaxFrameSize > 0 && body.MaxFrameSize < c.maxFrameSize {
			c.maxFrameSize = body.MaxFrameSize
		}
		if body.IdleTimeout > 0 {
			c.remoteIdleTimeout = time.Duration(body.IdleTimeout)
		}
		if body.ChannelMax > 0 && body.ChannelMax < c.channelMax {
			c.channelMax = body.ChannelMax
		}
		closeOpen := c.openDone
		c.openDone = nil
		c.mu.Unlock()
		if closeOpen != nil {
			close(closeOpen)
		}
		return
	case *frames.PerformClose:
		var remote *Error
		if body.Error != nil {
			e := Error(*body.Error)
			remote = &e
		}
		c.fail(&ConnError{RemoteErr: remote})
		c.writeFrame(frames.Frame{Type: frames.TypeAMQP, Channel: 0, Body: &frames.PerformClose{}})
		c.mu.Lock()
		cd := c.closeDone
		c.mu.Unlock()
		if cd != nil {
			select {
			case <-cd:
			default:
				close(cd)
			}
		}
		return
	case *frames.PerformBegin:
		c.dispatchBegin(fr.Channel, body)
		return
	case *frames.PerformTransfer:
		// the frame envelope's trailing bytes are the actual message
		// payload; fold them into the performative before routing it on.
		body.Payload = fr.Payload
	}

	c.mu.Lock()
	sess := c.byRemoteChannel[fr.Channel]
	c.mu.Unlock()
	if sess == nil {
		debug.Log(1, "connection: frame on unbound channel %d", fr.Channel)
		return
	}
	sess.handleFrame(fr.Body)
}

func (c *Connection) dispatchBegin(channel uint16, b *frames.PerformBegin) {
	c.mu.Lock()
	var sess *Session
	if b.RemoteChannel != nil {
		for i, s := range c.pendingBegins {
			if s.localChannel == *b.RemoteChannel {
				sess = s
				c.pendingBegins = append(c.pendingBegins[:i], c.pendingBegins[i+1:]...)
				break
			}
		}
	}
	if sess != nil {
		sess.remoteChannel = channel
		c.byRemoteChannel[channel] = sess
	}
	c.mu.Unlock()

	if sess != nil {
		sess.handleBegin(b)
	} else {
		debug.Log(1, "connection: Begin from peer for an unrequested session on channel %d (listener-side Begin accept is not implemented)", channel)
	}
}

// allocateChannel reserves and returns the next free outgoing channel
// number for a new Session, enforcing the effective channel-max (the
// lesser of the two peers' advertised values, spec §4.4: at most
// channel-max+1 sessions).
func (c *Connection) allocateChannel() (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if uint32(c.nextChannel) > uint32(c.channelMax) {
		return 0, fmt.Errorf("amqp: channel-max %d exceeded", c.channelMax)
	}
	ch := c.nextChannel
	c.nextChannel++
	return ch, nil
}

// NewSession begins a new Session on this connection (spec §4.5,
// Unmapped → BeginSent → Mapped).
func (c *Connection) NewSession(ctx context.Context, opts ...SessionOption) (*Session, error) {
	if c.State() == EndpointStateError || c.State() == EndpointStateClosed {
		return nil, c.connError()
	}

	o := defaultSessionOptions()
	for _, opt := range opts {
		opt(o)
	}

	channel, err := c.allocateChannel()
	if err != nil {
		return nil, err
	}
	sess := newSession(c, channel, o)

	c.mu.Lock()
	c.pendingBegins = append(c.pendingBegins, sess)
	c.byLocalChannel[sess.localChannel] = sess
	c.mu.Unlock()

	begin := &frames.PerformBegin{
		NextOutgoingID: 0,
		IncomingWindow: o.InitialIncomingWindowSize,
		OutgoingWindow: o.InitialOutgoingWindowSize,
		HandleMax:      o.MaximumLinkCount,
	}
	if err := c.writeFrame(frames.Frame{Type: frames.TypeAMQP, Channel: sess.localChannel, Body: begin}); err != nil {
		return nil, err
	}

	select {
	case <-sess.mappedCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if sess.err != nil {
		return nil, sess.err
	}
	return sess, nil
}

func (c *Connection) connError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return &ConnError{Local: c.err}
	}
	return &ConnError{Local: fmt.Errorf("amqp: connection is not open")}
}

func (c *Connection) fail(err error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = err
	c.state = EndpointStateError
	sessions := make([]*Session, 0, len(c.byRemoteChannel))
	for _, s := range c.byRemoteChannel {
		sessions = append(sessions, s)
	}
	openDone := c.openDone
	c.openDone = nil
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.mu.Unlock()

	if openDone != nil {
		close(openDone)
	}
	for _, s := range sessions {
		s.failFromConnection(err)
	}

	cb := c.opts.OnStateChange
	if cb != nil {
		cb(EndpointStateError)
	}
}

// Close sends the Close performative and waits for the peer's Close, or
// for ctx to expire (spec §4.4).
func (c *Connection) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.state == EndpointStateClosed {
		c.mu.Unlock()
		return nil
	}
	if c.closeDone == nil {
		c.closeDone = make(chan struct{})
	}
	cd := c.closeDone
	c.mu.Unlock()

	c.setState(EndpointStateClosing)
	writeErr := c.writeFrame(frames.Frame{Type: frames.TypeAMQP, Channel: 0, Body: &frames.PerformClose{}})

	select {
	case <-cd:
	case <-ctx.Done():
	}

	closeErr := c.transport.Close(ctx)
	c.setState(EndpointStateClosed)
	if writeErr != nil {
		return writeErr
	}
	return closeErr
}

// startIdleMonitor arranges an empty-frame keep-alive at the peer's
// idle-timeout times IdleTimeoutRatio, and a failure transition if nothing
// is received within the local idle-timeout (spec §4.4). Nothing is
// scheduled when the peer advertised no idle-timeout.
func (c *Connection) startIdleMonitor() {
	if c.remoteIdleTimeout <= 0 {
		return
	}
	keepAlive := time.Duration(float64(c.remoteIdleTimeout) * c.opts.IdleTimeoutRatio)
	if keepAlive <= 0 {
		keepAlive = c.remoteIdleTimeout / 2
	}

	c.mu.Lock()
	c.idleTimer = time.AfterFunc(keepAlive, func() { c.onIdleTick(keepAlive) })
	c.mu.Unlock()
}

func (c *Connection) onIdleTick(keepAlive time.Duration) {
	c.mu.Lock()
	if c.state != EndpointStateOpened {
		c.mu.Unlock()
		return
	}
	sinceRecv := time.Since(c.lastRecv)
	local := c.localIdleTimeout
	c.mu.Unlock()

	if local > 0 && sinceRecv > local {
		c.fail(&ConnError{RemoteErr: &Error{Condition: ErrCondResourceLimitExceeded, Description: "no frame received within idle-timeout"}})
		return
	}

	c.writeFrame(frames.Frame{Type: frames.TypeAMQP, Channel: 0})

	c.mu.Lock()
	if c.state == EndpointStateOpened {
		c.idleTimer = time.AfterFunc(keepAlive, func() { c.onIdleTick(keepAlive) })
	}
	c.mu.Unlock()
}

// nextDeliveryTag returns a fresh random delivery tag, used by Senders that
// don't supply their own.
func nextDeliveryTag() []byte {
	return []byte(shared.RandString(16))
}
