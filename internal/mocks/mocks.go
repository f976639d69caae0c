// Package mocks provides an in-memory amqp.Transport double driven by a
// caller-supplied frame handler, letting Connection/Session/Link/Sender/
// Receiver tests exercise the wire protocol without a real socket.
//
// Grounded on the retrieved go-amqp link_test.go's mocks.NewNetConn /
// SendFrame pattern (other_examples/a5621f93_Azure-go-amqp__link_test.go.go),
// adapted from net.Conn to this library's push-based Transport contract:
// Send hands the caller's bytes to Handler and anything it returns is
// delivered back through OnBytesReceived, instead of round-tripping through
// an actual connection.
package mocks

import (
	"context"
	"sync"

	"github.com/Azure/go-amqp-transport/internal/buffer"
	"github.com/Azure/go-amqp-transport/internal/frames"
)

// headerMagic is the first four bytes shared by both the AMQP and SASL
// protocol headers (§2.2), used to recognize a bare 8-byte header write as
// distinct from a framed performative.
var headerMagic = [4]byte{'A', 'M', 'Q', 'P'}

// HandlerFunc decides what frames, if any, the fake peer sends in response
// to a frame the code under test just wrote. A protocol/SASL header write is
// delivered as a frame with a nil Body so a handler can recognize it and
// answer with SASLMechanisms, an Open, etc.
type HandlerFunc func(fr frames.Frame) []frames.Frame

// Transport is an amqp.Transport double. Every Send is decoded and handed to
// Handler; anything Handler returns is encoded and delivered to the
// registered OnBytesReceived callback, synchronously, on the caller's
// goroutine -- tests should treat Send as driving the peer's reply
// immediately rather than assume any concurrency.
type Transport struct {
	Handler HandlerFunc

	mu        sync.Mutex
	rx        buffer.Buffer
	onBytes   func([]byte)
	onIOError func(error)
	closed    bool

	// Sent records every frame this side wrote, for assertions.
	Sent []frames.Frame
}

// NewTransport returns a Transport that answers writes using handler.
func NewTransport(handler HandlerFunc) *Transport {
	return &Transport{Handler: handler}
}

func (t *Transport) Open(ctx context.Context) error { return nil }

func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *Transport) OnBytesReceived(f func([]byte)) {
	t.mu.Lock()
	t.onBytes = f
	t.mu.Unlock()
}

func (t *Transport) OnIOError(f func(error)) {
	t.mu.Lock()
	t.onIOError = f
	t.mu.Unlock()
}

// Poll is a no-op: this Transport delivers replies synchronously from
// within Send, so there is nothing to pump.
func (t *Transport) Poll() {}

// InjectBytes delivers p to the registered OnBytesReceived callback as
// though the peer had sent it unprompted -- e.g. an idle keep-alive or an
// unsolicited Close.
func (t *Transport) InjectBytes(p []byte) {
	t.mu.Lock()
	onBytes := t.onBytes
	t.mu.Unlock()
	if onBytes != nil {
		onBytes(p)
	}
}

// InjectFrame encodes and delivers fr the same way InjectBytes does.
func (t *Transport) InjectFrame(fr frames.Frame) error {
	var wr buffer.Buffer
	if err := frames.Write(&wr, fr); err != nil {
		return err
	}
	t.InjectBytes(wr.Bytes())
	return nil
}

// InjectIOError reports err to the registered OnIOError callback.
func (t *Transport) InjectIOError(err error) {
	t.mu.Lock()
	onIOError := t.onIOError
	t.mu.Unlock()
	if onIOError != nil {
		onIOError(err)
	}
}

func (t *Transport) Send(p []byte, onComplete func(error)) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		if onComplete != nil {
			onComplete(nil)
		}
		return false
	}

	if len(p) == 8 && [4]byte{p[0], p[1], p[2], p[3]} == headerMagic {
		typ := frames.TypeAMQP
		if p[4] == 3 {
			typ = frames.TypeSASL
		}
		handler := t.Handler
		onBytes := t.onBytes
		t.mu.Unlock()
		if onComplete != nil {
			onComplete(nil)
		}
		if onBytes != nil {
			onBytes(append([]byte(nil), p...))
		}
		t.deliver(handler, onBytes, frames.Frame{Type: typ})
		return true
	}

	t.rx.Append(p)
	var decoded []frames.Frame
	for {
		fr, err := frames.Read(&t.rx, 1<<20)
		if err == frames.ErrNeedMoreData {
			break
		}
		if err != nil {
			t.mu.Unlock()
			if onComplete != nil {
				onComplete(err)
			}
			return true
		}
		decoded = append(decoded, fr)
	}
	t.rx.Detach()
	t.Sent = append(t.Sent, decoded...)
	handler := t.Handler
	onBytes := t.onBytes
	t.mu.Unlock()

	if onComplete != nil {
		onComplete(nil)
	}
	for _, fr := range decoded {
		t.deliver(handler, onBytes, fr)
	}
	return true
}

func (t *Transport) deliver(handler HandlerFunc, onBytes func([]byte), fr frames.Frame) {
	if handler == nil || onBytes == nil {
		return
	}
	for _, resp := range handler(fr) {
		var wr buffer.Buffer
		if err := frames.Write(&wr, resp); err != nil {
			continue
		}
		onBytes(wr.Bytes())
	}
}
