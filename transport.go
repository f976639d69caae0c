package amqp

import "context"

// Transport is the byte-level collaborator this library consumes instead
// of owning a socket directly (spec §6, "Transport contract (consumed)").
// TCP and TLS live on the other side of this interface; the Connection
// engine pushes and pulls bytes through it, including its own SASL
// ANONYMOUS/PLAIN exchange.
type Transport interface {
	// Open establishes the underlying connection. It must be safe to call
	// exactly once per Transport instance.
	Open(ctx context.Context) error

	// Close tears down the underlying connection. It must be idempotent.
	Close(ctx context.Context) error

	// Send writes p in full, invoking onComplete (if non-nil) once the
	// write has either completed or failed. Send reports false if the
	// transport cannot accept the write at all (e.g. already closed).
	Send(p []byte, onComplete func(error)) bool

	// Poll drives any pending I/O forward and dispatches buffered reads to
	// OnBytesReceived; it must never block indefinitely. The Connection
	// engine does not call Poll itself: it relies on the transport invoking
	// the OnBytesReceived callback on its own.
	Poll()

	// OnBytesReceived registers the callback the transport invokes with
	// each chunk of data read from the wire, in order.
	OnBytesReceived(f func(p []byte))

	// OnIOError registers the callback the transport invokes once when the
	// underlying connection fails outside of an explicit Close.
	OnIOError(f func(err error))
}
