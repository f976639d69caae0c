package amqp

import "context"

// Handler is the observer a caller registers on a Receiver to decide the
// disposition of each incoming message, spec §4.7: "unless a caller has
// registered a handler that returns an explicit disposition". Returning a
// nil DispositionAction tells the Receiver to fall back to its configured
// auto-settlement behavior.
type Handler interface {
	Handle(context.Context, *Message) DispositionAction
}

// HandlerFunc is a type converter that allows a plain func to satisfy
// Handler.
type HandlerFunc func(context.Context, *Message) DispositionAction

// Handle redirects the call to the wrapped func.
func (hf HandlerFunc) Handle(ctx context.Context, msg *Message) DispositionAction {
	return hf(ctx, msg)
}
