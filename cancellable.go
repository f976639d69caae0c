package amqp

import "sync"

// Cancellable is an escape hatch on an in-flight suspending operation
// (spec §5 "Suspension points"), mirroring the original source's
// `Azure::Core::Amqp::_internal::Cancellable` (`cancellable.hpp`): it lets
// a caller abort a Sender.Send without waiting for its context's deadline,
// while still letting the operation's own completion path run exactly once.
// Sender.Send is the only operation that accepts one.
type Cancellable struct {
	mu        sync.Mutex
	cancelled bool
	onCancel  func()
}

// newCancellable wraps onCancel, the function the owning Sender/Receiver
// invokes to unblock the waiter once Cancel is called.
func newCancellable(onCancel func()) *Cancellable {
	return &Cancellable{onCancel: onCancel}
}

// Cancel aborts the operation if it hasn't already completed or been
// cancelled. It's safe to call more than once and from any goroutine.
func (c *Cancellable) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		return
	}
	c.cancelled = true
	if c.onCancel != nil {
		c.onCancel()
	}
}

// Cancelled reports whether Cancel has been called.
func (c *Cancellable) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}
