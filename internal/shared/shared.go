// Package shared holds small helpers with no natural home in a single
// protocol layer: link name generation, context composition, and the
// handful of predicates every engine needs to classify an error.
package shared

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
)

const randStringChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandString returns a random string of length n, used to generate unique
// link names and delivery tags when the caller doesn't supply one.
func RandString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand.Read on a real OS never fails; fall back to a fixed
		// (still unique-enough-for-this-process) pattern rather than panic.
		for i := range b {
			b[i] = byte(i)
		}
	}
	out := make([]byte, n)
	for i, c := range b {
		out[i] = randStringChars[int(c)%len(randStringChars)]
	}
	return string(out)
}

// IsContextErr reports whether err is (or wraps) context.Canceled or
// context.DeadlineExceeded; used throughout the engines to distinguish a
// caller-driven cancellation from a protocol error.
func IsContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// CombineContext returns a child of parent that is also cancelled when
// other is cancelled, composing the two cancellation sources spec §5
// requires ("contexts compose"). The returned cancel func must be called to
// release resources once the combination is no longer needed.
func CombineContext(parent, other context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(other, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// ErrorString renders err for inclusion in a Detach/End/Close error's
// Description field; it is empty only when err is nil.
func ErrorString(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%v", err)
}
