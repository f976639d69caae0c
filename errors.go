package amqp

//	MIT License
//
//	Copyright (c) Microsoft Corporation. All rights reserved.
//
//	Permission is hereby granted, free of charge, to any person obtaining a copy
//	of this software and associated documentation files (the "Software"), to deal
//	in the Software without restriction, including without limitation the rights
//	to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
//	copies of the Software, and to permit persons to whom the Software is
//	furnished to do so, subject to the following conditions:
//
//	The above copyright notice and this permission notice shall be included in all
//	copies or substantial portions of the Software.
//
//	THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
//	IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
//	FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
//	AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
//	LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
//	OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
//	SOFTWARE

import (
	"fmt"
	"reflect"

	"github.com/Azure/go-amqp-transport/internal/encoding"
)

type (
	// ErrMissingField indicates that an expected property was missing from
	// a decoded performative or message. This should only be encountered
	// when there is a bug in this library, or the peer has violated the
	// protocol.
	ErrMissingField string

	// ErrIncorrectType indicates that a type assertion on a decoded value
	// failed. This should only be encountered when there is a bug in this
	// library, or the peer has violated the protocol.
	ErrIncorrectType struct {
		Key          string
		ExpectedType reflect.Type
		ActualValue  interface{}
	}
)

func (e ErrMissingField) Error() string {
	return fmt.Sprintf("missing value %q", string(e))
}

// newErrIncorrectType lets you skip using the `reflect` package. Just
// provide a variable of the desired type as 'expected'.
func newErrIncorrectType(key string, expected, actual interface{}) ErrIncorrectType {
	return ErrIncorrectType{
		Key:          key,
		ExpectedType: reflect.TypeOf(expected),
		ActualValue:  actual,
	}
}

func (e ErrIncorrectType) Error() string {
	return fmt.Sprintf(
		"value at %q was expected to be of type %q but was actually of type %q",
		e.Key,
		e.ExpectedType,
		reflect.TypeOf(e.ActualValue))
}

// Error taxonomy, spec §7.
//
//   - Protocol errors are fatal to the enclosing Connection: a malformed
//     frame or a performative arriving in a state that doesn't permit it.
//     They propagate to every Session/Link the connection owns as
//     *ConnError.
//   - Peer-reported errors are carried inside a Detach/End/Close
//     performative, or as the outcome of a Disposition. They're local to
//     the entity they arrived on and are returned from that entity's
//     operations as *Error (wrapping an AMQP error record).
//   - Local errors (cancellation, invalid arguments, transport failures)
//     are typed failures that don't themselves mutate AMQP state beyond
//     what spec §7 requires.

// Error wraps a peer-reported AMQP error record: condition, description,
// and info, spec §3's AmqpError.
type Error encoding.Error

func (e *Error) Error() string {
	return (*encoding.Error)(e).Error()
}

// Condition is the extensible AMQP error-condition symbol, spec §3.
type Condition = encoding.ErrorCondition

// Standard error conditions re-exported for callers to compare against,
// spec §6 "Error taxonomy exposed".
const (
	ErrCondInternalError         = encoding.ErrorInternalError
	ErrCondNotFound              = encoding.ErrorNotFound
	ErrCondUnauthorizedAccess    = encoding.ErrorUnauthorizedAccess
	ErrCondDecodeError           = encoding.ErrorDecodeError
	ErrCondResourceLimitExceeded = encoding.ErrorResourceLimitExceeded
	ErrCondNotAllowed            = encoding.ErrorNotAllowed
	ErrCondInvalidField          = encoding.ErrorInvalidField
	ErrCondNotImplemented        = encoding.ErrorNotImplemented
	ErrCondResourceLocked        = encoding.ErrorResourceLocked
	ErrCondPreconditionFailed    = encoding.ErrorPreconditionFailed
	ErrCondResourceDeleted       = encoding.ErrorResourceDeleted
	ErrCondIllegalState          = encoding.ErrorIllegalState
	ErrCondLinkStolen            = encoding.ErrorLinkStolen
	ErrCondServerBusy            = encoding.ErrorServerBusy
	ErrCondTimeout               = encoding.ErrorTimeout
	ErrCondConnectionRedirect    = encoding.ErrorConnectionRedirect
	ErrCondLinkRedirect          = encoding.ErrorLinkRedirect
)

// ConnError is returned by every operation on a Connection, and on the
// Sessions/Links it owns, once a protocol error has torn the connection
// down. RemoteErr is the peer's Close.Error, if the peer sent one before
// the transport closed.
type ConnError struct {
	RemoteErr *Error
	Local     error
}

func (e *ConnError) Error() string {
	if e.RemoteErr != nil {
		return fmt.Sprintf("amqp: connection closed by peer: %v", e.RemoteErr)
	}
	return fmt.Sprintf("amqp: connection closed: %v", e.Local)
}

func (e *ConnError) Unwrap() error { return e.Local }

// SessionError is returned by every operation on a Session, and on the
// Links it owns, once the session has ended.
type SessionError struct {
	RemoteErr *Error
	Local     error
}

func (e *SessionError) Error() string {
	if e.RemoteErr != nil {
		return fmt.Sprintf("amqp: session ended by peer: %v", e.RemoteErr)
	}
	return fmt.Sprintf("amqp: session ended: %v", e.Local)
}

func (e *SessionError) Unwrap() error { return e.Local }

// DetachError is returned by a Sender/Receiver operation once its link has
// been detached, either by the local application or by the peer.
type DetachError struct {
	RemoteErr *Error
}

func (e *DetachError) Error() string {
	if e.RemoteErr == nil {
		return "amqp: link detached"
	}
	return fmt.Sprintf("amqp: link detached: %v", e.RemoteErr)
}
