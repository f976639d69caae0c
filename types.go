package amqp

import "github.com/Azure/go-amqp-transport/internal/encoding"

// Re-exports of the wire-level value types a caller needs at the public
// API surface (spec §3/§6), so nothing outside this package needs to
// import internal/encoding directly.
type (
	// Symbol is the AMQP "symbol" type, used for link/terminus capabilities
	// and annotation keys.
	Symbol = encoding.Symbol

	// UUID is a 16-byte AMQP "uuid" value, usable as a MessageID,
	// CorrelationID, or delivery tag.
	UUID = encoding.UUID

	// Role is a link endpoint's role: sender or receiver.
	Role = encoding.Role

	// SenderSettleMode controls how a Sender settles outgoing transfers.
	SenderSettleMode = encoding.SenderSettleMode

	// ReceiverSettleMode controls whether a Receiver auto-settles or waits
	// for a second round trip.
	ReceiverSettleMode = encoding.ReceiverSettleMode

	// DeliveryState is the outcome (or interim state) of a delivery.
	DeliveryState = encoding.DeliveryState

	// Durability controls what a terminus survives across detach/restart.
	Durability = encoding.Durability

	// ExpiryPolicy controls when a dynamic terminus is reclaimed.
	ExpiryPolicy = encoding.ExpiryPolicy
)

const (
	RoleSender   = encoding.RoleSender
	RoleReceiver = encoding.RoleReceiver

	ModeUnsettled = encoding.ModeUnsettled
	ModeSettled   = encoding.ModeSettled
	ModeMixed     = encoding.ModeMixed

	ModeFirst  = encoding.ModeFirst
	ModeSecond = encoding.ModeSecond

	DurabilityNone           = encoding.DurabilityNone
	DurabilityConfiguration  = encoding.DurabilityConfiguration
	DurabilityUnsettledState = encoding.DurabilityUnsettledState

	ExpiryLinkDetach      = encoding.ExpiryLinkDetach
	ExpirySessionEnd      = encoding.ExpirySessionEnd
	ExpiryConnectionClose = encoding.ExpiryConnectionClose
	ExpiryNever           = encoding.ExpiryNever
)

// Outcome constructors, spec §3's DeliveryState variants, re-exported so
// callers building a Disposition by hand (e.g. a Management client
// replying to a request) don't need internal/encoding.
func Accepted() DeliveryState { return &encoding.StateAccepted{} }
func Released() DeliveryState { return &encoding.StateReleased{} }
func Rejected(e *Error) DeliveryState {
	if e == nil {
		return &encoding.StateRejected{}
	}
	return &encoding.StateRejected{Error: (*encoding.Error)(e)}
}
func Modified(deliveryFailed, undeliverableHere bool, annotations map[string]any) DeliveryState {
	return &encoding.StateModified{
		DeliveryFailed:     deliveryFailed,
		UndeliverableHere:  undeliverableHere,
		MessageAnnotations: annotations,
	}
}
