package encoding

// ErrorCondition is the extensible AMQP error-condition symbol (spec §3,
// AmqpError). Standard conditions are defined here; service-specific
// conditions (LinkStolen, ServerBusyError, ...) are just additional Symbol
// values and don't need their own Go type.
type ErrorCondition Symbol

// Standard AMQP 1.0 error conditions (§2.8 and §2.8.14 of the OASIS spec,
// plus Service Bus/Event Hubs extensions commonly layered on top).
const (
	ErrorInternalError         ErrorCondition = "amqp:internal-error"
	ErrorNotFound              ErrorCondition = "amqp:not-found"
	ErrorUnauthorizedAccess    ErrorCondition = "amqp:unauthorized-access"
	ErrorDecodeError           ErrorCondition = "amqp:decode-error"
	ErrorResourceLimitExceeded ErrorCondition = "amqp:resource-limit-exceeded"
	ErrorNotAllowed            ErrorCondition = "amqp:not-allowed"
	ErrorInvalidField          ErrorCondition = "amqp:invalid-field"
	ErrorNotImplemented        ErrorCondition = "amqp:not-implemented"
	ErrorResourceLocked        ErrorCondition = "amqp:resource-locked"
	ErrorPreconditionFailed    ErrorCondition = "amqp:precondition-failed"
	ErrorResourceDeleted       ErrorCondition = "amqp:resource-deleted"
	ErrorIllegalState          ErrorCondition = "amqp:illegal-state"
	ErrorFrameSizeTooSmall     ErrorCondition = "amqp:frame-size-too-small"

	ErrorConnectionForced       ErrorCondition = "amqp:connection:forced"
	ErrorConnectionRedirect     ErrorCondition = "amqp:connection:redirect"
	ErrorWindowViolation        ErrorCondition = "amqp:session:window-violation"
	ErrorErrantLink             ErrorCondition = "amqp:session:errant-link"
	ErrorHandleInUse            ErrorCondition = "amqp:session:handle-in-use"
	ErrorUnattachedHandle       ErrorCondition = "amqp:session:unattached-handle"
	ErrorLinkDetachForced       ErrorCondition = "amqp:link:detach-forced"
	ErrorTransferLimitExceeded  ErrorCondition = "amqp:link:transfer-limit-exceeded"
	ErrorLinkRedirect           ErrorCondition = "amqp:link:redirect"
	ErrorMessageStolen          ErrorCondition = "amqp:link:stolen"
	ErrorLinkStolen             ErrorCondition = "amqp:link:stolen"
	ErrorMessageSizeExceeded    ErrorCondition = "amqp:link:message-size-exceeded"

	// Service-specific extensions seen on Service Bus / Event Hubs.
	ErrorServerBusy ErrorCondition = "com.microsoft:server-busy"
	ErrorTimeout    ErrorCondition = "com.microsoft:timeout"
)

// Error is the AMQP error record (spec §3, AmqpError): Condition,
// Description, Info. IsZero reports whether every field is empty.
type Error struct {
	Condition   ErrorCondition
	Description string
	Info        map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Description != "" {
		return string(e.Condition) + ": " + e.Description
	}
	return string(e.Condition)
}

// IsZero reports whether the error record carries no information, i.e. all
// three fields of spec §3's AmqpError are empty.
func (e *Error) IsZero() bool {
	return e == nil || (e.Condition == "" && e.Description == "" && len(e.Info) == 0)
}
