package ua

import "github.com/ghettovoice/sipcore/internal/errorutil"

// Error is a string type that implements the error interface.
type Error = errorutil.Error

const (
	// ErrInvalidArgument is returned when a required argument is missing or malformed.
	ErrInvalidArgument = errorutil.ErrInvalidArgument
	// ErrDisposed is returned when a disposed object is accessed.
	ErrDisposed Error = "object disposed"
	// ErrActionNotAllowed is returned when an action is not allowed in the current state.
	ErrActionNotAllowed Error = "action not allowed"
	// ErrUnexpectedResponse is returned when a response of an unexpected status class is passed.
	ErrUnexpectedResponse Error = "unexpected response"
	// ErrTransactionExists is returned when a transaction with the same key is already stored.
	ErrTransactionExists Error = "transaction already exists"
	// ErrTransactionNotMatched is returned when a message does not belong to the transaction.
	ErrTransactionNotMatched Error = "transaction not matched"
	// ErrAckNotReceived is passed to transaction error handlers when an INVITE final response was never acknowledged.
	ErrAckNotReceived Error = "ACK not received"
	// ErrDialogExists is returned when a dialog with the same identifier is already stored.
	ErrDialogExists Error = "dialog already exists"
	// ErrStackStopped is returned when an operation requires a started stack.
	ErrStackStopped Error = "stack stopped"
)

// NewInvalidArgumentError creates a new error with [ErrInvalidArgument] or
// wraps provided error with [ErrInvalidArgument].
func NewInvalidArgumentError(args ...any) error {
	return errorutil.NewInvalidArgumentError(args...) //errtrace:skip
}

func newActionNotAllowedError(args ...any) error {
	return errorutil.NewWrapperError(ErrActionNotAllowed, args...) //errtrace:skip
}
