package ua

import (
	"context"
	"log/slog"

	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipcore/log"
)

// StackState is the run state of a [Stack].
type StackState string

const (
	StackStateStarted StackState = "started"
	StackStateStopped StackState = "stopped"
)

// Stack is the owner of transactions, dialogs and registrations.
// It creates messages and request senders on their behalf.
type Stack interface {
	// State returns the current run state of the stack.
	State() StackState
	// CreateRequest creates a new out-of-dialog request with a fresh Call-ID, From tag and Via branch.
	CreateRequest(method sip.RequestMethod, from *sip.FromHeader, to *sip.ToHeader) (*sip.Request, error)
	// CreateResponse creates a response to the request.
	CreateResponse(code int, reason string, req *sip.Request) (*sip.Response, error)
	// CreateRequestSender creates a sender that dispatches the request over the flow.
	// The flow may be nil, in which case the stack selects one.
	CreateRequestSender(req *sip.Request, flow Flow) (RequestSender, error)
	// Logger returns the stack logger. It may return nil.
	Logger() *slog.Logger
}

// Flow is a transport flow between the local and the remote endpoints.
type Flow interface {
	// ID returns the flow identifier.
	ID() string
	// Reliable reports whether the flow transport is reliable (TCP, TLS, WS).
	Reliable() bool
	// Send writes the message to the flow.
	Send(ctx context.Context, msg sip.Message) error
	// SendKeepAlives reports whether the flow sends keep-alive packets.
	SendKeepAlives() bool
	// SetSendKeepAlives enables or disables keep-alive packets.
	SetSendKeepAlives(enabled bool)
}

// RequestSenderResponseHandler is called on each response received by a [RequestSender].
type RequestSenderResponseHandler = func(ctx context.Context, sender RequestSender, evt *ResponseEvent)

// RequestSenderCompletedHandler is called once a [RequestSender] has finished,
// with or without a final response.
type RequestSenderCompletedHandler = func(ctx context.Context, sender RequestSender)

// RequestSender dispatches a request and reports its responses and completion.
type RequestSender interface {
	// Request returns the request being sent.
	Request() *sip.Request
	// Start sends the request. It does not wait for responses.
	Start(ctx context.Context) error
	// OnResponse registers a response callback.
	OnResponse(fn RequestSenderResponseHandler) (cancel func())
	// OnCompleted registers a completion callback.
	OnCompleted(fn RequestSenderCompletedHandler) (cancel func())
	// Dispose releases the sender. Pending callbacks are dropped.
	Dispose()
}

func stackLogger(stack Stack, l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	if stack != nil {
		if l := stack.Logger(); l != nil {
			return l
		}
	}
	return log.Default()
}
