package ua

import (
	"net/netip"

	"github.com/emiago/sipgo/sip"
)

// RequestEvent carries an inbound request together with the server transaction that received it.
type RequestEvent struct {
	Request           *sip.Request
	ServerTransaction *ServerTransaction
	Flow              Flow
}

// ResponseEvent carries an inbound response together with the client transaction that received it.
// ClientTransaction may be nil when the sender does not use transactions of this package.
type ResponseEvent struct {
	Response          *sip.Response
	ClientTransaction *ClientTransaction
}

// ValidateRequestEvent is passed to request validation hooks before a request reaches dialog processing.
// A hook rejects the request by setting ResponseCode.
type ValidateRequestEvent struct {
	Request    *sip.Request
	RemoteAddr netip.AddrPort

	ResponseCode   int
	ResponseReason string
}

// Reject marks the request as rejected with the response code and reason.
func (e *ValidateRequestEvent) Reject(code int, reason string) {
	e.ResponseCode = code
	e.ResponseReason = reason
}

// Rejected reports whether a hook has rejected the request.
func (e *ValidateRequestEvent) Rejected() bool { return e.ResponseCode >= 300 }
