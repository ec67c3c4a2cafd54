// Package ua implements the user agent core of a SIP stack: the RFC 3261 transaction
// state machines, INVITE and REFER dialogs and the registration refresh loop.
//
// Messages are modeled with [github.com/emiago/sipgo/sip]. Byte-level transport stays
// outside of the package and is represented by the [Flow] interface, while message creation
// and request dispatch are delegated to a [Stack].
package ua

//go:generate go tool errtrace -w .
//go:generate go tool mockgen -package uamock -destination ../internal/testutil/uamock/mocks.go . Stack,Flow,RequestSender
