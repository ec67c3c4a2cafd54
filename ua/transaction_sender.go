package ua

import (
	"context"
	"sync"
	"sync/atomic"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipcore/internal/types"
)

// TransactionRequestSenderOptions configures a [TransactionRequestSender].
type TransactionRequestSenderOptions struct {
	// Transaction is passed to the created client transaction.
	Transaction *TransactionOptions
	// Table, if set, stores the client transaction so inbound responses can be matched to it.
	Table *TransactionTable
}

// TransactionRequestSender is a [RequestSender] that sends the request in a [ClientTransaction].
// It completes once the transaction terminates.
type TransactionRequestSender struct {
	stack Stack
	req   *sip.Request
	flow  Flow
	opts  TransactionRequestSenderOptions

	mu sync.Mutex
	tx *ClientTransaction

	completed atomic.Bool
	disposed  atomic.Bool
	onRes     types.CallbackManager[RequestSenderResponseHandler]
	onDone    types.CallbackManager[RequestSenderCompletedHandler]
}

var _ RequestSender = (*TransactionRequestSender)(nil)

// NewTransactionRequestSender creates a sender of the request over the flow.
func NewTransactionRequestSender(stack Stack, req *sip.Request, flow Flow, opts *TransactionRequestSenderOptions) *TransactionRequestSender {
	s := &TransactionRequestSender{
		stack: stack,
		req:   req,
		flow:  flow,
	}
	if opts != nil {
		s.opts = *opts
	}
	return s
}

// Request returns the request being sent.
func (s *TransactionRequestSender) Request() *sip.Request { return s.req }

// Transaction returns the client transaction or nil if the sender was not started.
func (s *TransactionRequestSender) Transaction() *ClientTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx
}

// Start creates the client transaction and sends the request.
func (s *TransactionRequestSender) Start(ctx context.Context) error {
	if s.disposed.Load() {
		return errtrace.Wrap(ErrDisposed)
	}

	s.mu.Lock()
	if s.tx != nil {
		s.mu.Unlock()
		return errtrace.Wrap(newActionNotAllowedError("request sender already started"))
	}
	tx, err := NewClientTransaction(s.stack, s.flow, s.req, s.opts.Transaction)
	if err != nil {
		s.mu.Unlock()
		return errtrace.Wrap(err)
	}
	s.tx = tx
	s.mu.Unlock()

	if s.opts.Table != nil {
		if err := s.opts.Table.Add(tx); err != nil {
			return errtrace.Wrap(err)
		}
	}

	tx.OnResponse(func(ctx context.Context, tx *ClientTransaction, res *sip.Response) {
		evt := &ResponseEvent{Response: res, ClientTransaction: tx}
		for fn := range s.onRes.All() {
			fn(ctx, s, evt)
		}
	})
	tx.OnStateChanged(func(ctx context.Context, _ Transaction, _, to TransactionState) {
		if to == TransactionStateTerminated {
			s.complete(ctx)
		}
	})

	return errtrace.Wrap(tx.Start(ctx))
}

func (s *TransactionRequestSender) complete(ctx context.Context) {
	if !s.completed.CompareAndSwap(false, true) {
		return
	}
	for fn := range s.onDone.All() {
		fn(ctx, s)
	}
}

// OnResponse registers a response callback.
func (s *TransactionRequestSender) OnResponse(fn RequestSenderResponseHandler) (cancel func()) {
	return s.onRes.Add(fn)
}

// OnCompleted registers a completion callback.
func (s *TransactionRequestSender) OnCompleted(fn RequestSenderCompletedHandler) (cancel func()) {
	return s.onDone.Add(fn)
}

// Dispose drops all callbacks. The client transaction runs to completion on its own.
func (s *TransactionRequestSender) Dispose() {
	if !s.disposed.CompareAndSwap(false, true) {
		return
	}
	s.onRes.Clear()
	s.onDone.Clear()
}
