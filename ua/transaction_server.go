package ua

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"
)

// ServerTransaction is an RFC 3261 section 17.2 server transaction with the RFC 6026 Accepted state.
// INVITE transactions start in [TransactionStateProceeding], all others in [TransactionStateTrying].
//
// In the Accepted state the transaction retransmits the 2xx response over unreliable flows
// until the ACK is passed to [ServerTransaction.RecvRequest] or Timer L fires.
type ServerTransaction struct {
	*transaction

	sendMu  sync.Mutex
	lastRes atomic.Pointer[sip.Response]
	acked   atomic.Bool
}

// NewServerTransaction creates a server transaction for the inbound request.
func NewServerTransaction(stack Stack, flow Flow, req *sip.Request, opts *TransactionOptions) (*ServerTransaction, error) {
	if req != nil && req.Method == sip.ACK {
		return nil, errtrace.Wrap(NewInvalidArgumentError("ACK request does not create a transaction"))
	}

	tx := new(ServerTransaction)
	base, err := newTransaction(tx, stack, flow, req, true, opts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	tx.transaction = base

	if tx.method == sip.INVITE {
		tx.initInviteFSM()
	} else {
		tx.initNonInviteFSM()
	}
	return tx, nil
}

const (
	txEvtRecvReq    = "recv_request"
	txEvtRecvAck    = "recv_ack"
	txEvtSend1xx    = "send_1xx"
	txEvtSend2xx    = "send_2xx"
	txEvtSend300699 = "send_300-699"
	txEvtTimerG     = "timer_g"
	txEvtTimerH     = "timer_h"
	txEvtTimerI     = "timer_i"
	txEvtTimerJ     = "timer_j"
	txEvtTimerL     = "timer_l"
)

func (tx *ServerTransaction) initFSM(start TransactionState) {
	tx.transaction.initFSM(start)

	resType := reflect.TypeOf((*sip.Response)(nil))
	tx.fsm.SetTriggerParameters(txEvtSend1xx, resType)
	tx.fsm.SetTriggerParameters(txEvtSend2xx, resType)
	tx.fsm.SetTriggerParameters(txEvtSend300699, resType)
}

func (tx *ServerTransaction) initInviteFSM() {
	tx.initFSM(TransactionStateProceeding)

	tx.fsm.Configure(TransactionStateProceeding).
		InternalTransition(txEvtRecvReq, tx.actResendRes).
		InternalTransition(txEvtSend1xx, tx.actStoreRes).
		Permit(txEvtSend2xx, TransactionStateAccepted).
		Permit(txEvtSend300699, TransactionStateCompleted).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateAccepted).
		OnEntryFrom(txEvtSend2xx, tx.actStoreRes).
		OnEntry(tx.actAccepted).
		InternalTransition(txEvtSend2xx, tx.actStoreRes).
		InternalTransition(txEvtRecvAck, tx.actAck2xx).
		InternalTransition(txEvtTimerG, tx.actResendRes).
		Ignore(txEvtRecvReq).
		Permit(txEvtTimerL, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateCompleted).
		OnEntryFrom(txEvtSend300699, tx.actStoreRes).
		OnEntry(tx.actInviteCompleted).
		InternalTransition(txEvtRecvReq, tx.actResendRes).
		InternalTransition(txEvtTimerG, tx.actResendRes).
		Permit(txEvtRecvAck, TransactionStateConfirmed).
		Permit(txEvtTimerH, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateConfirmed).
		OnEntry(tx.actConfirmed).
		Ignore(txEvtRecvReq).
		Ignore(txEvtRecvAck).
		Ignore(txEvtTimerG).
		Permit(txEvtTimerI, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateTerminated).
		OnEntryFrom(txEvtTimerH, tx.actAckTimedOut).
		OnEntryFrom(txEvtTimerL, tx.actAcceptedExpired)
}

func (tx *ServerTransaction) initNonInviteFSM() {
	tx.initFSM(TransactionStateTrying)

	tx.fsm.Configure(TransactionStateTrying).
		Ignore(txEvtRecvReq).
		Permit(txEvtSend1xx, TransactionStateProceeding).
		Permit(txEvtSend2xx, TransactionStateCompleted).
		Permit(txEvtSend300699, TransactionStateCompleted).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateProceeding).
		OnEntryFrom(txEvtSend1xx, tx.actStoreRes).
		InternalTransition(txEvtSend1xx, tx.actStoreRes).
		InternalTransition(txEvtRecvReq, tx.actResendRes).
		Permit(txEvtSend2xx, TransactionStateCompleted).
		Permit(txEvtSend300699, TransactionStateCompleted).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateCompleted).
		OnEntryFrom(txEvtSend2xx, tx.actStoreRes).
		OnEntryFrom(txEvtSend300699, tx.actStoreRes).
		OnEntry(tx.actNonInviteCompleted).
		InternalTransition(txEvtRecvReq, tx.actResendRes).
		Permit(txEvtTimerJ, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)
}

// RecvRequest passes a retransmitted request or an ACK to the transaction.
//
// An ACK for a non-2xx final response must match the transaction key.
// An ACK for a 2xx response is matched by the CSeq number since it is sent in its own transaction.
func (tx *ServerTransaction) RecvRequest(ctx context.Context, req *sip.Request) error {
	if tx.disposed.Load() {
		return errtrace.Wrap(ErrDisposed)
	}
	if req == nil {
		return errtrace.Wrap(NewInvalidArgumentError("nil request"))
	}

	if req.Method == sip.ACK {
		if tx.method != sip.INVITE {
			return errtrace.Wrap(ErrTransactionNotMatched)
		}
		if tx.State() == TransactionStateAccepted {
			cseq, orig := req.CSeq(), tx.req.CSeq()
			if cseq == nil || orig == nil || cseq.SeqNo != orig.SeqNo {
				return errtrace.Wrap(ErrTransactionNotMatched)
			}
			return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtRecvAck))
		}
	}

	var key TransactionKey
	if err := key.FillFromRequest(req, true); err != nil {
		return errtrace.Wrap(err)
	}
	if key.String() != tx.key.String() {
		return errtrace.Wrap(ErrTransactionNotMatched)
	}

	if req.Method == sip.ACK {
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtRecvAck))
	}
	return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtRecvReq))
}

// SendResponse sends the response over the transaction flow and moves the state machine.
// A transport failure is reported to [Transaction.OnTransportError] subscribers and returned,
// the transaction state is left unchanged.
func (tx *ServerTransaction) SendResponse(ctx context.Context, res *sip.Response) error {
	if tx.disposed.Load() {
		return errtrace.Wrap(ErrDisposed)
	}
	if res == nil {
		return errtrace.Wrap(NewInvalidArgumentError("nil response"))
	}

	var trigger string
	switch {
	case res.StatusCode < 200:
		trigger = txEvtSend1xx
	case res.StatusCode < 300:
		trigger = txEvtSend2xx
	default:
		trigger = txEvtSend300699
	}

	tx.sendMu.Lock()
	defer tx.sendMu.Unlock()

	if !tx.canSend(trigger) {
		return errtrace.Wrap(newActionNotAllowedError("send %d response in state %q", res.StatusCode, tx.State()))
	}
	if err := tx.send(ctx, res); err != nil {
		return errtrace.Wrap(err)
	}
	return errtrace.Wrap(tx.fsm.FireCtx(ctx, trigger, res))
}

func (tx *ServerTransaction) canSend(trigger string) bool {
	switch tx.State() {
	case TransactionStateTrying, TransactionStateProceeding:
		return true
	case TransactionStateAccepted:
		return trigger == txEvtSend2xx
	default:
		return false
	}
}

func (tx *ServerTransaction) actStoreRes(ctx context.Context, args ...any) error {
	res := args[0].(*sip.Response) //nolint:forcetypeassert
	tx.addResponse(res)
	tx.lastRes.Store(res)
	return nil
}

func (tx *ServerTransaction) actResendRes(ctx context.Context, _ ...any) error {
	if res := tx.lastRes.Load(); res != nil {
		tx.send(ctx, res) //nolint:errcheck
	}
	return nil
}

func (tx *ServerTransaction) actAccepted(context.Context, ...any) error {
	if !tx.reliable() {
		tx.startTimer("G", tx.timings.TimeG(), tx.onTimerG)
	}
	tx.startTimer("L", tx.timings.TimeL(), func() {
		tx.fireTimer("L", txEvtTimerL, TransactionStateAccepted)
	})
	return nil
}

func (tx *ServerTransaction) actAck2xx(ctx context.Context, _ ...any) error {
	if tx.acked.CompareAndSwap(false, true) {
		tx.stopTimer("G")
		tx.log.LogAttrs(ctx, slog.LevelDebug, "2xx response acknowledged", slog.Any("transaction", tx.key))
	}
	return nil
}

func (tx *ServerTransaction) actInviteCompleted(context.Context, ...any) error {
	if !tx.reliable() {
		tx.startTimer("G", tx.timings.TimeG(), tx.onTimerG)
	}
	tx.startTimer("H", tx.timings.TimeH(), func() {
		tx.fireTimer("H", txEvtTimerH, TransactionStateCompleted)
	})
	return nil
}

func (tx *ServerTransaction) onTimerG() {
	d := tx.timer("G").Duration()
	tx.fireTimer("G", txEvtTimerG, TransactionStateAccepted, TransactionStateCompleted)
	if st := tx.State(); (st == TransactionStateAccepted && !tx.acked.Load()) || st == TransactionStateCompleted {
		tx.startTimer("G", min(2*d, tx.timings.T2()), tx.onTimerG)
	}
}

func (tx *ServerTransaction) actConfirmed(context.Context, ...any) error {
	tx.stopTimer("G")
	tx.stopTimer("H")

	d := tx.timings.TimeI()
	if tx.reliable() {
		d = 0
	}
	tx.startTimer("I", d, func() {
		tx.fireTimer("I", txEvtTimerI, TransactionStateConfirmed)
	})
	return nil
}

func (tx *ServerTransaction) actNonInviteCompleted(context.Context, ...any) error {
	d := tx.timings.TimeJ()
	if tx.reliable() {
		d = 0
	}
	tx.startTimer("J", d, func() {
		tx.fireTimer("J", txEvtTimerJ, TransactionStateCompleted)
	})
	return nil
}

func (tx *ServerTransaction) actAckTimedOut(ctx context.Context, args ...any) error {
	tx.actTimedOut(ctx, args...) //nolint:errcheck
	tx.raiseTransactionError(ctx, ErrAckNotReceived)
	return nil
}

func (tx *ServerTransaction) actAcceptedExpired(ctx context.Context, _ ...any) error {
	if !tx.acked.Load() {
		tx.raiseTransactionError(ctx, ErrAckNotReceived)
	}
	return nil
}

// Cancel answers the request with 487 Request Terminated if no final response was sent yet
// and terminates the transaction.
func (tx *ServerTransaction) Cancel(ctx context.Context) error {
	if tx.disposed.Load() {
		return errtrace.Wrap(ErrDisposed)
	}

	var sendErr error
	if !tx.hasFinalResponse() {
		if stack := tx.currentStack(); stack != nil {
			res, err := stack.CreateResponse(487, "Request Terminated", tx.req)
			if err == nil {
				err = tx.SendResponse(ctx, res)
			}
			sendErr = err
		}
	}
	if err := tx.Terminate(ctx); err != nil {
		return errtrace.Wrap(err)
	}
	return errtrace.Wrap(sendErr)
}

// IsAcknowledged reports whether the 2xx response of an INVITE transaction was acknowledged.
func (tx *ServerTransaction) IsAcknowledged() bool { return tx.acked.Load() }

// Snapshot returns a serializable view of the transaction.
func (tx *ServerTransaction) Snapshot() *TransactionSnapshot {
	if tx == nil {
		return nil
	}
	return tx.snapshot()
}

// LogValue implements [slog.LogValuer].
func (tx *ServerTransaction) LogValue() slog.Value {
	if tx == nil {
		return slog.Value{}
	}
	return tx.logValue()
}
