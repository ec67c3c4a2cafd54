package ua

import (
	"context"
	"log/slog"
	"reflect"
	"sync/atomic"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipcore/internal/types"
)

// TransactionResponseHandler is called on each response passed by a client transaction.
type TransactionResponseHandler = func(ctx context.Context, tx *ClientTransaction, res *sip.Response)

// ClientTransaction is an RFC 3261 section 17.1 client transaction with the RFC 6026 Accepted state.
// INVITE transactions start in [TransactionStateCalling], all others in [TransactionStateTrying].
// Requests are retransmitted only over unreliable flows.
type ClientTransaction struct {
	*transaction

	started atomic.Bool
	ack     atomic.Pointer[sip.Request]
	onRes   types.CallbackManager[TransactionResponseHandler]
}

// NewClientTransaction creates a client transaction for the request.
// The request is not sent until [ClientTransaction.Start] is called.
func NewClientTransaction(stack Stack, flow Flow, req *sip.Request, opts *TransactionOptions) (*ClientTransaction, error) {
	if req != nil && req.Method == sip.ACK {
		return nil, errtrace.Wrap(NewInvalidArgumentError("ACK request does not create a transaction"))
	}

	tx := new(ClientTransaction)
	base, err := newTransaction(tx, stack, flow, req, false, opts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	tx.transaction = base
	tx.cleanup = tx.onRes.Clear

	if tx.method == sip.INVITE {
		tx.initInviteFSM()
	} else {
		tx.initNonInviteFSM()
	}
	return tx, nil
}

const (
	txEvtRecv1xx    = "recv_1xx"
	txEvtRecv2xx    = "recv_2xx"
	txEvtRecv300699 = "recv_300-699"
	txEvtTimerA     = "timer_a"
	txEvtTimerD     = "timer_d"
	txEvtTimerE     = "timer_e"
	txEvtTimerK     = "timer_k"
	txEvtTimerM     = "timer_m"
)

func (tx *ClientTransaction) initFSM(start TransactionState) {
	tx.transaction.initFSM(start)

	resType := reflect.TypeOf((*sip.Response)(nil))
	tx.fsm.SetTriggerParameters(txEvtRecv1xx, resType)
	tx.fsm.SetTriggerParameters(txEvtRecv2xx, resType)
	tx.fsm.SetTriggerParameters(txEvtRecv300699, resType)
}

func (tx *ClientTransaction) initInviteFSM() {
	tx.initFSM(TransactionStateCalling)

	tx.fsm.Configure(TransactionStateCalling).
		InternalTransition(txEvtTimerA, tx.actResendReq).
		Permit(txEvtRecv1xx, TransactionStateProceeding).
		Permit(txEvtRecv2xx, TransactionStateAccepted).
		Permit(txEvtRecv300699, TransactionStateCompleted).
		Permit(txEvtTimedOut, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateProceeding).
		OnEntryFrom(txEvtRecv1xx, tx.actPassRes).
		OnEntry(tx.actStopRequestTimers).
		InternalTransition(txEvtRecv1xx, tx.actPassRes).
		Ignore(txEvtTimerA).
		Permit(txEvtRecv2xx, TransactionStateAccepted).
		Permit(txEvtRecv300699, TransactionStateCompleted).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateCompleted).
		OnEntryFrom(txEvtRecv300699, tx.actPassResSendAck).
		OnEntry(tx.actInviteCompleted).
		InternalTransition(txEvtRecv300699, tx.actSendAck).
		Ignore(txEvtRecv1xx).
		Ignore(txEvtRecv2xx).
		Ignore(txEvtTimerA).
		Permit(txEvtTimerD, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateAccepted).
		OnEntryFrom(txEvtRecv2xx, tx.actPassRes).
		OnEntry(tx.actAccepted).
		InternalTransition(txEvtRecv2xx, tx.actPassRes).
		Ignore(txEvtRecv1xx).
		Ignore(txEvtRecv300699).
		Ignore(txEvtTimerA).
		Permit(txEvtTimerM, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateTerminated).
		OnEntryFrom(txEvtTimedOut, tx.actTimedOut)
}

func (tx *ClientTransaction) initNonInviteFSM() {
	tx.initFSM(TransactionStateTrying)

	tx.fsm.Configure(TransactionStateTrying).
		InternalTransition(txEvtTimerE, tx.actResendReq).
		Permit(txEvtRecv1xx, TransactionStateProceeding).
		Permit(txEvtRecv2xx, TransactionStateCompleted).
		Permit(txEvtRecv300699, TransactionStateCompleted).
		Permit(txEvtTimedOut, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateProceeding).
		OnEntryFrom(txEvtRecv1xx, tx.actPassRes).
		InternalTransition(txEvtRecv1xx, tx.actPassRes).
		InternalTransition(txEvtTimerE, tx.actResendReq).
		Permit(txEvtRecv2xx, TransactionStateCompleted).
		Permit(txEvtRecv300699, TransactionStateCompleted).
		Permit(txEvtTimedOut, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateCompleted).
		OnEntryFrom(txEvtRecv2xx, tx.actPassRes).
		OnEntryFrom(txEvtRecv300699, tx.actPassRes).
		OnEntry(tx.actNonInviteCompleted).
		Ignore(txEvtRecv1xx).
		Ignore(txEvtRecv2xx).
		Ignore(txEvtRecv300699).
		Ignore(txEvtTimerE).
		Permit(txEvtTimerK, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateTerminated).
		OnEntryFrom(txEvtTimedOut, tx.actTimedOut)
}

// Start sends the request and arms the retransmission and timeout timers.
// A transport failure is reported through [ClientTransaction.OnTransportError] only.
// The transaction keeps its state and timers, the owner decides whether to wait for
// retransmissions or to call [ClientTransaction.Terminate].
func (tx *ClientTransaction) Start(ctx context.Context) error {
	if tx.disposed.Load() {
		return errtrace.Wrap(ErrDisposed)
	}
	if !tx.started.CompareAndSwap(false, true) {
		return errtrace.Wrap(newActionNotAllowedError("transaction already started"))
	}

	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction started", slog.Any("transaction", tx))

	tx.send(ctx, tx.req) //nolint:errcheck

	if tx.method == sip.INVITE {
		if !tx.reliable() {
			tx.startTimer("A", tx.timings.TimeA(), tx.onTimerA)
		}
		tx.startTimer("B", tx.timings.TimeB(), func() {
			tx.fireTimer("B", txEvtTimedOut, TransactionStateCalling)
		})
	} else {
		if !tx.reliable() {
			tx.startTimer("E", tx.timings.TimeE(), tx.onTimerE)
		}
		tx.startTimer("F", tx.timings.TimeF(), func() {
			tx.fireTimer("F", txEvtTimedOut, TransactionStateTrying, TransactionStateProceeding)
		})
	}
	return nil
}

func (tx *ClientTransaction) onTimerA() {
	d := tx.timer("A").Duration()
	tx.fireTimer("A", txEvtTimerA, TransactionStateCalling)
	if tx.State() == TransactionStateCalling {
		tx.startTimer("A", 2*d, tx.onTimerA)
	}
}

func (tx *ClientTransaction) onTimerE() {
	d := tx.timer("E").Duration()
	tx.fireTimer("E", txEvtTimerE, TransactionStateTrying, TransactionStateProceeding)
	switch tx.State() {
	case TransactionStateTrying:
		tx.startTimer("E", min(2*d, tx.timings.T2()), tx.onTimerE)
	case TransactionStateProceeding:
		tx.startTimer("E", tx.timings.T2(), tx.onTimerE)
	}
}

// RecvResponse passes an inbound response to the transaction.
// It returns [ErrTransactionNotMatched] if the response belongs to another transaction.
func (tx *ClientTransaction) RecvResponse(ctx context.Context, res *sip.Response) error {
	if tx.disposed.Load() {
		return errtrace.Wrap(ErrDisposed)
	}

	var key TransactionKey
	if err := key.FillFromResponse(res); err != nil {
		return errtrace.Wrap(err)
	}
	if !key.Equal(tx.key) {
		return errtrace.Wrap(ErrTransactionNotMatched)
	}

	switch {
	case res.StatusCode < 200:
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtRecv1xx, res))
	case res.StatusCode < 300:
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtRecv2xx, res))
	default:
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtRecv300699, res))
	}
}

func (tx *ClientTransaction) actResendReq(ctx context.Context, _ ...any) error {
	tx.send(ctx, tx.req) //nolint:errcheck
	return nil
}

func (tx *ClientTransaction) actPassRes(ctx context.Context, args ...any) error {
	res := args[0].(*sip.Response) //nolint:forcetypeassert
	tx.addResponse(res)

	tx.log.LogAttrs(ctx, slog.LevelDebug, "pass response", slog.Any("transaction", tx), slog.Any("response", res))

	for fn := range tx.onRes.All() {
		fn(ctx, tx, res)
	}
	return nil
}

func (tx *ClientTransaction) actPassResSendAck(ctx context.Context, args ...any) error {
	tx.actPassRes(ctx, args...) //nolint:errcheck
	return errtrace.Wrap(tx.actSendAck(ctx, args...))
}

// actSendAck acknowledges a non-2xx final response as defined in RFC 3261 section 17.1.1.3.
func (tx *ClientTransaction) actSendAck(ctx context.Context, args ...any) error {
	ack := tx.ack.Load()
	if ack == nil {
		ack = tx.buildAck(args[0].(*sip.Response)) //nolint:forcetypeassert
		tx.ack.Store(ack)
	}

	tx.send(ctx, ack) //nolint:errcheck
	return nil
}

func (tx *ClientTransaction) buildAck(res *sip.Response) *sip.Request {
	ack := sip.NewRequest(sip.ACK, tx.req.Recipient)
	sip.CopyHeaders("Via", tx.req, ack)
	sip.CopyHeaders("From", tx.req, ack)
	if to := res.To(); to != nil {
		ack.AppendHeader(&sip.ToHeader{DisplayName: to.DisplayName, Address: to.Address, Params: to.Params})
	}
	sip.CopyHeaders("Call-ID", tx.req, ack)
	if cseq := tx.req.CSeq(); cseq != nil {
		ack.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.ACK})
	}
	sip.CopyHeaders("Route", tx.req, ack)
	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)
	return ack
}

func (tx *ClientTransaction) actStopRequestTimers(context.Context, ...any) error {
	tx.stopTimer("A")
	tx.stopTimer("B")
	return nil
}

func (tx *ClientTransaction) actInviteCompleted(ctx context.Context, _ ...any) error {
	tx.stopTimer("A")
	tx.stopTimer("B")

	d := tx.timings.TimeD()
	if tx.reliable() {
		d = 0
	}
	tx.startTimer("D", d, func() {
		tx.fireTimer("D", txEvtTimerD, TransactionStateCompleted)
	})
	return nil
}

func (tx *ClientTransaction) actAccepted(ctx context.Context, _ ...any) error {
	tx.stopTimer("A")
	tx.stopTimer("B")
	tx.startTimer("M", tx.timings.TimeM(), func() {
		tx.fireTimer("M", txEvtTimerM, TransactionStateAccepted)
	})
	return nil
}

func (tx *ClientTransaction) actNonInviteCompleted(ctx context.Context, _ ...any) error {
	tx.stopTimer("E")
	tx.stopTimer("F")

	d := tx.timings.TimeK()
	if tx.reliable() {
		d = 0
	}
	tx.startTimer("K", d, func() {
		tx.fireTimer("K", txEvtTimerK, TransactionStateCompleted)
	})
	return nil
}

// Cancel sends a CANCEL request for a proceeding INVITE transaction as defined in RFC 3261 section 9.1.
// The CANCEL is dispatched through [Stack.CreateRequestSender] over the transaction flow.
func (tx *ClientTransaction) Cancel(ctx context.Context) error {
	if tx.disposed.Load() {
		return errtrace.Wrap(ErrDisposed)
	}
	if tx.method != sip.INVITE {
		return errtrace.Wrap(newActionNotAllowedError("cancel %s transaction", tx.method))
	}
	if st := tx.State(); st != TransactionStateProceeding {
		return errtrace.Wrap(newActionNotAllowedError("cancel transaction in state %q", st))
	}

	stack, flow := tx.currentStack(), tx.currentFlow()
	if stack == nil {
		return errtrace.Wrap(ErrDisposed)
	}

	sender, err := stack.CreateRequestSender(tx.buildCancel(), flow)
	if err != nil {
		return errtrace.Wrap(err)
	}
	return errtrace.Wrap(sender.Start(ctx))
}

func (tx *ClientTransaction) buildCancel() *sip.Request {
	cancel := sip.NewRequest(sip.CANCEL, tx.req.Recipient)
	sip.CopyHeaders("Via", tx.req, cancel)
	sip.CopyHeaders("From", tx.req, cancel)
	sip.CopyHeaders("To", tx.req, cancel)
	sip.CopyHeaders("Call-ID", tx.req, cancel)
	if cseq := tx.req.CSeq(); cseq != nil {
		cancel.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.CANCEL})
	}
	sip.CopyHeaders("Route", tx.req, cancel)
	maxFwd := sip.MaxForwardsHeader(70)
	cancel.AppendHeader(&maxFwd)
	return cancel
}

// OnResponse registers a callback called on each response passed to the transaction user.
func (tx *ClientTransaction) OnResponse(fn TransactionResponseHandler) (cancel func()) {
	return tx.onRes.Add(fn)
}

// Snapshot returns a serializable view of the transaction.
func (tx *ClientTransaction) Snapshot() *TransactionSnapshot {
	if tx == nil {
		return nil
	}
	return tx.snapshot()
}

// LogValue implements [slog.LogValuer].
func (tx *ClientTransaction) LogValue() slog.Value {
	if tx == nil {
		return slog.Value{}
	}
	return tx.logValue()
}
