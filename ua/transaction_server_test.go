package ua_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipcore/log"
	"github.com/ghettovoice/sipcore/ua"
)

func newServerTx(tb testing.TB, flow *stubFlow, req *sip.Request) *ua.ServerTransaction {
	tb.Helper()

	tx, err := ua.NewServerTransaction(newStubStack(flow, fastTimings), flow, req, &ua.TransactionOptions{Timings: fastTimings, Log: log.Noop()})
	if err != nil {
		tb.Fatalf("ua.NewServerTransaction() error = %v, want nil", err)
	}
	tb.Cleanup(func() { tx.Terminate(context.Background()) }) //nolint:errcheck
	return tx
}

func waitTxError(tb testing.TB, errCh <-chan error, want error, timeout time.Duration) {
	tb.Helper()

	select {
	case err := <-errCh:
		if !errors.Is(err, want) {
			tb.Fatalf("transaction error = %v, want %v", err, want)
		}
	case <-time.After(timeout):
		tb.Fatalf("no transaction error within %v, want %v", timeout, want)
	}
}

func TestServerTransaction_Invite2xxRetransmittedUntilAck(t *testing.T) {
	t.Parallel()

	flow := newStubFlow(false)
	req := newRequest(t, sip.INVITE, "z9hG4bK-stx-1", 1)
	tx := newServerTx(t, flow, req)

	if got, want := tx.State(), ua.TransactionStateProceeding; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}

	if err := tx.SendResponse(t.Context(), newResponse(t, req, 180, "Ringing", "alice-tag")); err != nil {
		t.Fatalf("tx.SendResponse(180) error = %v, want nil", err)
	}
	if got := flow.waitSendRes(t, 100*time.Millisecond); got.StatusCode != 180 {
		t.Fatalf("sent response = %d, want 180", got.StatusCode)
	}
	// request retransmission resends the last provisional response
	if err := tx.RecvRequest(t.Context(), req); err != nil {
		t.Fatalf("tx.RecvRequest(INVITE) error = %v, want nil", err)
	}
	if got := flow.waitSendRes(t, 100*time.Millisecond); got.StatusCode != 180 {
		t.Fatalf("resent response = %d, want 180", got.StatusCode)
	}

	ok := newResponse(t, req, 200, "OK", "alice-tag")
	if err := tx.SendResponse(t.Context(), ok); err != nil {
		t.Fatalf("tx.SendResponse(200) error = %v, want nil", err)
	}
	if got, want := tx.State(), ua.TransactionStateAccepted; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}
	for i := range 3 {
		if got := flow.waitSendRes(t, 100*time.Millisecond); got != ok {
			t.Fatalf("send #%d = %v, want the 200", i, got.StartLine())
		}
	}

	// the ACK to a 2xx has its own branch and matches by CSeq
	ack := withToTag(newRequest(t, sip.ACK, "z9hG4bK-stx-1-ack", 1), "alice-tag")
	if err := tx.RecvRequest(t.Context(), ack); err != nil {
		t.Fatalf("tx.RecvRequest(ACK) error = %v, want nil", err)
	}
	if !tx.IsAcknowledged() {
		t.Fatalf("tx.IsAcknowledged() = false, want true")
	}
	if got, want := tx.State(), ua.TransactionStateAccepted; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}

	time.Sleep(20 * time.Millisecond)
	flow.drain()
	flow.ensureNoSend(t, 60*time.Millisecond)

	wrongAck := newRequest(t, sip.ACK, "z9hG4bK-stx-1-ack2", 2)
	if err := tx.RecvRequest(t.Context(), wrongAck); !errors.Is(err, ua.ErrTransactionNotMatched) {
		t.Fatalf("tx.RecvRequest(ACK CSeq 2) error = %v, want %v", err, ua.ErrTransactionNotMatched)
	}

	// Timer L
	waitForTxState(t, tx, ua.TransactionStateTerminated, time.Second)
}

func TestServerTransaction_InviteNon2xxConfirmed(t *testing.T) {
	t.Parallel()

	flow := newStubFlow(false)
	req := newRequest(t, sip.INVITE, "z9hG4bK-stx-2", 1)
	tx := newServerTx(t, flow, req)

	busy := newResponse(t, req, 486, "Busy Here", "alice-tag")
	if err := tx.SendResponse(t.Context(), busy); err != nil {
		t.Fatalf("tx.SendResponse(486) error = %v, want nil", err)
	}
	if got, want := tx.State(), ua.TransactionStateCompleted; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}
	for i := range 2 {
		if got := flow.waitSendRes(t, 100*time.Millisecond); got != busy {
			t.Fatalf("send #%d = %v, want the 486", i, got.StartLine())
		}
	}

	ack := withToTag(newRequest(t, sip.ACK, "z9hG4bK-stx-2", 1), "alice-tag")
	if err := tx.RecvRequest(t.Context(), ack); err != nil {
		t.Fatalf("tx.RecvRequest(ACK) error = %v, want nil", err)
	}
	if got, want := tx.State(), ua.TransactionStateConfirmed; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}
	// ACK retransmissions are absorbed
	if err := tx.RecvRequest(t.Context(), ack); err != nil {
		t.Fatalf("tx.RecvRequest(ACK) retransmission error = %v, want nil", err)
	}

	// Timer I = T4
	waitForTxState(t, tx, ua.TransactionStateTerminated, 500*time.Millisecond)
}

func TestServerTransaction_TimerH(t *testing.T) {
	t.Parallel()

	flow := newStubFlow(true)
	req := newRequest(t, sip.INVITE, "z9hG4bK-stx-3", 1)
	tx := newServerTx(t, flow, req)

	errCh := make(chan error, 1)
	tx.OnTransactionError(func(_ context.Context, _ ua.Transaction, err error) { errCh <- err })
	timedOut := make(chan struct{}, 1)
	tx.OnTimedOut(func(context.Context, ua.Transaction) { timedOut <- struct{}{} })

	if err := tx.SendResponse(t.Context(), newResponse(t, req, 603, "Decline", "alice-tag")); err != nil {
		t.Fatalf("tx.SendResponse(603) error = %v, want nil", err)
	}
	flow.waitSendRes(t, 100*time.Millisecond)
	// no retransmissions over reliable flows
	flow.ensureNoSend(t, 50*time.Millisecond)

	waitTxError(t, errCh, ua.ErrAckNotReceived, 2*time.Second)
	select {
	case <-timedOut:
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("OnTimedOut was not called")
	}
	waitForTxState(t, tx, ua.TransactionStateTerminated, 100*time.Millisecond)
}

func TestServerTransaction_TimerLWithoutAck(t *testing.T) {
	t.Parallel()

	flow := newStubFlow(true)
	req := newRequest(t, sip.INVITE, "z9hG4bK-stx-4", 1)
	tx := newServerTx(t, flow, req)

	errCh := make(chan error, 1)
	tx.OnTransactionError(func(_ context.Context, _ ua.Transaction, err error) { errCh <- err })

	if err := tx.SendResponse(t.Context(), newResponse(t, req, 200, "OK", "alice-tag")); err != nil {
		t.Fatalf("tx.SendResponse(200) error = %v, want nil", err)
	}

	waitTxError(t, errCh, ua.ErrAckNotReceived, 2*time.Second)
	waitForTxState(t, tx, ua.TransactionStateTerminated, 100*time.Millisecond)
}

func TestServerTransaction_SendError(t *testing.T) {
	t.Parallel()

	flow := newStubFlow(true)
	req := newRequest(t, sip.INVITE, "z9hG4bK-stx-5", 1)
	tx := newServerTx(t, flow, req)

	errCh := make(chan error, 1)
	tx.OnTransportError(func(_ context.Context, _ ua.Transaction, err error) { errCh <- err })

	flow.failSend.Store(true)
	if err := tx.SendResponse(t.Context(), newResponse(t, req, 200, "OK", "alice-tag")); !errors.Is(err, errStubSend) {
		t.Fatalf("tx.SendResponse(200) error = %v, want %v", err, errStubSend)
	}
	waitTxError(t, errCh, errStubSend, 10*time.Millisecond)
	if got, want := tx.State(), ua.TransactionStateProceeding; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}
	if final, _ := tx.FinalResponse(); final != nil {
		t.Fatalf("tx.FinalResponse() = %v, want nil", final)
	}
}

func TestServerTransaction_SendResponseNotAllowed(t *testing.T) {
	t.Parallel()

	flow := newStubFlow(true)
	req := newRequest(t, sip.INVITE, "z9hG4bK-stx-6", 1)
	tx := newServerTx(t, flow, req)

	if err := tx.SendResponse(t.Context(), newResponse(t, req, 480, "Temporarily Unavailable", "alice-tag")); err != nil {
		t.Fatalf("tx.SendResponse(480) error = %v, want nil", err)
	}
	flow.drain()

	if err := tx.SendResponse(t.Context(), newResponse(t, req, 200, "OK", "alice-tag")); !errors.Is(err, ua.ErrActionNotAllowed) {
		t.Fatalf("tx.SendResponse(200) in completed error = %v, want %v", err, ua.ErrActionNotAllowed)
	}
	flow.ensureNoSend(t, 20*time.Millisecond)
	if err := tx.SendResponse(t.Context(), nil); !errors.Is(err, ua.ErrInvalidArgument) {
		t.Fatalf("tx.SendResponse(nil) error = %v, want %v", err, ua.ErrInvalidArgument)
	}
}

func TestServerTransaction_NonInvite(t *testing.T) {
	t.Parallel()

	flow := newStubFlow(false)
	req := newRequest(t, sip.OPTIONS, "z9hG4bK-stx-7", 1)
	tx := newServerTx(t, flow, req)

	if got, want := tx.State(), ua.TransactionStateTrying; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}
	// nothing to resend in trying
	if err := tx.RecvRequest(t.Context(), req); err != nil {
		t.Fatalf("tx.RecvRequest(OPTIONS) error = %v, want nil", err)
	}
	flow.ensureNoSend(t, 20*time.Millisecond)

	if err := tx.SendResponse(t.Context(), newResponse(t, req, 100, "Trying", "")); err != nil {
		t.Fatalf("tx.SendResponse(100) error = %v, want nil", err)
	}
	flow.waitSendRes(t, 100*time.Millisecond)
	if got, want := tx.State(), ua.TransactionStateProceeding; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}

	ok := newResponse(t, req, 200, "OK", "alice-tag")
	if err := tx.SendResponse(t.Context(), ok); err != nil {
		t.Fatalf("tx.SendResponse(200) error = %v, want nil", err)
	}
	flow.waitSendRes(t, 100*time.Millisecond)
	if got, want := tx.State(), ua.TransactionStateCompleted; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}

	if err := tx.RecvRequest(t.Context(), req); err != nil {
		t.Fatalf("tx.RecvRequest(OPTIONS) error = %v, want nil", err)
	}
	if got := flow.waitSendRes(t, 100*time.Millisecond); got != ok {
		t.Fatalf("resent response = %v, want the 200", got.StartLine())
	}

	// an ACK never matches a non-INVITE transaction
	if err := tx.RecvRequest(t.Context(), newRequest(t, sip.ACK, "z9hG4bK-stx-7", 1)); !errors.Is(err, ua.ErrTransactionNotMatched) {
		t.Fatalf("tx.RecvRequest(ACK) error = %v, want %v", err, ua.ErrTransactionNotMatched)
	}

	// Timer J
	waitForTxState(t, tx, ua.TransactionStateTerminated, time.Second)
}

func TestServerTransaction_Cancel(t *testing.T) {
	t.Parallel()

	flow := newStubFlow(true)
	req := newRequest(t, sip.INVITE, "z9hG4bK-stx-8", 1)
	tx := newServerTx(t, flow, req)

	if err := tx.SendResponse(t.Context(), newResponse(t, req, 180, "Ringing", "alice-tag")); err != nil {
		t.Fatalf("tx.SendResponse(180) error = %v, want nil", err)
	}
	flow.drain()

	if err := tx.Cancel(t.Context()); err != nil {
		t.Fatalf("tx.Cancel() error = %v, want nil", err)
	}
	res := flow.waitSendRes(t, 100*time.Millisecond)
	if res.StatusCode != 487 {
		t.Fatalf("sent response = %d, want 487", res.StatusCode)
	}
	if got, want := tx.State(), ua.TransactionStateTerminated; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}
	if err := tx.SendResponse(t.Context(), newResponse(t, req, 200, "OK", "alice-tag")); !errors.Is(err, ua.ErrDisposed) {
		t.Fatalf("tx.SendResponse() after cancel error = %v, want %v", err, ua.ErrDisposed)
	}
}

func TestServerTransaction_CancelAfterFinal(t *testing.T) {
	t.Parallel()

	flow := newStubFlow(true)
	req := newRequest(t, sip.INVITE, "z9hG4bK-stx-9", 1)
	tx := newServerTx(t, flow, req)

	if err := tx.SendResponse(t.Context(), newResponse(t, req, 200, "OK", "alice-tag")); err != nil {
		t.Fatalf("tx.SendResponse(200) error = %v, want nil", err)
	}
	flow.drain()

	if err := tx.Cancel(t.Context()); err != nil {
		t.Fatalf("tx.Cancel() error = %v, want nil", err)
	}
	flow.ensureNoSend(t, 20*time.Millisecond)
	if got, want := tx.State(), ua.TransactionStateTerminated; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}
}
