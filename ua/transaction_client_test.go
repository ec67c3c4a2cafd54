package ua_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ghettovoice/sipcore/log"
	"github.com/ghettovoice/sipcore/ua"
)

func newClientTx(tb testing.TB, flow *stubFlow, req *sip.Request) (*ua.ClientTransaction, *stubStack) {
	tb.Helper()

	stack := newStubStack(flow, fastTimings)
	tx, err := ua.NewClientTransaction(stack, flow, req, &ua.TransactionOptions{Timings: fastTimings, Log: log.Noop()})
	if err != nil {
		tb.Fatalf("ua.NewClientTransaction() error = %v, want nil", err)
	}
	tb.Cleanup(func() { tx.Terminate(context.Background()) }) //nolint:errcheck
	return tx, stack
}

func TestNewClientTransaction_Invalid(t *testing.T) {
	t.Parallel()

	flow := newStubFlow(true)
	stack := newStubStack(flow, fastTimings)

	cases := []struct {
		name  string
		stack ua.Stack
		flow  ua.Flow
		req   *sip.Request
	}{
		{"nil stack", nil, flow, newRequest(t, sip.INVITE, "z9hG4bK-ctx-inv-1", 1)},
		{"nil flow", stack, nil, newRequest(t, sip.INVITE, "z9hG4bK-ctx-inv-2", 1)},
		{"nil request", stack, flow, nil},
		{"ACK request", stack, flow, newRequest(t, sip.ACK, "z9hG4bK-ctx-inv-3", 1)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			_, err := ua.NewClientTransaction(c.stack, c.flow, c.req, nil)
			if diff := cmp.Diff(err, ua.ErrInvalidArgument, cmpopts.EquateErrors()); diff != "" {
				t.Fatalf("ua.NewClientTransaction() error = %v, want %v", err, ua.ErrInvalidArgument)
			}
		})
	}
}

func TestClientTransaction_InviteAccepted(t *testing.T) {
	t.Parallel()

	flow := newStubFlow(true)
	req := newRequest(t, sip.INVITE, "z9hG4bK-ctx-1", 1)
	tx, _ := newClientTx(t, flow, req)

	if got, want := tx.State(), ua.TransactionStateCalling; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}

	resCh := make(chan *sip.Response, 4)
	tx.OnResponse(func(_ context.Context, _ *ua.ClientTransaction, res *sip.Response) { resCh <- res })

	if err := tx.Start(t.Context()); err != nil {
		t.Fatalf("tx.Start() error = %v, want nil", err)
	}
	if got := flow.waitSendReq(t, 100*time.Millisecond); got.Method != sip.INVITE {
		t.Fatalf("sent request method = %s, want INVITE", got.Method)
	}
	if err := tx.Start(t.Context()); !errors.Is(err, ua.ErrActionNotAllowed) {
		t.Fatalf("second tx.Start() error = %v, want %v", err, ua.ErrActionNotAllowed)
	}

	if err := tx.RecvResponse(t.Context(), newResponse(t, req, 180, "Ringing", "to-1")); err != nil {
		t.Fatalf("tx.RecvResponse(180) error = %v, want nil", err)
	}
	assertResponseStatus(t, resCh, 180)
	if got, want := tx.State(), ua.TransactionStateProceeding; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}

	ok := newResponse(t, req, 200, "OK", "to-1")
	if err := tx.RecvResponse(t.Context(), ok); err != nil {
		t.Fatalf("tx.RecvResponse(200) error = %v, want nil", err)
	}
	assertResponseStatus(t, resCh, 200)
	if got, want := tx.State(), ua.TransactionStateAccepted; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}

	// 2xx retransmissions are passed up while accepted
	if err := tx.RecvResponse(t.Context(), ok); err != nil {
		t.Fatalf("tx.RecvResponse(200) retransmission error = %v, want nil", err)
	}
	assertResponseStatus(t, resCh, 200)
	flow.ensureNoSend(t, 20*time.Millisecond)

	final, err := tx.FinalResponse()
	if err != nil {
		t.Fatalf("tx.FinalResponse() error = %v, want nil", err)
	}
	if final != ok {
		t.Fatalf("tx.FinalResponse() = %v, want %v", final, ok)
	}
	if has, _ := tx.HasProvisionalResponse(); !has {
		t.Fatalf("tx.HasProvisionalResponse() = false, want true")
	}

	waitForTxState(t, tx, ua.TransactionStateTerminated, time.Second)
	if !tx.IsDisposed() {
		t.Fatalf("tx.IsDisposed() = false, want true")
	}
	if _, err := tx.Responses(); !errors.Is(err, ua.ErrDisposed) {
		t.Fatalf("tx.Responses() error = %v, want %v", err, ua.ErrDisposed)
	}
}

func TestClientTransaction_InviteRejected(t *testing.T) {
	t.Parallel()

	flow := newStubFlow(true)
	req := newRequest(t, sip.INVITE, "z9hG4bK-ctx-2", 5)
	tx, _ := newClientTx(t, flow, req)

	if err := tx.Start(t.Context()); err != nil {
		t.Fatalf("tx.Start() error = %v, want nil", err)
	}
	flow.waitSendReq(t, 100*time.Millisecond)

	if err := tx.RecvResponse(t.Context(), newResponse(t, req, 486, "Busy Here", "to-2")); err != nil {
		t.Fatalf("tx.RecvResponse(486) error = %v, want nil", err)
	}

	ack := flow.waitSendReq(t, 100*time.Millisecond)
	if ack.Method != sip.ACK {
		t.Fatalf("sent request method = %s, want ACK", ack.Method)
	}
	if tag, _ := ack.To().Params.Get("tag"); tag != "to-2" {
		t.Fatalf("ACK To tag = %q, want %q", tag, "to-2")
	}
	if cseq := ack.CSeq(); cseq.SeqNo != 5 || cseq.MethodName != sip.ACK {
		t.Fatalf("ACK CSeq = %v, want 5 ACK", cseq)
	}
	if got, _ := ack.Via().Params.Get("branch"); got != "z9hG4bK-ctx-2" {
		t.Fatalf("ACK Via branch = %q, want %q", got, "z9hG4bK-ctx-2")
	}

	// reliable flows skip Timer D
	waitForTxState(t, tx, ua.TransactionStateTerminated, 100*time.Millisecond)
}

func TestClientTransaction_InviteRetransmitsOverUnreliableFlow(t *testing.T) {
	t.Parallel()

	flow := newStubFlow(false)
	req := newRequest(t, sip.INVITE, "z9hG4bK-ctx-3", 1)
	tx, _ := newClientTx(t, flow, req)

	if err := tx.Start(t.Context()); err != nil {
		t.Fatalf("tx.Start() error = %v, want nil", err)
	}
	for i := range 3 {
		if got := flow.waitSendReq(t, 100*time.Millisecond); got != req {
			t.Fatalf("send #%d = %v, want the INVITE", i, got.StartLine())
		}
	}

	if err := tx.RecvResponse(t.Context(), newResponse(t, req, 100, "Trying", "")); err != nil {
		t.Fatalf("tx.RecvResponse(100) error = %v, want nil", err)
	}
	time.Sleep(20 * time.Millisecond)
	flow.drain()
	flow.ensureNoSend(t, 60*time.Millisecond)
}

func TestClientTransaction_TimerB(t *testing.T) {
	t.Parallel()

	flow := newStubFlow(true)
	tx, _ := newClientTx(t, flow, newRequest(t, sip.INVITE, "z9hG4bK-ctx-4", 1))

	timedOut := make(chan struct{}, 1)
	tx.OnTimedOut(func(context.Context, ua.Transaction) { timedOut <- struct{}{} })

	if err := tx.Start(t.Context()); err != nil {
		t.Fatalf("tx.Start() error = %v, want nil", err)
	}
	select {
	case <-timedOut:
	case <-time.After(2 * time.Second):
		t.Fatalf("OnTimedOut was not called")
	}
	waitForTxState(t, tx, ua.TransactionStateTerminated, 100*time.Millisecond)
}

func TestClientTransaction_StartTransportError(t *testing.T) {
	t.Parallel()

	flow := newStubFlow(false)
	flow.failSend.Store(true)
	req := newRequest(t, sip.OPTIONS, "z9hG4bK-ctx-5", 1)
	tx, _ := newClientTx(t, flow, req)

	errCh := make(chan error, 1)
	tx.OnTransportError(func(_ context.Context, _ ua.Transaction, err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	if err := tx.Start(t.Context()); err != nil {
		t.Fatalf("tx.Start() error = %v, want nil", err)
	}
	select {
	case err := <-errCh:
		if !errors.Is(err, errStubSend) {
			t.Fatalf("transport error = %v, want %v", err, errStubSend)
		}
	default:
		t.Fatalf("OnTransportError was not called")
	}
	if got, want := tx.State(), ua.TransactionStateTrying; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}
	if _, err := tx.Request(); err != nil {
		t.Fatalf("tx.Request() error = %v, want nil", err)
	}

	// Timer E keeps retransmitting once the flow recovers.
	flow.failSend.Store(false)
	if got := flow.waitSendReq(t, time.Second); got.Method != sip.OPTIONS {
		t.Fatalf("retransmitted method = %v, want %v", got.Method, sip.OPTIONS)
	}
	if err := tx.RecvResponse(t.Context(), newResponse(t, req, 200, "OK", "to-5")); err != nil {
		t.Fatalf("tx.RecvResponse(200) error = %v, want nil", err)
	}
	if got, want := tx.State(), ua.TransactionStateCompleted; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}
	waitForTxState(t, tx, ua.TransactionStateTerminated, time.Second)
}

func TestClientTransaction_TransportErrorTerminateByOwner(t *testing.T) {
	t.Parallel()

	flow := newStubFlow(true)
	flow.failSend.Store(true)
	tx, _ := newClientTx(t, flow, newRequest(t, sip.INVITE, "z9hG4bK-ctx-5b", 1))

	var transpErrs atomic.Int32
	tx.OnTransportError(func(context.Context, ua.Transaction, error) { transpErrs.Add(1) })

	if err := tx.Start(t.Context()); err != nil {
		t.Fatalf("tx.Start() error = %v, want nil", err)
	}
	if got := transpErrs.Load(); got != 1 {
		t.Fatalf("transport errors = %d, want 1", got)
	}
	if got, want := tx.State(), ua.TransactionStateCalling; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}

	if err := tx.Terminate(t.Context()); err != nil {
		t.Fatalf("tx.Terminate() error = %v, want nil", err)
	}
	if got, want := tx.State(), ua.TransactionStateTerminated; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}
	if _, err := tx.Request(); !errors.Is(err, ua.ErrDisposed) {
		t.Fatalf("tx.Request() error = %v, want %v", err, ua.ErrDisposed)
	}
	if got, want := tx.ID(), "z9hG4bK-ctx-5b"; got != want {
		t.Fatalf("tx.ID() after disposal = %q, want %q", got, want)
	}
	if got := tx.Key(); got.Branch != "z9hG4bK-ctx-5b" || got.Method != string(sip.INVITE) {
		t.Fatalf("tx.Key() after disposal = %v, want branch z9hG4bK-ctx-5b and method INVITE", got)
	}
}

func TestClientTransaction_ProvisionalResponsesCapped(t *testing.T) {
	t.Parallel()

	flow := newStubFlow(true)
	req := newRequest(t, sip.INVITE, "z9hG4bK-ctx-6", 1)
	tx, _ := newClientTx(t, flow, req)

	if err := tx.Start(t.Context()); err != nil {
		t.Fatalf("tx.Start() error = %v, want nil", err)
	}
	for i := range 20 {
		if err := tx.RecvResponse(t.Context(), newResponse(t, req, 180, fmt.Sprintf("Ringing %d", i), "to-6")); err != nil {
			t.Fatalf("tx.RecvResponse(180 #%d) error = %v, want nil", i, err)
		}
	}
	if err := tx.RecvResponse(t.Context(), newResponse(t, req, 200, "OK", "to-6")); err != nil {
		t.Fatalf("tx.RecvResponse(200) error = %v, want nil", err)
	}

	ress, err := tx.Responses()
	if err != nil {
		t.Fatalf("tx.Responses() error = %v, want nil", err)
	}
	if got, want := len(ress), 16; got != want {
		t.Fatalf("len(tx.Responses()) = %d, want %d", got, want)
	}
	if got := ress[len(ress)-1].StatusCode; got != 200 {
		t.Fatalf("last response status = %d, want 200", got)
	}
	last, _ := tx.LastProvisionalResponse()
	if got, want := last.Reason, "Ringing 14"; got != want {
		t.Fatalf("tx.LastProvisionalResponse().Reason = %q, want %q", got, want)
	}
}

func TestClientTransaction_ResponseNotMatched(t *testing.T) {
	t.Parallel()

	flow := newStubFlow(true)
	tx, _ := newClientTx(t, flow, newRequest(t, sip.INVITE, "z9hG4bK-ctx-7", 1))
	if err := tx.Start(t.Context()); err != nil {
		t.Fatalf("tx.Start() error = %v, want nil", err)
	}

	other := newRequest(t, sip.INVITE, "z9hG4bK-ctx-other", 1)
	if err := tx.RecvResponse(t.Context(), newResponse(t, other, 200, "OK", "x")); !errors.Is(err, ua.ErrTransactionNotMatched) {
		t.Fatalf("tx.RecvResponse() error = %v, want %v", err, ua.ErrTransactionNotMatched)
	}
	if got, want := tx.State(), ua.TransactionStateCalling; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}
}

func TestClientTransaction_Cancel(t *testing.T) {
	t.Parallel()

	flow := newStubFlow(true)
	req := newRequest(t, sip.INVITE, "z9hG4bK-ctx-8", 3)
	tx, stack := newClientTx(t, flow, req)

	if err := tx.Start(t.Context()); err != nil {
		t.Fatalf("tx.Start() error = %v, want nil", err)
	}
	flow.waitSendReq(t, 100*time.Millisecond)

	if err := tx.Cancel(t.Context()); !errors.Is(err, ua.ErrActionNotAllowed) {
		t.Fatalf("tx.Cancel() in calling error = %v, want %v", err, ua.ErrActionNotAllowed)
	}

	if err := tx.RecvResponse(t.Context(), newResponse(t, req, 180, "Ringing", "to-8")); err != nil {
		t.Fatalf("tx.RecvResponse(180) error = %v, want nil", err)
	}
	if err := tx.Cancel(t.Context()); err != nil {
		t.Fatalf("tx.Cancel() error = %v, want nil", err)
	}

	cancel := flow.waitSendReq(t, 100*time.Millisecond)
	if cancel.Method != sip.CANCEL {
		t.Fatalf("sent request method = %s, want CANCEL", cancel.Method)
	}
	if got, _ := cancel.Via().Params.Get("branch"); got != "z9hG4bK-ctx-8" {
		t.Fatalf("CANCEL Via branch = %q, want %q", got, "z9hG4bK-ctx-8")
	}
	if cseq := cancel.CSeq(); cseq.SeqNo != 3 || cseq.MethodName != sip.CANCEL {
		t.Fatalf("CANCEL CSeq = %v, want 3 CANCEL", cseq)
	}
	if _, ok := cancel.To().Params.Get("tag"); ok {
		t.Fatalf("CANCEL To has a tag, want none")
	}

	cancelTx := stack.lastSender(t, sip.CANCEL).Transaction()
	if err := cancelTx.RecvResponse(t.Context(), newResponse(t, cancel, 200, "OK", "to-8")); err != nil {
		t.Fatalf("cancelTx.RecvResponse(200) error = %v, want nil", err)
	}
	if err := tx.RecvResponse(t.Context(), newResponse(t, req, 487, "Request Terminated", "to-8")); err != nil {
		t.Fatalf("tx.RecvResponse(487) error = %v, want nil", err)
	}
	if got := flow.waitSendReq(t, 100*time.Millisecond); got.Method != sip.ACK {
		t.Fatalf("sent request method = %s, want ACK", got.Method)
	}

	waitForTxState(t, cancelTx, ua.TransactionStateTerminated, 100*time.Millisecond)
	waitForTxState(t, tx, ua.TransactionStateTerminated, 100*time.Millisecond)
}

func TestClientTransaction_NonInvite(t *testing.T) {
	t.Parallel()

	flow := newStubFlow(false)
	req := newRequest(t, sip.OPTIONS, "z9hG4bK-ctx-9", 1)
	tx, _ := newClientTx(t, flow, req)

	if got, want := tx.State(), ua.TransactionStateTrying; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}

	var nres atomic.Int32
	tx.OnResponse(func(context.Context, *ua.ClientTransaction, *sip.Response) { nres.Add(1) })

	if err := tx.Start(t.Context()); err != nil {
		t.Fatalf("tx.Start() error = %v, want nil", err)
	}
	flow.waitSendReq(t, 100*time.Millisecond)
	// Timer E retransmission
	if got := flow.waitSendReq(t, 100*time.Millisecond); got != req {
		t.Fatalf("retransmission = %v, want the OPTIONS", got.StartLine())
	}

	ok := newResponse(t, req, 200, "OK", "to-9")
	if err := tx.RecvResponse(t.Context(), ok); err != nil {
		t.Fatalf("tx.RecvResponse(200) error = %v, want nil", err)
	}
	if got, want := tx.State(), ua.TransactionStateCompleted; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}
	// absorbed in completed
	if err := tx.RecvResponse(t.Context(), ok); err != nil {
		t.Fatalf("tx.RecvResponse(200) retransmission error = %v, want nil", err)
	}
	if got := nres.Load(); got != 1 {
		t.Fatalf("responses passed = %d, want 1", got)
	}

	// Timer K = T4
	waitForTxState(t, tx, ua.TransactionStateTerminated, 500*time.Millisecond)
}
