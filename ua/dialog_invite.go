package ua

import (
	"context"
	"log/slog"
	"slices"
	"strconv"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipcore/internal/types"
)

// ackNotReceivedReason is the termination reason of an early UAS dialog whose 2xx was never acknowledged.
const ackNotReceivedReason = "ACK was not received for initial INVITE 2xx response"

// InviteByeHandler is called when the remote party terminates the dialog with BYE.
type InviteByeHandler = func(ctx context.Context, dlg *InviteDialog, evt *RequestEvent)

type inviteData struct {
	// activeKey refers to the INVITE transaction that governs the dialog confirmation.
	// It is resolved through the dialog transaction set and cleared once the transaction terminates.
	activeKey TransactionKey
	reason    string
	byRemote  bool
	onBye     types.CallbackManager[InviteByeHandler]
}

// InviteDialog is a dialog established by INVITE as defined in RFC 3261 sections 12 to 15.
type InviteDialog struct {
	*dialog
}

var _ Dialog = (*InviteDialog)(nil)

// NewInviteDialog creates a dialog from the INVITE transaction and the 1xx or 2xx response
// that establishes it.
//
// On the UAS side the dialog starts Early and waits for the ACK.
// On the UAC side a 2xx response confirms the dialog immediately,
// a 1xx response starts it Early until a 2xx arrives on the same transaction.
func NewInviteDialog(ctx context.Context, stack Stack, tx Transaction, res *sip.Response, opts *DialogOptions) (*InviteDialog, error) {
	if res != nil && res.StatusCode >= 300 {
		return nil, errtrace.Wrap(NewInvalidArgumentError(ErrUnexpectedResponse))
	}

	d, err := newDialog(DialogKindInvite, stack, tx, res, opts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	dlg := &InviteDialog{dialog: d}
	d.impl = dlg

	d.mu.Lock()
	defer d.unlock()

	if err := d.initInvite(ctx, tx, res); err != nil {
		return nil, errtrace.Wrap(err)
	}
	return dlg, nil
}

// initInvite must be called with mu held.
func (d *dialog) initInvite(ctx context.Context, tx Transaction, res *sip.Response) error {
	switch {
	case res.StatusCode < 100 || res.StatusCode >= 300:
		return errtrace.Wrap(NewInvalidArgumentError(ErrUnexpectedResponse))
	case d.server:
		// Both 1xx and 2xx legs track the INVITE transaction, so a 2xx that is never
		// acknowledged ends the dialog when Timer L fires. A confirmed dialog ignores it.
		if err := d.setState(ctx, DialogStateEarly, false); err != nil {
			return errtrace.Wrap(err)
		}
		d.inv.activeKey = tx.Key()
		tx.OnStateChanged(d.onServerInviteStateChanged)
	case res.StatusCode >= 200:
		return errtrace.Wrap(d.setState(ctx, DialogStateConfirmed, false))
	default:
		clnTx, ok := tx.(*ClientTransaction)
		if !ok {
			return errtrace.Wrap(NewInvalidArgumentError("unsupported client transaction type %T", tx))
		}
		if err := d.setState(ctx, DialogStateEarly, false); err != nil {
			return errtrace.Wrap(err)
		}
		d.inv.activeKey = tx.Key()
		clnTx.OnStateChanged(d.onClientInviteStateChanged)
		clnTx.OnResponse(d.onClientInviteResponse)
	}
	return nil
}

// onServerInviteStateChanged implements RFC 3261 section 13.3.1.4:
// if the 2xx was retransmitted for 64*T1 without an ACK, the dialog is confirmed and then terminated.
func (d *dialog) onServerInviteStateChanged(ctx context.Context, tx Transaction, _, to TransactionState) {
	if to != TransactionStateTerminated {
		return
	}

	d.mu.Lock()
	defer d.unlock()

	if d.disposed.Load() || !d.inv.activeKey.Equal(tx.Key()) {
		return
	}
	d.inv.activeKey = TransactionKey{}

	var err error
	switch d.State() {
	case DialogStateEarly:
		if err = d.setState(ctx, DialogStateConfirmed, true); err == nil {
			err = d.terminateInvite(ctx, ackNotReceivedReason, true)
		}
	case DialogStateTerminating:
		if err = d.setState(ctx, DialogStateConfirmed, false); err == nil {
			err = d.terminateInvite(ctx, d.inv.reason, true)
		}
	}
	if err != nil {
		d.log.LogAttrs(ctx, slog.LevelWarn, "failed to terminate dialog", slog.Any("dialog", d.id), slog.Any("error", err))
	}
}

func (d *dialog) onClientInviteStateChanged(_ context.Context, tx Transaction, _, to TransactionState) {
	if to != TransactionStateTerminated {
		return
	}

	d.mu.Lock()
	defer d.unlock()

	if d.inv.activeKey.Equal(tx.Key()) {
		d.inv.activeKey = TransactionKey{}
	}
}

func (d *dialog) onClientInviteResponse(ctx context.Context, _ *ClientTransaction, res *sip.Response) {
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return
	}

	d.mu.Lock()
	defer d.unlock()

	if d.disposed.Load() || d.State() != DialogStateEarly {
		return
	}
	if err := d.setState(ctx, DialogStateConfirmed, true); err != nil {
		d.log.LogAttrs(ctx, slog.LevelWarn, "failed to confirm dialog", slog.Any("dialog", d.id), slog.Any("error", err))
	}
}

// terminateInvite implements the BYE rules of RFC 3261 section 15. Must be called with mu held.
//
// The UAC may send BYE on early and confirmed dialogs, the UAS only on confirmed ones.
// An early UAS dialog without a final response is answered with 408,
// otherwise it waits for the ACK or the INVITE transaction termination to resume.
func (d *dialog) terminateInvite(ctx context.Context, reason string, sendBye bool) error {
	st := d.State()
	switch st {
	case DialogStateTerminating, DialogStateTerminated, DialogStateDisposed:
		return nil
	}

	d.inv.reason = reason

	if !sendBye {
		return errtrace.Wrap(d.setState(ctx, DialogStateTerminated, true))
	}

	active := d.transaction(d.inv.activeKey)
	if (st == DialogStateEarly && active != nil && !active.IsServer()) || st == DialogStateConfirmed {
		return errtrace.Wrap(d.sendBye(ctx, reason))
	}

	if srvTx, ok := active.(*ServerTransaction); ok && !srvTx.hasFinalResponse() {
		req, err := srvTx.Request()
		if err == nil {
			d.respond(ctx, &RequestEvent{Request: req, ServerTransaction: srvTx}, 408, "Request Timeout", nil)
		}
		return errtrace.Wrap(d.setState(ctx, DialogStateTerminated, true))
	}
	return errtrace.Wrap(d.setState(ctx, DialogStateTerminating, true))
}

// sendBye moves the dialog to Terminating and sends BYE once the mutex is released.
// The dialog is terminated when the BYE exchange completes, whatever its result.
func (d *dialog) sendBye(ctx context.Context, reason string) error {
	if err := d.setState(ctx, DialogStateTerminating, true); err != nil {
		return errtrace.Wrap(err)
	}

	bye, err := d.createRequest(sip.BYE)
	if err == nil && reason != "" {
		bye.AppendHeader(sip.NewHeader("Reason", "SIP;text="+strconv.Quote(reason)))
	}
	var sender RequestSender
	if err == nil {
		sender, err = d.createRequestSender(bye)
	}
	if err != nil {
		d.log.LogAttrs(ctx, slog.LevelError, "failed to create BYE request", slog.Any("dialog", d.id), slog.Any("error", err))
		return errtrace.Wrap(d.setState(ctx, DialogStateTerminated, true))
	}

	finish := func(ctx context.Context) {
		d.mu.Lock()
		defer d.unlock()
		if err := d.setState(ctx, DialogStateTerminated, true); err != nil {
			d.log.LogAttrs(ctx, slog.LevelWarn, "failed to terminate dialog", slog.Any("dialog", d.id), slog.Any("error", err))
		}
	}
	sender.OnCompleted(func(ctx context.Context, s RequestSender) {
		s.Dispose()
		finish(ctx)
	})
	d.queue(func() {
		if err := sender.Start(ctx); err != nil {
			d.log.LogAttrs(ctx, slog.LevelError, "failed to send BYE request", slog.Any("dialog", d.id), slog.Any("error", err))
			sender.Dispose()
			finish(ctx)
		}
	})
	return nil
}

// processInviteRequest must be called with mu held.
func (d *dialog) processInviteRequest(ctx context.Context, evt *RequestEvent) (bool, error) {
	req := evt.Request
	switch {
	case req.Method == sip.ACK:
		var err error
		switch d.State() {
		case DialogStateEarly:
			err = d.setState(ctx, DialogStateConfirmed, true)
		case DialogStateTerminating:
			if err = d.setState(ctx, DialogStateConfirmed, false); err == nil {
				err = d.terminateInvite(ctx, d.inv.reason, true)
			}
		}
		d.passAck(ctx, req)
		return true, errtrace.Wrap(err)
	case req.Method == sip.BYE:
		d.respond(ctx, evt, 200, "OK", nil)
		d.inv.byRemote = true

		dlg, _ := d.impl.(*InviteDialog)
		fns := slices.Collect(d.inv.onBye.All())
		d.queue(func() {
			for _, fn := range fns {
				fn(ctx, dlg, evt)
			}
		})
		return true, errtrace.Wrap(d.setState(ctx, DialogStateTerminated, true))
	case req.Method == sip.INVITE:
		if d.hasPendingInvite(evt.ServerTransaction) {
			d.respond(ctx, evt, 491, "Request Pending", nil)
			return true, nil
		}
		return false, nil
	case createsDialog(req.Method):
		d.respond(ctx, evt, 603, "Decline", nil)
		return true, nil
	default:
		return false, nil
	}
}

// passAck hands the ACK for a 2xx response to the accepted INVITE server transaction with the same CSeq.
func (d *dialog) passAck(ctx context.Context, ack *sip.Request) {
	seq := cseqNo(ack)
	for _, tx := range d.txs.Values() {
		srvTx, ok := tx.(*ServerTransaction)
		if !ok || srvTx.method != sip.INVITE || srvTx.State() != TransactionStateAccepted {
			continue
		}
		if cseqNo(srvTx.req) != seq {
			continue
		}
		d.queue(func() {
			if err := srvTx.RecvRequest(ctx, ack); err != nil {
				d.log.LogAttrs(ctx, slog.LevelDebug, "ACK not passed to transaction",
					slog.Any("dialog", d.id),
					slog.Any("transaction", srvTx.Key()),
					slog.Any("error", err),
				)
			}
		})
		return
	}
}

// hasPendingInvite must be called with mu held.
func (d *dialog) hasPendingInvite(exclude Transaction) bool {
	for _, tx := range d.txs.Values() {
		if exclude != nil && tx == exclude {
			continue
		}
		if st := tx.State(); st == TransactionStateCalling || st == TransactionStateProceeding {
			return true
		}
	}
	return false
}

// HasPendingInvite reports whether any transaction of the dialog is in the Calling or Proceeding state.
func (dlg *InviteDialog) HasPendingInvite() (bool, error) {
	dlg.mu.Lock()
	defer dlg.mu.Unlock()
	if dlg.disposed.Load() {
		return false, errtrace.Wrap(ErrDisposed)
	}
	return dlg.hasPendingInvite(nil), nil
}

// TerminatedByRemoteParty reports whether the remote party has terminated the dialog with BYE.
func (dlg *InviteDialog) TerminatedByRemoteParty() (bool, error) {
	dlg.mu.Lock()
	defer dlg.mu.Unlock()
	if dlg.disposed.Load() {
		return false, errtrace.Wrap(ErrDisposed)
	}
	return dlg.inv.byRemote, nil
}

// TerminateReason returns the reason passed to the last termination.
func (dlg *InviteDialog) TerminateReason() (string, error) {
	dlg.mu.Lock()
	defer dlg.mu.Unlock()
	if dlg.disposed.Load() {
		return "", errtrace.Wrap(ErrDisposed)
	}
	return dlg.inv.reason, nil
}

// ActiveInvite returns the INVITE transaction governing the dialog confirmation or nil.
func (dlg *InviteDialog) ActiveInvite() (Transaction, error) {
	dlg.mu.Lock()
	defer dlg.mu.Unlock()
	if dlg.disposed.Load() {
		return nil, errtrace.Wrap(ErrDisposed)
	}
	return dlg.transaction(dlg.inv.activeKey), nil
}

// OnTerminatedByRemote registers a callback called when BYE is received from the remote party.
func (dlg *InviteDialog) OnTerminatedByRemote(fn InviteByeHandler) (cancel func()) {
	return dlg.inv.onBye.Add(fn)
}
