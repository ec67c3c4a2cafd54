package ua

import (
	"context"
	"slices"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipcore/internal/types"
)

// SubscribeRequestHandler is called on each SUBSCRIBE or NOTIFY received within a SUBSCRIBE dialog.
// The handler is responsible for answering the request.
type SubscribeRequestHandler = func(ctx context.Context, dlg *SubscribeDialog, evt *RequestEvent)

type subscribeData struct {
	onSubscribe types.CallbackManager[SubscribeRequestHandler]
	onNotify    types.CallbackManager[SubscribeRequestHandler]
}

// SubscribeDialog is a dialog established by SUBSCRIBE as defined in RFC 6665.
// The notifier sends state with [SubscribeDialog.Notify] and receives refreshes through
// [SubscribeDialog.OnSubscribe], the subscriber receives state through [SubscribeDialog.OnNotify].
type SubscribeDialog struct {
	*dialog
}

var _ Dialog = (*SubscribeDialog)(nil)

// NewSubscribeDialog creates a dialog from the SUBSCRIBE transaction and the 1xx or 2xx response that establishes it.
func NewSubscribeDialog(ctx context.Context, stack Stack, tx Transaction, res *sip.Response, opts *DialogOptions) (*SubscribeDialog, error) {
	d, err := newDialog(DialogKindSubscribe, stack, tx, res, opts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	dlg := &SubscribeDialog{dialog: d}
	d.impl = dlg

	d.mu.Lock()
	defer d.unlock()

	if err := d.initUsage(ctx, res); err != nil {
		return nil, errtrace.Wrap(err)
	}
	return dlg, nil
}

// Notify sends the NOTIFY request built with [SubscribeDialog.CreateRequest] to the subscriber.
// The returned sender is started, the caller observes its responses and disposes it.
func (dlg *SubscribeDialog) Notify(ctx context.Context, notify *sip.Request) (RequestSender, error) {
	if notify == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("nil NOTIFY request"))
	}
	if notify.Method != sip.NOTIFY {
		return nil, errtrace.Wrap(NewInvalidArgumentError("unexpected request method %s", notify.Method))
	}

	if st := dlg.State(); st == DialogStateTerminated || st == DialogStateDisposed {
		return nil, errtrace.Wrap(newActionNotAllowedError("send NOTIFY in state %q", st))
	}

	sender, err := dlg.CreateRequestSender(notify)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if err := sender.Start(ctx); err != nil {
		sender.Dispose()
		return nil, errtrace.Wrap(err)
	}
	return sender, nil
}

// processSubscribeRequest must be called with mu held.
func (d *dialog) processSubscribeRequest(ctx context.Context, evt *RequestEvent) (bool, error) {
	var mngr *types.CallbackManager[SubscribeRequestHandler]
	switch evt.Request.Method {
	case sip.SUBSCRIBE:
		mngr = &d.sub.onSubscribe
	case sip.NOTIFY:
		mngr = &d.sub.onNotify
	default:
		return false, nil
	}

	dlg, _ := d.impl.(*SubscribeDialog)
	fns := slices.Collect(mngr.All())
	d.queue(func() {
		for _, fn := range fns {
			fn(ctx, dlg, evt)
		}
	})
	return true, nil
}

// OnSubscribe registers a callback called on each subscription refresh received within the dialog.
func (dlg *SubscribeDialog) OnSubscribe(fn SubscribeRequestHandler) (cancel func()) {
	return dlg.sub.onSubscribe.Add(fn)
}

// OnNotify registers a callback called on each NOTIFY received within the dialog.
func (dlg *SubscribeDialog) OnNotify(fn SubscribeRequestHandler) (cancel func()) {
	return dlg.sub.onNotify.Add(fn)
}
