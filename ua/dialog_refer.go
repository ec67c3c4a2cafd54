package ua

import (
	"context"
	"slices"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipcore/internal/types"
)

// ReferNotifyHandler is called on each NOTIFY received within a REFER dialog.
// The handler is responsible for answering the request.
type ReferNotifyHandler = func(ctx context.Context, dlg *ReferDialog, evt *RequestEvent)

type referData struct {
	onNotify types.CallbackManager[ReferNotifyHandler]
}

// ReferDialog is a dialog established by REFER as defined in RFC 3515.
type ReferDialog struct {
	*dialog
}

var _ Dialog = (*ReferDialog)(nil)

// NewReferDialog creates a dialog from the REFER transaction and the 1xx or 2xx response that establishes it.
func NewReferDialog(ctx context.Context, stack Stack, tx Transaction, res *sip.Response, opts *DialogOptions) (*ReferDialog, error) {
	d, err := newDialog(DialogKindRefer, stack, tx, res, opts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	dlg := &ReferDialog{dialog: d}
	d.impl = dlg

	d.mu.Lock()
	defer d.unlock()

	if err := d.initUsage(ctx, res); err != nil {
		return nil, errtrace.Wrap(err)
	}
	return dlg, nil
}

// initUsage must be called with mu held.
func (d *dialog) initUsage(ctx context.Context, res *sip.Response) error {
	switch {
	case res.StatusCode >= 100 && res.StatusCode < 200:
		return errtrace.Wrap(d.setState(ctx, DialogStateEarly, false))
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return errtrace.Wrap(d.setState(ctx, DialogStateConfirmed, false))
	default:
		return errtrace.Wrap(NewInvalidArgumentError(ErrUnexpectedResponse))
	}
}

// processReferRequest must be called with mu held.
func (d *dialog) processReferRequest(ctx context.Context, evt *RequestEvent) (bool, error) {
	if evt.Request.Method != sip.NOTIFY {
		return false, nil
	}

	dlg, _ := d.impl.(*ReferDialog)
	fns := slices.Collect(d.ref.onNotify.All())
	d.queue(func() {
		for _, fn := range fns {
			fn(ctx, dlg, evt)
		}
	})
	return true, nil
}

// OnNotify registers a callback called on each NOTIFY received within the dialog.
func (dlg *ReferDialog) OnNotify(fn ReferNotifyHandler) (cancel func()) {
	return dlg.ref.onNotify.Add(fn)
}
