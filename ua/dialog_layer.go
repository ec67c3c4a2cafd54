package ua

import (
	"context"
	"log/slog"
	"net/netip"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipcore/internal/syncutil"
	"github.com/ghettovoice/sipcore/internal/types"
)

// ValidateRequestHandler inspects an inbound request before it reaches dialog processing.
// It rejects the request with [ValidateRequestEvent.Reject].
type ValidateRequestHandler = func(ctx context.Context, evt *ValidateRequestEvent)

// DialogLayerOptions configures a [DialogLayer].
type DialogLayerOptions struct {
	// Log is the layer logger.
	// If nil, the stack logger is used, then [log.Default].
	Log *slog.Logger
}

// DialogLayer routes inbound in-dialog requests to dialogs by [DialogID].
// Dialogs are disposed and removed once they are terminated.
type DialogLayer struct {
	stack Stack
	log   *slog.Logger

	dialogs    syncutil.RWMap[DialogID, Dialog]
	onValidate types.CallbackManager[ValidateRequestHandler]
}

// NewDialogLayer creates a dialog layer bound to the stack.
func NewDialogLayer(stack Stack, opts *DialogLayerOptions) (*DialogLayer, error) {
	if stack == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("nil stack"))
	}
	var l *slog.Logger
	if opts != nil {
		l = opts.Log
	}
	return &DialogLayer{
		stack: stack,
		log:   stackLogger(stack, l),
	}, nil
}

// Add stores the dialog.
// It returns [ErrDialogExists] if a dialog with the same identifier is already stored.
func (l *DialogLayer) Add(dlg Dialog) error {
	if dlg == nil {
		return errtrace.Wrap(NewInvalidArgumentError("nil dialog"))
	}
	if dlg.IsDisposed() {
		return errtrace.Wrap(ErrDisposed)
	}

	id := dlg.ID()
	if _, loaded := l.dialogs.GetOrSet(id, dlg); loaded {
		return errtrace.Wrap(ErrDialogExists)
	}

	dlg.OnStateChanged(func(ctx context.Context, dlg Dialog, _, to DialogState) {
		if to == DialogStateTerminated {
			dlg.Dispose(ctx)
		}
	})
	dlg.OnDisposed(func(_ context.Context, dlg Dialog) {
		l.dialogs.DelFunc(id, func(v Dialog) bool { return v == dlg })
	})
	if st := dlg.State(); st == DialogStateTerminated || st == DialogStateDisposed {
		dlg.Dispose(context.Background())
		l.dialogs.DelFunc(id, func(v Dialog) bool { return v == dlg })
	}
	return nil
}

// Get returns the dialog stored under the identifier.
func (l *DialogLayer) Get(id DialogID) (Dialog, bool) {
	return l.dialogs.Get(id)
}

// Dialogs returns a snapshot of the stored dialogs.
func (l *DialogLayer) Dialogs() []Dialog {
	return l.dialogs.Values()
}

// Len returns the number of stored dialogs.
func (l *DialogLayer) Len() int {
	return l.dialogs.Len()
}

// OnValidateRequest registers a request validation hook.
func (l *DialogLayer) OnValidateRequest(fn ValidateRequestHandler) (cancel func()) {
	return l.onValidate.Add(fn)
}

// HandleRequest runs the validation hooks and routes the in-dialog request to its dialog.
//
// It reports whether the request was handled: rejected by a hook, answered with
// 481 Call/Transaction Does Not Exist, or claimed by the dialog.
// Out-of-dialog requests (without To tag) that pass validation are left to the caller.
func (l *DialogLayer) HandleRequest(ctx context.Context, evt *RequestEvent, remoteAddr netip.AddrPort) (bool, error) {
	if evt == nil || evt.Request == nil {
		return false, errtrace.Wrap(NewInvalidArgumentError("nil request event"))
	}
	req := evt.Request

	vevt := &ValidateRequestEvent{Request: req, RemoteAddr: remoteAddr}
	for fn := range l.onValidate.All() {
		fn(ctx, vevt)
		if vevt.Rejected() {
			l.log.LogAttrs(ctx, slog.LevelDebug, "request rejected by validation hook",
				slog.Any("request", req),
				slog.Int("status", vevt.ResponseCode),
			)
			return true, errtrace.Wrap(l.reply(ctx, evt, vevt.ResponseCode, vevt.ResponseReason))
		}
	}

	localTag := toTag(req)
	if localTag == "" {
		return false, nil
	}

	id := DialogID{CallID: callID(req), LocalTag: localTag, RemoteTag: fromTag(req)}
	dlg, ok := l.dialogs.Get(id)
	if !ok {
		if req.Method == sip.ACK {
			return true, nil
		}
		return true, errtrace.Wrap(l.reply(ctx, evt, 481, "Call/Transaction Does Not Exist"))
	}
	return errtrace.Wrap2(dlg.ProcessRequest(ctx, evt))
}

func (l *DialogLayer) reply(ctx context.Context, evt *RequestEvent, code int, reason string) error {
	if evt.Request.Method == sip.ACK {
		return nil
	}

	res, err := l.stack.CreateResponse(code, reason, evt.Request)
	if err != nil {
		return errtrace.Wrap(err)
	}
	switch {
	case evt.ServerTransaction != nil:
		return errtrace.Wrap(evt.ServerTransaction.SendResponse(ctx, res))
	case evt.Flow != nil:
		return errtrace.Wrap(evt.Flow.Send(ctx, res))
	default:
		return errtrace.Wrap(NewInvalidArgumentError("request event has no transaction and flow"))
	}
}
