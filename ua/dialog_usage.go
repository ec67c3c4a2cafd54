package ua

import (
	"context"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"
)

// InviteUsage marks the INVITE usage of a dialog shared by several usages (RFC 5057).
// It has the base dialog behavior only.
type InviteUsage struct {
	*dialog
}

var _ Dialog = (*InviteUsage)(nil)

// NewInviteUsage creates an INVITE usage from the transaction and the 1xx or 2xx response that establishes it.
func NewInviteUsage(ctx context.Context, stack Stack, tx Transaction, res *sip.Response, opts *DialogOptions) (*InviteUsage, error) {
	d, err := newDialog(DialogKindInviteUsage, stack, tx, res, opts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	u := &InviteUsage{dialog: d}
	d.impl = u

	d.mu.Lock()
	defer d.unlock()

	if err := d.initUsage(ctx, res); err != nil {
		return nil, errtrace.Wrap(err)
	}
	return u, nil
}
