package ua

import (
	"strconv"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

// MessageFactoryOptions configures a [MessageFactory].
type MessageFactoryOptions struct {
	// LocalURI is put into the Contact header of requests that establish a dialog.
	// Zero value means no Contact is added.
	LocalURI sip.Uri
	// Via is the template of the top Via header. A fresh branch is generated for each request.
	Via sip.ViaHeader
	// MaxForwards defaults to 70.
	MaxForwards int
	// UserAgent is added to every created message if not empty.
	UserAgent string
}

// MessageFactory builds out-of-dialog requests and responses.
// It implements the message creating part of [Stack].
type MessageFactory struct {
	opts MessageFactoryOptions
}

// NewMessageFactory creates a message factory.
func NewMessageFactory(opts *MessageFactoryOptions) *MessageFactory {
	f := new(MessageFactory)
	if opts != nil {
		f.opts = *opts
	}
	if f.opts.MaxForwards <= 0 {
		f.opts.MaxForwards = 70
	}
	if f.opts.Via.ProtocolName == "" {
		f.opts.Via.ProtocolName = "SIP"
	}
	if f.opts.Via.ProtocolVersion == "" {
		f.opts.Via.ProtocolVersion = "2.0"
	}
	if f.opts.Via.Transport == "" {
		f.opts.Via.Transport = "UDP"
	}
	return f
}

// CreateRequest creates a request to the To address with a new Call-ID, From tag and Via branch.
// CSeq starts at 1.
func (f *MessageFactory) CreateRequest(method sip.RequestMethod, from *sip.FromHeader, to *sip.ToHeader) (*sip.Request, error) {
	if method == "" {
		return nil, errtrace.Wrap(NewInvalidArgumentError("empty method"))
	}
	if from == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("nil From header"))
	}
	if to == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("nil To header"))
	}

	req := sip.NewRequest(method, to.Address)

	via := f.opts.Via
	via.Params = cloneParams(f.opts.Via.Params)
	via.Params.Add("branch", sip.GenerateBranch())
	req.AppendHeader(&via)

	fromHdr := &sip.FromHeader{DisplayName: from.DisplayName, Address: from.Address, Params: cloneParams(from.Params)}
	if !fromHdr.Params.Has("tag") {
		fromHdr.Params.Add("tag", sip.GenerateTagN(16))
	}
	req.AppendHeader(fromHdr)
	req.AppendHeader(&sip.ToHeader{DisplayName: to.DisplayName, Address: to.Address, Params: cloneParams(to.Params)})

	callID := sip.CallIDHeader(uuid.NewString())
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: method})
	req.AppendHeader(sip.NewHeader("Max-Forwards", strconv.Itoa(f.opts.MaxForwards)))

	if f.opts.LocalURI.Host != "" && createsDialog(method) {
		req.AppendHeader(&sip.ContactHeader{Address: f.opts.LocalURI})
	}
	if f.opts.UserAgent != "" {
		req.AppendHeader(sip.NewHeader("User-Agent", f.opts.UserAgent))
	}
	return req, nil
}

// CreateResponse creates a response to the request.
// Responses above 100 get a To tag if the request has none.
func (f *MessageFactory) CreateResponse(code int, reason string, req *sip.Request) (*sip.Response, error) {
	if req == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("nil request"))
	}
	if code < 100 || code > 699 {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid status code %d", code))
	}

	res := sip.NewResponseFromRequest(req, code, reason, nil)
	if to := res.To(); to != nil && code > 100 && !to.Params.Has("tag") {
		toHdr := &sip.ToHeader{DisplayName: to.DisplayName, Address: to.Address, Params: cloneParams(to.Params)}
		toHdr.Params.Add("tag", sip.GenerateTagN(16))
		res.ReplaceHeader(toHdr)
	}
	if code >= 200 && code < 300 && f.opts.LocalURI.Host != "" && createsDialog(req.Method) && res.Contact() == nil {
		res.AppendHeader(&sip.ContactHeader{Address: f.opts.LocalURI})
	}
	if f.opts.UserAgent != "" {
		res.AppendHeader(sip.NewHeader("User-Agent", f.opts.UserAgent))
	}
	return res, nil
}
