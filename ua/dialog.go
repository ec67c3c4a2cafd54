package ua

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"
	"github.com/qmuntal/stateless"
	"github.com/samber/lo"

	"github.com/ghettovoice/sipcore/internal/syncutil"
	"github.com/ghettovoice/sipcore/internal/types"
	"github.com/ghettovoice/sipcore/metrics"
)

// DialogKind tags the dialog variant.
type DialogKind string

const (
	DialogKindInvite      DialogKind = "invite"
	DialogKindRefer       DialogKind = "refer"
	DialogKindSubscribe   DialogKind = "subscribe"
	DialogKindInviteUsage DialogKind = "invite_usage"
)

// DialogState is a state of the dialog state machine.
type DialogState string

const (
	DialogStateInitial     DialogState = ""
	DialogStateEarly       DialogState = "early"
	DialogStateConfirmed   DialogState = "confirmed"
	DialogStateTerminating DialogState = "terminating"
	DialogStateTerminated  DialogState = "terminated"
	DialogStateDisposed    DialogState = "disposed"
)

// DialogID identifies a dialog as defined in RFC 3261 section 12.
type DialogID struct {
	CallID    string `json:"call_id"`
	LocalTag  string `json:"local_tag"`
	RemoteTag string `json:"remote_tag"`
}

// IsValid reports whether all parts of the identifier are set.
func (id DialogID) IsValid() bool {
	return id.CallID != "" && id.LocalTag != "" && id.RemoteTag != ""
}

func (id DialogID) String() string {
	return id.CallID + ";local-tag=" + id.LocalTag + ";remote-tag=" + id.RemoteTag
}

// LogValue implements [slog.LogValuer].
func (id DialogID) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("call_id", id.CallID),
		slog.String("local_tag", id.LocalTag),
		slog.String("remote_tag", id.RemoteTag),
	)
}

type (
	// DialogStateHandler is called on each dialog state change.
	DialogStateHandler = func(ctx context.Context, dlg Dialog, from, to DialogState)
	// DialogHandler is called on dialog lifecycle events.
	DialogHandler = func(ctx context.Context, dlg Dialog)
)

// Dialog is the capability set shared by all dialog kinds.
//
// Every mutating method holds the dialog mutex for its whole duration.
// Notifications raised meanwhile are delivered after the mutex is released,
// so subscribers may call back into the dialog.
type Dialog interface {
	ID() DialogID
	Kind() DialogKind
	State() DialogState
	// IsServer reports whether the dialog was created by a server transaction (UAS side).
	IsServer() bool
	IsDisposed() bool

	Stack() (Stack, error)
	Flow() (Flow, error)
	// Transactions returns a snapshot of live transactions associated with the dialog.
	Transactions() ([]Transaction, error)
	RemoteTarget() (sip.Uri, error)
	RouteSet() ([]sip.Uri, error)

	// CreateRequest creates an in-dialog request as defined in RFC 3261 section 12.2.1.1.
	CreateRequest(method sip.RequestMethod) (*sip.Request, error)
	// CreateRequestSender creates a sender of the in-dialog request.
	// The client transaction started by the sender is associated with the dialog.
	CreateRequestSender(req *sip.Request) (RequestSender, error)
	// ProcessRequest handles an inbound in-dialog request and reports whether the dialog claimed it.
	ProcessRequest(ctx context.Context, evt *RequestEvent) (bool, error)
	// Terminate starts the dialog termination.
	Terminate(ctx context.Context, reason string, sendBye bool) error
	// Dispose terminates the dialog if needed and releases it.
	Dispose(ctx context.Context)
	Snapshot() *DialogSnapshot

	OnStateChanged(fn DialogStateHandler) (cancel func())
	OnDisposed(fn DialogHandler) (cancel func())
}

// DialogOptions configures a dialog.
type DialogOptions struct {
	// Log is the dialog logger.
	// If nil, the stack logger is used, then [log.Default].
	Log *slog.Logger
	// Metrics is an optional metrics collector.
	Metrics *metrics.Collector
}

func (o *DialogOptions) logger() *slog.Logger {
	if o == nil {
		return nil
	}
	return o.Log
}

func (o *DialogOptions) metrics() *metrics.Collector {
	if o == nil {
		return nil
	}
	return o.Metrics
}

// dialog is the state shared by all dialog kinds. Kind specific behavior is selected by the kind tag.
type dialog struct {
	mu sync.Mutex

	impl      Dialog
	kind      DialogKind
	id        DialogID
	server    bool
	createdAt time.Time
	log       *slog.Logger
	metrics   *metrics.Collector
	fsm       *stateless.StateMachine

	// guarded by mu
	stack        Stack
	flow         Flow
	localURI     sip.Uri
	remoteURI    sip.Uri
	remoteTarget sip.Uri
	routeSet     []sip.Uri
	localSeq     uint32
	remoteSeq    uint32

	txs      syncutil.RWMap[TransactionKey, Transaction]
	pending  types.Queue[func()]
	disposed atomic.Bool

	inv inviteData
	ref referData
	sub subscribeData

	onState    types.CallbackManager[DialogStateHandler]
	onDisposed types.CallbackManager[DialogHandler]
}

// newDialog builds the dialog identity from the transaction request and the response
// that creates the dialog, as defined in RFC 3261 sections 12.1.1 and 12.1.2.
func newDialog(kind DialogKind, stack Stack, tx Transaction, res *sip.Response, opts *DialogOptions) (*dialog, error) {
	if stack == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("nil stack"))
	}
	if tx == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("nil transaction"))
	}
	if res == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("nil response"))
	}
	req, err := tx.Request()
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	flow, err := tx.Flow()
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if req.From() == nil || req.To() == nil || req.CallID() == nil || req.CSeq() == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("request misses From, To, Call-ID or CSeq header"))
	}

	d := &dialog{
		kind:      kind,
		server:    tx.IsServer(),
		createdAt: time.Now(),
		log:       stackLogger(stack, opts.logger()),
		metrics:   opts.metrics(),
		stack:     stack,
		flow:      flow,
	}
	d.id.CallID = callID(req)

	if d.server {
		d.id.LocalTag = toTag(res)
		d.id.RemoteTag = fromTag(req)
		d.localURI = req.To().Address
		d.remoteURI = req.From().Address
		d.remoteTarget = d.remoteURI
		if cnt := req.Contact(); cnt != nil {
			d.remoteTarget = cnt.Address
		}
		d.routeSet = recordRoutes(req)
		d.remoteSeq = cseqNo(req)
	} else {
		d.id.LocalTag = fromTag(req)
		d.id.RemoteTag = toTag(res)
		d.localURI = req.From().Address
		d.remoteURI = req.To().Address
		d.remoteTarget = d.remoteURI
		if cnt := res.Contact(); cnt != nil {
			d.remoteTarget = cnt.Address
		}
		d.routeSet = recordRoutes(res)
		slices.Reverse(d.routeSet)
		d.localSeq = cseqNo(req)
	}
	if d.id.CallID == "" {
		return nil, errtrace.Wrap(NewInvalidArgumentError("empty Call-ID"))
	}
	if toTag(res) == "" {
		return nil, errtrace.Wrap(NewInvalidArgumentError("missing To tag in response"))
	}
	if fromTag(req) == "" {
		return nil, errtrace.Wrap(NewInvalidArgumentError("missing From tag in request"))
	}

	d.initFSM()
	d.addTransaction(tx)
	d.metrics.DialogCreated(string(kind))
	return d, nil
}

func recordRoutes(msg interface {
	GetHeaders(name string) []sip.Header
}) []sip.Uri {
	var routes []sip.Uri
	for _, h := range msg.GetHeaders("Record-Route") {
		if rr, ok := h.(*sip.RecordRouteHeader); ok {
			routes = append(routes, rr.Address)
		}
	}
	return routes
}

// initFSM configures the table of allowed state changes.
// The trigger of each transition is the destination state.
func (d *dialog) initFSM() {
	d.fsm = stateless.NewStateMachine(DialogStateInitial)
	d.fsm.OnUnhandledTrigger(func(_ context.Context, state stateless.State, trigger stateless.Trigger, _ []string) error {
		return errtrace.Wrap(newActionNotAllowedError("dialog state change from %q to %q", state, trigger))
	})

	d.fsm.Configure(DialogStateInitial).
		Permit(DialogStateEarly, DialogStateEarly).
		Permit(DialogStateConfirmed, DialogStateConfirmed).
		Permit(DialogStateTerminated, DialogStateTerminated)

	d.fsm.Configure(DialogStateEarly).
		Permit(DialogStateConfirmed, DialogStateConfirmed).
		Permit(DialogStateTerminating, DialogStateTerminating).
		Permit(DialogStateTerminated, DialogStateTerminated)

	d.fsm.Configure(DialogStateConfirmed).
		Permit(DialogStateTerminating, DialogStateTerminating).
		Permit(DialogStateTerminated, DialogStateTerminated)

	d.fsm.Configure(DialogStateTerminating).
		Permit(DialogStateConfirmed, DialogStateConfirmed).
		Permit(DialogStateTerminated, DialogStateTerminated)

	d.fsm.Configure(DialogStateTerminated).
		Permit(DialogStateDisposed, DialogStateDisposed)
}

// setState moves the dialog to the state. Must be called with mu held.
// The notification, if requested, is delivered once the mutex is released.
func (d *dialog) setState(ctx context.Context, to DialogState, notify bool) error {
	from := d.State()
	if from == to {
		return nil
	}
	if err := d.fsm.FireCtx(ctx, to); err != nil {
		return errtrace.Wrap(err)
	}

	d.metrics.DialogStateChanged(string(d.kind), string(to))
	d.log.LogAttrs(ctx, slog.LevelDebug, "dialog state changed",
		slog.Any("dialog", d.id),
		slog.String("kind", string(d.kind)),
		slog.Any("from", from),
		slog.Any("to", to),
		slog.Bool("notify", notify),
	)

	if notify {
		fns := slices.Collect(d.onState.All())
		d.queue(func() {
			for _, fn := range fns {
				fn(ctx, d.impl, from, to)
			}
		})
	}
	return nil
}

// queue queues the function to run after the dialog mutex is released.
func (d *dialog) queue(fn func()) { d.pending.Push(fn) }

// unlock releases the dialog mutex and runs the queued functions.
func (d *dialog) unlock() {
	d.mu.Unlock()
	for _, fn := range d.pending.Drain() {
		fn()
	}
}

func (d *dialog) ID() DialogID { return d.id }

func (d *dialog) Kind() DialogKind { return d.kind }

func (d *dialog) IsServer() bool { return d.server }

func (d *dialog) IsDisposed() bool { return d.disposed.Load() }

func (d *dialog) State() DialogState {
	return d.fsm.MustState().(DialogState) //nolint:forcetypeassert
}

func (d *dialog) Stack() (Stack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disposed.Load() {
		return nil, errtrace.Wrap(ErrDisposed)
	}
	return d.stack, nil
}

func (d *dialog) Flow() (Flow, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disposed.Load() {
		return nil, errtrace.Wrap(ErrDisposed)
	}
	return d.flow, nil
}

func (d *dialog) Transactions() ([]Transaction, error) {
	if d.disposed.Load() {
		return nil, errtrace.Wrap(ErrDisposed)
	}
	return d.txs.Values(), nil
}

func (d *dialog) RemoteTarget() (sip.Uri, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disposed.Load() {
		return sip.Uri{}, errtrace.Wrap(ErrDisposed)
	}
	return d.remoteTarget, nil
}

func (d *dialog) RouteSet() ([]sip.Uri, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disposed.Load() {
		return nil, errtrace.Wrap(ErrDisposed)
	}
	return slices.Clone(d.routeSet), nil
}

// addTransaction associates the transaction with the dialog until it is disposed.
func (d *dialog) addTransaction(tx Transaction) {
	if tx == nil || tx.IsDisposed() {
		return
	}
	key := tx.Key()
	if _, loaded := d.txs.GetOrSet(key, tx); loaded {
		return
	}
	tx.OnDisposed(func(context.Context, Transaction) {
		d.txs.DelFunc(key, func(v Transaction) bool { return v == tx })
	})
}

func (d *dialog) transaction(key TransactionKey) Transaction {
	if !key.IsValid() {
		return nil
	}
	tx, _ := d.txs.Get(key)
	return tx
}

func (d *dialog) CreateRequest(method sip.RequestMethod) (*sip.Request, error) {
	d.mu.Lock()
	defer d.unlock()

	if d.disposed.Load() {
		return nil, errtrace.Wrap(ErrDisposed)
	}
	if st := d.State(); st == DialogStateTerminated {
		return nil, errtrace.Wrap(newActionNotAllowedError("create request in state %q", st))
	}
	return errtrace.Wrap2(d.createRequest(method))
}

// createRequest must be called with mu held.
func (d *dialog) createRequest(method sip.RequestMethod) (*sip.Request, error) {
	from := &sip.FromHeader{Address: d.localURI, Params: sip.NewParams().Add("tag", d.id.LocalTag)}
	to := &sip.ToHeader{Address: d.remoteURI, Params: sip.NewParams().Add("tag", d.id.RemoteTag)}
	req, err := d.stack.CreateRequest(method, from, to)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	req.Recipient = d.remoteTarget

	req.RemoveHeader("Call-ID")
	callID := sip.CallIDHeader(d.id.CallID)
	req.AppendHeader(&callID)

	if method != sip.ACK && method != sip.CANCEL {
		d.localSeq++
	}
	req.RemoveHeader("CSeq")
	req.AppendHeader(&sip.CSeqHeader{SeqNo: d.localSeq, MethodName: method})

	req.RemoveHeader("Route")
	for _, u := range d.routeSet {
		req.AppendHeader(&sip.RouteHeader{Address: u})
	}
	return req, nil
}

func (d *dialog) CreateRequestSender(req *sip.Request) (RequestSender, error) {
	if req == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("nil request"))
	}

	d.mu.Lock()
	defer d.unlock()

	if d.disposed.Load() {
		return nil, errtrace.Wrap(ErrDisposed)
	}
	return errtrace.Wrap2(d.createRequestSender(req))
}

// createRequestSender must be called with mu held.
func (d *dialog) createRequestSender(req *sip.Request) (RequestSender, error) {
	sender, err := d.stack.CreateRequestSender(req, d.flow)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return &dialogRequestSender{RequestSender: sender, dlg: d}, nil
}

// dialogRequestSender associates client transactions of the wrapped sender with the dialog.
type dialogRequestSender struct {
	RequestSender
	dlg *dialog
}

func (s *dialogRequestSender) Start(ctx context.Context) error {
	s.RequestSender.OnResponse(func(_ context.Context, _ RequestSender, evt *ResponseEvent) {
		if evt != nil && evt.ClientTransaction != nil {
			s.dlg.addTransaction(evt.ClientTransaction)
		}
	})
	err := s.RequestSender.Start(ctx)
	if txs, ok := s.RequestSender.(interface{ Transaction() *ClientTransaction }); ok {
		if tx := txs.Transaction(); tx != nil {
			s.dlg.addTransaction(tx)
		}
	}
	return errtrace.Wrap(err)
}

func (d *dialog) ProcessRequest(ctx context.Context, evt *RequestEvent) (bool, error) {
	if evt == nil || evt.Request == nil {
		return false, errtrace.Wrap(NewInvalidArgumentError("nil request event"))
	}

	d.mu.Lock()
	defer d.unlock()

	if d.disposed.Load() {
		return false, errtrace.Wrap(ErrDisposed)
	}

	claimed, err := d.processRequest(ctx, evt)
	if claimed || err != nil {
		return claimed, errtrace.Wrap(err)
	}

	switch d.kind {
	case DialogKindInvite:
		return errtrace.Wrap2(d.processInviteRequest(ctx, evt))
	case DialogKindRefer:
		return errtrace.Wrap2(d.processReferRequest(ctx, evt))
	case DialogKindSubscribe:
		return errtrace.Wrap2(d.processSubscribeRequest(ctx, evt))
	default:
		return false, nil
	}
}

// processRequest is the handling shared by all dialog kinds as defined in RFC 3261 sections 12.2.2 and 14.2.
func (d *dialog) processRequest(ctx context.Context, evt *RequestEvent) (bool, error) {
	req := evt.Request
	if evt.ServerTransaction != nil {
		d.addTransaction(evt.ServerTransaction)
	}
	if req.Method == sip.ACK || req.Method == sip.CANCEL {
		return false, nil
	}

	// BYE ends the dialog whatever its CSeq.
	seq := cseqNo(req)
	if d.remoteSeq != 0 && seq < d.remoteSeq && req.Method != sip.BYE {
		d.respond(ctx, evt, 500, "Server Internal Error", nil)
		return true, nil
	}

	if req.Method == sip.INVITE {
		pending := lo.ContainsBy(d.txs.Values(), func(tx Transaction) bool {
			if !tx.IsServer() || tx == Transaction(evt.ServerTransaction) || tx.Key().Method != string(sip.INVITE) {
				return false
			}
			if res, err := tx.FinalResponse(); err != nil || res != nil {
				return false
			}
			r, err := tx.Request()
			return err == nil && cseqNo(r) < seq
		})
		if pending {
			d.respond(ctx, evt, 500, "Server Internal Error", func(res *sip.Response) {
				res.AppendHeader(sip.NewHeader("Retry-After", strconv.Itoa(rand.IntN(11)))) //nolint:gosec
			})
			return true, nil
		}
	}

	d.remoteSeq = max(d.remoteSeq, seq)
	if req.Method == sip.INVITE || req.Method == sip.UPDATE {
		if cnt := req.Contact(); cnt != nil {
			d.remoteTarget = cnt.Address
		}
	}
	return false, nil
}

// respond sends the response to the request once the dialog mutex is released.
func (d *dialog) respond(ctx context.Context, evt *RequestEvent, code int, reason string, modify func(res *sip.Response)) {
	res, err := d.stack.CreateResponse(code, reason, evt.Request)
	if err != nil {
		d.log.LogAttrs(ctx, slog.LevelError, "failed to create response",
			slog.Any("dialog", d.id),
			slog.Int("status", code),
			slog.Any("error", err),
		)
		return
	}
	// Responses to the establishing request carry the dialog local tag, RFC 3261 section 12.1.1.
	if to := res.To(); to != nil && code > 100 && d.id.LocalTag != "" {
		if tag, _ := to.Params.Get("tag"); tag != d.id.LocalTag {
			toHdr := &sip.ToHeader{DisplayName: to.DisplayName, Address: to.Address, Params: cloneParams(to.Params)}
			toHdr.Params.Add("tag", d.id.LocalTag)
			res.ReplaceHeader(toHdr)
		}
	}
	if modify != nil {
		modify(res)
	}

	srvTx, flow := evt.ServerTransaction, evt.Flow
	d.queue(func() {
		var err error
		switch {
		case srvTx != nil:
			err = srvTx.SendResponse(ctx, res)
		case flow != nil:
			err = flow.Send(ctx, res)
		default:
			err = fmt.Errorf("no transaction or flow to send %d response", code)
		}
		if err != nil {
			d.log.LogAttrs(ctx, slog.LevelError, "failed to send response",
				slog.Any("dialog", d.id),
				slog.Any("response", res),
				slog.Any("error", err),
			)
		}
	})
}

func (d *dialog) Terminate(ctx context.Context, reason string, sendBye bool) error {
	d.mu.Lock()
	defer d.unlock()

	if d.disposed.Load() {
		return errtrace.Wrap(ErrDisposed)
	}
	return errtrace.Wrap(d.terminate(ctx, reason, sendBye))
}

// terminate must be called with mu held.
func (d *dialog) terminate(ctx context.Context, reason string, sendBye bool) error {
	if d.kind == DialogKindInvite {
		return errtrace.Wrap(d.terminateInvite(ctx, reason, sendBye))
	}

	switch d.State() {
	case DialogStateTerminating, DialogStateTerminated, DialogStateDisposed:
		return nil
	}
	return errtrace.Wrap(d.setState(ctx, DialogStateTerminated, true))
}

func (d *dialog) Dispose(ctx context.Context) {
	d.mu.Lock()
	defer d.unlock()

	if d.disposed.Load() {
		return
	}

	if st := d.State(); st != DialogStateTerminated {
		if err := d.setState(ctx, DialogStateTerminated, true); err != nil {
			d.log.LogAttrs(ctx, slog.LevelWarn, "failed to terminate dialog", slog.Any("dialog", d.id), slog.Any("error", err))
		}
	}
	if err := d.setState(ctx, DialogStateDisposed, true); err != nil {
		d.log.LogAttrs(ctx, slog.LevelWarn, "failed to dispose dialog", slog.Any("dialog", d.id), slog.Any("error", err))
	}

	d.disposed.Store(true)
	d.txs.Clear()
	d.inv.activeKey = TransactionKey{}
	d.stack = nil
	d.flow = nil
	d.metrics.DialogDisposed(string(d.kind))

	d.log.LogAttrs(ctx, slog.LevelDebug, "dialog disposed", slog.Any("dialog", d.id))

	fns := slices.Collect(d.onDisposed.All())
	d.queue(func() {
		for _, fn := range fns {
			fn(ctx, d.impl)
		}
	})

	d.onState.Clear()
	d.onDisposed.Clear()
	d.inv.onBye.Clear()
	d.ref.onNotify.Clear()
	d.sub.onSubscribe.Clear()
	d.sub.onNotify.Clear()
}

// OnStateChanged registers a callback called on each notified state change.
func (d *dialog) OnStateChanged(fn DialogStateHandler) (cancel func()) {
	return d.onState.Add(fn)
}

// OnDisposed registers a callback called once the dialog is disposed.
func (d *dialog) OnDisposed(fn DialogHandler) (cancel func()) {
	return d.onDisposed.Add(fn)
}

// DialogSnapshot is a serializable view of a dialog.
type DialogSnapshot struct {
	Time               time.Time        `json:"time"`
	ID                 DialogID         `json:"id"`
	Kind               DialogKind       `json:"kind"`
	State              DialogState      `json:"state"`
	Server             bool             `json:"server"`
	CreatedAt          time.Time        `json:"created_at"`
	LocalURI           string           `json:"local_uri"`
	RemoteURI          string           `json:"remote_uri"`
	RemoteTarget       string           `json:"remote_target"`
	RouteSet           []string         `json:"route_set,omitempty"`
	LocalSeq           uint32           `json:"local_seq"`
	RemoteSeq          uint32           `json:"remote_seq"`
	Transactions       []TransactionKey `json:"transactions,omitempty"`
	ActiveInvite       *TransactionKey  `json:"active_invite,omitempty"`
	TerminateReason    string           `json:"terminate_reason,omitempty"`
	TerminatedByRemote bool             `json:"terminated_by_remote,omitempty"`
}

// Snapshot returns a serializable view of the dialog.
func (d *dialog) Snapshot() *DialogSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := &DialogSnapshot{
		Time:               time.Now(),
		ID:                 d.id,
		Kind:               d.kind,
		State:              d.State(),
		Server:             d.server,
		CreatedAt:          d.createdAt,
		LocalURI:           d.localURI.String(),
		RemoteURI:          d.remoteURI.String(),
		RemoteTarget:       d.remoteTarget.String(),
		RouteSet:           lo.Map(d.routeSet, func(u sip.Uri, _ int) string { return u.String() }),
		LocalSeq:           d.localSeq,
		RemoteSeq:          d.remoteSeq,
		Transactions:       lo.Map(d.txs.Values(), func(tx Transaction, _ int) TransactionKey { return tx.Key() }),
		TerminateReason:    d.inv.reason,
		TerminatedByRemote: d.inv.byRemote,
	}
	if d.inv.activeKey.IsValid() {
		snap.ActiveInvite = lo.ToPtr(d.inv.activeKey)
	}
	slices.SortFunc(snap.Transactions, func(a, b TransactionKey) int {
		return cmp.Compare(a.String(), b.String())
	})
	return snap
}

// LogValue implements [slog.LogValuer].
func (d *dialog) LogValue() slog.Value {
	if d == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.Any("id", d.id),
		slog.String("kind", string(d.kind)),
		slog.Any("state", d.State()),
	)
}
