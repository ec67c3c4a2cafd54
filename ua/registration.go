package ua

import (
	"context"
	"log/slog"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"
	"github.com/qmuntal/stateless"
	"github.com/samber/lo"

	"github.com/ghettovoice/sipcore/internal/timeutil"
	"github.com/ghettovoice/sipcore/internal/types"
	"github.com/ghettovoice/sipcore/metrics"
)

// RegistrationState is a state of the registration state machine.
type RegistrationState string

const (
	RegistrationStateUnregistered RegistrationState = "unregistered"
	RegistrationStateRegistering  RegistrationState = "registering"
	RegistrationStateRegistered   RegistrationState = "registered"
	RegistrationStateError        RegistrationState = "error"
	RegistrationStateDisposed     RegistrationState = "disposed"
)

// DefaultRefreshMargin is how long before the binding lapses the refresh REGISTER is sent.
const DefaultRefreshMargin = 15 * time.Second

type (
	// RegistrationStateHandler is called on each registration state change.
	RegistrationStateHandler = func(ctx context.Context, reg *Registration, from, to RegistrationState)
	// RegistrationHandler is called on registration lifecycle events.
	RegistrationHandler = func(ctx context.Context, reg *Registration)
	// RegistrationErrorHandler is called when the registrar rejects the REGISTER.
	// The event is nil when the exchange ended without a final response.
	RegistrationErrorHandler = func(ctx context.Context, reg *Registration, evt *ResponseEvent)
)

// RegistrationOptions configures a registration.
type RegistrationOptions struct {
	// RefreshMargin is subtracted from the binding interval to get the refresh delay.
	// Zero means [DefaultRefreshMargin].
	RefreshMargin time.Duration
	// AutoFixContact enables rewriting of an IP contact from the Via received and rport parameters.
	AutoFixContact bool
	// Log is the registration logger.
	// If nil, the stack logger is used, then [log.Default].
	Log *slog.Logger
	// Metrics is an optional metrics collector.
	Metrics *metrics.Collector
}

func (o *RegistrationOptions) refreshMargin() time.Duration {
	if o == nil || o.RefreshMargin <= 0 {
		return DefaultRefreshMargin
	}
	return o.RefreshMargin
}

func (o *RegistrationOptions) autoFixContact() bool {
	return o != nil && o.AutoFixContact
}

func (o *RegistrationOptions) logger() *slog.Logger {
	if o == nil {
		return nil
	}
	return o.Log
}

func (o *RegistrationOptions) metrics() *metrics.Collector {
	if o == nil {
		return nil
	}
	return o.Metrics
}

// Registration keeps an address of record bound at a registrar (RFC 3261 section 10).
//
// All state transitions happen under the registration mutex.
// Notifications are delivered after the mutex is released.
type Registration struct {
	mu      sync.Mutex
	log     *slog.Logger
	metrics *metrics.Collector
	fsm     *stateless.StateMachine

	stack     Stack
	flow      Flow
	registrar sip.Uri
	aor       string
	contact   sip.Uri
	contacts  []sip.Uri
	expires   int
	margin    time.Duration
	autoFix   bool

	autoRefresh  bool
	disposeAfter bool
	register     RequestSender
	unregister   RequestSender

	refresh    atomic.Pointer[timeutil.Timer]
	refreshGen uint64

	disposed atomic.Bool
	pending  types.Queue[func()]

	onState        types.CallbackManager[RegistrationStateHandler]
	onRegistered   types.CallbackManager[RegistrationHandler]
	onUnregistered types.CallbackManager[RegistrationHandler]
	onError        types.CallbackManager[RegistrationErrorHandler]
	onDisposed     types.CallbackManager[RegistrationHandler]
}

// NewRegistration creates a registration of the AOR (user@domain) at the registrar.
// The contact is bound for expires seconds and refreshed before it lapses.
func NewRegistration(
	stack Stack,
	registrar sip.Uri,
	aor string,
	contact sip.Uri,
	expires int,
	opts *RegistrationOptions,
) (*Registration, error) {
	if stack == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("nil stack"))
	}
	if registrar.Host == "" {
		return nil, errtrace.Wrap(NewInvalidArgumentError("empty registrar host"))
	}
	if aor == "" {
		return nil, errtrace.Wrap(NewInvalidArgumentError("empty AOR"))
	}
	if contact.Host == "" {
		return nil, errtrace.Wrap(NewInvalidArgumentError("empty contact host"))
	}
	if expires <= 0 {
		return nil, errtrace.Wrap(NewInvalidArgumentError("non-positive expires %d", expires))
	}

	r := &Registration{
		log:       stackLogger(stack, opts.logger()),
		metrics:   opts.metrics(),
		stack:     stack,
		registrar: *registrar.Clone(),
		aor:       aor,
		contact:   *contact.Clone(),
		expires:   expires,
		margin:    opts.refreshMargin(),
		autoFix:   opts.autoFixContact(),
	}
	r.initFSM()
	return r, nil
}

func (r *Registration) initFSM() {
	r.fsm = stateless.NewStateMachine(RegistrationStateUnregistered)
	r.fsm.OnUnhandledTrigger(func(_ context.Context, state stateless.State, trigger stateless.Trigger, _ []string) error {
		return errtrace.Wrap(newActionNotAllowedError("registration state change from %q to %q", state, trigger))
	})

	r.fsm.Configure(RegistrationStateUnregistered).
		Permit(RegistrationStateRegistering, RegistrationStateRegistering).
		Permit(RegistrationStateDisposed, RegistrationStateDisposed)

	r.fsm.Configure(RegistrationStateRegistering).
		Permit(RegistrationStateRegistered, RegistrationStateRegistered).
		Permit(RegistrationStateError, RegistrationStateError).
		Permit(RegistrationStateUnregistered, RegistrationStateUnregistered).
		Permit(RegistrationStateDisposed, RegistrationStateDisposed)

	r.fsm.Configure(RegistrationStateRegistered).
		Permit(RegistrationStateRegistering, RegistrationStateRegistering).
		Permit(RegistrationStateError, RegistrationStateError).
		Permit(RegistrationStateUnregistered, RegistrationStateUnregistered).
		Permit(RegistrationStateDisposed, RegistrationStateDisposed)

	r.fsm.Configure(RegistrationStateError).
		Permit(RegistrationStateRegistering, RegistrationStateRegistering).
		Permit(RegistrationStateRegistered, RegistrationStateRegistered).
		Permit(RegistrationStateUnregistered, RegistrationStateUnregistered).
		Permit(RegistrationStateDisposed, RegistrationStateDisposed)
}

// setState must be called with mu held.
func (r *Registration) setState(ctx context.Context, to RegistrationState) error {
	from := r.State()
	if from == to {
		return nil
	}
	if err := r.fsm.FireCtx(ctx, to); err != nil {
		return errtrace.Wrap(err)
	}

	r.metrics.RegistrationStateChanged(string(to))
	r.log.LogAttrs(ctx, slog.LevelDebug, "registration state changed",
		slog.String("aor", r.aor),
		slog.Any("from", from),
		slog.Any("to", to),
	)

	fns := slices.Collect(r.onState.All())
	r.queue(func() {
		for _, fn := range fns {
			fn(ctx, r, from, to)
		}
	})
	return nil
}

func (r *Registration) notify(ctx context.Context, cbs *types.CallbackManager[RegistrationHandler]) {
	fns := slices.Collect(cbs.All())
	r.queue(func() {
		for _, fn := range fns {
			fn(ctx, r)
		}
	})
}

func (r *Registration) notifyError(ctx context.Context, evt *ResponseEvent) {
	fns := slices.Collect(r.onError.All())
	r.queue(func() {
		for _, fn := range fns {
			fn(ctx, r, evt)
		}
	})
}

func (r *Registration) queue(fn func()) { r.pending.Push(fn) }

func (r *Registration) unlock() {
	r.mu.Unlock()
	for _, fn := range r.pending.Drain() {
		fn()
	}
}

// BeginRegister sends the REGISTER request. It does not wait for the registrar answer.
// If the stack is not started, the attempt is deferred to the refresh timer.
// With autoRefresh the binding is refreshed before it lapses.
func (r *Registration) BeginRegister(ctx context.Context, autoRefresh bool) error {
	r.mu.Lock()
	defer r.unlock()

	if r.disposed.Load() {
		return errtrace.Wrap(ErrDisposed)
	}
	return errtrace.Wrap(r.beginRegister(ctx, autoRefresh))
}

// beginRegister must be called with mu held.
func (r *Registration) beginRegister(ctx context.Context, autoRefresh bool) error {
	r.autoRefresh = autoRefresh

	if r.stack.State() != StackStateStarted {
		r.log.LogAttrs(ctx, slog.LevelDebug, "stack is not started, registration deferred", slog.String("aor", r.aor))
		r.armRefresh(ctx)
		return nil
	}

	req, err := r.buildRegister(r.contact, r.expires)
	if err != nil {
		return errtrace.Wrap(err)
	}
	sender, err := r.stack.CreateRequestSender(req, r.flow)
	if err != nil {
		return errtrace.Wrap(err)
	}
	if err := r.setState(ctx, RegistrationStateRegistering); err != nil {
		return errtrace.Wrap(err)
	}

	if r.register != nil {
		r.register.Dispose()
	}
	r.register = sender
	sender.OnResponse(r.handleRegisterResponse)
	sender.OnCompleted(r.handleRegisterCompleted)

	r.queue(func() {
		if err := sender.Start(ctx); err != nil {
			r.handleRegisterFailure(ctx, sender, err)
		}
	})
	return nil
}

// buildRegister builds a REGISTER of the AOR binding the contact for expires seconds.
// The Request-URI is the AOR domain without user info (RFC 3261 section 10.2).
func (r *Registration) buildRegister(contact sip.Uri, expires int) (*sip.Request, error) {
	scheme := lo.Ternary(r.registrar.Scheme != "", r.registrar.Scheme, "sip")

	var aorURI sip.Uri
	if err := sip.ParseUri(scheme+":"+r.aor, &aorURI); err != nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError(err))
	}
	domain := r.aor
	if _, host, ok := strings.Cut(r.aor, "@"); ok {
		domain = host
	}
	var target sip.Uri
	if err := sip.ParseUri(scheme+":"+domain, &target); err != nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError(err))
	}

	req, err := r.stack.CreateRequest(sip.REGISTER,
		&sip.FromHeader{Address: *aorURI.Clone(), Params: sip.NewParams()},
		&sip.ToHeader{Address: *aorURI.Clone(), Params: sip.NewParams()},
	)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	req.Recipient = target
	req.RemoveHeader("Route")
	req.AppendHeader(&sip.RouteHeader{Address: *r.registrar.Clone()})
	req.RemoveHeader("Contact")
	req.AppendHeader(&sip.ContactHeader{
		Address: *contact.Clone(),
		Params:  sip.NewParams().Add("expires", strconv.Itoa(expires)),
	})
	return req, nil
}

func (r *Registration) handleRegisterResponse(ctx context.Context, sender RequestSender, evt *ResponseEvent) {
	r.mu.Lock()
	defer r.unlock()

	if r.disposed.Load() || r.register != sender {
		return
	}
	if evt.ClientTransaction != nil {
		if flow, err := evt.ClientTransaction.Flow(); err == nil && flow != nil {
			r.flow = flow
		}
	}

	res := evt.Response
	if res.StatusCode < 200 {
		return
	}

	if res.StatusCode < 300 {
		r.contacts = contactURIs(res)
		if err := r.setState(ctx, RegistrationStateRegistered); err != nil {
			r.log.LogAttrs(ctx, slog.LevelWarn, "failed to change registration state", slog.String("aor", r.aor), slog.Any("error", err))
		}
		r.notify(ctx, &r.onRegistered)
		if flow := r.flow; flow != nil {
			r.queue(func() { flow.SetSendKeepAlives(true) })
		}
	} else {
		r.log.LogAttrs(ctx, slog.LevelWarn, "registration rejected", slog.String("aor", r.aor), slog.Any("response", res))
		if err := r.setState(ctx, RegistrationStateError); err != nil {
			r.log.LogAttrs(ctx, slog.LevelWarn, "failed to change registration state", slog.String("aor", r.aor), slog.Any("error", err))
		}
		r.notifyError(ctx, evt)
	}

	if r.autoFix {
		if host, port, ok := r.receivedAddr(res); ok {
			r.log.LogAttrs(ctx, slog.LevelInfo, "contact address differs from the received one, re-registering",
				slog.String("aor", r.aor),
				slog.Any("contact", r.contact),
				slog.String("received_host", host),
				slog.Int("received_port", port),
			)

			r.unregisterStale(ctx, r.contact)
			r.contact.Host = host
			r.contact.Port = port
			r.register = nil
			sender.Dispose()
			if err := r.beginRegister(ctx, r.autoRefresh); err != nil {
				r.log.LogAttrs(ctx, slog.LevelError, "failed to re-register fixed contact", slog.String("aor", r.aor), slog.Any("error", err))
			}
			return
		}
	}

	if r.autoRefresh {
		r.armRefresh(ctx)
	}
	r.register = nil
	sender.Dispose()
}

// handleRegisterCompleted handles an exchange that ended without a final response.
func (r *Registration) handleRegisterCompleted(ctx context.Context, sender RequestSender) {
	r.mu.Lock()
	defer r.unlock()

	if r.disposed.Load() || r.register != sender {
		return
	}
	r.log.LogAttrs(ctx, slog.LevelWarn, "REGISTER completed without final response", slog.String("aor", r.aor))
	r.failRegister(ctx, sender)
}

func (r *Registration) handleRegisterFailure(ctx context.Context, sender RequestSender, err error) {
	r.mu.Lock()
	defer r.unlock()

	if r.disposed.Load() || r.register != sender {
		return
	}
	r.log.LogAttrs(ctx, slog.LevelError, "failed to send REGISTER", slog.String("aor", r.aor), slog.Any("error", err))
	r.failRegister(ctx, sender)
}

// failRegister must be called with mu held.
func (r *Registration) failRegister(ctx context.Context, sender RequestSender) {
	r.register = nil
	sender.Dispose()
	if err := r.setState(ctx, RegistrationStateError); err != nil {
		r.log.LogAttrs(ctx, slog.LevelWarn, "failed to change registration state", slog.String("aor", r.aor), slog.Any("error", err))
	}
	r.notifyError(ctx, nil)
	if r.autoRefresh {
		r.armRefresh(ctx)
	}
}

// receivedAddr compares the top Via received and rport parameters with the contact address.
// It reports the received address if the contact is an IP address and they differ.
func (r *Registration) receivedAddr(res *sip.Response) (string, int, bool) {
	ip, err := netip.ParseAddr(strings.Trim(r.contact.Host, "[]"))
	if err != nil {
		return "", 0, false
	}
	via := res.Via()
	if via == nil {
		return "", 0, false
	}

	addr := ip
	if v, ok := via.Params.Get("received"); ok {
		if a, err := netip.ParseAddr(v); err == nil {
			addr = a
		}
	}
	port := uriPort(r.contact)
	if v, ok := via.Params.Get("rport"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			port = n
		}
	}

	if addr.Unmap() == ip.Unmap() && port == uriPort(r.contact) {
		return "", 0, false
	}
	host := addr.Unmap().String()
	if addr.Unmap().Is6() {
		host = "[" + host + "]"
	}
	return host, port, true
}

// unregisterStale removes the binding of the stale contact.
// It does not affect the registration state. Must be called with mu held.
func (r *Registration) unregisterStale(ctx context.Context, contact sip.Uri) {
	req, err := r.buildRegister(contact, 0)
	if err != nil {
		r.log.LogAttrs(ctx, slog.LevelError, "failed to build stale contact unregister", slog.String("aor", r.aor), slog.Any("error", err))
		return
	}
	sender, err := r.stack.CreateRequestSender(req, r.flow)
	if err != nil {
		r.log.LogAttrs(ctx, slog.LevelError, "failed to create stale contact unregister sender", slog.String("aor", r.aor), slog.Any("error", err))
		return
	}
	sender.OnCompleted(func(context.Context, RequestSender) { sender.Dispose() })
	r.queue(func() {
		if err := sender.Start(ctx); err != nil {
			r.log.LogAttrs(ctx, slog.LevelError, "failed to unregister stale contact", slog.String("aor", r.aor), slog.Any("error", err))
			sender.Dispose()
		}
	})
}

// BeginUnregister removes the binding. The refresh timer is stopped before anything is sent.
// If the registration is not registered, it moves to unregistered immediately.
// If the stack is stopped, it moves to unregistered without sending and returns [ErrStackStopped].
// With disposeAfter the registration is disposed once unregistered.
func (r *Registration) BeginUnregister(ctx context.Context, disposeAfter bool) error {
	r.mu.Lock()
	defer r.unlock()

	if r.disposed.Load() {
		return errtrace.Wrap(ErrDisposed)
	}

	r.stopRefresh()
	r.disposeAfter = disposeAfter
	if r.register != nil {
		r.register.Dispose()
		r.register = nil
	}

	if r.State() != RegistrationStateRegistered {
		r.finishUnregister(ctx)
		return nil
	}
	// the binding is released locally and expires at the registrar
	if r.stack.State() != StackStateStarted {
		r.finishUnregister(ctx)
		return errtrace.Wrap(ErrStackStopped)
	}

	req, err := r.buildRegister(r.contact, 0)
	if err != nil {
		return errtrace.Wrap(err)
	}
	sender, err := r.stack.CreateRequestSender(req, r.flow)
	if err != nil {
		return errtrace.Wrap(err)
	}
	if r.unregister != nil {
		r.unregister.Dispose()
	}
	r.unregister = sender
	sender.OnResponse(func(ctx context.Context, s RequestSender, evt *ResponseEvent) {
		if evt.Response.StatusCode >= 200 {
			r.completeUnregister(ctx, s)
		}
	})
	sender.OnCompleted(r.completeUnregister)

	r.queue(func() {
		if err := sender.Start(ctx); err != nil {
			r.log.LogAttrs(ctx, slog.LevelError, "failed to send unregister REGISTER", slog.String("aor", r.aor), slog.Any("error", err))
			r.completeUnregister(ctx, sender)
		}
	})
	return nil
}

func (r *Registration) completeUnregister(ctx context.Context, sender RequestSender) {
	r.mu.Lock()
	defer r.unlock()

	if r.disposed.Load() || r.unregister != sender {
		return
	}
	r.unregister = nil
	sender.Dispose()
	r.finishUnregister(ctx)
}

// finishUnregister must be called with mu held.
func (r *Registration) finishUnregister(ctx context.Context) {
	if err := r.setState(ctx, RegistrationStateUnregistered); err != nil {
		r.log.LogAttrs(ctx, slog.LevelWarn, "failed to change registration state", slog.String("aor", r.aor), slog.Any("error", err))
	}
	r.notify(ctx, &r.onUnregistered)
	if r.disposeAfter {
		r.dispose(ctx)
	}
}

// refreshDelay is the binding interval minus the margin,
// or half of the interval but at least a second when the margin does not fit.
func (r *Registration) refreshDelay() time.Duration {
	interval := time.Duration(r.expires) * time.Second
	if d := interval - r.margin; d > 0 {
		return d
	}
	return max(interval/2, time.Second)
}

// armRefresh must be called with mu held.
func (r *Registration) armRefresh(ctx context.Context) {
	d := r.refreshDelay()
	r.refreshGen++
	gen := r.refreshGen
	if old := r.refresh.Swap(timeutil.AfterFunc(d, func() { r.onRefreshTimer(gen) })); old != nil {
		old.Stop()
	}
	r.metrics.RefreshArmed(d)
	r.log.LogAttrs(ctx, slog.LevelDebug, "registration refresh armed", slog.String("aor", r.aor), slog.Duration("delay", d))
}

// stopRefresh must be called with mu held.
func (r *Registration) stopRefresh() {
	r.refreshGen++
	r.refresh.Load().Stop()
}

func (r *Registration) onRefreshTimer(gen uint64) {
	ctx := context.Background()

	r.mu.Lock()
	defer r.unlock()

	// the timer was stopped or re-armed while this fire was waiting for the mutex
	if r.disposed.Load() || gen != r.refreshGen {
		return
	}
	if err := r.beginRegister(ctx, r.autoRefresh); err != nil {
		r.log.LogAttrs(ctx, slog.LevelError, "failed to refresh registration", slog.String("aor", r.aor), slog.Any("error", err))
	}
}

// Dispose releases the registration. It does not unregister the binding.
// Dispose is idempotent.
func (r *Registration) Dispose(ctx context.Context) {
	r.mu.Lock()
	defer r.unlock()

	r.dispose(ctx)
}

// dispose must be called with mu held.
func (r *Registration) dispose(ctx context.Context) {
	if r.disposed.Load() {
		return
	}

	r.stopRefresh()
	for _, s := range []RequestSender{r.register, r.unregister} {
		if s != nil {
			s.Dispose()
		}
	}
	r.register = nil
	r.unregister = nil

	if err := r.setState(ctx, RegistrationStateDisposed); err != nil {
		r.log.LogAttrs(ctx, slog.LevelWarn, "failed to dispose registration", slog.String("aor", r.aor), slog.Any("error", err))
	}
	r.disposed.Store(true)
	r.stack = nil
	r.flow = nil
	r.log.LogAttrs(ctx, slog.LevelDebug, "registration disposed", slog.String("aor", r.aor))

	r.notify(ctx, &r.onDisposed)

	r.onState.Clear()
	r.onRegistered.Clear()
	r.onUnregistered.Clear()
	r.onError.Clear()
	r.onDisposed.Clear()
}

func (r *Registration) State() RegistrationState {
	return r.fsm.MustState().(RegistrationState) //nolint:forcetypeassert
}

func (r *Registration) IsDisposed() bool { return r.disposed.Load() }

// AOR returns the address of record.
func (r *Registration) AOR() (string, error) {
	if r.disposed.Load() {
		return "", errtrace.Wrap(ErrDisposed)
	}
	return r.aor, nil
}

// Registrar returns the registrar URI.
func (r *Registration) Registrar() (sip.Uri, error) {
	if r.disposed.Load() {
		return sip.Uri{}, errtrace.Wrap(ErrDisposed)
	}
	return *r.registrar.Clone(), nil
}

// Expires returns the binding interval in seconds.
func (r *Registration) Expires() (int, error) {
	if r.disposed.Load() {
		return 0, errtrace.Wrap(ErrDisposed)
	}
	return r.expires, nil
}

// Contact returns the local contact, possibly fixed from the received address.
func (r *Registration) Contact() (sip.Uri, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disposed.Load() {
		return sip.Uri{}, errtrace.Wrap(ErrDisposed)
	}
	return *r.contact.Clone(), nil
}

// Contacts returns the contacts echoed by the registrar in the last successful response.
func (r *Registration) Contacts() ([]sip.Uri, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disposed.Load() {
		return nil, errtrace.Wrap(ErrDisposed)
	}
	return lo.Map(r.contacts, func(u sip.Uri, _ int) sip.Uri { return *u.Clone() }), nil
}

// Flow returns the flow used by the last REGISTER.
func (r *Registration) Flow() (Flow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disposed.Load() {
		return nil, errtrace.Wrap(ErrDisposed)
	}
	return r.flow, nil
}

// RefreshTimer returns the state of the refresh timer, or nil if it was never armed.
func (r *Registration) RefreshTimer() *timeutil.TimerSnapshot {
	return r.refresh.Load().Snapshot()
}

func (r *Registration) OnStateChanged(fn RegistrationStateHandler) (cancel func()) {
	return r.onState.Add(fn)
}

func (r *Registration) OnRegistered(fn RegistrationHandler) (cancel func()) {
	return r.onRegistered.Add(fn)
}

func (r *Registration) OnUnregistered(fn RegistrationHandler) (cancel func()) {
	return r.onUnregistered.Add(fn)
}

func (r *Registration) OnError(fn RegistrationErrorHandler) (cancel func()) {
	return r.onError.Add(fn)
}

func (r *Registration) OnDisposed(fn RegistrationHandler) (cancel func()) {
	return r.onDisposed.Add(fn)
}

func contactURIs(res *sip.Response) []sip.Uri {
	return lo.FilterMap(res.GetHeaders("Contact"), func(h sip.Header, _ int) (sip.Uri, bool) {
		c, ok := h.(*sip.ContactHeader)
		if !ok {
			return sip.Uri{}, false
		}
		return *c.Address.Clone(), true
	})
}

func uriPort(u sip.Uri) int {
	switch {
	case u.Port > 0:
		return u.Port
	case u.Scheme == "sips":
		return 5061
	default:
		return 5060
	}
}

// RegistrationSnapshot is a serializable view of a registration.
type RegistrationSnapshot struct {
	Time           time.Time               `json:"time"`
	State          RegistrationState       `json:"state"`
	AOR            string                  `json:"aor"`
	Registrar      string                  `json:"registrar"`
	Contact        string                  `json:"contact"`
	Contacts       []string                `json:"contacts,omitempty"`
	Expires        int                     `json:"expires"`
	AutoRefresh    bool                    `json:"auto_refresh"`
	AutoFixContact bool                    `json:"auto_fix_contact"`
	Flow           string                  `json:"flow,omitempty"`
	RefreshTimer   *timeutil.TimerSnapshot `json:"refresh_timer,omitempty"`
}

// Snapshot returns a serializable view of the registration.
func (r *Registration) Snapshot() *RegistrationSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := &RegistrationSnapshot{
		Time:           time.Now(),
		State:          r.State(),
		AOR:            r.aor,
		Registrar:      r.registrar.String(),
		Contact:        r.contact.String(),
		Contacts:       lo.Map(r.contacts, func(u sip.Uri, _ int) string { return u.String() }),
		Expires:        r.expires,
		AutoRefresh:    r.autoRefresh,
		AutoFixContact: r.autoFix,
		RefreshTimer:   r.refresh.Load().Snapshot(),
	}
	if r.flow != nil {
		snap.Flow = r.flow.ID()
	}
	return snap
}

// LogValue implements [slog.LogValuer].
func (r *Registration) LogValue() slog.Value {
	if r == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.String("aor", r.aor),
		slog.String("registrar", r.registrar.String()),
		slog.Any("state", r.State()),
	)
}
