package ua_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/mock/gomock"

	"github.com/ghettovoice/sipcore/internal/testutil/uamock"
	"github.com/ghettovoice/sipcore/internal/timeutil"
	"github.com/ghettovoice/sipcore/log"
	"github.com/ghettovoice/sipcore/ua"
)

var (
	registrarURI = sip.Uri{Scheme: "sip", Host: "example.com"}
	localContact = sip.Uri{Scheme: "sip", User: "alice", Host: "10.0.0.5", Port: 5060}
)

// registerExchange is a REGISTER handed to a mocked request sender.
type registerExchange struct {
	req         *sip.Request
	sender      *uamock.MockRequestSender
	onResponse  ua.RequestSenderResponseHandler
	onCompleted ua.RequestSenderCompletedHandler
}

func (ex *registerExchange) respond(tb testing.TB, tx *ua.ClientTransaction, code int, mod func(res *sip.Response)) {
	tb.Helper()

	res := newResponse(tb, ex.req, code, "", "registrar-tag")
	if mod != nil {
		mod(res)
	}
	ex.onResponse(context.Background(), ex.sender, &ua.ResponseEvent{Response: res, ClientTransaction: tx})
}

func (ex *registerExchange) contact(tb testing.TB) (sip.Uri, string) {
	tb.Helper()

	c := ex.req.Contact()
	if c == nil {
		tb.Fatalf("REGISTER has no Contact")
	}
	expires, _ := c.Params.Get("expires")
	return c.Address, expires
}

type registrationEnv struct {
	ctrl      *gomock.Controller
	stack     *uamock.MockStack
	flow      *uamock.MockFlow
	tx        *ua.ClientTransaction
	exchanges chan *registerExchange
	startErr  error
	onStart   func(ex *registerExchange)
	state     atomic.Value // ua.StackState
}

// newRegistrationEnv mocks a started stack whose request senders are captured
// as exchanges in creation order. Start is called after the handlers are set.
func newRegistrationEnv(tb testing.TB, state ua.StackState) *registrationEnv {
	tb.Helper()

	ctrl := gomock.NewController(tb)
	env := &registrationEnv{
		ctrl:      ctrl,
		stack:     uamock.NewMockStack(ctrl),
		flow:      uamock.NewMockFlow(ctrl),
		exchanges: make(chan *registerExchange, 16),
	}
	factory := ua.NewMessageFactory(&ua.MessageFactoryOptions{
		LocalURI: localContact,
		Via:      sip.ViaHeader{Transport: "UDP", Host: "10.0.0.5", Port: 5060, Params: sip.NewParams()},
	})

	env.flow.EXPECT().ID().Return("udp:10.0.0.5:5060-203.0.113.1:5060").AnyTimes()
	env.flow.EXPECT().Reliable().Return(false).AnyTimes()
	env.flow.EXPECT().SendKeepAlives().Return(false).AnyTimes()
	env.flow.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	env.state.Store(state)
	env.stack.EXPECT().State().DoAndReturn(func() ua.StackState {
		return env.state.Load().(ua.StackState) //nolint:forcetypeassert
	}).AnyTimes()
	env.stack.EXPECT().CreateRequest(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(factory.CreateRequest).AnyTimes()
	env.stack.EXPECT().CreateRequestSender(gomock.Any(), gomock.Any()).DoAndReturn(
		func(req *sip.Request, _ ua.Flow) (ua.RequestSender, error) {
			ex := &registerExchange{req: req, sender: uamock.NewMockRequestSender(ctrl)}
			ex.sender.EXPECT().Request().Return(req).AnyTimes()
			ex.sender.EXPECT().Dispose().AnyTimes()
			ex.sender.EXPECT().OnResponse(gomock.Any()).DoAndReturn(func(fn ua.RequestSenderResponseHandler) func() {
				ex.onResponse = fn
				return func() {}
			}).AnyTimes()
			ex.sender.EXPECT().OnCompleted(gomock.Any()).DoAndReturn(func(fn ua.RequestSenderCompletedHandler) func() {
				ex.onCompleted = fn
				return func() {}
			}).AnyTimes()
			ex.sender.EXPECT().Start(gomock.Any()).DoAndReturn(func(context.Context) error {
				if env.onStart != nil {
					env.onStart(ex)
				}
				if env.startErr != nil {
					return env.startErr
				}
				env.exchanges <- ex
				return nil
			}).MaxTimes(1)
			return ex.sender, nil
		},
	).AnyTimes()

	tx, err := ua.NewClientTransaction(newStubStack(env.flow, fastTimings), env.flow, newRequest(tb, sip.REGISTER, "z9hG4bK-reg-tx", 1), txOpts())
	if err != nil {
		tb.Fatalf("ua.NewClientTransaction() error = %v, want nil", err)
	}
	tb.Cleanup(func() { tx.Terminate(context.Background()) }) //nolint:errcheck
	env.tx = tx
	return env
}

func (env *registrationEnv) newRegistration(tb testing.TB, expires int, opts *ua.RegistrationOptions) *ua.Registration {
	tb.Helper()

	if opts == nil {
		opts = &ua.RegistrationOptions{}
	}
	opts.Log = log.Noop()
	reg, err := ua.NewRegistration(env.stack, registrarURI, "alice@example.com", localContact, expires, opts)
	if err != nil {
		tb.Fatalf("ua.NewRegistration() error = %v, want nil", err)
	}
	tb.Cleanup(func() { reg.Dispose(context.Background()) })
	return reg
}

func (env *registrationEnv) nextExchange(tb testing.TB, timeout time.Duration) *registerExchange {
	tb.Helper()

	select {
	case ex := <-env.exchanges:
		return ex
	case <-time.After(timeout):
		tb.Fatalf("no REGISTER sent in %v", timeout)
		return nil
	}
}

func (env *registrationEnv) ensureNoExchange(tb testing.TB, wait time.Duration) {
	tb.Helper()

	select {
	case ex := <-env.exchanges:
		tb.Fatalf("unexpected REGISTER %v", ex.req.StartLine())
	case <-time.After(wait):
	}
}

// registered runs the initial REGISTER to a 200 response.
func (env *registrationEnv) registered(tb testing.TB, reg *ua.Registration) {
	tb.Helper()

	if err := reg.BeginRegister(context.Background(), true); err != nil {
		tb.Fatalf("reg.BeginRegister() error = %v, want nil", err)
	}
	env.flow.EXPECT().SetSendKeepAlives(true).Times(1)
	env.nextExchange(tb, 100*time.Millisecond).respond(tb, env.tx, 200, nil)
	if got, want := reg.State(), ua.RegistrationStateRegistered; got != want {
		tb.Fatalf("reg.State() = %q, want %q", got, want)
	}
}

func TestNewRegistration_Invalid(t *testing.T) {
	t.Parallel()

	stack := uamock.NewMockStack(gomock.NewController(t))
	cases := []struct {
		name      string
		stack     ua.Stack
		registrar sip.Uri
		aor       string
		contact   sip.Uri
		expires   int
	}{
		{"nil stack", nil, registrarURI, "alice@example.com", localContact, 300},
		{"empty registrar", stack, sip.Uri{}, "alice@example.com", localContact, 300},
		{"empty aor", stack, registrarURI, "", localContact, 300},
		{"empty contact", stack, registrarURI, "alice@example.com", sip.Uri{}, 300},
		{"zero expires", stack, registrarURI, "alice@example.com", localContact, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			_, err := ua.NewRegistration(c.stack, c.registrar, c.aor, c.contact, c.expires, &ua.RegistrationOptions{Log: log.Noop()})
			if !errors.Is(err, ua.ErrInvalidArgument) {
				t.Fatalf("ua.NewRegistration() error = %v, want %v", err, ua.ErrInvalidArgument)
			}
		})
	}
}

func TestRegistration_Register(t *testing.T) {
	t.Parallel()

	env := newRegistrationEnv(t, ua.StackStateStarted)
	reg := env.newRegistration(t, 300, nil)

	var states []ua.RegistrationState
	reg.OnStateChanged(func(_ context.Context, _ *ua.Registration, _, to ua.RegistrationState) {
		states = append(states, to)
	})
	registered := 0
	reg.OnRegistered(func(context.Context, *ua.Registration) { registered++ })

	if err := reg.BeginRegister(t.Context(), true); err != nil {
		t.Fatalf("reg.BeginRegister() error = %v, want nil", err)
	}
	if got, want := reg.State(), ua.RegistrationStateRegistering; got != want {
		t.Fatalf("reg.State() = %q, want %q", got, want)
	}

	ex := env.nextExchange(t, 100*time.Millisecond)
	if got, want := ex.req.Method, sip.REGISTER; got != want {
		t.Fatalf("request method = %q, want %q", got, want)
	}
	if got, want := ex.req.Recipient.String(), "sip:example.com"; got != want {
		t.Fatalf("request URI = %q, want %q", got, want)
	}
	if got, want := ex.req.From().Address.String(), "sip:alice@example.com"; got != want {
		t.Fatalf("From = %q, want %q", got, want)
	}
	if got, want := ex.req.To().Address.String(), "sip:alice@example.com"; got != want {
		t.Fatalf("To = %q, want %q", got, want)
	}
	if route, ok := ex.req.GetHeader("Route").(*sip.RouteHeader); !ok || route.Address.Host != "example.com" {
		t.Fatalf("Route = %v, want the registrar", ex.req.GetHeader("Route"))
	}
	contact, expires := ex.contact(t)
	if contact.String() != localContact.String() || expires != "300" {
		t.Fatalf("Contact = %v;expires=%s, want %v;expires=300", contact, expires, localContact)
	}

	// a provisional response keeps the registration pending
	ex.respond(t, env.tx, 100, nil)
	if got, want := reg.State(), ua.RegistrationStateRegistering; got != want {
		t.Fatalf("reg.State() after 100 = %q, want %q", got, want)
	}

	env.flow.EXPECT().SetSendKeepAlives(true).Times(1)
	ex.respond(t, env.tx, 200, func(res *sip.Response) {
		res.AppendHeader(&sip.ContactHeader{Address: localContact, Params: sip.NewParams().Add("expires", "300")})
		res.Via().Params.Add("received", "10.0.0.5")
		res.Via().Params.Add("rport", "5060")
	})

	if got, want := reg.State(), ua.RegistrationStateRegistered; got != want {
		t.Fatalf("reg.State() = %q, want %q", got, want)
	}
	if registered != 1 {
		t.Fatalf("OnRegistered called %d times, want 1", registered)
	}
	wantStates := []ua.RegistrationState{ua.RegistrationStateRegistering, ua.RegistrationStateRegistered}
	if diff := cmp.Diff(wantStates, states); diff != "" {
		t.Fatalf("state changes mismatch (-want +got):\n%s", diff)
	}

	timer := reg.RefreshTimer()
	if timer == nil || timer.State != timeutil.TimerStateRunning || timer.Duration != 285*time.Second {
		t.Fatalf("reg.RefreshTimer() = %+v, want running for 285s", timer)
	}
	contacts, err := reg.Contacts()
	if err != nil || len(contacts) != 1 || contacts[0].String() != localContact.String() {
		t.Fatalf("reg.Contacts() = %v, %v, want [%v], nil", contacts, err, localContact)
	}
	if flow, _ := reg.Flow(); flow != ua.Flow(env.flow) {
		t.Fatalf("reg.Flow() = %v, want the transaction flow", flow)
	}

	snap := reg.Snapshot()
	if snap.State != ua.RegistrationStateRegistered || snap.AOR != "alice@example.com" || !snap.AutoRefresh || snap.Flow == "" {
		t.Fatalf("reg.Snapshot() = %+v, want registered alice@example.com with auto refresh", snap)
	}

	// the contact matched the received address, nothing else is sent
	env.ensureNoExchange(t, 20*time.Millisecond)
}

func TestRegistration_Refresh(t *testing.T) {
	t.Parallel()

	env := newRegistrationEnv(t, ua.StackStateStarted)
	reg := env.newRegistration(t, 1, nil)
	env.registered(t, reg)

	if timer := reg.RefreshTimer(); timer.Duration != time.Second {
		t.Fatalf("refresh delay = %v, want %v", timer.Duration, time.Second)
	}

	ex := env.nextExchange(t, 2*time.Second)
	if _, expires := ex.contact(t); expires != "1" {
		t.Fatalf("refresh Contact expires = %s, want 1", expires)
	}
	if got, want := reg.State(), ua.RegistrationStateRegistering; got != want {
		t.Fatalf("reg.State() on refresh = %q, want %q", got, want)
	}
}

func TestRegistration_RefreshDelay(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		expires int
		margin  time.Duration
		want    time.Duration
	}{
		{"default margin", 300, 0, 285 * time.Second},
		{"custom margin", 300, time.Minute, 240 * time.Second},
		{"margin exceeds interval", 10, 0, 5 * time.Second},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			env := newRegistrationEnv(t, ua.StackStateStarted)
			reg := env.newRegistration(t, c.expires, &ua.RegistrationOptions{RefreshMargin: c.margin})
			env.registered(t, reg)

			if got := reg.RefreshTimer().Duration; got != c.want {
				t.Fatalf("refresh delay = %v, want %v", got, c.want)
			}
		})
	}
}

func TestRegistration_Rejected(t *testing.T) {
	t.Parallel()

	env := newRegistrationEnv(t, ua.StackStateStarted)
	reg := env.newRegistration(t, 300, nil)

	var gotEvt *ua.ResponseEvent
	reg.OnError(func(_ context.Context, _ *ua.Registration, evt *ua.ResponseEvent) { gotEvt = evt })

	if err := reg.BeginRegister(t.Context(), true); err != nil {
		t.Fatalf("reg.BeginRegister() error = %v, want nil", err)
	}
	env.nextExchange(t, 100*time.Millisecond).respond(t, env.tx, 403, nil)

	if got, want := reg.State(), ua.RegistrationStateError; got != want {
		t.Fatalf("reg.State() = %q, want %q", got, want)
	}
	if gotEvt == nil || gotEvt.Response.StatusCode != 403 {
		t.Fatalf("OnError event = %+v, want 403 response", gotEvt)
	}
	if timer := reg.RefreshTimer(); timer == nil || timer.State != timeutil.TimerStateRunning {
		t.Fatalf("reg.RefreshTimer() = %+v, want running", timer)
	}
}

func TestRegistration_CompletedWithoutResponse(t *testing.T) {
	t.Parallel()

	env := newRegistrationEnv(t, ua.StackStateStarted)
	reg := env.newRegistration(t, 300, nil)

	errCh := make(chan *ua.ResponseEvent, 1)
	reg.OnError(func(_ context.Context, _ *ua.Registration, evt *ua.ResponseEvent) { errCh <- evt })

	if err := reg.BeginRegister(t.Context(), true); err != nil {
		t.Fatalf("reg.BeginRegister() error = %v, want nil", err)
	}
	ex := env.nextExchange(t, 100*time.Millisecond)
	ex.onCompleted(t.Context(), ex.sender)

	if got, want := reg.State(), ua.RegistrationStateError; got != want {
		t.Fatalf("reg.State() = %q, want %q", got, want)
	}
	select {
	case evt := <-errCh:
		if evt != nil {
			t.Fatalf("OnError event = %+v, want nil", evt)
		}
	default:
		t.Fatalf("OnError was not called")
	}
	if timer := reg.RefreshTimer(); timer == nil || timer.State != timeutil.TimerStateRunning {
		t.Fatalf("reg.RefreshTimer() = %+v, want running", timer)
	}

	// late callbacks of the dropped sender are ignored
	ex.respond(t, env.tx, 200, nil)
	if got, want := reg.State(), ua.RegistrationStateError; got != want {
		t.Fatalf("reg.State() after late 200 = %q, want %q", got, want)
	}
}

func TestRegistration_StartFailure(t *testing.T) {
	t.Parallel()

	env := newRegistrationEnv(t, ua.StackStateStarted)
	env.startErr = errStubSend
	reg := env.newRegistration(t, 300, nil)

	if err := reg.BeginRegister(t.Context(), false); err != nil {
		t.Fatalf("reg.BeginRegister() error = %v, want nil", err)
	}
	if got, want := reg.State(), ua.RegistrationStateError; got != want {
		t.Fatalf("reg.State() = %q, want %q", got, want)
	}
	if timer := reg.RefreshTimer(); timer != nil {
		t.Fatalf("reg.RefreshTimer() = %+v, want nil without auto refresh", timer)
	}
}

func TestRegistration_StackNotStarted(t *testing.T) {
	t.Parallel()

	env := newRegistrationEnv(t, ua.StackStateStopped)
	reg := env.newRegistration(t, 300, nil)

	if err := reg.BeginRegister(t.Context(), true); err != nil {
		t.Fatalf("reg.BeginRegister() error = %v, want nil", err)
	}
	env.ensureNoExchange(t, 20*time.Millisecond)
	if got, want := reg.State(), ua.RegistrationStateUnregistered; got != want {
		t.Fatalf("reg.State() = %q, want %q", got, want)
	}
	if timer := reg.RefreshTimer(); timer == nil || timer.State != timeutil.TimerStateRunning || timer.Duration != 285*time.Second {
		t.Fatalf("reg.RefreshTimer() = %+v, want running for 285s", timer)
	}
	if snap := reg.Snapshot(); !snap.AutoRefresh {
		t.Fatalf("reg.Snapshot().AutoRefresh = false, want true")
	}
}

func TestRegistration_AutoFixContact(t *testing.T) {
	t.Parallel()

	env := newRegistrationEnv(t, ua.StackStateStarted)
	reg := env.newRegistration(t, 300, &ua.RegistrationOptions{AutoFixContact: true})

	if err := reg.BeginRegister(t.Context(), true); err != nil {
		t.Fatalf("reg.BeginRegister() error = %v, want nil", err)
	}
	env.flow.EXPECT().SetSendKeepAlives(true).Times(1)
	env.nextExchange(t, 100*time.Millisecond).respond(t, env.tx, 200, func(res *sip.Response) {
		res.Via().Params.Add("received", "203.0.113.9")
		res.Via().Params.Add("rport", "41000")
	})

	// the stale binding is removed and the fixed contact registered
	stale := env.nextExchange(t, 100*time.Millisecond)
	if contact, expires := stale.contact(t); contact.Host != "10.0.0.5" || expires != "0" {
		t.Fatalf("stale Contact = %v;expires=%s, want 10.0.0.5 with expires=0", contact, expires)
	}
	fixed := env.nextExchange(t, 100*time.Millisecond)
	if contact, expires := fixed.contact(t); contact.Host != "203.0.113.9" || contact.Port != 41000 || expires != "300" {
		t.Fatalf("fixed Contact = %v;expires=%s, want 203.0.113.9:41000 with expires=300", contact, expires)
	}
	if got, want := reg.State(), ua.RegistrationStateRegistering; got != want {
		t.Fatalf("reg.State() = %q, want %q", got, want)
	}
	if contact, _ := reg.Contact(); contact.Host != "203.0.113.9" || contact.Port != 41000 {
		t.Fatalf("reg.Contact() = %v, want 203.0.113.9:41000", contact)
	}

	// the fixed contact matches, no further rewrite
	env.flow.EXPECT().SetSendKeepAlives(true).Times(1)
	fixed.respond(t, env.tx, 200, func(res *sip.Response) {
		res.Via().Params.Add("received", "203.0.113.9")
		res.Via().Params.Add("rport", "41000")
	})
	if got, want := reg.State(), ua.RegistrationStateRegistered; got != want {
		t.Fatalf("reg.State() = %q, want %q", got, want)
	}
	env.ensureNoExchange(t, 20*time.Millisecond)
}

func TestRegistration_Unregister(t *testing.T) {
	t.Parallel()

	env := newRegistrationEnv(t, ua.StackStateStarted)
	reg := env.newRegistration(t, 300, nil)
	env.registered(t, reg)

	var timerAtStart *timeutil.TimerSnapshot
	env.onStart = func(*registerExchange) { timerAtStart = reg.RefreshTimer() }

	var events []string
	reg.OnUnregistered(func(context.Context, *ua.Registration) { events = append(events, "unregistered") })
	reg.OnDisposed(func(context.Context, *ua.Registration) { events = append(events, "disposed") })

	if err := reg.BeginUnregister(t.Context(), true); err != nil {
		t.Fatalf("reg.BeginUnregister() error = %v, want nil", err)
	}
	if timerAtStart == nil || timerAtStart.State != timeutil.TimerStateStopped {
		t.Fatalf("refresh timer at unregister start = %+v, want stopped", timerAtStart)
	}

	ex := env.nextExchange(t, 100*time.Millisecond)
	if contact, expires := ex.contact(t); contact.String() != localContact.String() || expires != "0" {
		t.Fatalf("unregister Contact = %v;expires=%s, want %v;expires=0", contact, expires, localContact)
	}
	if got, want := reg.State(), ua.RegistrationStateRegistered; got != want {
		t.Fatalf("reg.State() before answer = %q, want %q", got, want)
	}

	ex.respond(t, env.tx, 200, nil)
	if diff := cmp.Diff([]string{"unregistered", "disposed"}, events); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	if got, want := reg.State(), ua.RegistrationStateDisposed; got != want {
		t.Fatalf("reg.State() = %q, want %q", got, want)
	}
}

func TestRegistration_UnregisterStackStopped(t *testing.T) {
	t.Parallel()

	env := newRegistrationEnv(t, ua.StackStateStarted)
	reg := env.newRegistration(t, 300, nil)
	env.registered(t, reg)

	unregistered := 0
	reg.OnUnregistered(func(context.Context, *ua.Registration) { unregistered++ })

	env.state.Store(ua.StackStateStopped)
	if err := reg.BeginUnregister(t.Context(), false); !errors.Is(err, ua.ErrStackStopped) {
		t.Fatalf("reg.BeginUnregister() error = %v, want %v", err, ua.ErrStackStopped)
	}
	env.ensureNoExchange(t, 20*time.Millisecond)
	if got, want := reg.State(), ua.RegistrationStateUnregistered; got != want {
		t.Fatalf("reg.State() = %q, want %q", got, want)
	}
	if unregistered != 1 {
		t.Fatalf("unregistered notifications = %d, want 1", unregistered)
	}
	if timer := reg.RefreshTimer(); timer != nil && timer.State == timeutil.TimerStateRunning {
		t.Fatalf("reg.RefreshTimer() = %+v, want stopped", timer)
	}
}

func TestRegistration_UnregisterNotRegistered(t *testing.T) {
	t.Parallel()

	env := newRegistrationEnv(t, ua.StackStateStarted)
	reg := env.newRegistration(t, 300, nil)

	unregistered := 0
	reg.OnUnregistered(func(context.Context, *ua.Registration) { unregistered++ })

	if err := reg.BeginUnregister(t.Context(), false); err != nil {
		t.Fatalf("reg.BeginUnregister() error = %v, want nil", err)
	}
	env.ensureNoExchange(t, 20*time.Millisecond)
	if got, want := reg.State(), ua.RegistrationStateUnregistered; got != want {
		t.Fatalf("reg.State() = %q, want %q", got, want)
	}
	if unregistered != 1 {
		t.Fatalf("OnUnregistered called %d times, want 1", unregistered)
	}
	if reg.IsDisposed() {
		t.Fatalf("reg.IsDisposed() = true, want false")
	}

	// an in-flight REGISTER is abandoned
	if err := reg.BeginRegister(t.Context(), true); err != nil {
		t.Fatalf("reg.BeginRegister() error = %v, want nil", err)
	}
	ex := env.nextExchange(t, 100*time.Millisecond)
	if err := reg.BeginUnregister(t.Context(), true); err != nil {
		t.Fatalf("reg.BeginUnregister() error = %v, want nil", err)
	}
	if !reg.IsDisposed() {
		t.Fatalf("reg.IsDisposed() = false, want true")
	}
	ex.respond(t, env.tx, 200, nil)
	if got, want := reg.State(), ua.RegistrationStateDisposed; got != want {
		t.Fatalf("reg.State() = %q, want %q", got, want)
	}
}

func TestRegistration_Disposed(t *testing.T) {
	t.Parallel()

	env := newRegistrationEnv(t, ua.StackStateStarted)
	reg := env.newRegistration(t, 300, nil)
	env.registered(t, reg)

	disposed := 0
	reg.OnDisposed(func(context.Context, *ua.Registration) { disposed++ })
	reg.Dispose(t.Context())
	reg.Dispose(t.Context())

	if disposed != 1 {
		t.Fatalf("OnDisposed called %d times, want 1", disposed)
	}
	if timer := reg.RefreshTimer(); timer.State != timeutil.TimerStateStopped {
		t.Fatalf("refresh timer state = %q, want %q", timer.State, timeutil.TimerStateStopped)
	}
	if err := reg.BeginRegister(t.Context(), true); !errors.Is(err, ua.ErrDisposed) {
		t.Fatalf("reg.BeginRegister() error = %v, want %v", err, ua.ErrDisposed)
	}
	if err := reg.BeginUnregister(t.Context(), false); !errors.Is(err, ua.ErrDisposed) {
		t.Fatalf("reg.BeginUnregister() error = %v, want %v", err, ua.ErrDisposed)
	}
	if _, err := reg.AOR(); !errors.Is(err, ua.ErrDisposed) {
		t.Fatalf("reg.AOR() error = %v, want %v", err, ua.ErrDisposed)
	}
	if _, err := reg.Contact(); !errors.Is(err, ua.ErrDisposed) {
		t.Fatalf("reg.Contact() error = %v, want %v", err, ua.ErrDisposed)
	}
	env.ensureNoExchange(t, 20*time.Millisecond)
}
