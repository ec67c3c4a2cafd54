package ua

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"
	"github.com/qmuntal/stateless"

	"github.com/ghettovoice/sipcore/internal/timeutil"
	"github.com/ghettovoice/sipcore/internal/types"
	"github.com/ghettovoice/sipcore/metrics"
)

// TransactionState is a state of the transaction state machine.
type TransactionState string

const (
	TransactionStateCalling    TransactionState = "calling"
	TransactionStateTrying     TransactionState = "trying"
	TransactionStateProceeding TransactionState = "proceeding"
	TransactionStateCompleted  TransactionState = "completed"
	TransactionStateAccepted   TransactionState = "accepted"
	TransactionStateConfirmed  TransactionState = "confirmed"
	TransactionStateTerminated TransactionState = "terminated"
)

// maxProvisionalResponses limits the number of provisional responses kept in the history.
const maxProvisionalResponses = 15

type (
	// TransactionStateHandler is called on each transaction state change.
	TransactionStateHandler = func(ctx context.Context, tx Transaction, from, to TransactionState)
	// TransactionHandler is called on transaction lifecycle events.
	TransactionHandler = func(ctx context.Context, tx Transaction)
	// TransactionErrorHandler is called on transport and transaction errors.
	TransactionErrorHandler = func(ctx context.Context, tx Transaction, err error)
)

// Transaction is the common interface of [ClientTransaction] and [ServerTransaction].
//
// Once the transaction enters [TransactionStateTerminated] it is disposed:
// all subscribers are removed and accessors return [ErrDisposed].
// Key, ID and State stay readable after disposal so owners can still drop
// the transaction from their tables.
type Transaction interface {
	// Key returns the matching key. It is valid after disposal.
	Key() TransactionKey
	// ID returns the top Via branch of the transaction request. It is valid after disposal.
	ID() string
	State() TransactionState
	IsServer() bool
	IsDisposed() bool

	Stack() (Stack, error)
	Flow() (Flow, error)
	Request() (*sip.Request, error)
	Method() (sip.RequestMethod, error)
	CreatedAt() (time.Time, error)
	// Responses returns a snapshot of the response history.
	Responses() ([]*sip.Response, error)
	LastProvisionalResponse() (*sip.Response, error)
	// FinalResponse returns the first final response or nil if there is none yet.
	FinalResponse() (*sip.Response, error)
	HasProvisionalResponse() (bool, error)

	// Cancel cancels the transaction as defined for its side.
	Cancel(ctx context.Context) error
	// Terminate moves the transaction into the terminated state.
	Terminate(ctx context.Context) error

	// Lock and Unlock give callers a per-transaction mutex to coordinate around state reads.
	// The transaction itself never takes it.
	Lock()
	Unlock()

	OnStateChanged(fn TransactionStateHandler) (cancel func())
	OnDisposed(fn TransactionHandler) (cancel func())
	OnTimedOut(fn TransactionHandler) (cancel func())
	OnTransportError(fn TransactionErrorHandler) (cancel func())
	OnTransactionError(fn TransactionErrorHandler) (cancel func())
}

// TransactionOptions configures a transaction.
type TransactionOptions struct {
	// Timings is the timer configuration. Zero value uses RFC 3261 defaults.
	Timings TimingConfig
	// Log is the transaction logger.
	// If nil, the stack logger is used, then [log.Default].
	Log *slog.Logger
	// Metrics is an optional metrics collector.
	Metrics *metrics.Collector
}

func (o *TransactionOptions) timings() TimingConfig {
	if o == nil {
		return TimingConfig{}
	}
	return o.Timings
}

func (o *TransactionOptions) logger() *slog.Logger {
	if o == nil {
		return nil
	}
	return o.Log
}

func (o *TransactionOptions) metrics() *metrics.Collector {
	if o == nil {
		return nil
	}
	return o.Metrics
}

const (
	txEvtTerminate = "terminate"
	txEvtTimedOut  = "timed_out"
)

type transaction struct {
	mu sync.Mutex

	impl      Transaction
	key       TransactionKey
	method    sip.RequestMethod
	createdAt time.Time
	timings   TimingConfig
	log       *slog.Logger
	metrics   *metrics.Collector
	fsm       *stateless.StateMachine

	dataMu sync.RWMutex
	stack  Stack
	flow   Flow
	req    *sip.Request
	ress   []*sip.Response
	nprov  int
	final  *sip.Response

	tmrMu  sync.Mutex
	timers map[string]*timeutil.Timer

	disposed  atomic.Bool
	cause     atomic.Value // string
	transpErr atomic.Bool  // set by a failed send, reported as the cause on Terminate
	cleanup   func()

	onState     types.CallbackManager[TransactionStateHandler]
	onDisposed  types.CallbackManager[TransactionHandler]
	onTimedOut  types.CallbackManager[TransactionHandler]
	onTranspErr types.CallbackManager[TransactionErrorHandler]
	onTxErr     types.CallbackManager[TransactionErrorHandler]
}

func newTransaction(
	impl Transaction,
	stack Stack,
	flow Flow,
	req *sip.Request,
	server bool,
	opts *TransactionOptions,
) (*transaction, error) {
	if stack == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("nil stack"))
	}
	if flow == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("nil flow"))
	}
	if req == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("nil request"))
	}

	var key TransactionKey
	if err := key.FillFromRequest(req, server); err != nil {
		return nil, errtrace.Wrap(err)
	}

	return &transaction{
		impl:      impl,
		key:       key,
		method:    req.Method,
		createdAt: time.Now(),
		timings:   opts.timings(),
		log:       stackLogger(stack, opts.logger()),
		metrics:   opts.metrics(),
		stack:     stack,
		flow:      flow,
		req:       req,
		timers:    make(map[string]*timeutil.Timer),
	}, nil
}

func (t *transaction) initFSM(start TransactionState) {
	t.fsm = stateless.NewStateMachine(start)
	t.fsm.OnUnhandledTrigger(func(_ context.Context, state stateless.State, trigger stateless.Trigger, _ []string) error {
		return errtrace.Wrap(newActionNotAllowedError("trigger %q in state %q", trigger, state))
	})
	t.fsm.OnTransitioned(func(ctx context.Context, tr stateless.Transition) {
		from, _ := tr.Source.(TransactionState)
		to, _ := tr.Destination.(TransactionState)
		if from == to {
			return
		}
		t.setState(ctx, from, to)
	})

	t.metrics.TransactionCreated(t.key.Server, string(t.method))
}

// setState emits the state change notification and disposes the transaction on termination.
func (t *transaction) setState(ctx context.Context, from, to TransactionState) {
	t.log.LogAttrs(ctx, slog.LevelDebug, "transaction state changed",
		slog.Any("transaction", t.key),
		slog.Any("from", from),
		slog.Any("to", to),
	)

	for fn := range t.onState.All() {
		fn(ctx, t.impl, from, to)
	}

	if to == TransactionStateTerminated {
		t.dispose(ctx)
	}
}

func (t *transaction) dispose(ctx context.Context) {
	if !t.disposed.CompareAndSwap(false, true) {
		return
	}

	t.stopAllTimers()

	cause, _ := t.cause.Load().(string)
	if cause == "" {
		cause = metrics.CauseNormal
	}
	t.metrics.TransactionTerminated(t.key.Server, string(t.method), cause)

	t.log.LogAttrs(ctx, slog.LevelDebug, "transaction disposed", slog.Any("transaction", t.key))

	for fn := range t.onDisposed.All() {
		fn(ctx, t.impl)
	}

	t.onState.Clear()
	t.onDisposed.Clear()
	t.onTimedOut.Clear()
	t.onTranspErr.Clear()
	t.onTxErr.Clear()
	if t.cleanup != nil {
		t.cleanup()
	}

	t.dataMu.Lock()
	t.stack = nil
	t.flow = nil
	t.ress = nil
	t.dataMu.Unlock()
}

func (t *transaction) Key() TransactionKey { return t.key }

func (t *transaction) ID() string { return t.key.Branch }

func (t *transaction) IsServer() bool { return t.key.Server }

func (t *transaction) IsDisposed() bool { return t.disposed.Load() }

func (t *transaction) State() TransactionState {
	return t.fsm.MustState().(TransactionState) //nolint:forcetypeassert
}

func (t *transaction) Lock() { t.mu.Lock() }

func (t *transaction) Unlock() { t.mu.Unlock() }

func (t *transaction) Stack() (Stack, error) {
	if t.disposed.Load() {
		return nil, errtrace.Wrap(ErrDisposed)
	}
	t.dataMu.RLock()
	defer t.dataMu.RUnlock()
	return t.stack, nil
}

func (t *transaction) Flow() (Flow, error) {
	if t.disposed.Load() {
		return nil, errtrace.Wrap(ErrDisposed)
	}
	t.dataMu.RLock()
	defer t.dataMu.RUnlock()
	return t.flow, nil
}

func (t *transaction) Request() (*sip.Request, error) {
	if t.disposed.Load() {
		return nil, errtrace.Wrap(ErrDisposed)
	}
	return t.req, nil
}

func (t *transaction) Method() (sip.RequestMethod, error) {
	if t.disposed.Load() {
		return "", errtrace.Wrap(ErrDisposed)
	}
	return t.method, nil
}

func (t *transaction) CreatedAt() (time.Time, error) {
	if t.disposed.Load() {
		return time.Time{}, errtrace.Wrap(ErrDisposed)
	}
	return t.createdAt, nil
}

func (t *transaction) Responses() ([]*sip.Response, error) {
	if t.disposed.Load() {
		return nil, errtrace.Wrap(ErrDisposed)
	}
	t.dataMu.RLock()
	defer t.dataMu.RUnlock()
	return slices.Clone(t.ress), nil
}

func (t *transaction) LastProvisionalResponse() (*sip.Response, error) {
	if t.disposed.Load() {
		return nil, errtrace.Wrap(ErrDisposed)
	}
	t.dataMu.RLock()
	defer t.dataMu.RUnlock()
	for _, res := range slices.Backward(t.ress) {
		if res.StatusCode < 200 {
			return res, nil
		}
	}
	return nil, nil
}

func (t *transaction) FinalResponse() (*sip.Response, error) {
	if t.disposed.Load() {
		return nil, errtrace.Wrap(ErrDisposed)
	}
	t.dataMu.RLock()
	defer t.dataMu.RUnlock()
	return t.final, nil
}

func (t *transaction) HasProvisionalResponse() (bool, error) {
	if t.disposed.Load() {
		return false, errtrace.Wrap(ErrDisposed)
	}
	t.dataMu.RLock()
	defer t.dataMu.RUnlock()
	return t.nprov > 0, nil
}

func (t *transaction) hasFinalResponse() bool {
	t.dataMu.RLock()
	defer t.dataMu.RUnlock()
	return t.final != nil
}

// addResponse appends the response to the history.
// Provisional responses are dropped once the history holds maxProvisionalResponses entries,
// final responses are always kept.
func (t *transaction) addResponse(res *sip.Response) {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()

	if len(t.ress) >= maxProvisionalResponses && res.StatusCode < 200 {
		t.log.LogAttrs(context.Background(), slog.LevelWarn, "provisional response dropped",
			slog.Any("transaction", t.key),
			slog.Any("response", res),
		)
		return
	}

	t.ress = append(t.ress, res)
	if res.StatusCode < 200 {
		t.nprov++
	} else if t.final == nil {
		t.final = res
	}
}

func (t *transaction) currentFlow() Flow {
	t.dataMu.RLock()
	defer t.dataMu.RUnlock()
	return t.flow
}

func (t *transaction) currentStack() Stack {
	t.dataMu.RLock()
	defer t.dataMu.RUnlock()
	return t.stack
}

func (t *transaction) reliable() bool {
	flow := t.currentFlow()
	return flow != nil && flow.Reliable()
}

// send writes the message to the flow and raises the transport error notification on failure.
// The state is left unchanged.
func (t *transaction) send(ctx context.Context, msg sip.Message) error {
	flow := t.currentFlow()
	if flow == nil {
		return errtrace.Wrap(ErrDisposed)
	}

	t.log.LogAttrs(ctx, slog.LevelDebug, "send message",
		slog.Any("transaction", t.key),
		slog.Any("message", msg),
		slog.String("flow", flow.ID()),
	)

	if err := flow.Send(ctx, msg); err != nil {
		err = fmt.Errorf("send message over flow %q: %w", flow.ID(), err)
		t.transpErr.Store(true)
		t.log.LogAttrs(ctx, slog.LevelWarn, "transport error",
			slog.Any("transaction", t.key),
			slog.Any("error", err),
		)
		for fn := range t.onTranspErr.All() {
			fn(ctx, t.impl, err)
		}
		return errtrace.Wrap(err)
	}
	return nil
}

func (t *transaction) Terminate(ctx context.Context) error {
	if t.State() == TransactionStateTerminated {
		return nil
	}
	if t.transpErr.Load() {
		t.cause.CompareAndSwap(nil, metrics.CauseTransportError)
	}
	return errtrace.Wrap(t.fsm.FireCtx(ctx, txEvtTerminate))
}

func (t *transaction) actTimedOut(ctx context.Context, _ ...any) error {
	t.cause.Store(metrics.CauseTimeout)

	t.log.LogAttrs(ctx, slog.LevelDebug, "transaction timed out", slog.Any("transaction", t.key))

	for fn := range t.onTimedOut.All() {
		fn(ctx, t.impl)
	}
	return nil
}

func (t *transaction) raiseTransactionError(ctx context.Context, err error) {
	t.log.LogAttrs(ctx, slog.LevelDebug, "transaction error",
		slog.Any("transaction", t.key),
		slog.Any("error", err),
	)

	for fn := range t.onTxErr.All() {
		fn(ctx, t.impl, err)
	}
}

func (t *transaction) startTimer(name string, d time.Duration, fn func()) *timeutil.Timer {
	t.tmrMu.Lock()
	defer t.tmrMu.Unlock()

	if old := t.timers[name]; old != nil {
		old.Stop()
	}
	tmr := timeutil.AfterFunc(d, fn)
	t.timers[name] = tmr

	t.log.LogAttrs(context.Background(), slog.LevelDebug, "timer "+name+" started",
		slog.Any("transaction", t.key),
		slog.Duration("duration", d),
	)
	return tmr
}

func (t *transaction) stopTimer(name string) {
	t.tmrMu.Lock()
	defer t.tmrMu.Unlock()

	if tmr := t.timers[name]; tmr != nil {
		if tmr.Stop() {
			t.log.LogAttrs(context.Background(), slog.LevelDebug, "timer "+name+" stopped", slog.Any("transaction", t.key))
		}
		delete(t.timers, name)
	}
}

func (t *transaction) timer(name string) *timeutil.Timer {
	t.tmrMu.Lock()
	defer t.tmrMu.Unlock()
	return t.timers[name]
}

func (t *transaction) stopAllTimers() {
	t.tmrMu.Lock()
	defer t.tmrMu.Unlock()

	for name, tmr := range t.timers {
		tmr.Stop()
		delete(t.timers, name)
	}
}

// fireTimer fires the trigger of an expired timer if the transaction is still in one of the states.
func (t *transaction) fireTimer(name string, trigger string, states ...TransactionState) {
	ctx := context.Background()

	t.log.LogAttrs(ctx, slog.LevelDebug, "timer "+name+" expired", slog.Any("transaction", t.key))

	if !slices.Contains(states, t.State()) {
		return
	}
	if err := t.fsm.FireCtx(ctx, trigger); err != nil {
		t.log.LogAttrs(ctx, slog.LevelWarn, "timer trigger failed",
			slog.Any("transaction", t.key),
			slog.String("timer", name),
			slog.Any("error", err),
		)
	}
}

func (t *transaction) timerSnapshots() map[string]*timeutil.TimerSnapshot {
	t.tmrMu.Lock()
	defer t.tmrMu.Unlock()

	if len(t.timers) == 0 {
		return nil
	}
	snaps := make(map[string]*timeutil.TimerSnapshot, len(t.timers))
	for _, name := range slices.Sorted(maps.Keys(t.timers)) {
		snaps[name] = t.timers[name].Snapshot()
	}
	return snaps
}

// OnStateChanged registers a callback called on each state change.
func (t *transaction) OnStateChanged(fn TransactionStateHandler) (cancel func()) {
	return t.onState.Add(fn)
}

// OnDisposed registers a callback called once the transaction is disposed.
func (t *transaction) OnDisposed(fn TransactionHandler) (cancel func()) {
	return t.onDisposed.Add(fn)
}

// OnTimedOut registers a callback called when the transaction timeout timer fires.
func (t *transaction) OnTimedOut(fn TransactionHandler) (cancel func()) {
	return t.onTimedOut.Add(fn)
}

// OnTransportError registers a callback called when the flow fails to send a message.
func (t *transaction) OnTransportError(fn TransactionErrorHandler) (cancel func()) {
	return t.onTranspErr.Add(fn)
}

// OnTransactionError registers a callback called on protocol level failures,
// such as an INVITE final response that was never acknowledged.
func (t *transaction) OnTransactionError(fn TransactionErrorHandler) (cancel func()) {
	return t.onTxErr.Add(fn)
}

// TransactionSnapshot is a serializable view of a transaction.
type TransactionSnapshot struct {
	Time      time.Time                          `json:"time"`
	Key       TransactionKey                     `json:"key"`
	State     TransactionState                   `json:"state"`
	CreatedAt time.Time                          `json:"created_at"`
	Request   string                             `json:"request"`
	Responses []string                           `json:"responses,omitempty"`
	Timings   TimingConfig                       `json:"timings,omitzero"`
	Timers    map[string]*timeutil.TimerSnapshot `json:"timers,omitempty"`
}

func (t *transaction) snapshot() *TransactionSnapshot {
	snap := &TransactionSnapshot{
		Time:      time.Now(),
		Key:       t.key,
		State:     t.State(),
		CreatedAt: t.createdAt,
		Request:   t.req.String(),
		Timings:   t.timings,
		Timers:    t.timerSnapshots(),
	}

	t.dataMu.RLock()
	for _, res := range t.ress {
		snap.Responses = append(snap.Responses, res.String())
	}
	t.dataMu.RUnlock()
	return snap
}

func (t *transaction) logValue() slog.Value {
	return slog.GroupValue(
		slog.Any("key", t.key),
		slog.Any("state", t.State()),
	)
}
