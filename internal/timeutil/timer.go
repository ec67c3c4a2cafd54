package timeutil

import (
	"log/slog"
	"sync"
	"time"
)

// TimerState represents the current state of a timer.
type TimerState string

const (
	// TimerStateRunning indicates the timer is currently running.
	TimerStateRunning TimerState = "running"
	// TimerStateStopped indicates the timer was stopped before expiration.
	TimerStateStopped TimerState = "stopped"
	// TimerStateExpired indicates the timer has expired and its callback was scheduled.
	TimerStateExpired TimerState = "expired"
)

// Timer is a one-shot timer that calls a function in its own goroutine when it expires.
// Unlike [time.Timer] it keeps track of its start time, duration and state.
type Timer struct {
	mu        sync.Mutex
	startTime time.Time
	duration  time.Duration
	state     TimerState
	stopTime  time.Time
	callback  func()
	gen       uint64
	realTimer *time.Timer
}

// AfterFunc starts a new timer that calls f in its own goroutine after d.
func AfterFunc(d time.Duration, f func()) *Timer {
	t := &Timer{callback: f}
	t.Reset(d)
	return t
}

// State returns the current timer state.
func (t *Timer) State() TimerState {
	if t == nil {
		return ""
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Duration returns the duration the timer was armed with.
func (t *Timer) Duration() time.Duration {
	if t == nil {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duration
}

// StartTime returns the moment the timer was armed.
func (t *Timer) StartTime() time.Time {
	if t == nil {
		return time.Time{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startTime
}

// Left returns the time remaining until the timer expires.
// Returns 0 if the timer is expired or stopped.
func (t *Timer) Left() time.Duration {
	if t == nil {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TimerStateRunning {
		return 0
	}
	return max(t.duration-time.Since(t.startTime), 0)
}

// Stop prevents the timer from firing.
// It returns false if the timer has already expired or been stopped.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TimerStateRunning {
		return false
	}

	t.state = TimerStateStopped
	t.stopTime = time.Now()
	t.gen++
	if t.realTimer != nil {
		t.realTimer.Stop()
		t.realTimer = nil
	}
	return true
}

// Reset re-arms the timer with a new duration starting from now.
// The callback is preserved.
func (t *Timer) Reset(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.realTimer != nil {
		t.realTimer.Stop()
	}

	t.gen++
	gen := t.gen
	t.startTime = time.Now()
	t.duration = d
	t.state = TimerStateRunning
	t.stopTime = time.Time{}
	t.realTimer = time.AfterFunc(d, func() { t.fire(gen) })
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	// stale generation means the timer was stopped or reset after this real timer was scheduled
	if t.gen != gen || t.state != TimerStateRunning {
		t.mu.Unlock()
		return
	}
	t.state = TimerStateExpired
	t.stopTime = time.Now()
	t.realTimer = nil
	cb := t.callback
	t.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// TimerSnapshot represents an immutable view of a timer.
type TimerSnapshot struct {
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	State     TimerState    `json:"state"`
	StopTime  time.Time     `json:"stop_time,omitzero"`
}

// Snapshot returns the current timer state.
func (t *Timer) Snapshot() *TimerSnapshot {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return &TimerSnapshot{
		StartTime: t.startTime,
		Duration:  t.duration,
		State:     t.state,
		StopTime:  t.stopTime,
	}
}

// LogValue implements [slog.LogValuer].
func (t *Timer) LogValue() slog.Value {
	snap := t.Snapshot()
	if snap == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.Any("state", snap.State),
		slog.Duration("duration", snap.Duration),
	)
}
