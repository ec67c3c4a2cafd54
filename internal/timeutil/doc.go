// Package timeutil provides Timer, a one-shot callback timer that can report
// its own state through a [TimerSnapshot].
//
// It is used for protocol timers (transaction retransmits and timeouts,
// registration refresh) where callers need to know what is armed and for how long:
//
//	tmr := timeutil.AfterFunc(285*time.Second, refresh)
//	snap := tmr.Snapshot() // snap.Duration == 285s, snap.State == TimerStateRunning
//	tmr.Stop()
//
// All timer operations are safe for concurrent use.
package timeutil
