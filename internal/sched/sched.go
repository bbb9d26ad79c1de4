// Package sched abstracts time for components that arm timers.
//
// The engine's not-found expiry and the continuous-mode dedupe window both
// read time through a Scheduler, so scenario runs and tests can advance time
// by hand instead of sleeping.
package sched

import "time"

// Timer is a cancellable pending callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer, false if it already fired or was stopped.
	Stop() bool
}

// Scheduler supplies the current time and one-shot timers.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// System is the wall-clock Scheduler.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// AfterFunc runs f on its own goroutine after d.
func (System) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
