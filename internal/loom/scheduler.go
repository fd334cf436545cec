package loom

import "time"

// Scheduler is the cooperative next-tick capability join polling runs on.
// Tick runs fn once after delay and returns a cancel that stops a run that
// has not started yet.
type Scheduler interface {
	Tick(delay time.Duration, fn func()) (cancel func())
}

// TickScheduler schedules on the runtime timer heap.
type TickScheduler struct{}

func (TickScheduler) Tick(delay time.Duration, fn func()) func() {
	if delay < 0 {
		delay = 0
	}
	timer := time.AfterFunc(delay, fn)
	return func() { timer.Stop() }
}
