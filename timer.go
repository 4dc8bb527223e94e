package nexusconsumer

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Timer measures the wall clock time of one dispatch.
type Timer struct {
	clock   clockwork.Clock
	start   time.Time
	elapsed time.Duration
	stopped bool
}

// StartTimer starts measuring on clock.
func StartTimer(clock clockwork.Clock) *Timer {
	return &Timer{clock: clock, start: clock.Now()}
}

// Stop freezes the measurement and returns it. Later calls return the same value.
func (t *Timer) Stop() time.Duration {
	if !t.stopped {
		t.elapsed = t.clock.Now().Sub(t.start)
		t.stopped = true
	}
	return t.elapsed
}

// Elapsed returns the running time, or the frozen time once stopped.
func (t *Timer) Elapsed() time.Duration {
	if t.stopped {
		return t.elapsed
	}
	return t.clock.Now().Sub(t.start)
}
