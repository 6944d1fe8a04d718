// Package timer implements a whole-second countdown driven by an external
// clock. Each Start hands out a generation token; ticks carrying a stale
// token are discarded, so an abandoned countdown can never mutate the state
// of the one that replaced it.
package timer

// Countdown counts down from a starting number of seconds, one Tick at a
// time. It is not safe for concurrent use; callers drive it from a single
// event loop.
type Countdown struct {
	gen       int
	remaining int
	running   bool
}

// Start arms the countdown at the given number of seconds and returns the
// generation token that future Tick calls must present. Starting while a
// previous countdown is still running invalidates that countdown's token.
// A non-positive duration leaves the countdown finished immediately.
func (c *Countdown) Start(seconds int) int {
	c.gen++
	if seconds < 0 {
		seconds = 0
	}
	c.remaining = seconds
	c.running = seconds > 0
	return c.gen
}

// Tick advances the countdown by one second. The ok result is false when the
// tick was discarded, either because gen is stale or because the countdown
// already finished or was stopped. finished is true exactly once, on the
// tick that reaches zero.
func (c *Countdown) Tick(gen int) (remaining int, finished, ok bool) {
	if gen != c.gen || !c.running {
		return c.remaining, false, false
	}
	c.remaining--
	if c.remaining <= 0 {
		c.remaining = 0
		c.running = false
		return 0, true, true
	}
	return c.remaining, false, true
}

// Stop halts the countdown without emitting finished. Stopping an already
// stopped countdown is a no-op.
func (c *Countdown) Stop() {
	c.running = false
}

// Remaining reports the seconds left on the current countdown.
func (c *Countdown) Remaining() int { return c.remaining }

// Running reports whether the countdown is still ticking.
func (c *Countdown) Running() bool { return c.running }
