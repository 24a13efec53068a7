package timectrl

import (
	"context"
	"sync"
	"time"
)

// Clock is the time source used by the planner, the poller and the feed
// normalisers. Components depend on it rather than on time.Now so tests can
// pin the service day.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// After returns a channel that receives the time once d has elapsed on
	// this clock.
	After(d time.Duration) <-chan time.Time
}

// SystemClock reads wall-clock time in a fixed location (IST for Indian
// Railways boards).
type SystemClock struct {
	Location *time.Location
}

// Now returns the wall-clock time in the configured location.
func (c SystemClock) Now() time.Time {
	if c.Location == nil {
		return time.Now()
	}
	return time.Now().In(c.Location)
}

// After delegates to time.After.
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// ManualClock only moves when told to. Pending After channels fire as
// Advance or SetTime passes their deadline.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

type waiter struct {
	at time.Time
	ch chan time.Time
}

// NewManualClock constructs a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that fires when the clock reaches now+d.
func (c *ManualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	at := c.now.Add(d)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, waiter{at: at, ch: ch})
	return ch
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	t := c.now.Add(d)
	c.mu.Unlock()
	c.SetTime(t)
}

// SetTime jumps the clock to t and releases any waiters whose deadline has
// passed.
func (c *ManualClock) SetTime(t time.Time) {
	c.mu.Lock()
	c.now = t
	remaining := c.waiters[:0]
	var due []waiter
	for _, w := range c.waiters {
		if !w.at.After(t) {
			due = append(due, w)
			continue
		}
		remaining = append(remaining, w)
	}
	c.waiters = remaining
	c.mu.Unlock()

	for _, w := range due {
		w.ch <- t
	}
}

// TimeController runs a repeating task: every Interval, and whenever
// Trigger is called, it notifies its listeners with the clock's time.
type TimeController struct {
	mu       sync.RWMutex
	clock    Clock
	Interval time.Duration

	trigger   chan struct{}
	listeners []func(context.Context, time.Time)
}

// NewTimeController constructs a controller. A nil clock means wall time.
func NewTimeController(clock Clock, interval time.Duration) *TimeController {
	if clock == nil {
		clock = SystemClock{}
	}
	return &TimeController{
		clock:    clock,
		Interval: interval,
		trigger:  make(chan struct{}, 1),
	}
}

// Now returns the controller's current time.
func (tc *TimeController) Now() time.Time { return tc.clock.Now() }

// AddListener registers a callback invoked on every tick and trigger.
func (tc *TimeController) AddListener(fn func(context.Context, time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Trigger requests an immediate run. Requests made while one is already
// pending are coalesced.
func (tc *TimeController) Trigger() {
	select {
	case tc.trigger <- struct{}{}:
	default:
	}
}

// Run fires listeners once immediately, then on every interval and trigger
// until ctx is cancelled. It returns ctx.Err().
func (tc *TimeController) Run(ctx context.Context) error {
	tc.fire(ctx)
	for {
		var tick <-chan time.Time
		if tc.Interval > 0 {
			tick = tc.clock.After(tc.Interval)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
		case <-tc.trigger:
		}
		tc.fire(ctx)
	}
}

func (tc *TimeController) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	tc.mu.RLock()
	listeners := append([]func(context.Context, time.Time){}, tc.listeners...)
	tc.mu.RUnlock()

	now := tc.clock.Now()
	for _, fn := range listeners {
		fn(ctx, now)
	}
}
