package tracker

import "time"

// Timer is a pending trailing flush
type Timer interface {
	Stop() bool
}

// Throttle forwards at most one event per interval. The first event of a
// window passes immediately. Later events in the same window arm a single
// trailing flush at the window's end, so the newest event is never lost.
// Not safe for concurrent use; the tracker drives it from the event loop.
type Throttle struct {
	interval time.Duration
	now      func() time.Time
	after    func(d time.Duration, fn func()) Timer

	last   time.Time
	primed bool

	pending Timer
	token   uint64
}

func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{
		interval: interval,
		now:      time.Now,
		after: func(d time.Duration, fn func()) Timer {
			return time.AfterFunc(d, fn)
		},
	}
}

// Allow reports whether an event arriving now may be forwarded and, if so,
// opens a new window. A dropped event arms schedule to run once when the
// window closes; schedule runs on the timer goroutine and must hand the
// token back to Flush on the caller's own goroutine.
func (t *Throttle) Allow(schedule func(token uint64)) bool {
	now := t.now()
	if !t.primed || now.Sub(t.last) >= t.interval {
		t.open(now)
		return true
	}
	if t.pending == nil && schedule != nil {
		t.token++
		token := t.token
		t.pending = t.after(t.interval-now.Sub(t.last), func() { schedule(token) })
	}
	return false
}

// Flush reports whether the trailing flush identified by token is still
// due, and if so opens the window it starts. Superseded tokens return false.
func (t *Throttle) Flush(token uint64) bool {
	if t.pending == nil || token != t.token {
		return false
	}
	t.pending = nil
	t.last = t.now()
	t.primed = true
	return true
}

// Pending reports whether a trailing flush is armed
func (t *Throttle) Pending() bool {
	return t.pending != nil
}

// Reset closes the current window and cancels any trailing flush, so the
// next event passes and nothing armed earlier is delivered.
func (t *Throttle) Reset() {
	t.cancel()
	t.primed = false
	t.last = time.Time{}
}

func (t *Throttle) open(now time.Time) {
	t.cancel()
	t.last = now
	t.primed = true
}

func (t *Throttle) cancel() {
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
	t.token++
}
