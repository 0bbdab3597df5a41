// Package loop serialises every map mutation and state transition onto one
// goroutine. Asynchronous completions (geocoder replies, device positions,
// fallback routes) never touch engine state directly; they post a closure.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrStopped = errors.New("event loop stopped")

// Dispatcher schedules fn to run on the owning event loop
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatchFunc adapts a function to Dispatcher
type DispatchFunc func(fn func())

func (f DispatchFunc) Dispatch(fn func()) { f(fn) }

// Inline runs closures immediately on the calling goroutine
var Inline = DispatchFunc(func(fn func()) { fn() })

// Loop is an unbounded FIFO of closures drained by Run
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped chan struct{}
	once    sync.Once

	logger *slog.Logger
}

func New(logger *slog.Logger) *Loop {
	return &Loop{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
		logger:  logger.With("component", "loop"),
	}
}

// Run drains the queue until ctx is cancelled. Closures still queued at that
// point are dropped.
func (l *Loop) Run(ctx context.Context) {
	defer l.once.Do(func() { close(l.stopped) })

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}

		for {
			fn, ok := l.pop()
			if !ok {
				break
			}
			if ctx.Err() != nil {
				return
			}
			l.invoke(fn)
		}
	}
}

// Dispatch enqueues fn. It never blocks, so it is safe from inside the loop.
func (l *Loop) Dispatch(fn func()) {
	select {
	case <-l.stopped:
		return
	default:
	}

	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Call runs fn on the loop and waits for it. Must not be called from the loop itself.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Dispatch(func() {
		defer close(done)
		fn()
	})

	select {
	case <-done:
		return nil
	case <-l.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) pop() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event handler panicked", "panic", r)
		}
	}()
	fn()
}
