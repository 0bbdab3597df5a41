// Package geolocation is the device location source. Positions are pushed by
// the browser that owns the device and fanned out to watchers.
package geolocation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetmap/internal/domain"
)

// Browser geolocation error codes
const (
	CodePermissionDenied    = 1
	CodePositionUnavailable = 2
	CodeTimeout             = 3
)

type watcher struct {
	onUpdate func(domain.LiveLocation)
	onError  func(error)
}

type fix struct {
	loc domain.LiveLocation
	err error
}

// Feed implements the continuous and one-shot position contracts over
// positions published by the device
type Feed struct {
	mu       sync.Mutex
	watchers map[string]watcher
	waiters  []chan fix
	last     domain.LiveLocation
	hasLast  bool

	maxAge time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// New returns a feed. CurrentPosition answers from the last sample when it
// is younger than maxAge.
func New(maxAge time.Duration, logger *slog.Logger) *Feed {
	return &Feed{
		watchers: make(map[string]watcher),
		maxAge:   maxAge,
		now:      time.Now,
		logger:   logger.With("component", "geolocation"),
	}
}

// Publish delivers a device sample. Samples older than the last one are dropped.
func (f *Feed) Publish(loc domain.LiveLocation) {
	if loc.ObservedAt.IsZero() {
		loc.ObservedAt = f.now()
	}

	f.mu.Lock()
	if f.hasLast && loc.ObservedAt.Before(f.last.ObservedAt) {
		f.mu.Unlock()
		f.logger.Debug("dropping stale sample", "observed_at", loc.ObservedAt)
		return
	}
	f.last = loc
	f.hasLast = true
	targets := f.snapshot()
	waiters := f.waiters
	f.waiters = nil
	f.mu.Unlock()

	for _, ch := range waiters {
		ch <- fix{loc: loc}
	}
	for _, w := range targets {
		w.onUpdate(loc)
	}
}

// Fail reports a device-side error to watchers and pending one-shot requests
func (f *Feed) Fail(err error) {
	f.mu.Lock()
	targets := f.snapshot()
	waiters := f.waiters
	f.waiters = nil
	f.mu.Unlock()

	f.logger.Warn("device reported location error", "error", err)
	for _, ch := range waiters {
		ch <- fix{err: err}
	}
	for _, w := range targets {
		w.onError(err)
	}
}

func (f *Feed) Watch(onUpdate func(domain.LiveLocation), onError func(error)) (string, error) {
	if onUpdate == nil {
		return "", fmt.Errorf("%w: watch needs an update callback", domain.ErrInvariantViolation)
	}
	if onError == nil {
		onError = func(error) {}
	}
	id := uuid.NewString()

	f.mu.Lock()
	f.watchers[id] = watcher{onUpdate: onUpdate, onError: onError}
	n := len(f.watchers)
	f.mu.Unlock()

	f.logger.Debug("watch added", "watch", id, "watchers", n)
	return id, nil
}

// Cancel removes a watch. Unknown ids are ignored.
func (f *Feed) Cancel(id string) {
	f.mu.Lock()
	delete(f.watchers, id)
	n := len(f.watchers)
	f.mu.Unlock()

	f.logger.Debug("watch cancelled", "watch", id, "watchers", n)
}

// CurrentPosition returns a fresh enough cached sample or waits for the next
// one. It never waits past ctx.
func (f *Feed) CurrentPosition(ctx context.Context) (domain.LiveLocation, error) {
	f.mu.Lock()
	if f.hasLast && f.now().Sub(f.last.ObservedAt) <= f.maxAge {
		loc := f.last
		f.mu.Unlock()
		return loc, nil
	}
	ch := make(chan fix, 1)
	f.waiters = append(f.waiters, ch)
	f.mu.Unlock()

	select {
	case r := <-ch:
		return r.loc, r.err
	case <-ctx.Done():
		f.dropWaiter(ch)
		return domain.LiveLocation{}, ctx.Err()
	}
}

// Watchers returns the number of active watches
func (f *Feed) Watchers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers)
}

// ErrorFromCode maps a browser geolocation error code onto the error taxonomy
func ErrorFromCode(code int, message string) error {
	switch code {
	case CodePermissionDenied:
		return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, message)
	case CodeTimeout:
		return fmt.Errorf("%w: %s", domain.ErrTimeout, message)
	default:
		return fmt.Errorf("%w: position unavailable: %s", domain.ErrTransientIO, message)
	}
}

func (f *Feed) snapshot() []watcher {
	out := make([]watcher, 0, len(f.watchers))
	for _, w := range f.watchers {
		out = append(out, w)
	}
	return out
}

func (f *Feed) dropWaiter(ch chan fix) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, w := range f.waiters {
		if w == ch {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			return
		}
	}
}
