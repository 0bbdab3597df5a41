// Package tracker consumes the device location stream and keeps the live
// marker, and the first polyline vertex of a live-origin route, in step with it.
package tracker

import (
	"context"
	"log/slog"
	"time"

	"fleetmap/internal/domain"
	"fleetmap/internal/layers"
	"fleetmap/internal/loop"
	"fleetmap/internal/mapview"
)

// Stream is a continuous source of device positions. Callbacks may arrive on
// any goroutine.
type Stream interface {
	Watch(onUpdate func(domain.LiveLocation), onError func(error)) (string, error)
	Cancel(id string)
	CurrentPosition(ctx context.Context) (domain.LiveLocation, error)
}

const livePopup = "Current location"

type markerRef struct {
	session *layers.Session
	id      mapview.LayerID
}

// Tracker is confined to the event loop. Stream callbacks are re-posted
// through the dispatcher before they touch any state.
type Tracker struct {
	stream   Stream
	registry *layers.Registry
	dispatch loop.Dispatcher
	throttle *Throttle

	gen     uint64
	running bool
	watchID string
	marker  markerRef

	last    domain.LiveLocation
	hasLast bool

	onUpdate func(domain.LiveLocation)
	onError  func(error)

	logger *slog.Logger
}

func New(stream Stream, registry *layers.Registry, dispatch loop.Dispatcher, interval time.Duration, logger *slog.Logger) *Tracker {
	return &Tracker{
		stream:   stream,
		registry: registry,
		dispatch: dispatch,
		throttle: NewThrottle(interval),
		logger:   logger.With("component", "tracker"),
	}
}

// Start subscribes to the stream. onUpdate receives every forwarded sample
// after the map has been updated; onError receives stream failures. When the
// stream is unavailable the failure is reported through onError once, Start
// returns it, and the tracker stays stopped.
func (t *Tracker) Start(onUpdate func(domain.LiveLocation), onError func(error)) error {
	if t.running {
		return nil
	}
	if onUpdate == nil {
		onUpdate = func(domain.LiveLocation) {}
	}
	if onError == nil {
		onError = func(error) {}
	}
	if t.stream == nil {
		onError(domain.ErrGeolocationUnsupported)
		return domain.ErrGeolocationUnsupported
	}

	t.gen++
	gen := t.gen
	t.throttle.Reset()
	t.onUpdate = onUpdate
	t.onError = onError

	id, err := t.stream.Watch(
		func(loc domain.LiveLocation) {
			t.dispatch.Dispatch(func() { t.handle(gen, loc) })
		},
		func(err error) {
			t.dispatch.Dispatch(func() { t.fail(gen, err) })
		},
	)
	if err != nil {
		t.gen++
		t.onUpdate, t.onError = nil, nil
		onError(err)
		return err
	}

	t.running = true
	t.watchID = id
	t.logger.Info("tracking started", "watch", id)
	return nil
}

// Stop cancels the subscription and removes the live marker before it
// returns. Callbacks already queued become no-ops. Safe to call repeatedly.
func (t *Tracker) Stop() {
	if !t.running {
		return
	}
	t.running = false
	t.gen++
	t.stream.Cancel(t.watchID)
	t.logger.Info("tracking stopped", "watch", t.watchID)
	t.watchID = ""
	t.throttle.Reset()
	t.onUpdate, t.onError = nil, nil

	if t.marker.session != nil {
		t.marker.session.RemoveLayer(t.marker.id)
	}
	t.marker = markerRef{}
}

func (t *Tracker) Running() bool { return t.running }

// Last returns the most recent sample seen, forwarded or not
func (t *Tracker) Last() (domain.LiveLocation, bool) {
	return t.last, t.hasLast
}

// Seed records a position obtained outside the stream, such as a one-shot fix
func (t *Tracker) Seed(loc domain.LiveLocation) {
	if t.hasLast && loc.ObservedAt.Before(t.last.ObservedAt) {
		return
	}
	t.last = loc
	t.hasLast = true
}

// Redraw places the live marker at the last known position in the current
// session without waiting for the next sample. Used after a route rebuild.
func (t *Tracker) Redraw() {
	if !t.running || !t.hasLast {
		return
	}
	t.apply(t.last)
}

func (t *Tracker) handle(gen uint64, loc domain.LiveLocation) {
	if gen != t.gen || !t.running {
		return
	}
	t.last = loc
	t.hasLast = true
	if !t.throttle.Allow(func(token uint64) {
		t.dispatch.Dispatch(func() { t.flush(gen, token) })
	}) {
		return
	}
	t.forward(loc)
}

// flush forwards the newest sample of a window whose other samples were dropped
func (t *Tracker) flush(gen, token uint64) {
	if gen != t.gen || !t.running {
		return
	}
	if !t.throttle.Flush(token) {
		return
	}
	t.forward(t.last)
}

func (t *Tracker) forward(loc domain.LiveLocation) {
	t.apply(loc)
	t.onUpdate(loc)
}

func (t *Tracker) fail(gen uint64, err error) {
	if gen != t.gen || !t.running {
		return
	}
	t.logger.Warn("location stream error", "error", err)
	t.onError(err)
}

// apply resolves the current session on every call; sessions are replaced
// under the tracker whenever the route changes.
func (t *Tracker) apply(loc domain.LiveLocation) {
	s := t.registry.Active()

	if t.marker.session == s && s.Owns(t.marker.id) {
		if err := s.MoveMarker(t.marker.id, loc.Position); err != nil {
			t.logger.Warn("move live marker failed", "error", err)
		}
	} else {
		id, err := s.AddLayer(mapview.NewMarker(mapview.KindLive, loc.Position, livePopup))
		if err != nil {
			t.logger.Warn("add live marker failed", "error", err)
			return
		}
		t.marker = markerRef{session: s, id: id}
	}

	if !s.LiveOrigin() {
		return
	}
	if line, ok := s.Polyline(); ok {
		if err := s.SetVertex(line, 0, loc.Position); err != nil {
			t.logger.Warn("update route start failed", "error", err)
		}
	}
}
