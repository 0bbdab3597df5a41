// Package layers owns every primitive attached to the map. A Session groups
// the layers of one route; the Registry guarantees at most one Session is
// live and that the previous one is fully detached before the next begins.
//
// Registry and Session are confined to the event loop and hold no locks.
package layers

import (
	"errors"
	"log/slog"

	"fleetmap/internal/mapview"
)

// Registry hands out route sessions over one map surface
type Registry struct {
	surface mapview.Surface
	current *Session
	seq     uint64

	logger *slog.Logger
}

func NewRegistry(surface mapview.Surface, logger *slog.Logger) *Registry {
	return &Registry{
		surface: surface,
		logger:  logger.With("component", "layers"),
	}
}

// BeginRoute tears down the active session, if any, and opens a new one.
// The teardown completes before this returns.
func (r *Registry) BeginRoute(liveOrigin bool) *Session {
	if r.current != nil {
		r.current.Teardown()
	}
	r.seq++
	s := &Session{
		registry:   r,
		id:         r.seq,
		liveOrigin: liveOrigin,
		owned:      make(map[mapview.LayerID]mapview.LayerKind),
	}
	r.current = s
	r.logger.Debug("route session opened", "session", s.id, "live_origin", liveOrigin)
	return s
}

// Current returns the open session or nil
func (r *Registry) Current() *Session {
	return r.current
}

// Active returns the open session, opening an idle one when no route is
// rendered so that the live marker always has an owner.
func (r *Registry) Active() *Session {
	if r.current == nil {
		return r.BeginRoute(false)
	}
	return r.current
}

// Clear tears down the open session and leaves none active
func (r *Registry) Clear() {
	if r.current != nil {
		r.current.Teardown()
	}
}

// Surface exposes read access for viewport operations
func (r *Registry) Surface() mapview.Surface {
	return r.surface
}

func (r *Registry) layer(id mapview.LayerID) (mapview.Layer, bool) {
	return r.surface.Layer(id)
}

func (r *Registry) closed(s *Session) {
	if r.current == s {
		r.current = nil
	}
}

// remove detaches id and treats an already-detached layer as done
func (r *Registry) remove(id mapview.LayerID, session uint64) {
	err := r.surface.RemoveLayer(id)
	if err == nil {
		return
	}
	if errors.Is(err, mapview.ErrLayerNotFound) {
		r.logger.Debug("layer already detached", "layer", id, "session", session)
		return
	}
	r.logger.Warn("layer removal failed", "layer", id, "session", session, "error", err)
}
