package layers

import (
	"errors"
	"fmt"

	"fleetmap/internal/domain"
	"fleetmap/internal/mapview"
)

var ErrSessionClosed = errors.New("route session closed")

// Session is the layer set of one route
type Session struct {
	registry   *Registry
	id         uint64
	liveOrigin bool
	closed     bool

	owned map[mapview.LayerID]mapview.LayerKind
	order []mapview.LayerID
}

func (s *Session) ID() uint64 { return s.id }

// LiveOrigin reports whether the route's origin is the device position
func (s *Session) LiveOrigin() bool { return s.liveOrigin }

func (s *Session) Closed() bool { return s.closed }

// AddLayer attaches l and records it for teardown
func (s *Session) AddLayer(l mapview.Layer) (mapview.LayerID, error) {
	if s.closed {
		return "", fmt.Errorf("add %s: %w", l.Kind, ErrSessionClosed)
	}
	if err := s.registry.surface.AddLayer(l); err != nil {
		return "", fmt.Errorf("add %s: %w", l.Kind, err)
	}
	s.owned[l.ID] = l.Kind
	s.order = append(s.order, l.ID)
	return l.ID, nil
}

// RemoveLayer detaches one recorded layer. Unknown ids are a no-op.
func (s *Session) RemoveLayer(id mapview.LayerID) {
	if s.closed {
		return
	}
	if _, ok := s.owned[id]; !ok {
		return
	}
	s.forget(id)
	s.registry.remove(id, s.id)
}

func (s *Session) MoveMarker(id mapview.LayerID, to domain.LatLon) error {
	if err := s.check(id); err != nil {
		return err
	}
	return s.registry.surface.MoveMarker(id, to)
}

func (s *Session) SetVertex(id mapview.LayerID, i int, to domain.LatLon) error {
	if err := s.check(id); err != nil {
		return err
	}
	return s.registry.surface.SetVertex(id, i, to)
}

func (s *Session) SetPopup(id mapview.LayerID, text string) error {
	if err := s.check(id); err != nil {
		return err
	}
	return s.registry.surface.SetPopup(id, text)
}

// Owns reports whether id was added through this session and is still recorded
func (s *Session) Owns(id mapview.LayerID) bool {
	if s.closed {
		return false
	}
	_, ok := s.owned[id]
	return ok
}

// First returns the first recorded layer of kind
func (s *Session) First(kind mapview.LayerKind) (mapview.LayerID, bool) {
	for _, id := range s.order {
		if s.owned[id] == kind {
			return id, true
		}
	}
	return "", false
}

// Polyline returns the route polyline, if drawn
func (s *Session) Polyline() (mapview.LayerID, bool) {
	return s.First(mapview.KindPolyline)
}

// StationMarkers returns the station markers placed at the coordinate key
func (s *Session) StationMarkers(key string) []mapview.LayerID {
	var ids []mapview.LayerID
	for _, id := range s.order {
		if s.owned[id] != mapview.KindStation {
			continue
		}
		l, ok := s.registry.layer(id)
		if ok && l.Position().Key() == key {
			ids = append(ids, id)
		}
	}
	return ids
}

// Layers returns the recorded layer ids in attach order
func (s *Session) Layers() []mapview.LayerID {
	return append([]mapview.LayerID(nil), s.order...)
}

// Teardown detaches every recorded layer, then sweeps the surface for any
// non-tile layer attached behind the registry's back. Safe to call twice.
func (s *Session) Teardown() {
	if s.closed {
		return
	}
	s.closed = true

	for i := len(s.order) - 1; i >= 0; i-- {
		s.registry.remove(s.order[i], s.id)
	}
	removed := len(s.order)
	s.order = nil
	s.owned = make(map[mapview.LayerID]mapview.LayerKind)

	swept := 0
	for _, l := range s.registry.surface.Layers() {
		if l.Kind == mapview.KindTile {
			continue
		}
		s.registry.logger.Warn("sweeping unregistered layer", "layer", l.ID, "kind", l.Kind, "session", s.id)
		s.registry.remove(l.ID, s.id)
		swept++
	}

	s.registry.closed(s)
	s.registry.logger.Debug("route session closed", "session", s.id, "removed", removed, "swept", swept)
}

func (s *Session) check(id mapview.LayerID) error {
	if s.closed {
		return ErrSessionClosed
	}
	if _, ok := s.owned[id]; !ok {
		return fmt.Errorf("%w: %s", mapview.ErrLayerNotFound, id)
	}
	return nil
}

func (s *Session) forget(id mapview.LayerID) {
	delete(s.owned, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
