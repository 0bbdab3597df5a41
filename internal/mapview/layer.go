package mapview

import (
	"errors"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"fleetmap/internal/domain"
	"fleetmap/internal/geo"
)

var (
	ErrLayerNotFound   = errors.New("layer not attached")
	ErrDuplicateLayer  = errors.New("layer already attached")
	ErrWrongLayerKind  = errors.New("operation not supported by layer kind")
	ErrVertexRange     = errors.New("vertex index out of range")
	ErrControlExists   = errors.New("control already attached")
	ErrControlNotFound = errors.New("control not attached")
)

// LayerID identifies an attached layer
type LayerID string

// NewLayerID returns a fresh random layer id
func NewLayerID() LayerID {
	return LayerID(uuid.New().String())
}

// LayerKind distinguishes visual primitives
type LayerKind string

const (
	KindTile        LayerKind = "tile"
	KindPolyline    LayerKind = "polyline"
	KindOrigin      LayerKind = "origin"
	KindDestination LayerKind = "destination"
	KindStation     LayerKind = "station"
	KindLive        LayerKind = "live"
)

// IsMarker reports whether layers of this kind have a single position
func (k LayerKind) IsMarker() bool {
	switch k {
	case KindOrigin, KindDestination, KindStation, KindLive:
		return true
	}
	return false
}

// Layer is one visual primitive. Points holds the vertices of a polyline
// and exactly one position for markers.
type Layer struct {
	ID           LayerID         `json:"id"`
	Kind         LayerKind       `json:"kind"`
	Points       []domain.LatLon `json:"points,omitempty"`
	Popup        string          `json:"popup,omitempty"`
	StationIndex int             `json:"stationIndex,omitempty"`
	URL          string          `json:"url,omitempty"`
}

// Position returns the marker position
func (l Layer) Position() domain.LatLon {
	if len(l.Points) == 0 {
		return domain.LatLon{}
	}
	return l.Points[0]
}

// Bound returns the geographic bound of the layer
func (l Layer) Bound() orb.Bound {
	points := make([]orb.Point, len(l.Points))
	for i, p := range l.Points {
		points[i] = p.Point()
	}
	return geo.BoundOf(points...)
}

func (l Layer) clone() Layer {
	c := l
	c.Points = append([]domain.LatLon(nil), l.Points...)
	return c
}

// NewTileLayer returns the persistent base layer
func NewTileLayer(url string) Layer {
	return Layer{ID: NewLayerID(), Kind: KindTile, URL: url}
}

// NewPolyline returns a polyline through points
func NewPolyline(points []domain.LatLon) Layer {
	return Layer{ID: NewLayerID(), Kind: KindPolyline, Points: append([]domain.LatLon(nil), points...)}
}

// NewMarker returns a marker of the given kind
func NewMarker(kind LayerKind, at domain.LatLon, popup string) Layer {
	return Layer{ID: NewLayerID(), Kind: kind, Points: []domain.LatLon{at}, Popup: popup}
}

// NewStationMarker returns the marker for station i
func NewStationMarker(i int, at domain.LatLon, popup string) Layer {
	l := NewMarker(KindStation, at, popup)
	l.StationIndex = i
	return l
}
