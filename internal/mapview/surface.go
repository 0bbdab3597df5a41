// Package mapview models the interactive map the engine draws on: a
// collection of layers, a set of controls and a viewport. Surface is the
// boundary to whatever actually paints pixels; Memory is the canonical
// implementation whose state is mirrored to browser clients.
package mapview

import (
	"github.com/paulmach/orb"

	"fleetmap/internal/domain"
	"fleetmap/internal/geo"
)

// Surface is the mutable map. Only the layer registry mutates layers.
type Surface interface {
	AddLayer(l Layer) error
	RemoveLayer(id LayerID) error
	HasLayer(id LayerID) bool
	Layer(id LayerID) (Layer, bool)
	Layers() []Layer

	MoveMarker(id LayerID, to domain.LatLon) error
	SetVertex(id LayerID, i int, to domain.LatLon) error
	SetPopup(id LayerID, text string) error

	FitBounds(b orb.Bound, pad geo.Padding)
	SetView(center domain.LatLon, zoom int)
	View() Viewport

	AddControl(c Control) error
	RemoveControl(id ControlID) error
	Controls() []Control
}

// Viewport is the visible map area
type Viewport struct {
	Center domain.LatLon `json:"center"`
	Zoom   int           `json:"zoom"`
	Size   geo.Size      `json:"size"`
}

// ControlID identifies a map control
type ControlID string

const (
	ControlLogout     ControlID = "logout"
	ControlGoToLocate ControlID = "go-to-location"
)

// Control is a button docked to a map corner
type Control struct {
	ID       ControlID `json:"id"`
	Position string    `json:"position"`
	Title    string    `json:"title"`
}
