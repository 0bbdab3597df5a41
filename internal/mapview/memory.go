package mapview

import (
	"fmt"
	"sync"

	"github.com/paulmach/orb"

	"fleetmap/internal/domain"
	"fleetmap/internal/geo"
)

// DeltaType indicates what changed on the surface
type DeltaType string

const (
	DeltaAdd           DeltaType = "add"
	DeltaRemove        DeltaType = "remove"
	DeltaMove          DeltaType = "move"
	DeltaVertex        DeltaType = "vertex"
	DeltaPopup         DeltaType = "popup"
	DeltaView          DeltaType = "view"
	DeltaControlAdd    DeltaType = "control_add"
	DeltaControlRemove DeltaType = "control_remove"
)

// Delta is one surface mutation, in the order it was applied
type Delta struct {
	Type      DeltaType `json:"type"`
	Layer     *Layer    `json:"layer,omitempty"`
	LayerID   LayerID   `json:"layerId,omitempty"`
	Vertex    int       `json:"vertex,omitempty"`
	View      *Viewport `json:"view,omitempty"`
	Control   *Control  `json:"control,omitempty"`
	ControlID ControlID `json:"controlId,omitempty"`
}

// Broadcaster receives every delta applied to a Memory surface
type Broadcaster interface {
	Broadcast(deltas []Delta)
}

// Memory is an in-memory Surface. Safe for concurrent readers; writes are
// expected to come from the event loop.
type Memory struct {
	mu       sync.RWMutex
	layers   map[LayerID]*Layer
	order    []LayerID
	byKind   map[LayerKind]map[LayerID]struct{}
	controls map[ControlID]Control
	ctrlSeq  []ControlID
	view     Viewport

	broadcaster Broadcaster
}

// NewMemory returns an empty surface with the given viewport
func NewMemory(view Viewport) *Memory {
	return &Memory{
		layers:   make(map[LayerID]*Layer),
		byKind:   make(map[LayerKind]map[LayerID]struct{}),
		controls: make(map[ControlID]Control),
		view:     view,
	}
}

// SetBroadcaster installs the delta sink. Must be called before the surface is shared.
func (m *Memory) SetBroadcaster(b Broadcaster) {
	m.broadcaster = b
}

func (m *Memory) AddLayer(l Layer) error {
	m.mu.Lock()
	if _, exists := m.layers[l.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateLayer, l.ID)
	}
	stored := l.clone()
	m.layers[l.ID] = &stored
	m.order = append(m.order, l.ID)
	if m.byKind[l.Kind] == nil {
		m.byKind[l.Kind] = make(map[LayerID]struct{})
	}
	m.byKind[l.Kind][l.ID] = struct{}{}
	out := stored.clone()
	m.mu.Unlock()

	m.emit(Delta{Type: DeltaAdd, Layer: &out})
	return nil
}

func (m *Memory) RemoveLayer(id LayerID) error {
	m.mu.Lock()
	l, exists := m.layers[id]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}
	delete(m.layers, id)
	if set := m.byKind[l.Kind]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(m.byKind, l.Kind)
		}
	}
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	m.emit(Delta{Type: DeltaRemove, LayerID: id})
	return nil
}

func (m *Memory) HasLayer(id LayerID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.layers[id]
	return ok
}

// Layers returns copies of every attached layer in attach order
func (m *Memory) Layers() []Layer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Layer, 0, len(m.order))
	for _, id := range m.order {
		result = append(result, m.layers[id].clone())
	}
	return result
}

// Layer returns a copy of one attached layer
func (m *Memory) Layer(id LayerID) (Layer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.layers[id]
	if !ok {
		return Layer{}, false
	}
	return l.clone(), true
}

// CountByKind returns how many layers of kind are attached
func (m *Memory) CountByKind(kind LayerKind) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byKind[kind])
}

func (m *Memory) MoveMarker(id LayerID, to domain.LatLon) error {
	m.mu.Lock()
	l, err := m.lookup(id)
	if err == nil && !l.Kind.IsMarker() {
		err = fmt.Errorf("%w: move %s", ErrWrongLayerKind, l.Kind)
	}
	if err != nil {
		m.mu.Unlock()
		return err
	}
	l.Points = []domain.LatLon{to}
	out := l.clone()
	m.mu.Unlock()

	m.emit(Delta{Type: DeltaMove, Layer: &out})
	return nil
}

func (m *Memory) SetVertex(id LayerID, i int, to domain.LatLon) error {
	m.mu.Lock()
	l, err := m.lookup(id)
	if err == nil && l.Kind != KindPolyline {
		err = fmt.Errorf("%w: set vertex on %s", ErrWrongLayerKind, l.Kind)
	}
	if err == nil && (i < 0 || i >= len(l.Points)) {
		err = fmt.Errorf("%w: %d of %d", ErrVertexRange, i, len(l.Points))
	}
	if err != nil {
		m.mu.Unlock()
		return err
	}
	l.Points[i] = to
	out := l.clone()
	m.mu.Unlock()

	m.emit(Delta{Type: DeltaVertex, Layer: &out, Vertex: i})
	return nil
}

func (m *Memory) SetPopup(id LayerID, text string) error {
	m.mu.Lock()
	l, err := m.lookup(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	l.Popup = text
	out := l.clone()
	m.mu.Unlock()

	m.emit(Delta{Type: DeltaPopup, Layer: &out})
	return nil
}

func (m *Memory) FitBounds(b orb.Bound, pad geo.Padding) {
	m.mu.Lock()
	center, zoom := geo.Fit(b, m.view.Size, pad)
	m.view.Center = domain.FromPoint(center)
	m.view.Zoom = zoom
	view := m.view
	m.mu.Unlock()

	m.emit(Delta{Type: DeltaView, View: &view})
}

func (m *Memory) SetView(center domain.LatLon, zoom int) {
	m.mu.Lock()
	m.view.Center = center
	m.view.Zoom = zoom
	view := m.view
	m.mu.Unlock()

	m.emit(Delta{Type: DeltaView, View: &view})
}

func (m *Memory) View() Viewport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view
}

func (m *Memory) AddControl(c Control) error {
	m.mu.Lock()
	if _, exists := m.controls[c.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrControlExists, c.ID)
	}
	m.controls[c.ID] = c
	m.ctrlSeq = append(m.ctrlSeq, c.ID)
	m.mu.Unlock()

	m.emit(Delta{Type: DeltaControlAdd, Control: &c})
	return nil
}

func (m *Memory) RemoveControl(id ControlID) error {
	m.mu.Lock()
	if _, exists := m.controls[id]; !exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrControlNotFound, id)
	}
	delete(m.controls, id)
	for i, cid := range m.ctrlSeq {
		if cid == id {
			m.ctrlSeq = append(m.ctrlSeq[:i], m.ctrlSeq[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	m.emit(Delta{Type: DeltaControlRemove, ControlID: id})
	return nil
}

func (m *Memory) Controls() []Control {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Control, 0, len(m.ctrlSeq))
	for _, id := range m.ctrlSeq {
		result = append(result, m.controls[id])
	}
	return result
}

func (m *Memory) lookup(id LayerID) (*Layer, error) {
	l, ok := m.layers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}
	return l, nil
}

func (m *Memory) emit(d Delta) {
	if m.broadcaster != nil {
		m.broadcaster.Broadcast([]Delta{d})
	}
}
