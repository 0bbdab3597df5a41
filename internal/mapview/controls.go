package mapview

import (
	"errors"
	"log/slog"
	"sync"
)

// Controls tracks which controls this map session attached, keyed by
// control identity. Attach and Detach are idempotent.
type Controls struct {
	mu       sync.Mutex
	surface  Surface
	attached map[ControlID]struct{}
	logger   *slog.Logger
}

func NewControls(surface Surface, logger *slog.Logger) *Controls {
	return &Controls{
		surface:  surface,
		attached: make(map[ControlID]struct{}),
		logger:   logger.With("component", "controls"),
	}
}

// Attach adds c unless it is already attached. Reports whether the map changed.
func (c *Controls) Attach(ctrl Control) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.attached[ctrl.ID]; ok {
		return false
	}
	if err := c.surface.AddControl(ctrl); err != nil && !errors.Is(err, ErrControlExists) {
		c.logger.Warn("attach control failed", "control", ctrl.ID, "error", err)
		return false
	}
	c.attached[ctrl.ID] = struct{}{}
	return true
}

// Detach removes the control if attached. Reports whether the map changed.
func (c *Controls) Detach(id ControlID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.attached[id]; !ok {
		return false
	}
	delete(c.attached, id)
	if err := c.surface.RemoveControl(id); err != nil {
		c.logger.Debug("control already detached", "control", id, "error", err)
	}
	return true
}

// Set attaches or detaches ctrl according to want
func (c *Controls) Set(ctrl Control, want bool) bool {
	if want {
		return c.Attach(ctrl)
	}
	return c.Detach(ctrl.ID)
}

// Attached reports whether the control is attached
func (c *Controls) Attached(id ControlID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.attached[id]
	return ok
}

// DetachAll removes every control this session attached
func (c *Controls) DetachAll() {
	c.mu.Lock()
	ids := make([]ControlID, 0, len(c.attached))
	for id := range c.attached {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.Detach(id)
	}
}
