// Package selection tracks which station detail card is open.
package selection

import (
	"fmt"

	"fleetmap/internal/domain"
)

// TargetKind classifies where a click landed
type TargetKind string

const (
	TargetStation TargetKind = "station"
	TargetCard    TargetKind = "card"
	TargetMap     TargetKind = "map"
)

// ClickTarget is a click on the map or page. Index is set for station clicks.
type ClickTarget struct {
	Kind  TargetKind `json:"kind"`
	Index int        `json:"index,omitempty"`
}

// Controller is a two-state machine, None and Selected(i), scoped to the
// stations of the rendered route. Confined to the event loop.
type Controller struct {
	state    domain.Selection
	stations int
	onChange func(domain.Selection)
}

func New(onChange func(domain.Selection)) *Controller {
	if onChange == nil {
		onChange = func(domain.Selection) {}
	}
	return &Controller{state: domain.NoSelection, onChange: onChange}
}

func (c *Controller) State() domain.Selection {
	return c.state
}

// Reset returns to None and scopes the controller to a new set of stations
func (c *Controller) Reset(stations int) {
	c.stations = stations
	c.set(domain.NoSelection)
}

// Select opens station i regardless of the current state
func (c *Controller) Select(i int) error {
	if i < 0 || i >= c.stations {
		return fmt.Errorf("%w: station %d of %d", domain.ErrInvariantViolation, i, c.stations)
	}
	c.set(domain.Selected(i))
	return nil
}

// Dismiss closes any open card
func (c *Controller) Dismiss() {
	c.set(domain.NoSelection)
}

// HandleClick applies a click. Clicks inside the open card leave it open.
func (c *Controller) HandleClick(target ClickTarget) error {
	switch target.Kind {
	case TargetStation:
		return c.Select(target.Index)
	case TargetCard:
		return nil
	default:
		c.Dismiss()
		return nil
	}
}

func (c *Controller) set(s domain.Selection) {
	if s == c.state {
		return
	}
	c.state = s
	c.onChange(s)
}
