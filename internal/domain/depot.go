package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Depot is a named fixed origin or destination
type Depot struct {
	Name string  `json:"name" yaml:"name" validate:"required"`
	Lat  float64 `json:"lat" yaml:"lat" validate:"gte=-90,lte=90"`
	Lon  float64 `json:"lon" yaml:"lon" validate:"gte=-180,lte=180"`
}

// Coordinates returns the depot position
func (d Depot) Coordinates() LatLon {
	return LatLon{Lat: d.Lat, Lon: d.Lon}
}

// Depots is a catalogue keyed case-insensitively by name
type Depots struct {
	byName map[string]Depot
}

// NewDepots builds a catalogue. Later entries win on duplicate names.
func NewDepots(depots []Depot) *Depots {
	c := &Depots{byName: make(map[string]Depot, len(depots))}
	for _, d := range depots {
		c.byName[strings.ToLower(strings.TrimSpace(d.Name))] = d
	}
	return c
}

// DefaultDepots is the built-in UK catalogue
func DefaultDepots() []Depot {
	return []Depot{
		{Name: "London", Lat: 51.5074, Lon: -0.1278},
		{Name: "Liverpool", Lat: 53.4084, Lon: -2.9916},
		{Name: "Manchester", Lat: 53.4808, Lon: -2.2426},
		{Name: "Leeds", Lat: 53.8008, Lon: -1.5491},
		{Name: "Birmingham", Lat: 52.4862, Lon: -1.8904},
		{Name: "Glasgow", Lat: 55.8642, Lon: -4.2518},
		{Name: "Cardiff", Lat: 51.4816, Lon: -3.1791},
		{Name: "Aberdeen", Lat: 57.1497, Lon: -2.0943},
	}
}

// Lookup returns the depot with the given name
func (c *Depots) Lookup(name string) (Depot, error) {
	d, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Depot{}, fmt.Errorf("%w: %q", ErrUnknownDepot, name)
	}
	return d, nil
}

// All returns every depot sorted by name
func (c *Depots) All() []Depot {
	result := make([]Depot, 0, len(c.byName))
	for _, d := range c.byName {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
