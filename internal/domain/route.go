package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// LiveOrigin is the origin value that stands for the device's live position
const LiveOrigin = "LIVE"

// LatLon is a WGS84 coordinate
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Point converts to an orb point (lon, lat order)
func (ll LatLon) Point() orb.Point {
	return orb.Point{ll.Lon, ll.Lat}
}

// FromPoint converts an orb point back to a LatLon
func FromPoint(p orb.Point) LatLon {
	return LatLon{Lat: p.Lat(), Lon: p.Lon()}
}

// Key identifies a coordinate for cache and marker lookups.
// Six decimals is roughly 0.1m, well below any station spacing.
func (ll LatLon) Key() string {
	return fmt.Sprintf("%.6f,%.6f", ll.Lat, ll.Lon)
}

func (ll LatLon) String() string {
	return fmt.Sprintf("%.4f, %.4f", ll.Lat, ll.Lon)
}

// MarshalJSON encodes as [lat, lon], the pair format used by the route backend
func (ll LatLon) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{ll.Lat, ll.Lon})
}

// UnmarshalJSON accepts [lat, lon] pairs and {"lat":..,"lon":..} objects
func (ll *LatLon) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("coordinate pair must have 2 values, got %d", len(pair))
		}
		ll.Lat, ll.Lon = pair[0], pair[1]
		return nil
	}
	var obj struct {
		Lat *float64 `json:"lat"`
		Lon *float64 `json:"lon"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decoding coordinate: %w", err)
	}
	if obj.Lat == nil || obj.Lon == nil {
		return fmt.Errorf("coordinate object requires lat and lon")
	}
	ll.Lat, ll.Lon = *obj.Lat, *obj.Lon
	return nil
}

// FuelType selects the station label shown in popups
type FuelType string

const (
	FuelDiesel   FuelType = "Diesel"
	FuelHydrogen FuelType = "Hydrogen"
	FuelElectric FuelType = "Electric"
)

// StationLabel is the popup prefix for stations of this fuel type
func (f FuelType) StationLabel() string {
	switch f {
	case FuelElectric:
		return "Charging"
	case FuelHydrogen:
		return string(FuelHydrogen)
	default:
		return string(FuelDiesel)
	}
}

// RouteRequest is one dispatcher request. A new request always replaces the previous one.
type RouteRequest struct {
	Origin      string   `json:"origin"`
	Destination string   `json:"destination"`
	FuelType    FuelType `json:"fuelType,omitempty"`
}

// OriginIsLive reports whether the origin is the device's live position
func (r RouteRequest) OriginIsLive() bool {
	return strings.EqualFold(r.Origin, LiveOrigin)
}

// Validate rejects requests that cannot be rendered at all
func (r RouteRequest) Validate() error {
	if strings.TrimSpace(r.Origin) == "" || strings.TrimSpace(r.Destination) == "" {
		return fmt.Errorf("%w: route needs both an origin and a destination", ErrInvariantViolation)
	}
	return nil
}

// StationRef is a refuelling or recharging stop along a route
type StationRef struct {
	Name        string `json:"name,omitempty"`
	Coordinates LatLon `json:"coordinates"`
}

// StationAnnotation is a station with a resolved display name
type StationAnnotation struct {
	Coordinates LatLon `json:"coordinates"`
	DisplayName string `json:"displayName"`
	Resolved    bool   `json:"resolved"`
}

// RouteResult is the server-computed route. A nil *RouteResult means the client computes a fallback.
type RouteResult struct {
	Polyline []LatLon    `json:"coordinates"`
	Stations []StationRef `json:"stations,omitempty"`
}

// Empty reports whether the result carries no usable polyline
func (r *RouteResult) Empty() bool {
	return r == nil || len(r.Polyline) == 0
}

// LiveLocation is one sample of the device position
type LiveLocation struct {
	Position   LatLon    `json:"position"`
	ObservedAt time.Time `json:"observedAt"`
}

// TrackingState describes whether live positions are being consumed
type TrackingState struct {
	IsTracking   bool `json:"isTracking"`
	OriginIsLive bool `json:"originIsLive"`
}

// Selection is the open station card, if any. Index is meaningful only when Open is true.
type Selection struct {
	Open  bool `json:"open"`
	Index int  `json:"index"`
}

// NoSelection is the initial selection state
var NoSelection = Selection{}

// Selected returns the selection state for station i
func Selected(i int) Selection {
	return Selection{Open: true, Index: i}
}

func (s Selection) String() string {
	if !s.Open {
		return "none"
	}
	return fmt.Sprintf("selected(%d)", s.Index)
}

// Place is a reverse-geocoding result. Name is the short address
// (road, district, town); DisplayName is the provider's full label.
type Place struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}
