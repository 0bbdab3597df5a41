package geo

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

func TestProjectRoundTrip(t *testing.T) {
	p := orb.Point{-2.2426, 53.4808}
	x, y := Project(p, 7)
	back := Unproject(x, y, 7)
	assert.InDelta(t, p.Lon(), back.Lon(), 1e-9)
	assert.InDelta(t, p.Lat(), back.Lat(), 1e-9)
}

func TestFitSinglePointUsesMaxZoom(t *testing.T) {
	p := orb.Point{-1.5491, 53.8008}
	center, zoom := Fit(BoundOf(p), Size{Width: 1024, Height: 768}, Uniform(50))
	assert.Equal(t, MaxZoom, zoom)
	assert.InDelta(t, p.Lat(), center.Lat(), 1e-6)
	assert.InDelta(t, p.Lon(), center.Lon(), 1e-6)
}

func TestFitLondonManchester(t *testing.T) {
	b := BoundOf(orb.Point{-0.1278, 51.5074}, orb.Point{-2.2426, 53.4808})
	size := Size{Width: 1024, Height: 768}

	_, zoom := Fit(b, size, Uniform(50))
	assert.Equal(t, 8, zoom)

	// the whole bound must be on screen at the chosen zoom
	x1, y1 := Project(orb.Point{b.Min.Lon(), b.Max.Lat()}, float64(zoom))
	x2, y2 := Project(orb.Point{b.Max.Lon(), b.Min.Lat()}, float64(zoom))
	assert.LessOrEqual(t, x2-x1, size.Width-100)
	assert.LessOrEqual(t, y2-y1, size.Height-100)
}

func TestFitTopPaddingShiftsCentreNorth(t *testing.T) {
	b := BoundOf(orb.Point{-0.1278, 51.5074}, orb.Point{-2.2426, 53.4808})
	size := Size{Width: 1024, Height: 768}

	even, _ := Fit(b, size, Uniform(50))
	topHeavy, _ := Fit(b, size, Padding{Top: 150, Right: 50, Bottom: 50, Left: 50})

	assert.Greater(t, topHeavy.Lat(), even.Lat())
	assert.InDelta(t, even.Lon(), topHeavy.Lon(), 1e-9)
}

func TestFitNoRoomFallsBackToClampedZoom(t *testing.T) {
	b := BoundOf(orb.Point{0, 0}, orb.Point{1, 1})
	_, zoom := Fit(b, Size{Width: 50, Height: 50}, Uniform(50))
	assert.Equal(t, MaxZoom, zoom)
}
