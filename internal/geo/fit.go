package geo

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	MinZoom = 0
	MaxZoom = 18
)

// Padding is screen space in pixels kept free when fitting bounds
type Padding struct {
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
}

// Uniform pads every edge by px
func Uniform(px float64) Padding {
	return Padding{Top: px, Right: px, Bottom: px, Left: px}
}

// Size is a viewport size in pixels
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// BoundOf returns the bound of the given points
func BoundOf(points ...orb.Point) orb.Bound {
	return orb.MultiPoint(points).Bound()
}

// Fit returns the centre and the largest integer zoom at which b fits inside
// size minus padding. Asymmetric padding shifts the centre away from the
// padded edge, so the visible part of the route sits in the free area.
func Fit(b orb.Bound, size Size, pad Padding) (orb.Point, int) {
	availW := size.Width - pad.Left - pad.Right
	availH := size.Height - pad.Top - pad.Bottom

	zoom := MaxZoom
	if availW > 0 && availH > 0 {
		x1, y1 := Project(orb.Point{b.Min.Lon(), b.Max.Lat()}, 0)
		x2, y2 := Project(orb.Point{b.Max.Lon(), b.Min.Lat()}, 0)
		w, h := math.Abs(x2-x1), math.Abs(y2-y1)
		if w > 0 || h > 0 {
			scale := math.Inf(1)
			if w > 0 {
				scale = availW / w
			}
			if h > 0 {
				scale = math.Min(scale, availH/h)
			}
			zoom = int(math.Floor(math.Log2(scale)))
		}
	}
	zoom = clampInt(zoom, MinZoom, MaxZoom)

	cx, cy := Project(b.Center(), float64(zoom))
	cx += (pad.Right - pad.Left) / 2
	cy += (pad.Bottom - pad.Top) / 2
	return Unproject(cx, cy, float64(zoom)), zoom
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
