package geo

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	// TileSize is the pixel edge of one slippy map tile
	TileSize = 256.0

	maxLatitude = 85.0511287798
)

// Project maps a coordinate to Web Mercator world pixels at the given zoom
func Project(p orb.Point, zoom float64) (x, y float64) {
	lat := math.Max(math.Min(p.Lat(), maxLatitude), -maxLatitude)
	latRad := lat * math.Pi / 180.0
	scale := TileSize * math.Pow(2, zoom)
	x = (p.Lon() + 180.0) / 360.0 * scale
	y = (1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * scale
	return x, y
}

// Unproject is the inverse of Project
func Unproject(x, y, zoom float64) orb.Point {
	scale := TileSize * math.Pow(2, zoom)
	lon := x/scale*360.0 - 180.0
	lat := math.Atan(math.Sinh(math.Pi*(1-2*y/scale))) * 180.0 / math.Pi
	return orb.Point{lon, lat}
}
