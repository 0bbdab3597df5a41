package cache

import (
	"fmt"

	"fleetmap/internal/domain"
)

// KeyReverse is the cache key of a reverse-geocoded coordinate. Five
// decimals (about a metre) lets nearby lookups from different routes share an entry.
func KeyReverse(at domain.LatLon) string {
	return fmt.Sprintf("geocode:reverse:%.5f,%.5f", at.Lat, at.Lon)
}
