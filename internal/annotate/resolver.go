// Package annotate gives route stations human-readable names through a
// reverse geocoder. Lookups run concurrently and never fail the batch.
package annotate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"fleetmap/internal/domain"
)

const DefaultConcurrency = 4

// Geocoder resolves a coordinate to a place
type Geocoder interface {
	Reverse(ctx context.Context, at domain.LatLon) (domain.Place, error)
}

// Resolver names the stations of one route. Its cache lives exactly as long
// as the Resolver, so callers create one per RouteResult.
type Resolver struct {
	geocoder Geocoder
	limit    int
	cache    *xsync.MapOf[string, domain.StationAnnotation]
	logger   *slog.Logger
}

func NewResolver(geocoder Geocoder, limit int, logger *slog.Logger) *Resolver {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	return &Resolver{
		geocoder: geocoder,
		limit:    limit,
		cache:    xsync.NewMapOf[string, domain.StationAnnotation](),
		logger:   logger.With("component", "annotate"),
	}
}

// Resolve streams one annotation per distinct station coordinate, in
// completion order. The channel is closed once every station is answered.
// Each call starts a fresh pass; cached coordinates are answered without a lookup.
func (r *Resolver) Resolve(ctx context.Context, stations []domain.StationRef) <-chan domain.StationAnnotation {
	unique := lo.UniqBy(stations, func(s domain.StationRef) string { return s.Coordinates.Key() })
	out := make(chan domain.StationAnnotation, len(unique))

	go func() {
		defer close(out)

		var g errgroup.Group
		g.SetLimit(r.limit)
		for _, st := range unique {
			if ann, ok := r.cache.Load(st.Coordinates.Key()); ok {
				out <- ann
				continue
			}
			g.Go(func() error {
				ann, final := r.lookup(ctx, st.Coordinates)
				if final && ctx.Err() == nil {
					r.cache.Store(st.Coordinates.Key(), ann)
				}
				out <- ann
				return nil
			})
		}
		_ = g.Wait()
	}()

	return out
}

// Cached returns the annotation already resolved for a coordinate
func (r *Resolver) Cached(at domain.LatLon) (domain.StationAnnotation, bool) {
	return r.cache.Load(at.Key())
}

// lookup always yields an annotation. final is false when the lookup was cut
// short by a cancellation or deadline, so a later pass may still resolve it.
func (r *Resolver) lookup(ctx context.Context, at domain.LatLon) (domain.StationAnnotation, bool) {
	if r.geocoder == nil {
		return Placeholder(at), true
	}
	place, err := r.geocoder.Reverse(ctx, at)
	if err != nil {
		r.logger.Debug("station lookup failed", "at", at.String(), "error", err)
		interrupted := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		return Placeholder(at), !interrupted
	}
	name := StationName(place)
	if name == "" {
		return Placeholder(at), true
	}
	return domain.StationAnnotation{Coordinates: at, DisplayName: name, Resolved: true}, true
}

// Placeholder is the deterministic name used when a lookup fails
func Placeholder(at domain.LatLon) domain.StationAnnotation {
	return domain.StationAnnotation{
		Coordinates: at,
		DisplayName: fmt.Sprintf("Station at %s", at.String()),
	}
}

// StationName derives a short label from the first address component
func StationName(p domain.Place) string {
	for _, label := range []string{p.Name, p.DisplayName} {
		first, _, _ := strings.Cut(label, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first + " Station"
		}
	}
	return ""
}
