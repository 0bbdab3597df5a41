// Package render turns a route request and its optional server result into
// map layers. Without a result it asks the fallback router for a path.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb"
	"github.com/samber/lo"

	"fleetmap/internal/annotate"
	"fleetmap/internal/domain"
	"fleetmap/internal/geo"
	"fleetmap/internal/layers"
	"fleetmap/internal/loop"
	"fleetmap/internal/mapview"
	"fleetmap/internal/selection"
)

var (
	// RoutePadding keeps the top of the map clear for floating panels
	RoutePadding = geo.Padding{Top: 150, Right: 50, Bottom: 50, Left: 50}
	// FallbackPadding frames the two endpoints of a fallback route
	FallbackPadding = geo.Uniform(50)
)

const (
	destinationZoom        = 10
	defaultFallbackTimeout = 20 * time.Second
)

// FallbackRouter computes a path between two points when the server sent none
type FallbackRouter interface {
	Route(ctx context.Context, from, to domain.LatLon) ([]domain.LatLon, error)
}

// Indicator is the external loading indicator
type Indicator interface {
	SetLoading(loading bool)
}

// Depots resolves depot names to coordinates
type Depots interface {
	Lookup(name string) (domain.Depot, error)
}

// Positioner reports the last observed device position
type Positioner interface {
	Last() (domain.LiveLocation, bool)
}

type Options struct {
	Registry           *layers.Registry
	Selection          *selection.Controller
	Depots             Depots
	Router             FallbackRouter
	Geocoder           annotate.Geocoder
	GeocodeConcurrency int
	Positions          Positioner
	Dispatcher         loop.Dispatcher
	Loading            Indicator
	FallbackTimeout    time.Duration
	// OnError receives failures that complete after Render returned
	OnError func(error)
	Logger  *slog.Logger
}

type route struct {
	seq      uint64
	req      domain.RouteRequest
	result   *domain.RouteResult
	session  *layers.Session
	resolver *annotate.Resolver
	cancel   context.CancelFunc

	destination domain.LatLon
	destName    string
	originName  string

	pending  bool
	fallback bool
	stations []domain.StationRef
}

// Renderer is confined to the event loop
type Renderer struct {
	opts    Options
	seq     uint64
	current *route
	loading bool
	logger  *slog.Logger
}

func New(opts Options) *Renderer {
	if opts.Dispatcher == nil {
		opts.Dispatcher = loop.Inline
	}
	if opts.FallbackTimeout <= 0 {
		opts.FallbackTimeout = defaultFallbackTimeout
	}
	if opts.OnError == nil {
		opts.OnError = func(error) {}
	}
	return &Renderer{
		opts:   opts,
		logger: opts.Logger.With("component", "render"),
	}
}

// Render replaces whatever route is drawn with req. Requests that cannot be
// drawn at all are rejected before the map is touched.
func (r *Renderer) Render(req domain.RouteRequest, result *domain.RouteResult) error {
	if err := req.Validate(); err != nil {
		r.logger.Warn("render rejected", "error", err)
		return err
	}

	next := &route{req: req, result: result, originName: req.Origin, destName: req.Destination}
	if !result.Empty() {
		next.stations = result.Stations
		next.destination = result.Polyline[len(result.Polyline)-1]
	}
	if dest, err := r.lookup(req.Destination); err == nil {
		next.destName = dest.Name
		if result.Empty() {
			next.destination = dest.Coordinates()
		}
	} else if result.Empty() {
		r.logger.Warn("render rejected", "error", err)
		return err
	}
	if !req.OriginIsLive() {
		origin, err := r.lookup(req.Origin)
		switch {
		case err == nil:
			next.originName = origin.Name
		case result.Empty():
			r.logger.Warn("render rejected", "error", err)
			return err
		}
	}

	r.abandon()
	r.seq++
	next.seq = r.seq
	next.session = r.opts.Registry.BeginRoute(req.OriginIsLive())
	if r.current != nil && r.current.result == result && r.current.resolver != nil {
		next.resolver = r.current.resolver
	}
	r.current = next
	r.scopeSelection(0)

	r.logger.Info("rendering route",
		"origin", req.Origin,
		"destination", req.Destination,
		"server_route", !result.Empty(),
		"stations", len(next.stations),
	)

	if req.OriginIsLive() {
		if _, ok := r.livePosition(); !ok {
			return r.awaitOrigin(next)
		}
	}
	return r.draw(next)
}

// OnLiveLocation completes a live-origin render that was waiting for its
// first position. It does nothing otherwise.
func (r *Renderer) OnLiveLocation(loc domain.LiveLocation) {
	cur := r.current
	if cur == nil || !cur.pending {
		return
	}
	cur.pending = false
	r.logger.Info("live origin resolved", "at", loc.Position.String())
	if err := r.draw(cur); err != nil {
		r.opts.OnError(err)
	}
}

// Teardown removes the drawn route and abandons any work in flight
func (r *Renderer) Teardown() {
	r.abandon()
	r.current = nil
	r.opts.Registry.Clear()
	r.scopeSelection(0)
}

// scopeSelection limits selection to the station markers actually on the map
func (r *Renderer) scopeSelection(stations int) {
	if r.opts.Selection != nil {
		r.opts.Selection.Reset(stations)
	}
}

// State describes the drawn route
type State struct {
	Request  *domain.RouteRequest      `json:"request,omitempty"`
	Pending  bool                      `json:"pending"`
	Loading  bool                      `json:"loading"`
	Stations []domain.StationAnnotation `json:"stations,omitempty"`
}

func (r *Renderer) State() State {
	st := State{Loading: r.loading}
	cur := r.current
	if cur == nil {
		return st
	}
	req := cur.req
	st.Request = &req
	st.Pending = cur.pending
	st.Stations = lo.Map(cur.stations, func(s domain.StationRef, _ int) domain.StationAnnotation {
		if cur.resolver != nil {
			if ann, ok := cur.resolver.Cached(s.Coordinates); ok {
				return preferServerName(s, ann)
			}
		}
		return initialAnnotation(s)
	})
	return st
}

// Station returns the annotation for station i of the drawn route
func (r *Renderer) Station(i int) (domain.StationAnnotation, bool) {
	st := r.State()
	if i < 0 || i >= len(st.Stations) {
		return domain.StationAnnotation{}, false
	}
	return st.Stations[i], true
}

// awaitOrigin draws only the destination and centres on it until a live position arrives
func (r *Renderer) awaitOrigin(cur *route) error {
	cur.pending = true
	if err := r.placeEndpoint(cur, mapview.KindDestination, cur.destination, endpointPopup(cur.destName, "Destination")); err != nil {
		return err
	}
	r.opts.Registry.Surface().SetView(cur.destination, destinationZoom)
	r.logger.Info("waiting for live origin", "destination", cur.destName)
	return nil
}

func (r *Renderer) draw(cur *route) error {
	if !cur.result.Empty() {
		return r.drawRoute(cur, cur.result.Polyline, RoutePadding, nil)
	}
	return r.startFallback(cur)
}

func (r *Renderer) drawRoute(cur *route, polyline []domain.LatLon, pad geo.Padding, frame []domain.LatLon) error {
	s := cur.session
	points := append([]domain.LatLon(nil), polyline...)
	live := cur.req.OriginIsLive()
	if live {
		if loc, ok := r.livePosition(); ok {
			points[0] = loc.Position
		}
	}

	if _, err := s.AddLayer(mapview.NewPolyline(points)); err != nil {
		return fmt.Errorf("drawing polyline: %w", err)
	}
	if !live {
		if err := r.placeEndpoint(cur, mapview.KindOrigin, points[0], endpointPopup(cur.originName, "Origin")); err != nil {
			return err
		}
	}
	if err := r.placeEndpoint(cur, mapview.KindDestination, points[len(points)-1], endpointPopup(cur.destName, "Destination")); err != nil {
		return err
	}

	label := cur.req.FuelType.StationLabel()
	for i, st := range cur.stations {
		popup := label + " " + initialAnnotation(st).DisplayName
		if _, err := s.AddLayer(mapview.NewStationMarker(i, st.Coordinates, popup)); err != nil {
			return fmt.Errorf("drawing station %d: %w", i, err)
		}
	}
	r.scopeSelection(len(cur.stations))

	if frame == nil {
		frame = points
	}
	r.opts.Registry.Surface().FitBounds(bound(frame), pad)

	r.annotate(cur)
	return nil
}

func (r *Renderer) startFallback(cur *route) error {
	from, ok := r.originCoordinates(cur)
	if !ok {
		return fmt.Errorf("%w: no origin coordinate for %q", domain.ErrInvariantViolation, cur.req.Origin)
	}
	to := cur.destination
	if r.opts.Router == nil {
		err := fmt.Errorf("%w: no fallback router configured", domain.ErrRoutingFailed)
		r.logger.Warn("fallback routing unavailable", "error", err)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.FallbackTimeout)
	cur.cancel = cancel
	cur.fallback = true
	r.setLoading(true)

	seq := cur.seq
	go func() {
		points, err := r.opts.Router.Route(ctx, from, to)
		r.opts.Dispatcher.Dispatch(func() { r.fallbackDone(seq, from, to, points, err) })
	}()
	return nil
}

func (r *Renderer) fallbackDone(seq uint64, from, to domain.LatLon, points []domain.LatLon, err error) {
	cur := r.current
	if cur == nil || cur.seq != seq || !cur.fallback {
		return
	}
	cur.fallback = false
	if cur.cancel != nil {
		cur.cancel()
		cur.cancel = nil
	}
	r.setLoading(false)

	if err == nil && len(points) < 2 {
		err = errors.New("router returned no geometry")
	}
	if err != nil {
		if !errors.Is(err, domain.ErrRoutingFailed) {
			err = fmt.Errorf("%w: %w", domain.ErrRoutingFailed, err)
		}
		r.logger.Warn("fallback routing failed", "from", from.String(), "to", to.String(), "error", err)
		r.opts.OnError(err)
		return
	}

	if err := r.drawRoute(cur, points, FallbackPadding, []domain.LatLon{from, to}); err != nil {
		r.logger.Warn("drawing fallback route failed", "error", err)
		r.opts.OnError(err)
	}
}

func (r *Renderer) annotate(cur *route) {
	if len(cur.stations) == 0 {
		return
	}
	if cur.resolver == nil {
		cur.resolver = annotate.NewResolver(r.opts.Geocoder, r.opts.GeocodeConcurrency, r.opts.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	prev := cur.cancel
	cur.cancel = func() {
		cancel()
		if prev != nil {
			prev()
		}
	}

	seq := cur.seq
	results := cur.resolver.Resolve(ctx, cur.stations)
	go func() {
		for ann := range results {
			r.opts.Dispatcher.Dispatch(func() { r.applyAnnotation(seq, ann) })
		}
	}()
}

// applyAnnotation updates popups in place, matched by coordinate
func (r *Renderer) applyAnnotation(seq uint64, ann domain.StationAnnotation) {
	cur := r.current
	if cur == nil || cur.seq != seq {
		return
	}
	if st, ok := lo.Find(cur.stations, func(s domain.StationRef) bool {
		return s.Coordinates.Key() == ann.Coordinates.Key()
	}); ok {
		ann = preferServerName(st, ann)
	}
	popup := cur.req.FuelType.StationLabel() + " " + ann.DisplayName
	for _, id := range cur.session.StationMarkers(ann.Coordinates.Key()) {
		if err := cur.session.SetPopup(id, popup); err != nil {
			r.logger.Debug("station popup update skipped", "layer", id, "error", err)
		}
	}
}

func (r *Renderer) placeEndpoint(cur *route, kind mapview.LayerKind, at domain.LatLon, popup string) error {
	if id, ok := cur.session.First(kind); ok {
		if err := cur.session.MoveMarker(id, at); err != nil {
			return fmt.Errorf("moving %s marker: %w", kind, err)
		}
		return nil
	}
	if _, err := cur.session.AddLayer(mapview.NewMarker(kind, at, popup)); err != nil {
		return fmt.Errorf("drawing %s marker: %w", kind, err)
	}
	return nil
}

// abandon cancels async work of the drawn route. A fallback still in flight
// would otherwise leave the loading indicator on forever.
func (r *Renderer) abandon() {
	cur := r.current
	if cur == nil {
		return
	}
	if cur.cancel != nil {
		cur.cancel()
		cur.cancel = nil
	}
	if cur.fallback {
		cur.fallback = false
		r.setLoading(false)
	}
}

func (r *Renderer) setLoading(on bool) {
	if r.loading == on {
		return
	}
	r.loading = on
	if r.opts.Loading != nil {
		r.opts.Loading.SetLoading(on)
	}
}

func (r *Renderer) originCoordinates(cur *route) (domain.LatLon, bool) {
	if cur.req.OriginIsLive() {
		loc, ok := r.livePosition()
		return loc.Position, ok
	}
	d, err := r.lookup(cur.req.Origin)
	if err != nil {
		return domain.LatLon{}, false
	}
	return d.Coordinates(), true
}

func (r *Renderer) livePosition() (domain.LiveLocation, bool) {
	if r.opts.Positions == nil {
		return domain.LiveLocation{}, false
	}
	return r.opts.Positions.Last()
}

func (r *Renderer) lookup(name string) (domain.Depot, error) {
	if r.opts.Depots == nil {
		return domain.Depot{}, fmt.Errorf("%w: %q", domain.ErrUnknownDepot, name)
	}
	return r.opts.Depots.Lookup(name)
}

func initialAnnotation(s domain.StationRef) domain.StationAnnotation {
	if s.Name != "" {
		return domain.StationAnnotation{Coordinates: s.Coordinates, DisplayName: s.Name}
	}
	return annotate.Placeholder(s.Coordinates)
}

// preferServerName keeps a name sent with the route over a lookup placeholder
func preferServerName(s domain.StationRef, ann domain.StationAnnotation) domain.StationAnnotation {
	if !ann.Resolved && s.Name != "" {
		return initialAnnotation(s)
	}
	return ann
}

func endpointPopup(name, role string) string {
	return fmt.Sprintf("%s (%s)", name, role)
}

func bound(points []domain.LatLon) orb.Bound {
	return geo.BoundOf(lo.Map(points, func(p domain.LatLon, _ int) orb.Point { return p.Point() })...)
}
