// Package engine wires the layer registry, tracker, renderer and selection
// controller to one event loop and exposes the entry points UI collaborators
// may call. Every entry point runs on the loop; none touches layers directly.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fleetmap/internal/annotate"
	"fleetmap/internal/domain"
	"fleetmap/internal/layers"
	"fleetmap/internal/loop"
	"fleetmap/internal/mapview"
	"fleetmap/internal/render"
	"fleetmap/internal/selection"
	"fleetmap/internal/tracker"
)

const (
	DefaultTileURL         = "https://tile.openstreetmap.org/{z}/{x}/{y}.png"
	DefaultThrottle        = time.Second
	DefaultPositionTimeout = 15 * time.Second

	locateMinZoom = 15
)

var (
	logoutControl = mapview.Control{ID: mapview.ControlLogout, Position: "topright", Title: "Logout"}
	locateControl = mapview.Control{ID: mapview.ControlGoToLocate, Position: "topleft", Title: "Go to my location"}
)

// Listener receives engine events. Calls arrive on the event loop and must not block.
type Listener interface {
	LoadingChanged(loading bool)
	SelectionChanged(sel domain.Selection, station *domain.StationAnnotation)
	TrackingChanged(state domain.TrackingState)
	Error(kind domain.ErrorKind, err error)
}

type Options struct {
	Surface            mapview.Surface
	Stream             tracker.Stream
	Depots             *domain.Depots
	Router             render.FallbackRouter
	Geocoder           annotate.Geocoder
	GeocodeConcurrency int
	TileURL            string
	ThrottleInterval   time.Duration
	PositionTimeout    time.Duration
	FallbackTimeout    time.Duration
	Listener           Listener
	Logger             *slog.Logger
}

type Engine struct {
	loop      *loop.Loop
	surface   mapview.Surface
	registry  *layers.Registry
	tracker   *tracker.Tracker
	renderer  *render.Renderer
	selection *selection.Controller
	controls  *mapview.Controls
	stream    tracker.Stream
	listener  Listener

	positionTimeout time.Duration

	// confined to the loop
	req      *domain.RouteRequest
	tracking domain.TrackingState
	closed   bool

	logger *slog.Logger
}

func New(opts Options) *Engine {
	logger := opts.Logger.With("component", "engine")
	if opts.Listener == nil {
		opts.Listener = nopListener{}
	}
	if opts.ThrottleInterval <= 0 {
		opts.ThrottleInterval = DefaultThrottle
	}
	if opts.PositionTimeout <= 0 {
		opts.PositionTimeout = DefaultPositionTimeout
	}
	if opts.TileURL == "" {
		opts.TileURL = DefaultTileURL
	}

	e := &Engine{
		loop:            loop.New(opts.Logger),
		surface:         opts.Surface,
		stream:          opts.Stream,
		listener:        opts.Listener,
		positionTimeout: opts.PositionTimeout,
		logger:          logger,
	}

	if err := opts.Surface.AddLayer(mapview.NewTileLayer(opts.TileURL)); err != nil {
		logger.Warn("base layer not attached", "error", err)
	}

	e.registry = layers.NewRegistry(opts.Surface, opts.Logger)
	e.controls = mapview.NewControls(opts.Surface, opts.Logger)
	e.tracker = tracker.New(opts.Stream, e.registry, e.loop, opts.ThrottleInterval, opts.Logger)
	e.selection = selection.New(e.selectionChanged)
	e.renderer = render.New(render.Options{
		Registry:           e.registry,
		Selection:          e.selection,
		Depots:             opts.Depots,
		Router:             opts.Router,
		Geocoder:           opts.Geocoder,
		GeocodeConcurrency: opts.GeocodeConcurrency,
		Positions:          e.tracker,
		Dispatcher:         e.loop,
		Loading:            loadingFunc(e.listener.LoadingChanged),
		FallbackTimeout:    opts.FallbackTimeout,
		OnError:            e.report,
		Logger:             opts.Logger,
	})
	return e
}

// Run drives the event loop until ctx is cancelled, then runs the same
// cleanup as Close before the loop stops.
func (e *Engine) Run(ctx context.Context) error {
	loopCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.loop.Run(loopCtx)
	}()

	e.loop.Dispatch(func() {
		if !e.closed {
			e.controls.Attach(logoutControl)
		}
	})
	e.logger.Info("engine started")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.loop.Call(shutdownCtx, e.cleanup); err != nil {
		e.logger.Warn("engine cleanup did not finish", "error", err)
	}
	stop()
	<-done
	e.logger.Info("engine stopped")
	return nil
}

// Submit renders req after fetching a one-shot device position when the
// origin is live. A position fetch that fails or exceeds the timeout aborts
// the submission without touching the map.
func (e *Engine) Submit(ctx context.Context, req domain.RouteRequest, result *domain.RouteResult) error {
	if req.OriginIsLive() {
		loc, err := e.currentPosition(ctx)
		if err != nil {
			e.loop.Dispatch(func() { e.report(err) })
			return err
		}
		return e.do(ctx, func() error {
			e.tracker.Seed(loc)
			return e.render(req, result)
		})
	}
	return e.Render(ctx, req, result)
}

// Render replaces the drawn route
func (e *Engine) Render(ctx context.Context, req domain.RouteRequest, result *domain.RouteResult) error {
	return e.do(ctx, func() error { return e.render(req, result) })
}

func (e *Engine) OnStationSelected(ctx context.Context, index int) error {
	return e.do(ctx, func() error { return e.selection.Select(index) })
}

func (e *Engine) OnMapClick(ctx context.Context, target selection.ClickTarget) error {
	return e.do(ctx, func() error { return e.selection.HandleClick(target) })
}

func (e *Engine) OnTrackingToggled(ctx context.Context, on bool) error {
	return e.do(ctx, func() error {
		if on {
			return e.startTracking()
		}
		e.stopTracking()
		return nil
	})
}

// OnLiveLocationConsumed flies the viewport to at
func (e *Engine) OnLiveLocationConsumed(ctx context.Context, at domain.LatLon) error {
	return e.do(ctx, func() error {
		e.flyTo(at)
		return nil
	})
}

// GoToMyLocation flies to the last observed device position
func (e *Engine) GoToMyLocation(ctx context.Context) error {
	return e.do(ctx, func() error {
		loc, ok := e.tracker.Last()
		if !ok {
			return fmt.Errorf("%w: no live position observed yet", domain.ErrInvariantViolation)
		}
		e.flyTo(loc.Position)
		return nil
	})
}

// Reset stops tracking and removes the route, as on logout
func (e *Engine) Reset(ctx context.Context) error {
	return e.do(ctx, func() error {
		e.clearJourney()
		e.logger.Info("journey reset")
		return nil
	})
}

// Close runs the shared cleanup path. Safe to call more than once.
func (e *Engine) Close(ctx context.Context) error {
	return e.do(ctx, func() error {
		e.cleanup()
		return nil
	})
}

// Snapshot is a consistent view of engine state
type Snapshot struct {
	Request         *domain.RouteRequest       `json:"request,omitempty"`
	Pending         bool                       `json:"pending"`
	Loading         bool                       `json:"loading"`
	Tracking        domain.TrackingState       `json:"tracking"`
	Selection       domain.Selection           `json:"selection"`
	SelectedStation *domain.StationAnnotation  `json:"selectedStation,omitempty"`
	Stations        []domain.StationAnnotation `json:"stations,omitempty"`
	LastLocation    *domain.LiveLocation       `json:"lastLocation,omitempty"`
	View            mapview.Viewport           `json:"view"`
	Controls        []mapview.Control          `json:"controls"`
	Layers          []mapview.Layer            `json:"layers"`
}

func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := e.Observe(ctx, func(s Snapshot) { snap = s })
	return snap, err
}

// Observe hands fn a snapshot on the event loop. Anything fn publishes is
// ordered before the surface changes that follow it.
func (e *Engine) Observe(ctx context.Context, fn func(Snapshot)) error {
	return e.loop.Call(ctx, func() { fn(e.snapshot()) })
}

func (e *Engine) snapshot() Snapshot {
	st := e.renderer.State()
	snap := Snapshot{
		Request:   st.Request,
		Pending:   st.Pending,
		Loading:   st.Loading,
		Tracking:  e.tracking,
		Selection: e.selection.State(),
		Stations:  st.Stations,
		View:      e.surface.View(),
		Controls:  e.surface.Controls(),
		Layers:    e.surface.Layers(),
	}
	snap.SelectedStation = e.selectedStation(snap.Selection)
	if loc, ok := e.tracker.Last(); ok {
		snap.LastLocation = &loc
	}
	return snap
}

func (e *Engine) render(req domain.RouteRequest, result *domain.RouteResult) error {
	if e.closed {
		return loop.ErrStopped
	}
	if err := e.renderer.Render(req, result); err != nil {
		e.report(err)
		return err
	}
	e.req = &req
	e.tracking.OriginIsLive = req.OriginIsLive()

	if req.OriginIsLive() && !e.tracker.Running() {
		// a failed start is reported through onTrackingError
		_ = e.startTracking()
	} else {
		e.tracker.Redraw()
	}
	e.syncControls()
	e.listener.TrackingChanged(e.tracking)
	return nil
}

func (e *Engine) startTracking() error {
	if e.closed {
		return loop.ErrStopped
	}
	if e.tracker.Running() {
		return nil
	}
	if err := e.tracker.Start(e.onLocation, e.onTrackingError); err != nil {
		e.tracking.IsTracking = false
		e.syncControls()
		e.listener.TrackingChanged(e.tracking)
		return err
	}
	e.tracking.IsTracking = true
	e.tracker.Redraw()
	e.syncControls()
	e.listener.TrackingChanged(e.tracking)
	return nil
}

func (e *Engine) stopTracking() {
	e.tracker.Stop()
	if !e.tracking.IsTracking {
		return
	}
	e.tracking.IsTracking = false
	e.syncControls()
	e.listener.TrackingChanged(e.tracking)
}

func (e *Engine) onLocation(loc domain.LiveLocation) {
	e.renderer.OnLiveLocation(loc)
}

func (e *Engine) onTrackingError(err error) {
	e.report(err)
	if errors.Is(err, domain.ErrPermissionDenied) {
		e.stopTracking()
	}
}

func (e *Engine) clearJourney() {
	e.stopTracking()
	e.renderer.Teardown()
	e.req = nil
	e.tracking.OriginIsLive = false
	e.syncControls()
}

// cleanup is the single teardown path for Close and for Run's shutdown
func (e *Engine) cleanup() {
	if e.closed {
		return
	}
	e.clearJourney()
	e.controls.DetachAll()
	e.closed = true
	e.logger.Info("engine closed")
}

func (e *Engine) syncControls() {
	if e.closed {
		return
	}
	e.controls.Attach(logoutControl)
	e.controls.Set(locateControl, e.req != nil && e.tracking.OriginIsLive && e.tracking.IsTracking)
}

func (e *Engine) flyTo(at domain.LatLon) {
	zoom := max(e.surface.View().Zoom, locateMinZoom)
	e.surface.SetView(at, zoom)
}

func (e *Engine) selectionChanged(sel domain.Selection) {
	e.listener.SelectionChanged(sel, e.selectedStation(sel))
}

func (e *Engine) selectedStation(sel domain.Selection) *domain.StationAnnotation {
	if !sel.Open {
		return nil
	}
	ann, ok := e.renderer.Station(sel.Index)
	if !ok {
		return nil
	}
	return &ann
}

func (e *Engine) report(err error) {
	kind := domain.Classify(err)
	e.logger.Warn("engine error", "kind", kind, "error", err)
	e.listener.Error(kind, err)
}

func (e *Engine) currentPosition(ctx context.Context) (domain.LiveLocation, error) {
	if e.stream == nil {
		return domain.LiveLocation{}, domain.ErrGeolocationUnsupported
	}
	pctx, cancel := context.WithTimeout(ctx, e.positionTimeout)
	defer cancel()

	loc, err := e.stream.CurrentPosition(pctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return domain.LiveLocation{}, fmt.Errorf("%w: no position within %s", domain.ErrTimeout, e.positionTimeout)
		}
		return domain.LiveLocation{}, fmt.Errorf("current position: %w", err)
	}
	return loc, nil
}

func (e *Engine) do(ctx context.Context, fn func() error) error {
	var err error
	if cerr := e.loop.Call(ctx, func() { err = fn() }); cerr != nil {
		return cerr
	}
	return err
}

type loadingFunc func(bool)

func (f loadingFunc) SetLoading(on bool) { f(on) }

type nopListener struct{}

func (nopListener) LoadingChanged(bool) {}
func (nopListener) SelectionChanged(domain.Selection, *domain.StationAnnotation) {}
func (nopListener) TrackingChanged(domain.TrackingState) {}
func (nopListener) Error(domain.ErrorKind, error) {}
