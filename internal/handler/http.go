package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"fleetmap/internal/domain"
	"fleetmap/internal/engine"
	"fleetmap/internal/loop"
	"fleetmap/internal/mapview"
	"fleetmap/internal/selection"
)

// Engine is the part of *engine.Engine the transport drives
type Engine interface {
	Submit(ctx context.Context, req domain.RouteRequest, result *domain.RouteResult) error
	OnStationSelected(ctx context.Context, index int) error
	OnMapClick(ctx context.Context, target selection.ClickTarget) error
	OnTrackingToggled(ctx context.Context, on bool) error
	GoToMyLocation(ctx context.Context) error
	Reset(ctx context.Context) error
	Snapshot(ctx context.Context) (engine.Snapshot, error)
	Observe(ctx context.Context, fn func(engine.Snapshot)) error
}

// LayerSource lists the layers currently on the map
type LayerSource interface {
	Layers() []mapview.Layer
}

type HTTPHandler struct {
	engine Engine
	layers LayerSource
	depots *domain.Depots
}

func NewHTTPHandler(e Engine, layers LayerSource, depots *domain.Depots) *HTTPHandler {
	return &HTTPHandler{engine: e, layers: layers, depots: depots}
}

type DepotsResponse struct {
	Depots []domain.Depot `json:"depots"`
	Count  int            `json:"count"`
}

func (h *HTTPHandler) ListDepots(w http.ResponseWriter, r *http.Request) {
	depots := h.depots.All()
	respondJSON(w, http.StatusOK, DepotsResponse{Depots: depots, Count: len(depots)})
}

// RouteBody is a route request plus the server-computed route, if any.
// Omitting route asks the engine to compute a fallback.
type RouteBody struct {
	domain.RouteRequest
	Route *domain.RouteResult `json:"route,omitempty"`
}

func (h *HTTPHandler) SubmitRoute(w http.ResponseWriter, r *http.Request) {
	var body RouteBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Route != nil && body.Route.Empty() {
		body.Route = nil
	}

	h.act(w, r, func(ctx context.Context) error {
		return h.engine.Submit(ctx, body.RouteRequest, body.Route)
	})
}

type TrackingBody struct {
	On bool `json:"on"`
}

func (h *HTTPHandler) ToggleTracking(w http.ResponseWriter, r *http.Request) {
	var body TrackingBody
	if !decodeBody(w, r, &body) {
		return
	}
	h.act(w, r, func(ctx context.Context) error {
		return h.engine.OnTrackingToggled(ctx, body.On)
	})
}

func (h *HTTPHandler) SelectStation(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "station index must be an integer")
		return
	}
	h.act(w, r, func(ctx context.Context) error {
		return h.engine.OnStationSelected(ctx, index)
	})
}

func (h *HTTPHandler) DismissSelection(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(ctx context.Context) error {
		return h.engine.OnMapClick(ctx, selection.ClickTarget{Kind: selection.TargetMap})
	})
}

func (h *HTTPHandler) Locate(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.engine.GoToMyLocation)
}

func (h *HTTPHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.engine.Reset)
}

func (h *HTTPHandler) GetState(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Snapshot(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

type LayersResponse struct {
	Layers     []mapview.Layer `json:"layers"`
	Count      int             `json:"count"`
	ServerTime time.Time       `json:"serverTime"`
}

func (h *HTTPHandler) ListLayers(w http.ResponseWriter, r *http.Request) {
	layers := h.layers.Layers()
	respondJSON(w, http.StatusOK, LayersResponse{
		Layers:     layers,
		Count:      len(layers),
		ServerTime: time.Now(),
	})
}

func (h *HTTPHandler) LayersGeoJSON(w http.ResponseWriter, r *http.Request) {
	data, err := mapview.FeatureCollection(h.layers.Layers()).MarshalJSON()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "encoding layers")
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// act runs one engine entry point and answers with the resulting state
func (h *HTTPHandler) act(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context) error) {
	if err := fn(r.Context()); err != nil {
		respondEngineError(w, err)
		return
	}
	h.GetState(w, r)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

type errorResponse struct {
	Error string           `json:"error"`
	Kind  domain.ErrorKind `json:"kind,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, loop.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	}

	switch domain.Classify(err) {
	case domain.KindInvariantViolation:
		return http.StatusUnprocessableEntity
	case domain.KindPermissionDenied:
		return http.StatusForbidden
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	case domain.KindRoutingFailed, domain.KindTransientIO:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondEngineError(w http.ResponseWriter, err error) {
	respondJSON(w, statusFor(err), errorResponse{Error: err.Error(), Kind: domain.Classify(err)})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
