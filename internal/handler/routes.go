package handler

import "net/http"

// Mount registers the API, websocket and probe routes on mux.
// api wraps the JSON endpoints only; the websocket and probes bypass it.
func Mount(mux *http.ServeMux, h *HTTPHandler, ws *WSHandler, health *HealthHandler, api func(http.Handler) http.Handler) {
	if api == nil {
		api = func(next http.Handler) http.Handler { return next }
	}
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, api(fn))
	}

	handle("GET /v1/depots", h.ListDepots)
	handle("POST /v1/route", h.SubmitRoute)
	handle("POST /v1/tracking", h.ToggleTracking)
	handle("POST /v1/stations/{index}/select", h.SelectStation)
	handle("POST /v1/selection/dismiss", h.DismissSelection)
	handle("POST /v1/locate", h.Locate)
	handle("POST /v1/reset", h.Reset)
	handle("GET /v1/state", h.GetState)
	handle("GET /v1/layers", h.ListLayers)
	handle("GET /v1/layers.geojson", h.LayersGeoJSON)

	mux.HandleFunc("/v1/ws", ws.ServeWS)

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz)
}
