package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger is an optional dependency checked by readiness, such as the redis cache
type Pinger interface {
	Ping(ctx context.Context) error
}

// ClientCounter reports connected map clients
type ClientCounter interface {
	ClientCount() int
}

type HealthHandler struct {
	engine  Engine
	clients ClientCounter
	cache   Pinger
}

// NewHealthHandler builds the probe handler. cache may be nil.
func NewHealthHandler(e Engine, clients ClientCounter, cache Pinger) *HealthHandler {
	return &HealthHandler{
		engine:  e,
		clients: clients,
		cache:   cache,
	}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type ReadyResponse struct {
	Ready      bool      `json:"ready"`
	Engine     string    `json:"engine"`
	Cache      string    `json:"cache,omitempty"`
	Clients    int       `json:"clients"`
	ServerTime time.Time `json:"serverTime"`
}

func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := ReadyResponse{
		Ready:      true,
		Engine:     "ok",
		Clients:    h.clients.ClientCount(),
		ServerTime: time.Now(),
	}

	if _, err := h.engine.Snapshot(ctx); err != nil {
		resp.Ready = false
		resp.Engine = err.Error()
	}
	if h.cache != nil {
		resp.Cache = "ok"
		if err := h.cache.Ping(ctx); err != nil {
			resp.Ready = false
			resp.Cache = err.Error()
		}
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
