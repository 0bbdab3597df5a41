package osrm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetmap/internal/domain"
)

var (
	london     = domain.LatLon{Lat: 51.5074, Lon: -0.1278}
	manchester = domain.LatLon{Lat: 53.4808, Lon: -2.2426}
)

func TestRouteDecodesGeometry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/route/v1/driving/-0.127800,51.507400;-2.242600,53.480800", r.URL.Path)
		assert.Equal(t, "geojson", r.URL.Query().Get("geometries"))
		_, _ = w.Write([]byte(`{"code":"Ok","routes":[{"distance":330000,"duration":14400,
			"geometry":{"type":"LineString","coordinates":[[-0.1278,51.5074],[-1.5,52.4],[-2.2426,53.4808]]}}]}`))
	}))
	defer srv.Close()

	points, err := New(srv.URL).Route(context.Background(), london, manchester)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, london, points[0])
	assert.Equal(t, domain.LatLon{Lat: 52.4, Lon: -1.5}, points[1])
	assert.Equal(t, manchester, points[2])
}

func TestRouteNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"NoRoute","message":"Impossible route between points"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Route(context.Background(), london, manchester)
	assert.ErrorIs(t, err, domain.ErrRoutingFailed)
}

func TestRouteServerFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Route(context.Background(), london, manchester)
	assert.ErrorIs(t, err, domain.ErrTransientIO)
}

func TestRouteRejectsDegenerateGeometry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"Ok","routes":[{"geometry":{"type":"Point","coordinates":[-0.1278,51.5074]}}]}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Route(context.Background(), london, manchester)
	assert.ErrorIs(t, err, domain.ErrRoutingFailed)
}
