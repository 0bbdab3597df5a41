package nominatim

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetmap/internal/domain"
)

func TestReverseBuildsShortName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		assert.Equal(t, "53.4668", r.URL.Query().Get("lat"))
		assert.Equal(t, "-2.2474", r.URL.Query().Get("lon"))
		assert.Equal(t, "fleetmap-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"display_name": "Oxford Road, Hulme, Manchester, Greater Manchester, England, M15 6BH, United Kingdom",
			"address": {"road": "Oxford Road", "neighbourhood": "Hulme", "city": "Manchester"}
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "fleetmap-test")
	place, err := c.Reverse(context.Background(), domain.LatLon{Lat: 53.4668, Lon: -2.2474})
	require.NoError(t, err)
	assert.Equal(t, "Oxford Road, Hulme, Manchester", place.Name)
	assert.Contains(t, place.DisplayName, "United Kingdom")
}

func TestReverseFallsBackToDisplayName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"display_name": "M6 Toll, Cannock, Staffordshire"}`))
	}))
	defer srv.Close()

	place, err := New(srv.URL, "").Reverse(context.Background(), domain.LatLon{Lat: 52.6, Lon: -2})
	require.NoError(t, err)
	assert.Equal(t, "M6 Toll, Cannock", place.Name)
}

func TestReverseErrorsAreTransient(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) }},
		{"body", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"error":"Unable to geocode"}`)) }},
		{"decode", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`<html>`)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := New(srv.URL, "").Reverse(context.Background(), domain.LatLon{})
			assert.ErrorIs(t, err, domain.ErrTransientIO)
		})
	}
}

func TestReverseHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(srv.URL, "").Reverse(ctx, domain.LatLon{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, domain.ErrTransientIO)
}
