package layers

import (
	"io"
	"log/slog"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetmap/internal/domain"
	"fleetmap/internal/geo"
	"fleetmap/internal/mapview"
)

func newTestRegistry(t *testing.T) (*Registry, *mapview.Memory, mapview.Layer) {
	t.Helper()
	surface := mapview.NewMemory(mapview.Viewport{Size: geo.Size{Width: 800, Height: 600}})
	tile := mapview.NewTileLayer("https://tile.openstreetmap.org/{z}/{x}/{y}.png")
	require.NoError(t, surface.AddLayer(tile))
	return NewRegistry(surface, slog.New(slog.NewTextHandler(io.Discard, nil))), surface, tile
}

func nonTile(surface *mapview.Memory) []string {
	var ids []string
	for _, l := range surface.Layers() {
		if l.Kind != mapview.KindTile {
			ids = append(ids, string(l.ID))
		}
	}
	sort.Strings(ids)
	return ids
}

func sessionIDs(s *Session) []string {
	var ids []string
	for _, id := range s.Layers() {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	return ids
}

func TestSingleActiveLayerSet(t *testing.T) {
	reg, surface, _ := newTestRegistry(t)

	for round := 1; round <= 5; round++ {
		s := reg.BeginRoute(round%2 == 0)
		for i := 0; i < round; i++ {
			_, err := s.AddLayer(mapview.NewStationMarker(i, domain.LatLon{Lat: float64(i), Lon: 1}, ""))
			require.NoError(t, err)
		}
		_, err := s.AddLayer(mapview.NewPolyline([]domain.LatLon{{Lat: 0, Lon: 0}, {Lat: 1, Lon: 1}}))
		require.NoError(t, err)

		assert.Equal(t, sessionIDs(s), nonTile(surface), "round %d", round)
		assert.Same(t, s, reg.Current())
	}
}

func TestTeardownIsIdempotent(t *testing.T) {
	reg, surface, tile := newTestRegistry(t)
	s := reg.BeginRoute(false)
	_, err := s.AddLayer(mapview.NewMarker(mapview.KindOrigin, domain.LatLon{Lat: 1, Lon: 1}, ""))
	require.NoError(t, err)

	s.Teardown()
	s.Teardown()

	assert.True(t, s.Closed())
	assert.Nil(t, reg.Current())
	assert.Empty(t, nonTile(surface))
	assert.True(t, surface.HasLayer(tile.ID))
}

func TestTeardownToleratesDetachedLayers(t *testing.T) {
	reg, surface, _ := newTestRegistry(t)
	s := reg.BeginRoute(false)
	id, err := s.AddLayer(mapview.NewMarker(mapview.KindDestination, domain.LatLon{Lat: 1, Lon: 1}, ""))
	require.NoError(t, err)

	require.NoError(t, surface.RemoveLayer(id))
	assert.NotPanics(t, s.Teardown)
	assert.Empty(t, nonTile(surface))
}

func TestTeardownSweepsUnregisteredLayers(t *testing.T) {
	reg, surface, tile := newTestRegistry(t)
	s := reg.BeginRoute(false)
	stray := mapview.NewMarker(mapview.KindStation, domain.LatLon{Lat: 2, Lon: 2}, "")
	require.NoError(t, surface.AddLayer(stray))

	next := reg.BeginRoute(false)
	assert.True(t, s.Closed())
	assert.False(t, surface.HasLayer(stray.ID))
	assert.True(t, surface.HasLayer(tile.ID))
	assert.Empty(t, next.Layers())
}

func TestStaleSessionWritesRejected(t *testing.T) {
	reg, surface, _ := newTestRegistry(t)
	old := reg.BeginRoute(false)
	marker, err := old.AddLayer(mapview.NewMarker(mapview.KindLive, domain.LatLon{Lat: 1, Lon: 1}, ""))
	require.NoError(t, err)

	reg.BeginRoute(false)

	_, err = old.AddLayer(mapview.NewMarker(mapview.KindLive, domain.LatLon{}, ""))
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, old.MoveMarker(marker, domain.LatLon{Lat: 3, Lon: 3}), ErrSessionClosed)
	assert.ErrorIs(t, old.SetPopup(marker, "x"), ErrSessionClosed)
	assert.False(t, old.Owns(marker))
	assert.Empty(t, nonTile(surface))
}

func TestSessionRejectsForeignLayers(t *testing.T) {
	reg, surface, tile := newTestRegistry(t)
	s := reg.BeginRoute(false)

	assert.ErrorIs(t, s.MoveMarker(tile.ID, domain.LatLon{}), mapview.ErrLayerNotFound)
	s.RemoveLayer(tile.ID)
	assert.True(t, surface.HasLayer(tile.ID))
}

func TestActiveOpensIdleSession(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	assert.Nil(t, reg.Current())

	s := reg.Active()
	require.NotNil(t, s)
	assert.False(t, s.LiveOrigin())
	assert.Same(t, s, reg.Active())

	reg.Clear()
	assert.Nil(t, reg.Current())
}

func TestStationMarkersByCoordinate(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	s := reg.BeginRoute(false)
	at := domain.LatLon{Lat: 53.4808, Lon: -2.2426}
	a, err := s.AddLayer(mapview.NewStationMarker(0, at, ""))
	require.NoError(t, err)
	_, err = s.AddLayer(mapview.NewStationMarker(1, domain.LatLon{Lat: 52, Lon: -1}, ""))
	require.NoError(t, err)

	assert.Equal(t, []mapview.LayerID{a}, s.StationMarkers(at.Key()))
	assert.Empty(t, s.StationMarkers(domain.LatLon{Lat: 9, Lon: 9}.Key()))

	line, err := s.AddLayer(mapview.NewPolyline([]domain.LatLon{at, {Lat: 52, Lon: -1}}))
	require.NoError(t, err)
	got, ok := s.Polyline()
	require.True(t, ok)
	assert.Equal(t, line, got)
}
