package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetmap/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 4, cfg.GeocodeConcurrency)
	assert.Equal(t, time.Second, cfg.TrackThrottle)
	assert.Equal(t, 15*time.Second, cfg.PositionTimeout)
	assert.False(t, cfg.RedisEnabled)
	assert.Nil(t, cfg.RateLimitWhitelist)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("TRACK_THROTTLE", "250ms")
	t.Setenv("GEOCODE_CONCURRENCY", "2")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("RATE_LIMIT_WHITELIST", " 10.0.0.1, ,10.0.0.2 ")
	t.Setenv("POSITION_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 250*time.Millisecond, cfg.TrackThrottle)
	assert.Equal(t, 2, cfg.GeocodeConcurrency)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.RateLimitWhitelist)
	assert.Equal(t, 15*time.Second, cfg.PositionTimeout)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("HTTP_ADDR=:9191\n"), 0o600))
	t.Setenv("HTTP_ADDR", "")
	os.Unsetenv("HTTP_ADDR")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9191", cfg.HTTPAddr)
}

func TestLoadRejectsZeroConcurrency(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GEOCODE_CONCURRENCY", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadDepotsBuiltIn(t *testing.T) {
	depots, err := LoadDepots("")
	require.NoError(t, err)
	assert.Len(t, depots.All(), 8)

	d, err := depots.Lookup("manchester")
	require.NoError(t, err)
	assert.Equal(t, domain.LatLon{Lat: 53.4808, Lon: -2.2426}, d.Coordinates())
}

func TestLoadDepotsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "depots.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
depots:
  - name: Bristol
    lat: 51.4545
    lon: -2.5879
  - name: York
    lat: 53.9600
    lon: -1.0873
`), 0o600))

	depots, err := LoadDepots(path)
	require.NoError(t, err)
	assert.Len(t, depots.All(), 2)
	_, err = depots.Lookup("London")
	assert.ErrorIs(t, err, domain.ErrUnknownDepot)
}

func TestLoadDepotsValidates(t *testing.T) {
	tests := map[string]string{
		"empty":        "depots: []\n",
		"missing name": "depots:\n  - lat: 1\n    lon: 1\n",
		"bad latitude": "depots:\n  - name: Nowhere\n    lat: 91\n    lon: 0\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "depots.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

			_, err := LoadDepots(path)
			assert.Error(t, err)
		})
	}
}
