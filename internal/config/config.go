package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel        slog.Level
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	DepotsFile string

	NominatimURL       string
	NominatimUserAgent string
	OSRMURL            string
	FallbackTimeout    time.Duration

	GeocodeConcurrency int
	GeocodeCacheSize   int
	GeocodeCacheTTL    time.Duration

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TrackThrottle   time.Duration
	PositionTimeout time.Duration
	PositionMaxAge  time.Duration

	ViewportWidth  int
	ViewportHeight int

	RateLimitPerWindow int
	RateLimitWindow    time.Duration
	RateLimitWhitelist []string
}

// Load reads the environment, after merging an optional .env file into it.
// Variables already set in the process win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{
		LogLevel:        getLogLevelEnv("LOG_LEVEL", slog.LevelInfo),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		ReadTimeout:     getDurationEnv("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getDurationEnv("WRITE_TIMEOUT", 30*time.Second),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		DepotsFile: getEnv("DEPOTS_FILE", ""),

		NominatimURL:       getEnv("NOMINATIM_URL", "https://nominatim.openstreetmap.org"),
		NominatimUserAgent: getEnv("NOMINATIM_USER_AGENT", "fleetmap/1.0"),
		OSRMURL:            getEnv("OSRM_URL", "https://router.project-osrm.org"),
		FallbackTimeout:    getDurationEnv("FALLBACK_TIMEOUT", 20*time.Second),

		GeocodeConcurrency: getIntEnv("GEOCODE_CONCURRENCY", 4),
		GeocodeCacheSize:   getIntEnv("GEOCODE_CACHE_SIZE", 4096),
		GeocodeCacheTTL:    getDurationEnv("GEOCODE_CACHE_TTL", 24*time.Hour),

		RedisEnabled:  getBoolEnv("REDIS_ENABLED", false),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		TrackThrottle:   getDurationEnv("TRACK_THROTTLE", time.Second),
		PositionTimeout: getDurationEnv("POSITION_TIMEOUT", 15*time.Second),
		PositionMaxAge:  getDurationEnv("POSITION_MAX_AGE", 10*time.Second),

		ViewportWidth:  getIntEnv("VIEWPORT_WIDTH", 1280),
		ViewportHeight: getIntEnv("VIEWPORT_HEIGHT", 800),

		RateLimitPerWindow: getIntEnv("RATE_LIMIT_PER_WINDOW", 120),
		RateLimitWindow:    getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitWhitelist: getCSVEnv("RATE_LIMIT_WHITELIST"),
	}

	if cfg.GeocodeConcurrency < 1 {
		return nil, fmt.Errorf("GEOCODE_CONCURRENCY must be at least 1, got %d", cfg.GeocodeConcurrency)
	}
	if cfg.ViewportWidth <= 0 || cfg.ViewportHeight <= 0 {
		return nil, fmt.Errorf("viewport must be positive, got %dx%d", cfg.ViewportWidth, cfg.ViewportHeight)
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getLogLevelEnv(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return level
}

func getCSVEnv(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}

	var result []string
	for _, p := range strings.Split(v, ",") {
		if t := strings.TrimSpace(p); t != "" {
			result = append(result, t)
		}
	}
	return result
}
