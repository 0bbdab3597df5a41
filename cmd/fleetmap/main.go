package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"fleetmap/internal/cache"
	"fleetmap/internal/config"
	"fleetmap/internal/domain"
	"fleetmap/internal/engine"
	"fleetmap/internal/geo"
	"fleetmap/internal/geolocation"
	"fleetmap/internal/handler"
	"fleetmap/internal/hub"
	"fleetmap/internal/mapview"
	"fleetmap/internal/middleware"
	"fleetmap/pkg/nominatim"
	"fleetmap/pkg/osrm"
)

// the initial view frames Great Britain
var homeView = domain.LatLon{Lat: 54.5, Lon: -3.0}

const homeZoom = 6

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("starting fleetmap server",
		"log_level", cfg.LogLevel.String(),
		"http_addr", cfg.HTTPAddr,
		"redis_enabled", cfg.RedisEnabled,
	)

	depots, err := config.LoadDepots(cfg.DepotsFile)
	if err != nil {
		logger.Error("failed to load depots", "error", err)
		os.Exit(1)
	}

	var (
		shared     cache.Store
		redisCache *cache.RedisCache
	)
	if cfg.RedisEnabled {
		redisCache, err = cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err != nil {
			logger.Warn("redis unavailable, geocode cache stays in process", "error", err)
		} else {
			defer redisCache.Close()
			shared = redisCache
		}
	}

	geocoder := cache.NewGeocoder(
		nominatim.New(cfg.NominatimURL, cfg.NominatimUserAgent),
		cfg.GeocodeCacheSize,
		cfg.GeocodeCacheTTL,
		shared,
		logger,
	)

	surface := mapview.NewMemory(mapview.Viewport{
		Center: homeView,
		Zoom:   homeZoom,
		Size:   geo.Size{Width: float64(cfg.ViewportWidth), Height: float64(cfg.ViewportHeight)},
	})
	wsHub := hub.NewHub(logger)
	surface.SetBroadcaster(wsHub)

	feed := geolocation.New(cfg.PositionMaxAge, logger)

	eng := engine.New(engine.Options{
		Surface:            surface,
		Stream:             feed,
		Depots:             depots,
		Router:             osrm.New(cfg.OSRMURL),
		Geocoder:           geocoder,
		GeocodeConcurrency: cfg.GeocodeConcurrency,
		ThrottleInterval:   cfg.TrackThrottle,
		PositionTimeout:    cfg.PositionTimeout,
		FallbackTimeout:    cfg.FallbackTimeout,
		Listener:           wsHub,
		Logger:             logger,
	})

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerWindow, cfg.RateLimitWindow, cfg.RateLimitWhitelist, logger)

	var pinger handler.Pinger
	if redisCache != nil {
		pinger = redisCache
	}

	mux := http.NewServeMux()
	handler.Mount(mux,
		handler.NewHTTPHandler(eng, surface, depots),
		handler.NewWSHandler(wsHub, eng, feed, logger),
		handler.NewHealthHandler(eng, wsHub, pinger),
		func(next http.Handler) http.Handler {
			return handler.GzipMiddleware(limiter.Middleware(next))
		},
	)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler.CORSMiddleware(handler.LoggingMiddleware(logger)(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	wsHub.OnResync(func() {
		if err := eng.Observe(gctx, func(s engine.Snapshot) { wsHub.BroadcastSnapshot(s) }); err != nil {
			logger.Warn("client resync failed", "error", err)
		}
	})

	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		limiter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("starting HTTP server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
