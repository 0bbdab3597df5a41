package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bluele/gcache"
	"golang.org/x/sync/singleflight"

	"fleetmap/internal/annotate"
	"fleetmap/internal/domain"
)

// Store is the shared second-level cache; *RedisCache implements it
type Store interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Geocoder puts an in-process LRU and an optional shared store in front of a
// rate-limited reverse geocoder. Failures are never cached.
type Geocoder struct {
	next    annotate.Geocoder
	lru     gcache.Cache
	shared  Store
	ttl     time.Duration
	timeout time.Duration
	group   singleflight.Group
	logger  *slog.Logger
}

// DefaultLookupTimeout bounds one shared provider lookup
const DefaultLookupTimeout = 15 * time.Second

func NewGeocoder(next annotate.Geocoder, size int, ttl time.Duration, shared Store, logger *slog.Logger) *Geocoder {
	if size <= 0 {
		size = 1024
	}
	return &Geocoder{
		next:    next,
		lru:     gcache.New(size).LRU().Expiration(ttl).Build(),
		shared:  shared,
		ttl:     ttl,
		timeout: DefaultLookupTimeout,
		logger:  logger.With("component", "geocode_cache"),
	}
}

func (g *Geocoder) Reverse(ctx context.Context, at domain.LatLon) (domain.Place, error) {
	key := KeyReverse(at)

	if v, err := g.lru.Get(key); err == nil {
		return v.(domain.Place), nil
	} else if !errors.Is(err, gcache.KeyNotFoundError) {
		g.logger.Debug("lru get failed", "key", key, "error", err)
	}

	// one load serves every caller of the key and outlives the caller that started it
	ch := g.group.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()
		return g.load(lctx, key, at)
	})

	select {
	case <-ctx.Done():
		return domain.Place{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.Place{}, res.Err
		}
		if res.Shared {
			g.logger.Debug("lookup shared with concurrent caller", "key", key)
		}
		return res.Val.(domain.Place), nil
	}
}

// Len returns the number of places held in process
func (g *Geocoder) Len() int {
	return g.lru.Len(false)
}

func (g *Geocoder) load(ctx context.Context, key string, at domain.LatLon) (domain.Place, error) {
	if g.shared != nil {
		var place domain.Place
		found, err := g.shared.GetJSON(ctx, key, &place)
		if err != nil {
			g.logger.Warn("shared cache read failed", "key", key, "error", err)
		}
		if found {
			g.remember(key, place)
			return place, nil
		}
	}

	place, err := g.next.Reverse(ctx, at)
	if err != nil {
		return domain.Place{}, err
	}
	g.remember(key, place)

	if g.shared != nil {
		if err := g.shared.SetJSON(ctx, key, place, g.ttl); err != nil {
			g.logger.Warn("shared cache write failed", "key", key, "error", err)
		}
	}
	return place, nil
}

func (g *Geocoder) remember(key string, place domain.Place) {
	if err := g.lru.Set(key, place); err != nil {
		g.logger.Debug("lru set failed", "key", key, "error", err)
	}
}
