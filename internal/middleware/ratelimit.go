package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// RateLimiter is a fixed-window request limiter keyed by client IP
type RateLimiter struct {
	windows   *xsync.MapOf[string, window]
	limit     int
	period    time.Duration
	whitelist map[string]struct{}
	now       func() time.Time
	logger    *slog.Logger
}

type window struct {
	start time.Time
	count int
}

// NewRateLimiter allows limit requests per period from one address.
// Whitelisted addresses are never limited.
func NewRateLimiter(limit int, period time.Duration, whitelist []string, logger *slog.Logger) *RateLimiter {
	wl := make(map[string]struct{}, len(whitelist))
	for _, ip := range whitelist {
		if ip = strings.TrimSpace(ip); ip != "" {
			wl[ip] = struct{}{}
		}
	}

	return &RateLimiter{
		windows:   xsync.NewMapOf[string, window](),
		limit:     limit,
		period:    period,
		whitelist: wl,
		now:       time.Now,
		logger:    logger.With("component", "rate_limiter"),
	}
}

// Run evicts expired windows until ctx is done
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(2 * rl.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.evict()
		}
	}
}

func (rl *RateLimiter) evict() {
	cutoff := rl.now().Add(-rl.period)
	rl.windows.Range(func(ip string, w window) bool {
		if w.start.Before(cutoff) {
			rl.windows.Delete(ip)
		}
		return true
	})
}

// Allow records a request from ip and reports whether it fits the window.
// When it does not, the second result is the time until the window resets.
func (rl *RateLimiter) Allow(ip string) (bool, time.Duration) {
	if _, ok := rl.whitelist[ip]; ok {
		return true, 0
	}

	now := rl.now()
	w, _ := rl.windows.Compute(ip, func(w window, loaded bool) (window, bool) {
		if !loaded || now.Sub(w.start) >= rl.period {
			return window{start: now, count: 1}, false
		}
		w.count++
		return w, false
	})

	if w.count <= rl.limit {
		return true, 0
	}
	return false, w.start.Add(rl.period).Sub(now)
}

// Tracked returns the number of addresses with an open window
func (rl *RateLimiter) Tracked() int {
	return rl.windows.Size()
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		ok, retry := rl.Allow(ip)
		if !ok {
			rl.logger.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the peer address
func ClientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		first = strings.TrimSpace(first)
		if host, _, err := net.SplitHostPort(first); err == nil {
			return host
		}
		return first
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
