package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig holds the sliding-window budget for one endpoint group.
// The AI backend enforces the same budgets; limiting here sheds abusive
// traffic before it occupies a backend GPU slot.
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultRateLimitConfig returns the fallback budget for endpoints without
// an explicit entry in the budget table.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests: 10,
		Window:      time.Minute,
	}
}

// slidingWindow tracks request timestamps for one client within the window.
type slidingWindow struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow prunes expired timestamps and admits the request if the budget has
// room. It returns the remaining budget after admission and, when blocked,
// the seconds until the oldest request leaves the window.
func (w *slidingWindow) allow(cfg RateLimitConfig) (allowed bool, remaining int, retryAfter int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-cfg.Window)

	kept := w.timestamps[:0]
	for _, ts := range w.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.timestamps = kept

	if len(w.timestamps) >= cfg.MaxRequests {
		oldest := w.timestamps[0]
		retryAfter = int(oldest.Add(cfg.Window).Sub(now).Seconds()) + 1
		if retryAfter < 1 {
			retryAfter = 1
		}
		return false, 0, retryAfter
	}

	w.timestamps = append(w.timestamps, now)
	return true, cfg.MaxRequests - len(w.timestamps), 0
}

// rateLimiterStore holds per-client sliding windows.
type rateLimiterStore struct {
	windows map[string]*slidingWindow
	mu      sync.RWMutex
}

func newRateLimiterStore() *rateLimiterStore {
	return &rateLimiterStore{
		windows: make(map[string]*slidingWindow),
	}
}

func (s *rateLimiterStore) getWindow(key string) *slidingWindow {
	s.mu.RLock()
	w, ok := s.windows[key]
	s.mu.RUnlock()
	if ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Double-check after acquiring write lock
	if w, ok := s.windows[key]; ok {
		return w
	}
	w = &slidingWindow{}
	s.windows[key] = w
	return w
}

// admit stamps the quota headers and either admits the request or writes
// the 429 response.
func admit(c echo.Context, window *slidingWindow, cfg RateLimitConfig) (bool, error) {
	allowed, remaining, retryAfter := window.allow(cfg)

	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.MaxRequests))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-RateLimit-Window", strconv.Itoa(int(cfg.Window.Seconds())))

	if !allowed {
		h.Set("Retry-After", strconv.Itoa(retryAfter))
		return false, c.JSON(http.StatusTooManyRequests, map[string]interface{}{
			"error":  "Rate limit exceeded",
			"detail": "Too many requests. Try again in " + strconv.Itoa(retryAfter) + " seconds.",
		})
	}
	return true, nil
}

// RateLimit returns sliding-window rate limiting middleware keyed by client
// IP. Every response carries X-RateLimit-Limit, X-RateLimit-Remaining, and
// X-RateLimit-Window; a blocked request receives 429 with Retry-After and the
// standard error envelope.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newRateLimiterStore()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ok, err := admit(c, store.getWindow(c.RealIP()), cfg)
			if !ok {
				return err
			}
			return next(c)
		}
	}
}

// EndpointBudgets returns the per-endpoint budget table, sized so a client
// cannot occupy more backend GPU slots than its quota. Case workflow routes
// share the budget of the backend operation they drive; operations without
// an entry are unlimited.
func EndpointBudgets() map[string]RateLimitConfig {
	return map[string]RateLimitConfig{
		"analyze-image": {MaxRequests: 5, Window: time.Minute},
		"extract-labs":  {MaxRequests: 5, Window: time.Minute},
		"differential":  {MaxRequests: 10, Window: time.Minute},
		"debate-turn":   {MaxRequests: 20, Window: time.Minute},
		"summary":       {MaxRequests: 10, Window: time.Minute},

		"image":     {MaxRequests: 5, Window: time.Minute},
		"labs-file": {MaxRequests: 5, Window: time.Minute},
		"debate":    {MaxRequests: 20, Window: time.Minute},
	}
}

// RateLimitByOperation applies a budget table keyed by the operation segment
// of the request path, with isolated windows per operation and client IP.
// Paths whose operation has no table entry pass through without quota
// headers.
func RateLimitByOperation(budgets map[string]RateLimitConfig) echo.MiddlewareFunc {
	stores := make(map[string]*rateLimiterStore, len(budgets))
	for op := range budgets {
		stores[op] = newRateLimiterStore()
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			op := extractOperation(c.Request().URL.Path)
			cfg, ok := budgets[op]
			if !ok {
				return next(c)
			}
			admitted, err := admit(c, stores[op].getWindow(c.RealIP()), cfg)
			if !admitted {
				return err
			}
			return next(c)
		}
	}
}
