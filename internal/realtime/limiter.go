package realtime

import (
	"sync"
	"time"

	"github.com/eleven-am/speech-sidecar/internal/shared"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

type RateLimiterConfig struct {
	SessionsPerSecond float64
	Burst             int
	CleanupInterval   time.Duration
}

func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		SessionsPerSecond: 5,
		Burst:             10,
		CleanupInterval:   5 * time.Minute,
	}
}

type rateLimiterStore struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	config   RateLimiterConfig
	stop     chan struct{}
	stopOnce sync.Once
}

func newRateLimiterStore(cfg RateLimiterConfig) *rateLimiterStore {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	store := &rateLimiterStore{
		limiters: make(map[string]*rate.Limiter),
		config:   cfg,
		stop:     make(chan struct{}),
	}
	go store.cleanupLoop()
	return store
}

func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.RLock()
	limiter, exists := s.limiters[key]
	s.mu.RUnlock()

	if exists {
		return limiter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if limiter, exists = s.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(s.config.SessionsPerSecond), s.config.Burst)
	s.limiters[key] = limiter
	return limiter
}

func (s *rateLimiterStore) cleanupLoop() {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			for key := range s.limiters {
				delete(s.limiters, key)
			}
			s.mu.Unlock()
		}
	}
}

func (s *rateLimiterStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// admit reports whether a new session from c may start. A non-positive rate
// disables limiting.
func (s *rateLimiterStore) admit(c echo.Context) bool {
	if s.config.SessionsPerSecond <= 0 {
		return true
	}
	return s.getLimiter(c.RealIP()).Allow()
}

func rejectSession() error {
	return shared.TooManyRequests("too_many_sessions", shared.ErrRateLimited.Error())
}
