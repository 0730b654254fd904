// Package ratelimit throttles the management API per client address.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"relay/pkg/metrics"
)

type RateLimitConfig struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// store tracks one token bucket per client address. Buckets idle past MaxAge
// are swept so the map cannot grow without bound.
type store struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket
	cfg     RateLimitConfig
}

func newStore(cfg RateLimitConfig) *store {
	s := &store{
		buckets: make(map[string]*clientBucket),
		cfg:     cfg,
	}
	go s.sweep()
	return s
}

func (s *store) sweep() {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-s.cfg.MaxAge)
		s.mu.Lock()
		for addr, b := range s.buckets {
			if b.lastSeen.Before(cutoff) {
				delete(s.buckets, addr)
			}
		}
		s.mu.Unlock()
	}
}

func (s *store) bucketFor(addr string) *clientBucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[addr]
	if !ok {
		b = &clientBucket{
			limiter: rate.NewLimiter(rate.Limit(s.cfg.RPS), s.cfg.Burst),
		}
		s.buckets[addr] = b
	}
	b.lastSeen = time.Now()
	return b
}

func RateLimitMiddleware(cfg RateLimitConfig) gin.HandlerFunc {
	clients := newStore(cfg)
	limitHeader := strconv.Itoa(int(cfg.RPS))

	return func(c *gin.Context) {
		addr := c.ClientIP()
		if addr == "" {
			addr = c.RemoteIP()
		}

		bucket := clients.bucketFor(addr)
		c.Header("X-RateLimit-Limit", limitHeader)

		if !bucket.limiter.Allow() {
			metrics.RateLimitRequestsTotal.WithLabelValues("limited").Inc()
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "1")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"error_code": "RATE_LIMIT_EXCEEDED",
			})
			c.Abort()
			return
		}

		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()

		remaining := bucket.limiter.Burst() - int(bucket.limiter.Tokens())
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}
