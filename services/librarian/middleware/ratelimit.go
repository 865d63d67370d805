// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig bounds how often one client may call a route.
type RateLimitConfig struct {
	// PerMinute is the sustained request rate per client. Zero or less
	// disables limiting.
	PerMinute int

	// Burst is how many requests may arrive at once. Defaults to PerMinute.
	Burst int

	// IdleTTL drops a client's limiter after this much silence.
	// Defaults to ten minutes.
	IdleTTL time.Duration

	// OnLimited is called for every rejected request. Optional.
	OnLimited func(c *gin.Context)
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet holds one token bucket per client IP.
type limiterSet struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	swept   time.Time
	now     func() time.Time
}

func (s *limiterSet) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.swept) > s.ttl {
		for k, cl := range s.clients {
			if now.Sub(cl.lastSeen) > s.ttl {
				delete(s.clients, k)
			}
		}
		s.swept = now
	}

	cl, ok := s.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.clients[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

// RateLimit rejects clients that exceed cfg's rate with 429.
//
// # Description
//
// Clients are keyed by gin's ClientIP. A rejected request gets a JSON
// {"error": "rate limit exceeded"} and a Retry-After header in seconds.
//
// # Thread Safety
//
// The returned middleware is safe for concurrent use.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.PerMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.PerMinute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}

	set := &limiterSet{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(float64(cfg.PerMinute) / 60),
		burst:   cfg.Burst,
		ttl:     cfg.IdleTTL,
		now:     time.Now,
	}
	retryAfter := strconv.Itoa(int((time.Minute / time.Duration(cfg.PerMinute)).Seconds()) + 1)

	return func(c *gin.Context) {
		if !set.get(c.ClientIP()).Allow() {
			if cfg.OnLimited != nil {
				cfg.OnLimited(c)
			}
			c.Header("Retry-After", retryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
