// MoonUnit Gateway
// Copyright (c) 2026 The MoonUnit Gateway Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of MoonUnit Gateway.
//
// MoonUnit Gateway is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// MoonUnit Gateway is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with MoonUnit Gateway.  If not, see <http://www.gnu.org/licenses/>.

package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/moonunit/gateway/pkg/helpers/syncutil"
	"github.com/olahol/melody"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	RequestsPerMinute = 600
	BurstSize         = 60

	staleAfter      = 10 * time.Minute
	cleanupInterval = 5 * time.Minute
)

// IPRateLimiter hands out one token bucket per client IP.
type IPRateLimiter struct {
	clock    clockwork.Clock
	limiters map[string]*rateLimiterEntry
	mu       syncutil.RWMutex
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewIPRateLimiter() *IPRateLimiter {
	return NewIPRateLimiterWithClock(clockwork.NewRealClock())
}

func NewIPRateLimiterWithClock(clock clockwork.Clock) *IPRateLimiter {
	return &IPRateLimiter{
		clock:    clock,
		limiters: make(map[string]*rateLimiterEntry),
	}
}

func (rl *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	entry, exists := rl.limiters[ip]
	if !exists {
		entry = &rateLimiterEntry{
			limiter: rate.NewLimiter(rate.Limit(float64(RequestsPerMinute)/60.0), BurstSize),
		}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// Allow takes one token from the bucket for ip.
func (rl *IPRateLimiter) Allow(ip string) bool {
	return rl.GetLimiter(ip).AllowN(rl.clock.Now(), 1)
}

func (rl *IPRateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.limiters)
}

// Cleanup removes limiters that have not been used recently.
func (rl *IPRateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	for ip, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > staleAfter {
			delete(rl.limiters, ip)
			log.Debug().Str("ip", ip).Msg("removed stale rate limiter")
		}
	}
}

// StartCleanup runs Cleanup periodically until ctx is cancelled.
func (rl *IPRateLimiter) StartCleanup(ctx context.Context) {
	go func() {
		ticker := rl.clock.NewTicker(cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.Chan():
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

type rateLimitError struct {
	Error string `json:"error"`
}

func HTTPRateLimitMiddleware(limiter *IPRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := ParseRemoteIP(r.RemoteAddr).String()
			if !limiter.Allow(host) {
				log.Warn().
					Str("ip", host).
					Str("path", r.URL.Path).
					Str("method", r.Method).
					Msg("HTTP rate limit exceeded")

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(rateLimitError{Error: "too many requests"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WebSocketRateLimitHandler wraps a websocket message handler with rate
// limiting.
func WebSocketRateLimitHandler(
	limiter *IPRateLimiter,
	handler func(*melody.Session, []byte),
) func(*melody.Session, []byte) {
	return func(session *melody.Session, msg []byte) {
		host := ParseRemoteIP(session.Request.RemoteAddr).String()
		if !limiter.Allow(host) {
			log.Warn().
				Str("ip", host).
				Int("msg_size", len(msg)).
				Msg("WebSocket rate limit exceeded")

			data, err := json.Marshal(rateLimitError{Error: "rate limit exceeded"})
			if err != nil {
				log.Error().Err(err).Msg("failed to marshal rate limit error")
				return
			}
			if err := session.Write(data); err != nil {
				log.Error().Err(err).Msg("failed to send rate limit error")
			}
			return
		}

		handler(session, msg)
	}
}
