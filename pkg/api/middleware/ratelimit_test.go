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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPRateLimiter_Burst(t *testing.T) {
	t.Parallel()
	limiter := NewIPRateLimiterWithClock(clockwork.NewFakeClock())

	for i := range BurstSize {
		assert.True(t, limiter.Allow("192.168.1.100"), "request %d within burst", i+1)
	}
	assert.False(t, limiter.Allow("192.168.1.100"), "request beyond burst")
	assert.True(t, limiter.Allow("192.168.1.101"), "other clients keep their own bucket")
}

func TestIPRateLimiter_Refills(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	limiter := NewIPRateLimiterWithClock(clock)

	for range BurstSize {
		limiter.Allow("10.0.0.2")
	}
	require.False(t, limiter.Allow("10.0.0.2"))

	// one token per 100ms at 600 per minute
	clock.Advance(100 * time.Millisecond)
	assert.True(t, limiter.Allow("10.0.0.2"))
	assert.False(t, limiter.Allow("10.0.0.2"))
}

func TestIPRateLimiter_SameIPReuse(t *testing.T) {
	t.Parallel()
	limiter := NewIPRateLimiter()
	assert.Same(t, limiter.GetLimiter("192.168.1.100"), limiter.GetLimiter("192.168.1.100"))
	assert.NotSame(t, limiter.GetLimiter("192.168.1.100"), limiter.GetLimiter("192.168.1.101"))
}

func TestIPRateLimiter_Cleanup(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	limiter := NewIPRateLimiterWithClock(clock)

	limiter.GetLimiter("10.0.0.1")
	clock.Advance(6 * time.Minute)
	limiter.GetLimiter("10.0.0.2")
	clock.Advance(5 * time.Minute)

	limiter.Cleanup()
	assert.Equal(t, 1, limiter.Len())

	clock.Advance(6 * time.Minute)
	limiter.Cleanup()
	assert.Zero(t, limiter.Len())
}

func TestIPRateLimiter_StartCleanup(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	limiter := NewIPRateLimiterWithClock(clock)
	limiter.GetLimiter("10.0.0.1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter.StartCleanup(ctx)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(11 * time.Minute)
	assert.Eventually(t, func() bool { return limiter.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHTTPRateLimitMiddleware(t *testing.T) {
	t.Parallel()
	limiter := NewIPRateLimiterWithClock(clockwork.NewFakeClock())

	calls := 0
	handler := HTTPRateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	for range BurstSize + 5 {
		req := httptest.NewRequest(http.MethodPost, "/controller/command/sync", http.NoBody)
		req.RemoteAddr = "192.168.1.100:12345"
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, BurstSize, calls)

	req := httptest.NewRequest(http.MethodGet, "/status", http.NoBody)
	req.RemoteAddr = "192.168.1.100:12345"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"too many requests"}`, w.Body.String())
}
