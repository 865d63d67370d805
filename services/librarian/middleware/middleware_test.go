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
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.POST("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func do(r http.Handler, method, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/ping", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	req.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// =============================================================================
// CORS
// =============================================================================

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, ParseOrigins(" http://a.test/ ,, http://b.test"))
	assert.Nil(t, ParseOrigins(" , "))
}

func TestCORS_AllowedOrigin(t *testing.T) {
	r := newRouter(CORS(nil))
	w := do(r, http.MethodGet, "http://localhost:5173")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "X-Request-ID", w.Header().Get("Access-Control-Expose-Headers"))
}

func TestCORS_UnlistedOrigin(t *testing.T) {
	r := newRouter(CORS([]string{"http://app.test"}))
	w := do(r, http.MethodGet, "http://evil.test")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Wildcard(t *testing.T) {
	r := newRouter(CORS([]string{"*"}))
	w := do(r, http.MethodGet, "http://anything.test")
	assert.Equal(t, "http://anything.test", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Preflight(t *testing.T) {
	r := newRouter(CORS([]string{"http://app.test"}))
	w := do(r, http.MethodOptions, "http://app.test")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Empty(t, w.Body.String())
}

// =============================================================================
// Rate limiting
// =============================================================================

func TestRateLimit_RejectsAfterBurst(t *testing.T) {
	limited := 0
	r := newRouter(RateLimit(RateLimitConfig{
		PerMinute: 2,
		Burst:     2,
		OnLimited: func(*gin.Context) { limited++ },
	}))

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "").Code)

	w := do(r, http.MethodPost, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())
	assert.Equal(t, "31", w.Header().Get("Retry-After"))
	assert.Equal(t, 1, limited)
}

func TestRateLimit_PerClient(t *testing.T) {
	r := newRouter(RateLimit(RateLimitConfig{PerMinute: 1}))
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "").Code)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, "another client has its own bucket")

	assert.Equal(t, http.StatusTooManyRequests, do(r, http.MethodGet, "").Code)
}

func TestRateLimit_Disabled(t *testing.T) {
	r := newRouter(RateLimit(RateLimitConfig{}))
	for i := 0; i < 20; i++ {
		assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "").Code)
	}
}
