package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	limiter := NewIPRateLimiter(ctx, RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 2})
	router := gin.New()
	router.Use(RateLimitMiddleware(limiter))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusOK, do("10.0.0.1:1001").Code)

	w := do("10.0.0.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, do("10.0.0.2:1000").Code, "buckets are per address")
}

func TestIPRateLimiter_ForgetsIdle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	now := time.Unix(1000, 0)
	limiter := NewIPRateLimiter(ctx, RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Hour})
	limiter.now = func() time.Time { return now }

	limiter.Allow("a")
	now = now.Add(30 * time.Minute)
	limiter.Allow("b")
	now = now.Add(45 * time.Minute)

	limiter.forgetIdle()
	assert.Equal(t, 1, limiter.size())
}
