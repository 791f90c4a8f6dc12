package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"callmesh/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func limitedRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func doRequest(router *gin.Engine, remoteAddr string) int {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	router.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimit_DisabledPassesEverything(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false
	router := limitedRouter(cfg)

	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, doRequest(router, ""))
	}
}

func TestRateLimit_ThrottlesPerIP(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 1
	cfg.RateLimiting.HTTP.Burst = 1
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	router := limitedRouter(cfg)

	assert.Equal(t, http.StatusOK, doRequest(router, "192.0.2.10:1111"))
	assert.Equal(t, http.StatusTooManyRequests, doRequest(router, "192.0.2.10:1111"))

	// A different client has its own bucket.
	assert.Equal(t, http.StatusOK, doRequest(router, "192.0.2.20:2222"))
}

func TestLimiterPool_ReusesBucketPerKey(t *testing.T) {
	pool := newLimiterPool(rate.Limit(1), 1)

	a := pool.get("192.0.2.10")
	assert.Same(t, a, pool.get("192.0.2.10"))
	assert.NotSame(t, a, pool.get("192.0.2.20"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:4321"
	assert.Equal(t, "192.0.2.10", clientIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", clientIP(req))

	// Malformed forwarded header falls back to the socket address.
	req.Header.Set("X-Forwarded-For", "not-an-ip")
	assert.Equal(t, "192.0.2.10", clientIP(req))
}
