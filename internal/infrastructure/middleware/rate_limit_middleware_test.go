package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"meshvoice/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func serve(router *gin.Engine, remote string) int {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/signal", nil)
	req.RemoteAddr = remote
	router.ServeHTTP(w, req)
	return w.Code
}

// Test that when rate limiting is disabled, middleware lets all requests through.
func TestRelayRateLimitMiddleware_Disabled_AllowsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false

	router := gin.New()
	router.Use(NewRelayRateLimitMiddleware(cfg))
	router.POST("/signal", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(router, "100.64.0.2:4000"))
	}
}

// Test per-address rate limiting behaviour.
func TestRelayRateLimitMiddleware_Enabled_RateLimitedPerAddress(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.MessagesPerSecond = 1
	cfg.RateLimiting.Burst = 1

	router := gin.New()
	router.Use(NewRelayRateLimitMiddleware(cfg))
	router.POST("/signal", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, serve(router, "100.64.0.2:4000"))
	assert.Equal(t, http.StatusTooManyRequests, serve(router, "100.64.0.2:4001"))
	// another peer has its own budget
	assert.Equal(t, http.StatusOK, serve(router, "100.64.0.3:4000"))
}

func TestRateLimiterStore_DropsIdleLimiters(t *testing.T) {
	now := time.Unix(0, 0)
	store := newRateLimiterStore(rate.Limit(1), 1)
	store.now = func() time.Time { return now }

	store.getLimiter("a")
	now = now.Add(11 * time.Minute)
	store.getLimiter("b")

	assert.Len(t, store.limiters, 1)
	assert.Contains(t, store.limiters, "b")
}

func TestClientIP(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[fd7a::2]:7480"
	assert.Equal(t, "fd7a::2", clientIP(req))

	req.Header.Set("X-Forwarded-For", "100.64.0.9, 10.0.0.1")
	assert.Equal(t, "100.64.0.9", clientIP(req))
}
