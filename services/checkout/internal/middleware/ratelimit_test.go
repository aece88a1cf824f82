package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"example.com/checkout-core/pkg/config"
)

// setupRateLimit создаёт middleware c miniredis.
func setupRateLimit(t *testing.T, limit int) *RateLimitMiddleware {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	return NewRateLimitMiddleware(redisClient, config.RateLimitConfig{
		Enabled:           true,
		RequestsPerWindow: limit,
		Window:            time.Minute,
	})
}

// rateLimitedRequest прогоняет один запрос через middleware.
func rateLimitedRequest(mw *RateLimitMiddleware, userID, remoteAddr string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/payments/confirm", nil)
	c.Request.RemoteAddr = remoteAddr
	if userID != "" {
		c.Set(ContextUserID, userID)
	}

	mw.Handle()(c)
	return w
}

func TestRateLimit_AllowsWithinLimit(t *testing.T) {
	mw := setupRateLimit(t, 5)

	for i := 0; i < 5; i++ {
		w := rateLimitedRequest(mw, "user-1", "192.168.1.1:12345")

		assert.NotEqual(t, http.StatusTooManyRequests, w.Code, "запрос %d должен пройти", i+1)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_BlocksExcessRequests(t *testing.T) {
	mw := setupRateLimit(t, 3)

	for i := 0; i < 3; i++ {
		w := rateLimitedRequest(mw, "user-1", "10.0.0.1:12345")
		assert.NotEqual(t, http.StatusTooManyRequests, w.Code, "запрос %d должен пройти", i+1)
	}

	w := rateLimitedRequest(mw, "user-1", "10.0.0.1:12345")

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
}

// Лимит считается на пользователя: исчерпание лимита одним не
// блокирует другого.
func TestRateLimit_SeparateLimitsPerUser(t *testing.T) {
	mw := setupRateLimit(t, 2)

	for i := 0; i < 2; i++ {
		rateLimitedRequest(mw, "user-1", "10.0.0.1:1000")
	}
	w := rateLimitedRequest(mw, "user-1", "10.0.0.1:1000")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = rateLimitedRequest(mw, "user-2", "10.0.0.1:1000")
	assert.NotEqual(t, http.StatusTooManyRequests, w.Code)
}

// Без аутентификации ключом становится IP.
func TestRateLimit_FallsBackToClientIP(t *testing.T) {
	mw := setupRateLimit(t, 1)

	rateLimitedRequest(mw, "", "172.16.0.1:2000")
	w := rateLimitedRequest(mw, "", "172.16.0.1:2000")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = rateLimitedRequest(mw, "", "172.16.0.2:2000")
	assert.NotEqual(t, http.StatusTooManyRequests, w.Code)
}

// При недоступном Redis запросы пропускаются (fail-open): доступность
// подтверждения оплаты важнее ограничения частоты.
func TestRateLimit_FailOpenOnRedisError(t *testing.T) {
	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:59999"}) // Несуществующий порт
	t.Cleanup(func() { _ = redisClient.Close() })

	mw := NewRateLimitMiddleware(redisClient, config.RateLimitConfig{
		Enabled:           true,
		RequestsPerWindow: 1,
		Window:            time.Minute,
	})

	for i := 0; i < 3; i++ {
		w := rateLimitedRequest(mw, "user-1", "10.0.0.1:3000")
		assert.NotEqual(t, http.StatusTooManyRequests, w.Code, "запрос %d должен пройти", i+1)
	}
}

func TestRateLimit_WindowExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	mw := NewRateLimitMiddleware(redisClient, config.RateLimitConfig{
		Enabled:           true,
		RequestsPerWindow: 1,
		Window:            time.Minute,
	})

	rateLimitedRequest(mw, "user-1", "10.0.0.1:4000")
	w := rateLimitedRequest(mw, "user-1", "10.0.0.1:4000")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Окно истекло — счётчик сброшен
	mr.FastForward(time.Minute + time.Second)

	w = rateLimitedRequest(mw, "user-1", "10.0.0.1:4000")
	assert.NotEqual(t, http.StatusTooManyRequests, w.Code)
}
