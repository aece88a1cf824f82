package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"example.com/checkout-core/pkg/config"
	"example.com/checkout-core/pkg/logger"
)

// rateLimitKeyPrefix — префикс ключей счётчиков в Redis.
const rateLimitKeyPrefix = "checkout:rate:"

// incrWithExpire атомарно увеличивает счётчик и выставляет TTL
// при первом обращении в окне.
var incrWithExpire = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if current == 1 then
		redis.call("EXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

// RateLimitMiddleware ограничивает частоту запросов к подтверждению
// оплаты. Счётчики живут в Redis (fixed window), ключ — ID пользователя,
// для неаутентифицированных запросов — IP.
type RateLimitMiddleware struct {
	redis  *redis.Client
	limit  int
	window time.Duration
}

// NewRateLimitMiddleware создаёт middleware ограничения частоты запросов.
func NewRateLimitMiddleware(redisClient *redis.Client, cfg config.RateLimitConfig) *RateLimitMiddleware {
	limit := cfg.RequestsPerWindow
	if limit <= 0 {
		limit = 30
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}

	return &RateLimitMiddleware{
		redis:  redisClient,
		limit:  limit,
		window: window,
	}
}

// Handle возвращает Gin handler function для middleware.
func (m *RateLimitMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		log := logger.FromContext(ctx)

		subject := UserIDFromContext(c)
		if subject == "" {
			subject = c.ClientIP()
		}
		key := rateLimitKeyPrefix + subject

		windowSec := int(m.window.Seconds())
		current, err := incrWithExpire.Run(ctx, m.redis, []string{key}, windowSec).Int()
		if err != nil {
			// При ошибке Redis пропускаем запрос (fail-open)
			log.Warn().Err(err).Msg("Ошибка проверки rate limit")
			c.Next()
			return
		}

		remaining := m.limit - current
		if remaining < 0 {
			remaining = 0
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", m.limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(m.window).Unix()))

		if current > m.limit {
			log.Warn().
				Str("subject", subject).
				Int("limit", m.limit).
				Msg("Rate limit превышен")

			c.Header("Retry-After", fmt.Sprintf("%d", windowSec))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": fmt.Sprintf("Превышен лимит запросов. Попробуйте через %d секунд", windowSec),
			})
			return
		}

		c.Next()
	}
}
