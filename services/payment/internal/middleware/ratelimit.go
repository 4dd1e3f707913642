package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"example.com/payment-reconciler/pkg/logger"
)

// incrScript атомарно увеличивает счётчик окна и выставляет TTL на первом запросе.
var incrScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if current == 1 then
		redis.call("EXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

// RateLimitConfig - конфигурация rate limiter.
type RateLimitConfig struct {
	Redis  redis.UniversalClient
	Limit  int           // по умолчанию 60
	Window time.Duration // по умолчанию 1 минута
	// Prefix отделяет счётчики разных групп маршрутов.
	Prefix string
}

// RateLimit ограничивает число запросов с одного IP (fixed window в Redis).
// При недоступности Redis запросы пропускаются.
type RateLimit struct {
	redis  redis.UniversalClient
	limit  int
	window time.Duration
	prefix string
}

// NewRateLimit создаёт middleware для rate limiting.
func NewRateLimit(cfg RateLimitConfig) *RateLimit {
	if cfg.Limit <= 0 {
		cfg.Limit = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "rate"
	}
	return &RateLimit{redis: cfg.Redis, limit: cfg.Limit, window: cfg.Window, prefix: cfg.Prefix}
}

// Handle возвращает Gin handler function для middleware.
func (m *RateLimit) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		clientIP := c.ClientIP()

		allowed, remaining, err := m.check(ctx, fmt.Sprintf("%s:%s", m.prefix, clientIP))
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("Ошибка проверки rate limit")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(m.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(m.window).Unix(), 10))

		if !allowed {
			logger.Ctx(ctx).Warn().
				Str("client_ip", clientIP).
				Int("limit", m.limit).
				Msg("Rate limit превышен")

			seconds := int(m.window.Seconds())
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": fmt.Sprintf("Превышен лимит запросов. Попробуйте через %d секунд", seconds),
			})
			return
		}

		c.Next()
	}
}

func (m *RateLimit) check(ctx context.Context, key string) (bool, int, error) {
	if m.redis == nil {
		return true, m.limit, nil
	}
	current, err := incrScript.Run(ctx, m.redis, []string{key}, int(m.window.Seconds())).Int()
	if err != nil {
		return true, m.limit, err
	}
	return current <= m.limit, max(m.limit-current, 0), nil
}
