package jwt

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const prefixToken = "jwt:blacklist:" // jwt:blacklist:{jti}

// Blacklist хранит отозванные токены в Redis. Список общий с back-office,
// который добавляет jti при выходе администратора.
type Blacklist struct {
	redis redis.UniversalClient
}

// NewBlacklist создаёт blacklist.
func NewBlacklist(client redis.UniversalClient) *Blacklist {
	return &Blacklist{redis: client}
}

// Add отзывает токен до момента его истечения.
func (b *Blacklist) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := b.redis.Set(ctx, prefixToken+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("ошибка добавления токена в blacklist: %w", err)
	}
	return nil
}

// Check возвращает true, если токен отозван.
func (b *Blacklist) Check(ctx context.Context, jti string) (bool, error) {
	exists, err := b.redis.Exists(ctx, prefixToken+jti).Result()
	if err != nil {
		return false, fmt.Errorf("ошибка проверки blacklist: %w", err)
	}
	return exists > 0, nil
}
