package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript удаляет ключ, только если он принадлежит владельцу.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// RedisLocker - блокировка платежа рассрочки на время списания.
// Защищает от параллельного запуска двух планировщиков; от двойного
// списания защищает ключ идемпотентности процессора.
type RedisLocker struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewRedisLocker создаёт RedisLocker.
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocker{rdb: rdb, ttl: ttl}
}

// Acquire захватывает блокировку. release безопасно вызывать всегда.
func (l *RedisLocker) Acquire(ctx context.Context, installmentID int64) (bool, func(), error) {
	key := fmt.Sprintf("installment:lock:%d", installmentID)
	owner := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, owner, l.ttl).Result()
	if err != nil || !ok {
		return false, func() {}, err
	}

	release := func() {
		// Контекст батча может быть уже отменён.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{key}, owner).Err()
	}
	return true, release, nil
}
