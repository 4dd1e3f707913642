package ingress

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/payment-reconciler/pkg/logger"
)

const eventKeyPrefix = "webhook:event:"

// EventDedupe запоминает обработанные события процессора в Redis.
// Это только быстрый путь для повторных доставок: корректность обеспечивает
// условный UPDATE в хранилище, поэтому ошибки Redis игнорируются.
type EventDedupe struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewEventDedupe создаёт EventDedupe. Процессор повторяет доставку до 3 суток.
func NewEventDedupe(rdb redis.UniversalClient) *EventDedupe {
	return &EventDedupe{rdb: rdb, ttl: 72 * time.Hour}
}

// Seen возвращает true, если событие уже было применено.
func (d *EventDedupe) Seen(ctx context.Context, eventID string) bool {
	if d == nil || eventID == "" {
		return false
	}
	n, err := d.rdb.Exists(ctx, eventKeyPrefix+eventID).Result()
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Redis недоступен, проверка дубликата пропущена")
		return false
	}
	return n > 0
}

// Remember отмечает событие как применённое.
func (d *EventDedupe) Remember(ctx context.Context, eventID string) {
	if d == nil || eventID == "" {
		return
	}
	if err := d.rdb.Set(ctx, eventKeyPrefix+eventID, 1, d.ttl).Err(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Не удалось запомнить событие в Redis")
	}
}
