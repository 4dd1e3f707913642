package paymentlink

import (
	"context"
	"time"

	"example.com/payment-reconciler/pkg/logger"
)

// Cleaner периодически удаляет истёкшие ссылки.
type Cleaner struct {
	svc      *Service
	interval time.Duration
}

// NewCleaner создаёт Cleaner.
func NewCleaner(svc *Service, interval time.Duration) *Cleaner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Cleaner{svc: svc, interval: interval}
}

// Run работает до отмены контекста.
func (c *Cleaner) Run(ctx context.Context) {
	log := logger.With().Str("worker", "payment_link_cleaner").Logger()
	log.Info().Dur("interval", c.interval).Msg("Запуск очистки ссылок на оплату")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка очистки ссылок на оплату")
			return
		case <-ticker.C:
			n, err := c.svc.CleanExpired(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Ошибка очистки ссылок на оплату")
				continue
			}
			if n > 0 {
				log.Info().Int64("deleted", n).Msg("Удалены истёкшие ссылки на оплату")
			}
		}
	}
}
