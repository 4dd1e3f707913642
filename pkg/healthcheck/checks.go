// Package healthcheck содержит проверки зависимостей для /readyz.
package healthcheck

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"example.com/payment-reconciler/pkg/kafka"
)

// Check - одна проверка зависимости.
type Check func(ctx context.Context) error

// MySQL проверяет доступность MySQL через GORM.
func MySQL(db *gorm.DB) Check {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("mysql: %w", err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("mysql ping: %w", err)
		}
		return nil
	}
}

// Redis проверяет доступность Redis.
func Redis(rdb redis.UniversalClient) Check {
	return func(ctx context.Context) error {
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		return nil
	}
}

// Kafka проверяет доступность хотя бы одного брокера.
func Kafka(brokers []string) Check {
	return func(ctx context.Context) error {
		return kafka.Ping(brokers)
	}
}

// Composite выполняет все проверки и объединяет ошибки,
// чтобы в логе readiness были видны все недоступные зависимости сразу.
func Composite(checks ...Check) func(context.Context) error {
	return func(ctx context.Context) error {
		var errs []error
		for _, check := range checks {
			if err := check(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
