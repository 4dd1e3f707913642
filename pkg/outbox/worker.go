package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"example.com/payment-reconciler/pkg/kafka"
	"example.com/payment-reconciler/pkg/logger"
)

// Publisher - отправка сообщений в Kafka. Реализуется *kafka.Producer.
type Publisher interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
	SendToDLQ(ctx context.Context, originalMsg *kafka.Message, processingError error) error
}

// RelayConfig - настройки Relay.
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxRetries - после стольких неудачных отправок запись уходит в DLQ.
	MaxRetries       int
	CleanupInterval  time.Duration
	CleanupRetention time.Duration
}

// DefaultRelayConfig возвращает конфигурацию по умолчанию.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		PollInterval:     time.Second,
		BatchSize:        100,
		MaxRetries:       5,
		CleanupInterval:  time.Hour,
		CleanupRetention: 7 * 24 * time.Hour,
	}
}

// Relay переносит записи outbox в Kafka (at-least-once).
type Relay struct {
	repo      Repository
	publisher Publisher
	cfg       RelayConfig
}

// NewRelay создаёт Relay.
func NewRelay(repo Repository, publisher Publisher, cfg RelayConfig) *Relay {
	return &Relay{repo: repo, publisher: publisher, cfg: cfg}
}

// Run опрашивает outbox до отмены контекста.
func (r *Relay) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("poll_interval", r.cfg.PollInterval).
		Int("batch_size", r.cfg.BatchSize).
		Msg("Запуск outbox relay")

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(r.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка outbox relay")
			return
		case <-ticker.C:
			if _, err := r.RelayBatch(ctx); err != nil {
				log.Error().Err(err).Msg("Ошибка чтения outbox")
			}
		case <-cleanupTicker.C:
			r.cleanup(ctx)
		}
	}
}

// RelayBatch обрабатывает одну пачку записей и возвращает число опубликованных.
func (r *Relay) RelayBatch(ctx context.Context) (int, error) {
	records, err := r.repo.GetUnprocessed(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения outbox: %w", err)
	}

	sent := 0
	for _, record := range records {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}

		if record.RetryCount >= r.cfg.MaxRetries {
			r.deadLetter(ctx, record)
			continue
		}

		if err := r.Publish(ctx, record); err == nil {
			sent++
		}
	}
	return sent, nil
}

// Publish отправляет одну запись и фиксирует результат в outbox.
func (r *Relay) Publish(ctx context.Context, record *Outbox) error {
	log := logger.FromContext(ctx)

	if err := r.publisher.SendMessage(ctx, record.Message()); err != nil {
		log.Error().
			Err(err).
			Str("outbox_id", record.ID).
			Str("event_type", record.EventType).
			Int("retry_count", record.RetryCount).
			Msg("Ошибка отправки события в Kafka")

		if markErr := r.repo.MarkFailed(ctx, record.ID, err); markErr != nil {
			log.Error().Err(markErr).Str("outbox_id", record.ID).Msg("Ошибка пометки outbox как failed")
		}
		return err
	}

	if err := r.repo.MarkProcessed(ctx, record.ID); err != nil {
		// Сообщение уже в Kafka, повторная отправка допустима: consumer идемпотентен.
		log.Error().Err(err).Str("outbox_id", record.ID).Msg("Ошибка пометки outbox как обработанной")
		return err
	}

	log.Debug().
		Str("outbox_id", record.ID).
		Str("topic", record.Topic).
		Str("event_type", record.EventType).
		Msg("Событие отправлено в Kafka")
	return nil
}

func (r *Relay) deadLetter(ctx context.Context, record *Outbox) {
	log := logger.FromContext(ctx)

	lastErr := "превышен лимит попыток"
	if record.LastError != nil {
		lastErr = *record.LastError
	}

	log.Warn().
		Str("outbox_id", record.ID).
		Str("event_type", record.EventType).
		Str("aggregate_id", record.AggregateID).
		Int("retry_count", record.RetryCount).
		Msg("Dead letter: событие выведено из outbox")

	if err := r.publisher.SendToDLQ(ctx, record.Message(), errors.New(lastErr)); err != nil {
		log.Error().Err(err).Str("outbox_id", record.ID).Msg("Ошибка отправки в DLQ")
	}
	if err := r.repo.MarkProcessed(ctx, record.ID); err != nil {
		log.Error().Err(err).Str("outbox_id", record.ID).Msg("Ошибка пометки dead letter")
	}
}

func (r *Relay) cleanup(ctx context.Context) {
	log := logger.FromContext(ctx)

	deleted, err := r.repo.DeleteProcessedBefore(ctx, time.Now().UTC().Add(-r.cfg.CleanupRetention))
	if err != nil {
		log.Error().Err(err).Msg("Ошибка очистки outbox")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("Очистка обработанных записей outbox")
	}
}
