package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/payment-reconciler/pkg/logger"
	"example.com/payment-reconciler/pkg/metrics"
)

// MessageHandler обрабатывает одно сообщение. Контекст уже содержит
// trace_id и correlation_id из headers.
type MessageHandler func(ctx context.Context, msg *Message) error

// DLQSender отправляет необработанные сообщения в Dead Letter Queue.
type DLQSender interface {
	SendToDLQ(ctx context.Context, originalMsg *Message, processingError error) error
}

// Consumer читает сообщения топика в рамках consumer group.
type Consumer struct {
	reader *kafka.Reader
	dlq    DLQSender
	topic  string
}

// NewConsumer создаёт Consumer. Новая группа читает топик с начала,
// чтобы не потерять события, записанные до первого запуска.
func NewConsumer(cfg Config, topic string, groupID string) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("не указаны брокеры Kafka")
	}
	if topic == "" {
		return nil, fmt.Errorf("не указан топик")
	}
	if groupID == "" {
		return nil, fmt.Errorf("не указан group ID")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        250 * time.Millisecond,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", topic).
		Str("group_id", groupID).
		Msg("Создан Kafka Consumer")

	return &Consumer{reader: reader, topic: topic}, nil
}

// SetDLQ задаёт получателя сообщений, которые не удалось обработать.
func (c *Consumer) SetDLQ(dlq DLQSender) {
	c.dlq = dlq
}

// Consume читает сообщения до отмены контекста.
// Offset коммитится независимо от результата: ошибочные сообщения уходят в DLQ.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	logger.Info().Str("topic", c.topic).Msg("Запуск чтения сообщений из Kafka")

	for {
		if err := ctx.Err(); err != nil {
			logger.Info().Str("topic", c.topic).Msg("Остановка Consumer")
			return err
		}

		kafkaMsg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			logger.Error().Err(err).Str("topic", c.topic).Msg("Ошибка чтения сообщения из Kafka")
			continue
		}
		msg := fromKafkaMessage(kafkaMsg)

		if err := handler(ContextFromMessage(ctx, msg), msg); err != nil {
			logger.Error().
				Err(err).
				Str("topic", c.topic).
				Str("key", string(msg.Key)).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("Ошибка обработки сообщения")

			if c.dlq != nil {
				if dlqErr := c.dlq.SendToDLQ(ctx, msg, err); dlqErr != nil {
					logger.Error().Err(dlqErr).Msg("Ошибка отправки в DLQ")
				}
			}
		}

		if err := c.reader.CommitMessages(ctx, kafkaMsg); err != nil {
			logger.Error().Err(err).Msg("Ошибка коммита offset")
		}
		c.reportLag()
	}
}

// WithRetry оборачивает handler повторами с экспоненциальной задержкой
// (base, 2*base, 4*base, ...). После maxRetries возвращается последняя ошибка.
func WithRetry(handler MessageHandler, maxRetries int, base time.Duration) MessageHandler {
	return func(ctx context.Context, msg *Message) error {
		var lastErr error
		for attempt := 0; attempt <= maxRetries; attempt++ {
			if attempt > 0 {
				delay := base * time.Duration(1<<(attempt-1))
				logger.Warn().
					Int("attempt", attempt).
					Str("key", string(msg.Key)).
					Dur("delay", delay).
					Msg("Повторная попытка обработки сообщения")

				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
			}

			if lastErr = handler(ctx, msg); lastErr == nil {
				return nil
			}
		}
		return fmt.Errorf("исчерпаны попытки обработки: %w", lastErr)
	}
}

// ContextFromMessage переносит trace_id и correlation_id из headers в контекст.
func ContextFromMessage(ctx context.Context, msg *Message) context.Context {
	return logger.NewContextWithIDs(ctx, msg.Headers[HeaderTraceID], msg.Headers[HeaderCorrelationID])
}

// Lag возвращает отставание Consumer от конца топика.
func (c *Consumer) Lag() int64 {
	return c.reader.Stats().Lag
}

func (c *Consumer) reportLag() {
	metrics.ConsumerLag.WithLabelValues(c.topic).Set(float64(c.Lag()))
}

// Close закрывает Consumer.
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		logger.Error().Err(err).Str("topic", c.topic).Msg("Ошибка при закрытии Kafka Consumer")
		return fmt.Errorf("ошибка закрытия consumer: %w", err)
	}
	logger.Info().Str("topic", c.topic).Msg("Kafka Consumer закрыт")
	return nil
}
