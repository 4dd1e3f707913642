package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/payment-reconciler/pkg/logger"
)

// Producer отправляет сообщения в Kafka с headers трассировки.
type Producer struct {
	writer *kafka.Writer
	cfg    Config
}

// NewProducer создаёт синхронный Producer с подтверждением от лидера.
func NewProducer(cfg Config) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("не указаны брокеры Kafka")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{}, // события одного заказа попадают в одну партицию
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	logger.Info().Strs("brokers", cfg.Brokers).Msg("Создан Kafka Producer")

	return &Producer{writer: writer, cfg: cfg}, nil
}

// PublishJSON сериализует v в JSON и отправляет его в topic.
// eventType попадает в header event_type.
func (p *Producer) PublishJSON(ctx context.Context, topic, key, eventType string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ошибка сериализации %s: %w", eventType, err)
	}

	return p.SendMessage(ctx, &Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   payload,
		Headers: map[string]string{HeaderEventType: eventType},
	})
}

// SendMessage отправляет подготовленный Message.
// Недостающие trace_id, correlation_id и timestamp берутся из контекста.
func (p *Producer) SendMessage(ctx context.Context, msg *Message) error {
	if msg.Headers == nil {
		msg.Headers = make(map[string]string)
	}

	if _, ok := msg.Headers[HeaderTraceID]; !ok {
		if traceID := TraceIDFromContext(ctx); traceID != "" {
			msg.Headers[HeaderTraceID] = traceID
		}
	}
	if _, ok := msg.Headers[HeaderCorrelationID]; !ok {
		if correlationID := CorrelationIDFromContext(ctx); correlationID != "" {
			msg.Headers[HeaderCorrelationID] = correlationID
		}
	}
	if _, ok := msg.Headers[HeaderTimestamp]; !ok {
		msg.Headers[HeaderTimestamp] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}

	if err := p.writer.WriteMessages(ctx, msg.toKafkaMessage()); err != nil {
		logger.Error().
			Err(err).
			Str("topic", msg.Topic).
			Str("key", string(msg.Key)).
			Str("trace_id", TraceIDFromContext(ctx)).
			Msg("Ошибка отправки сообщения в Kafka")
		return fmt.Errorf("ошибка отправки в Kafka: %w", err)
	}

	logger.Debug().
		Str("topic", msg.Topic).
		Str("key", string(msg.Key)).
		Str("event_type", msg.Headers[HeaderEventType]).
		Msg("Сообщение отправлено в Kafka")

	return nil
}

// SendToDLQ отправляет сообщение в Dead Letter Queue с описанием ошибки.
func (p *Producer) SendToDLQ(ctx context.Context, originalMsg *Message, processingError error) error {
	headers := make(map[string]string, len(originalMsg.Headers)+3)
	for k, v := range originalMsg.Headers {
		headers[k] = v
	}
	headers["dlq_error"] = processingError.Error()
	headers["dlq_original_topic"] = originalMsg.Topic
	headers["dlq_timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)

	return p.SendMessage(ctx, &Message{
		Topic:   TopicDLQ,
		Key:     originalMsg.Key,
		Value:   originalMsg.Value,
		Headers: headers,
	})
}

// Close закрывает writer. Вызывается при завершении приложения.
func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		logger.Error().Err(err).Msg("Ошибка при закрытии Kafka Producer")
		return fmt.Errorf("ошибка закрытия producer: %w", err)
	}
	logger.Info().Msg("Kafka Producer закрыт")
	return nil
}
