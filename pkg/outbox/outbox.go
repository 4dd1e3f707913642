// Package outbox реализует Outbox Pattern для событий платежей.
// Запись в outbox создаётся в той же транзакции, что и переход состояния слайса,
// а Relay отдельно читает таблицу и публикует события в Kafka.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/payment-reconciler/pkg/kafka"
	"example.com/payment-reconciler/pkg/logger"
)

// Outbox - запись очереди исходящих событий.
type Outbox struct {
	ID            string
	AggregateType string // order
	AggregateID   string // ID заказа
	EventType     string // payment.succeeded / payment.failed / payment.refunded
	Topic         string
	MessageKey    string // ключ партиционирования, все события заказа в одной партиции
	Payload       []byte
	Headers       map[string]string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	RetryCount    int
	LastError     *string
}

// NewRecord сериализует payload и собирает запись outbox.
// trace_id и correlation_id переносятся из контекста в headers,
// чтобы consumer продолжил ту же цепочку логов.
func NewRecord(ctx context.Context, aggregateType, aggregateID, topic, eventType string, payload any) (*Outbox, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации события %s: %w", eventType, err)
	}

	headers := map[string]string{kafka.HeaderEventType: eventType}
	if traceID := logger.TraceIDFromContext(ctx); traceID != "" {
		headers[kafka.HeaderTraceID] = traceID
	}
	if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
		headers[kafka.HeaderCorrelationID] = correlationID
	}

	return &Outbox{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Topic:         topic,
		MessageKey:    aggregateID,
		Payload:       data,
		Headers:       headers,
	}, nil
}

// Message преобразует запись в сообщение Kafka.
func (o *Outbox) Message() *kafka.Message {
	return &kafka.Message{
		Topic:   o.Topic,
		Key:     []byte(o.MessageKey),
		Value:   o.Payload,
		Headers: o.Headers,
	}
}

// HeadersJSON возвращает headers в формате JSON для БД.
func (o *Outbox) HeadersJSON() ([]byte, error) {
	if o.Headers == nil {
		return nil, nil
	}
	return json.Marshal(o.Headers)
}

// SetHeadersFromJSON устанавливает headers из JSON.
func (o *Outbox) SetHeadersFromJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &o.Headers)
}
