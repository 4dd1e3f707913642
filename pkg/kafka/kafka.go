// Package kafka предоставляет обёртки над kafka-go: Producer и Consumer
// с поддержкой headers, трассировки, DLQ и graceful shutdown.
package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/payment-reconciler/pkg/logger"
)

// Топики сервиса платежей.
const (
	// TopicPaymentEvents - факты о переходах платёжных срезов (payment.succeeded / failed / refunded).
	// Пишется outbox relay'ем, читается асинхронным диспетчером побочных эффектов.
	TopicPaymentEvents = "payments.events"

	// TopicEmailRequests - запросы на отправку писем клиентам (рендерит почтовый сервис).
	TopicEmailRequests = "notifications.email"

	// TopicInvoiceRender - запросы на рендеринг PDF счетов.
	TopicInvoiceRender = "documents.invoices"

	// TopicDLQ - Dead Letter Queue для необработанных сообщений.
	TopicDLQ = "dlq.payments"
)

// Ключи headers сообщений.
const (
	HeaderTraceID       = "trace_id"
	HeaderCorrelationID = "correlation_id"
	HeaderTimestamp     = "timestamp"
	// HeaderEventType - тип события (payment.succeeded, email.order_confirmation, ...).
	HeaderEventType = "event_type"
)

// Config содержит настройки подключения к Kafka.
type Config struct {
	Brokers       []string
	ConsumerGroup string
}

// Message - сообщение Kafka с метаданными.
type Message struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
	Headers   map[string]string
	Time      time.Time
}

// fromKafkaMessage конвертирует kafka.Message в Message.
func fromKafkaMessage(m kafka.Message) *Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}

	return &Message{
		Key:       m.Key,
		Value:     m.Value,
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Headers:   headers,
		Time:      m.Time,
	}
}

// toKafkaMessage конвертирует Message в kafka.Message.
func (m *Message) toKafkaMessage() kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Topic:   m.Topic,
		Headers: headers,
		Time:    m.Time,
	}
}

// TraceIDFromContext делегирует в pkg/logger.
func TraceIDFromContext(ctx context.Context) string {
	return logger.TraceIDFromContext(ctx)
}

// CorrelationIDFromContext делегирует в pkg/logger.
func CorrelationIDFromContext(ctx context.Context) string {
	return logger.CorrelationIDFromContext(ctx)
}
