package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"example.com/payment-reconciler/pkg/kafka"
	"example.com/payment-reconciler/pkg/logger"
	"example.com/payment-reconciler/services/payment/internal/domain"
)

// MessageSource - источник сообщений (kafka.Consumer).
type MessageSource interface {
	Consume(ctx context.Context, handler kafka.MessageHandler) error
}

// EventConsumer выполняет побочные эффекты в async режиме:
// читает события payment.* из топика, куда их переносит outbox relay.
type EventConsumer struct {
	source     MessageSource
	dispatcher *Dispatcher
	maxRetries int
	retryDelay time.Duration
}

// NewEventConsumer создаёт EventConsumer.
func NewEventConsumer(source MessageSource, dispatcher *Dispatcher) *EventConsumer {
	return &EventConsumer{
		source:     source,
		dispatcher: dispatcher,
		maxRetries: 3,
		retryDelay: 500 * time.Millisecond,
	}
}

// Run читает события до отмены контекста.
func (c *EventConsumer) Run(ctx context.Context) error {
	return c.source.Consume(ctx, kafka.WithRetry(c.Handle, c.maxRetries, c.retryDelay))
}

// Handle обрабатывает одно сообщение. Повторная доставка безопасна:
// письмо защищено флагом, счёт перезаписывается, ссылка гасится условно.
func (c *EventConsumer) Handle(ctx context.Context, msg *kafka.Message) error {
	var ev domain.PaymentEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		// Битое сообщение не станет валидным при повторе.
		logger.Ctx(ctx).Error().Err(err).Str("key", string(msg.Key)).Msg("Некорректное событие платежа, пропуск")
		return nil
	}
	if ev.EventType == "" {
		ev.EventType = msg.Headers[kafka.HeaderEventType]
	}
	if ev.OrderID == 0 {
		logger.Ctx(ctx).Warn().Str("event_type", ev.EventType).Msg("Событие без order_id, пропуск")
		return nil
	}

	if err := c.dispatcher.Run(ctx, ev); err != nil {
		return fmt.Errorf("событие %s заказа %d: %w", ev.EventType, ev.OrderID, err)
	}
	return nil
}
