package repository

import (
	"context"
	"errors"
	"strconv"

	"gorm.io/gorm"

	"example.com/payment-reconciler/pkg/kafka"
	"example.com/payment-reconciler/pkg/outbox"
	"example.com/payment-reconciler/services/payment/internal/domain"
)

// eventLog пишет события переходов в outbox внутри транзакции перехода.
// enabled=false, когда Kafka не настроена: читать outbox некому.
type eventLog struct {
	enabled bool
}

func (l eventLog) append(ctx context.Context, tx *gorm.DB, ev domain.PaymentEvent) error {
	if !l.enabled {
		return nil
	}
	if ev.EventType == "" {
		ev.EventType = domain.EventTypeFor(ev.Status)
	}

	record, err := outbox.NewRecord(ctx, domain.AggregateOrder, strconv.FormatInt(ev.OrderID, 10),
		kafka.TopicPaymentEvents, ev.EventType, ev)
	if err != nil {
		return err
	}
	return outbox.NewRepository(tx, domain.AggregateOrder).Create(ctx, record)
}

// translate оставляет доменные ошибки как есть, остальное считает ошибкой хранилища.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrGone):
		return err
	}
	return domain.Persistence(err)
}
