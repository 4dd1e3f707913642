package domain

import "time"

// Типы событий, которые выигравший переход пишет в outbox.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"
)

// AggregateOrder - тип агрегата записей outbox.
const AggregateOrder = "order"

// PaymentEvent - факт выигранного перехода. Несёт достаточно данных,
// чтобы асинхронный диспетчер выполнил побочные эффекты без исходного запроса.
type PaymentEvent struct {
	EventType         string             `json:"event_type"`
	OrderID           int64              `json:"order_id"`
	SliceType         SliceType          `json:"slice_type"`
	InstallmentNumber int                `json:"installment_number,omitempty"`
	IntentID          string             `json:"intent_id"`
	Status            ConfirmationStatus `json:"status"`
	Source            Source             `json:"source"`
	PaymentLinkToken  string             `json:"payment_link_token,omitempty"`
	FailureReason     string             `json:"failure_reason,omitempty"`
	OccurredAt        time.Time          `json:"occurred_at"`
}

// EventTypeFor возвращает тип события для статуса подтверждения.
func EventTypeFor(status ConfirmationStatus) string {
	switch status {
	case ConfirmationFailed:
		return EventPaymentFailed
	case ConfirmationRefunded:
		return EventPaymentRefunded
	}
	return EventPaymentSucceeded
}
