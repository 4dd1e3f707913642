// Package notify отправляет письма клиентам через почтовый сервис.
// Сервис платежей только публикует запрос, шаблоны рендерит почтовый сервис.
package notify

import (
	"context"
	"strconv"

	"example.com/payment-reconciler/pkg/kafka"
	"example.com/payment-reconciler/pkg/logger"
	"example.com/payment-reconciler/services/payment/internal/domain"
)

// Шаблоны писем.
const (
	TemplateOrderConfirmation   = "order_confirmation"
	TemplateDepositConfirmation = "deposit_confirmation"
	TemplatePaymentFailed       = "payment_failed"
)

// EmailRequest - запрос на отправку письма.
type EmailRequest struct {
	Template          string           `json:"template"`
	To                string           `json:"to"`
	Name              string           `json:"name"`
	OrderID           int64            `json:"order_id"`
	OrderNumber       string           `json:"order_number"`
	Amount            string           `json:"amount"`
	Currency          string           `json:"currency"`
	PaymentType       domain.SliceType `json:"payment_type"`
	InstallmentNumber int              `json:"installment_number,omitempty"`
	FailureReason     string           `json:"failure_reason,omitempty"`
}

// Publisher публикует JSON сообщение в топик.
type Publisher interface {
	PublishJSON(ctx context.Context, topic, key, eventType string, v any) error
}

// Mailer публикует запросы писем в Kafka.
type Mailer struct {
	pub Publisher
}

// NewMailer создаёт Mailer. pub == nil - письма только логируются
// (локальная разработка без Kafka).
func NewMailer(pub Publisher) *Mailer {
	return &Mailer{pub: pub}
}

// SendPaymentConfirmation отправляет подтверждение оплаты.
func (m *Mailer) SendPaymentConfirmation(ctx context.Context, order *domain.Order, slice domain.SliceType) error {
	template := TemplateOrderConfirmation
	if slice == domain.SliceDeposit {
		template = TemplateDepositConfirmation
	}
	req := newRequest(order, template, slice)
	if s, ok := order.Slice(slice); ok {
		req.Amount = s.Amount.StringFixed(2)
	}
	if slice == domain.SliceFull && order.PaymentMode == domain.PaymentModeInstallments {
		req.InstallmentNumber = 1
	}
	return m.send(ctx, req)
}

// SendPaymentFailed сообщает клиенту об отклонённом платеже.
func (m *Mailer) SendPaymentFailed(ctx context.Context, order *domain.Order, slice domain.SliceType, installmentNumber int, reason string) error {
	req := newRequest(order, TemplatePaymentFailed, slice)
	req.InstallmentNumber = installmentNumber
	req.FailureReason = reason
	return m.send(ctx, req)
}

func newRequest(order *domain.Order, template string, slice domain.SliceType) EmailRequest {
	req := EmailRequest{
		Template:    template,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Amount:      order.TotalAmount.StringFixed(2),
		Currency:    order.Currency,
		PaymentType: slice,
	}
	if order.Customer != nil {
		req.To = order.Customer.Email
		req.Name = order.Customer.FullName()
	}
	return req
}

func (m *Mailer) send(ctx context.Context, req EmailRequest) error {
	if req.To == "" {
		return ErrNoRecipient
	}

	log := logger.Ctx(ctx)
	if m.pub == nil {
		log.Info().
			Str("template", req.Template).
			Str("to", req.To).
			Msg("Kafka отключена, письмо не отправлено")
		return nil
	}

	if err := m.pub.PublishJSON(ctx, kafka.TopicEmailRequests, strconv.FormatInt(req.OrderID, 10), "email."+req.Template, req); err != nil {
		return err
	}

	log.Debug().Str("template", req.Template).Msg("Запрос письма опубликован")
	return nil
}
